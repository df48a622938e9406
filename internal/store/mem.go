// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"slices"
	"sync"
)

// Mem is an in-memory implementation of the [Set] interface.
type Mem struct {
	mu    sync.Mutex
	links []string
	index map[string]struct{}
}

// NewMem returns an empty in-memory set.
func NewMem(links ...string) *Mem {
	m := &Mem{index: make(map[string]struct{})}
	for _, link := range links {
		m.add(link)
	}
	return m
}

func (m *Mem) add(link string) bool {
	if _, ok := m.index[link]; ok {
		return false
	}
	m.index[link] = struct{}{}
	m.links = append(m.links, link)
	return true
}

// Has reports whether link is in the set.
func (m *Mem) Has(_ context.Context, link string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.index[link]
	return ok, nil
}

// Add inserts link into the set.
func (m *Mem) Add(_ context.Context, link string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.add(link), nil
}

// Remove deletes link from the set.
func (m *Mem) Remove(_ context.Context, link string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[link]; !ok {
		return false, nil
	}
	delete(m.index, link)
	m.links = slices.DeleteFunc(m.links, func(l string) bool { return l == link })
	return true, nil
}

// List returns all links in insertion order.
func (m *Mem) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.links), nil
}

// Close is a no-op for Mem.
func (m *Mem) Close() error { return nil }
