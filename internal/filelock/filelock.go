// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

//go:build unix

// Package filelock provides a non-blocking advisory lock that keeps two bot
// instances from polling Telegram with the same state directory.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// ErrAlreadyLocked indicates the lock is held by another process.
var ErrAlreadyLocked = errors.New("already locked")

// Lock is a held lock. Its file contains the owner's PID and start time.
type Lock struct {
	f *os.File
}

// Acquire takes the lock at path without blocking. It returns an error
// wrapping [ErrAlreadyLocked] with the current owner's description if the
// lock is taken.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if owner, rerr := Owner(path); rerr == nil && owner != "" {
				return nil, fmt.Errorf("%w by %s", ErrAlreadyLocked, owner)
			}
			return nil, ErrAlreadyLocked
		}
		return nil, err
	}

	l := &Lock{f: f}
	payload := fmt.Sprintf("pid %d since %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := l.write(payload); err != nil {
		return nil, errors.Join(err, l.Release())
	}
	return l, nil
}

func (l *Lock) write(payload string) error {
	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.WriteAt([]byte(payload), 0); err != nil {
		return err
	}
	return l.f.Sync()
}

// Owner returns the description written by the current or last lock holder.
func Owner(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Release unlocks and closes the lock file. It's safe to call on a nil Lock
// and more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	return errors.Join(unix.Flock(int(f.Fd()), unix.LOCK_UN), f.Close())
}
