// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"slices"

	"go.backpr.com/webtomed/internal/atomicio"
)

// fileBackups is how many previous versions Remove keeps around.
const fileBackups = 5

// File is a [Set] stored as a newline-delimited list of links.
//
// File doesn't lock: two processes sharing the same file can both read the
// set before either appends. Use a SQL backend when that matters.
type File struct {
	path string
}

// NewFile returns a set stored at path. The file is created on first Add.
func NewFile(path string) *File { return &File{path: path} }

func (f *File) read() ([]string, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseLines(string(b)), nil
}

// Has reports whether link is in the set.
func (f *File) Has(_ context.Context, link string) (bool, error) {
	links, err := f.read()
	if err != nil {
		return false, err
	}
	return slices.Contains(links, link), nil
}

// Add appends link to the file unless it's already there.
func (f *File) Add(ctx context.Context, link string) (bool, error) {
	has, err := f.Has(ctx, link)
	if err != nil || has {
		return false, err
	}

	fd, err := os.OpenFile(f.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return false, err
	}
	line := link + "\n"
	// A hand-edited file may lack the final newline.
	terminated, err := endsWithNewline(fd)
	if err != nil {
		fd.Close()
		return false, err
	}
	if !terminated {
		line = "\n" + line
	}
	if _, err := fd.WriteString(line); err != nil {
		fd.Close()
		return false, err
	}
	return true, fd.Close()
}

// endsWithNewline reports whether fd is empty or ends with a newline.
func endsWithNewline(fd *os.File) (bool, error) {
	fi, err := fd.Stat()
	if err != nil {
		return false, err
	}
	if fi.Size() == 0 {
		return true, nil
	}
	last := make([]byte, 1)
	if _, err := fd.ReadAt(last, fi.Size()-1); err != nil {
		return false, err
	}
	return last[0] == '\n', nil
}

// Remove rewrites the file without link.
func (f *File) Remove(_ context.Context, link string) (bool, error) {
	links, err := f.read()
	if err != nil {
		return false, err
	}
	if !slices.Contains(links, link) {
		return false, nil
	}
	links = slices.DeleteFunc(links, func(l string) bool { return l == link })
	return true, atomicio.WriteFile(f.path, []byte(formatLines(links)), 0o644, atomicio.KeepBackups(fileBackups))
}

// List returns all links in file order.
func (f *File) List(_ context.Context) ([]string, error) { return f.read() }

// Close is a no-op for File.
func (f *File) Close() error { return nil }
