// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package host

import (
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

type memFile struct {
	data    []byte
	modTime time.Time
}

// MemFS is an in-memory FileSystem with controllable modification times.
//
// Thread Safety: safe for concurrent use.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]memFile
	now   func() time.Time
}

// NewMemFS creates an empty MemFS using time.Now for modification times.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]memFile), now: time.Now}
}

// SetClock replaces the time source used for writes.
func (m *MemFS) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Touch sets the modification time of an existing file, creating an
// empty one if missing.
func (m *MemFS) Touch(name string, mod time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	f := m.files[name]
	f.modTime = mod
	m.files[name] = f
}

func (m *MemFS) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out, nil
}

func (m *MemFS) WriteFile(name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[clean(name)] = memFile{data: buf, modTime: m.now()}
	return nil
}

func (m *MemFS) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = clean(name)
	if _, ok := m.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	delete(m.files, name)
	return nil
}

func (m *MemFS) Stat(name string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = clean(name)
	if f, ok := m.files[name]; ok {
		return FileInfo{Name: path.Base(name), Size: int64(len(f.data)), ModTime: f.modTime}, nil
	}
	prefix := name + "/"
	for k := range m.files {
		if strings.HasPrefix(k, prefix) {
			return FileInfo{Name: path.Base(name), IsDir: true}, nil
		}
	}
	return FileInfo{}, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

func (m *MemFS) List(dir string) ([]FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dir = clean(dir)
	prefix := dir + "/"
	if dir == "." {
		prefix = ""
	}
	seen := make(map[string]FileInfo)
	for k, f := range m.files {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			child := rest[:i]
			seen[child] = FileInfo{Name: child, IsDir: true}
			continue
		}
		seen[rest] = FileInfo{Name: rest, Size: int64(len(f.data)), ModTime: f.modTime}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("list %s: %w", dir, fs.ErrNotExist)
	}
	out := make([]FileInfo, 0, len(seen))
	for _, info := range seen {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func clean(name string) string {
	return path.Clean(strings.TrimPrefix(name, "/"))
}

var _ FileSystem = (*MemFS)(nil)
