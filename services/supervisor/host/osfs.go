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
	"os"
	"path/filepath"
	"sort"
)

// OSFiles is a FileSystem rooted at a directory on disk.
type OSFiles struct {
	Root string
}

// NewOSFiles returns an OSFiles rooted at root.
func NewOSFiles(root string) *OSFiles {
	return &OSFiles{Root: root}
}

// Path resolves name against the root.
func (o *OSFiles) Path(name string) string {
	return filepath.Join(o.Root, filepath.FromSlash(name))
}

func (o *OSFiles) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(o.Path(name))
}

// WriteFile writes through a temp file and rename so readers never see a
// partial file.
func (o *OSFiles) WriteFile(name string, data []byte) error {
	path := o.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating directory for %s: %w", name, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0640); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (o *OSFiles) Remove(name string) error {
	return os.Remove(o.Path(name))
}

func (o *OSFiles) Stat(name string) (FileInfo, error) {
	info, err := os.Stat(o.Path(name))
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Name:    info.Name(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}, nil
}

func (o *OSFiles) List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(o.Path(dir))
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   e.IsDir(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ FileSystem = (*OSFiles)(nil)
