// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package host defines the capabilities the supervisor consumes from the
// engine it wraps, plus OS-backed and in-memory implementations.
//
// The supervisor never reaches into the engine directly. Everything it
// needs (frame counter, state serialization, file access, quit requests)
// flows through the Host interface so that tests can run several
// independent supervisors against in-memory hosts.
package host

import (
	"errors"
	"io/fs"
	"time"
)

// ErrNotExist is returned by FileSystem implementations for missing files.
var ErrNotExist = fs.ErrNotExist

// Host is the engine-side contract.
type Host interface {
	// Frame is the engine's monotonic frame counter. It keeps advancing
	// while the supervisor is paused.
	Frame() int64

	// Serialize captures the full simulation state.
	Serialize() ([]byte, error)

	// Deserialize replaces the full simulation state.
	Deserialize(data []byte) error

	// Files gives access to the engine's file system.
	Files() FileSystem
}

// Quitter is implemented by hosts that can shut themselves down.
type Quitter interface {
	RequestQuit()
}

// Recorder is implemented by hosts with a session recording and replay
// facility. The supervisor polls it once per tick.
type Recorder interface {
	Recording() bool
	Replaying() bool
}

// StateMutator is implemented by hosts whose state accepts keyed writes
// from outside the wrapped application.
type StateMutator interface {
	Get(key string) (int64, bool)
	Set(key string, value int64)
	Delete(key string)
}

// FileInfo is the subset of file metadata the supervisor uses.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// FileSystem is the file capability. Names are slash separated and
// relative to the implementation's root.
type FileSystem interface {
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
	Remove(name string) error
	Stat(name string) (FileInfo, error)

	// List returns the direct children of dir.
	List(dir string) ([]FileInfo, error)
}

// IsNotExist reports whether err means a file is missing.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Walk visits every regular file under root in lexical order.
func Walk(files FileSystem, root string, fn func(name string, info FileInfo) error) error {
	entries, err := files.List(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := join(root, e.Name)
		if e.IsDir {
			if err := Walk(files, name, fn); err != nil {
				return err
			}
			continue
		}
		if err := fn(name, e); err != nil {
			return err
		}
	}
	return nil
}

func join(dir, name string) string {
	if dir == "" || dir == "." {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
