// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vigilante

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Notifier wakes a Vigilante when a watched artifact changes on disk.
//
// fsnotify only shortens the time to detection. The decision is still
// made by Check from modification times, so missed or coalesced events
// cost latency, never correctness.
type Notifier struct {
	watcher *fsnotify.Watcher
	target  interface{ Notify() }
	logger  *slog.Logger

	done chan struct{}
	once sync.Once
}

// NewNotifier watches the given paths under root. Directories are
// watched recursively. Missing paths are skipped.
func NewNotifier(root string, paths []string, target interface{ Notify() }, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	n := &Notifier{
		watcher: watcher,
		target:  target,
		logger:  logger.With(slog.String("component", "stargate.vigilante.notify")),
		done:    make(chan struct{}),
	}

	for _, p := range paths {
		abs := filepath.Join(root, filepath.FromSlash(p))
		info, err := os.Stat(abs)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			abs = filepath.Dir(abs)
		}
		if err := n.addTree(abs); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	go n.watchLoop()
	return n, nil
}

func (n *Notifier) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := n.watcher.Add(path); err != nil {
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		return nil
	})
}

func (n *Notifier) watchLoop() {
	defer close(n.done)
	for {
		select {
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			n.handleWatchEvent(event)

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return
			}
			n.logger.Warn("file watcher error", slog.String("error", err.Error()))
		}
	}
}

func (n *Notifier) handleWatchEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = n.addTree(event.Name)
		}
	}
	n.logger.Debug("artifact change observed", slog.String("path", event.Name), slog.String("op", event.Op.String()))
	n.target.Notify()
}

// Close stops watching.
func (n *Notifier) Close() error {
	var err error
	n.once.Do(func() {
		err = n.watcher.Close()
		<-n.done
	})
	return err
}
