// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stability keeps a single supervisor instance authoritative and
// watches asset files for hot reloads.
package stability

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
)

// ErrSuperseded is returned once a newer instance claimed the lock.
var ErrSuperseded = errors.New("superseded by a newer instance")

// Lock defaults.
const (
	DefaultLockPath     = ".stargate/lock"
	DefaultLockInterval = 30
	DefaultLockMargin   = 10 * time.Millisecond
)

// LockConfig wires an InstanceLock.
type LockConfig struct {
	Files    host.FileSystem
	Path     string
	Interval int64

	// Margin absorbs timestamp rounding so an instance never yields to
	// its own claim.
	Margin time.Duration

	Quitter host.Quitter
	Bus     *protocol.Bus
	Logger  *slog.Logger
	Now     func() time.Time
}

// InstanceLock is the birth-timestamp lock file. The youngest instance
// wins; older ones request quit when they notice.
type InstanceLock struct {
	files    host.FileSystem
	path     string
	interval int64
	margin   time.Duration
	quitter  host.Quitter
	bus      *protocol.Bus
	logger   *slog.Logger
	now      func() time.Time

	birth      time.Time
	superseded bool
}

// NewInstanceLock creates an InstanceLock. Claim must be called before
// Check.
func NewInstanceLock(cfg LockConfig) *InstanceLock {
	if cfg.Path == "" {
		cfg.Path = DefaultLockPath
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultLockInterval
	}
	if cfg.Margin <= 0 {
		cfg.Margin = DefaultLockMargin
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &InstanceLock{
		files:    cfg.Files,
		path:     cfg.Path,
		interval: cfg.Interval,
		margin:   cfg.Margin,
		quitter:  cfg.Quitter,
		bus:      cfg.Bus,
		logger:   cfg.Logger.With(slog.String("component", "stargate.stability")),
		now:      cfg.Now,
	}
}

// Claim records the birth time on first call and writes it to the lock
// file. Later calls rewrite the same birth time.
func (l *InstanceLock) Claim() error {
	if l.birth.IsZero() {
		l.birth = l.now()
	}
	if err := l.files.WriteFile(l.path, []byte(strconv.FormatInt(l.birth.UnixNano(), 10))); err != nil {
		return fmt.Errorf("claiming instance lock: %w", err)
	}
	l.logger.Info("claimed authority", slog.Time("birth", l.birth))
	if l.bus != nil {
		l.bus.Emit(protocol.Trace{Message: "claimed authority", Detail: map[string]string{"birth": l.birth.Format(time.RFC3339Nano)}})
	}
	return nil
}

// Birth is the claimed birth time.
func (l *InstanceLock) Birth() time.Time { return l.birth }

// Superseded reports whether a newer instance was observed.
func (l *InstanceLock) Superseded() bool { return l.superseded }

// Tick checks the lock on its cadence.
func (l *InstanceLock) Tick(frame int64) error {
	if frame%l.interval != 0 {
		return nil
	}
	return l.Check()
}

// Check reads the lock file. A birth newer than ours plus the margin
// means another instance took over: an alert is raised and the host is
// asked to quit.
func (l *InstanceLock) Check() error {
	if l.superseded {
		return ErrSuperseded
	}
	if l.birth.IsZero() {
		return nil
	}
	other, err := ReadLock(l.files, l.path)
	if host.IsNotExist(err) {
		return nil
	}
	if err != nil {
		l.logger.Warn("lock file unreadable", slog.String("error", err.Error()))
		return nil
	}
	if !other.After(l.birth.Add(l.margin)) {
		return nil
	}

	l.superseded = true
	l.logger.Warn("newer instance detected, yielding authority",
		slog.Time("birth", l.birth),
		slog.Time("newer", other))
	if l.bus != nil {
		l.bus.Emit(protocol.Alert{Type: "superseded", Message: "newer instance detected, yielding authority"})
	}
	if l.quitter != nil {
		l.quitter.RequestQuit()
	}
	return ErrSuperseded
}

// Release removes the lock file when it still carries our birth time.
func (l *InstanceLock) Release() error {
	if l.birth.IsZero() {
		return nil
	}
	other, err := ReadLock(l.files, l.path)
	if err != nil {
		if host.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !other.Equal(l.birth) {
		return nil
	}
	return l.files.Remove(l.path)
}

// ReadLock parses the lock file.
func ReadLock(files host.FileSystem, path string) (time.Time, error) {
	data, err := files.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing lock %s: %w", path, err)
	}
	return time.Unix(0, ns), nil
}
