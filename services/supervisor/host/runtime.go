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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrQuit is returned by Run when RequestQuit ended the loop.
var ErrQuit = errors.New("host quit requested")

// TickFunc is a before-tick subscription.
type TickFunc func(ctx context.Context) error

// Runtime is a fixed-step host: a MemState world, a file system, and a
// loop that invokes before-tick subscribers once per frame.
//
// # Thread Safety
//
// Step and Run must be called from one goroutine. Frame, RequestQuit,
// Done and the recording switches are safe from any goroutine.
type Runtime struct {
	*MemState

	files    FileSystem
	interval time.Duration
	frame    atomic.Int64
	hooks    []TickFunc

	recording atomic.Bool
	replaying atomic.Bool

	quit     chan struct{}
	quitOnce sync.Once
}

// NewRuntime creates a runtime stepping at fps frames per second.
func NewRuntime(files FileSystem, fps int) *Runtime {
	if fps <= 0 {
		fps = 60
	}
	return &Runtime{
		MemState: NewMemState(),
		files:    files,
		interval: time.Second / time.Duration(fps),
		quit:     make(chan struct{}),
	}
}

func (r *Runtime) Frame() int64      { return r.frame.Load() }
func (r *Runtime) Files() FileSystem { return r.files }

// OnBeforeTick registers fn to run at the start of every frame, in
// registration order.
func (r *Runtime) OnBeforeTick(fn TickFunc) {
	r.hooks = append(r.hooks, fn)
}

// RequestQuit stops Run after the current frame.
func (r *Runtime) RequestQuit() {
	r.quitOnce.Do(func() { close(r.quit) })
}

// SetRecording switches session recording on or off.
func (r *Runtime) SetRecording(on bool) { r.recording.Store(on) }

// SetReplaying switches replay mode on or off.
func (r *Runtime) SetReplaying(on bool) { r.replaying.Store(on) }

func (r *Runtime) Recording() bool { return r.recording.Load() }
func (r *Runtime) Replaying() bool { return r.replaying.Load() }

// Done is closed once a quit was requested.
func (r *Runtime) Done() <-chan struct{} { return r.quit }

// Step runs one frame. The first subscriber error aborts the frame.
func (r *Runtime) Step(ctx context.Context) error {
	for _, fn := range r.hooks {
		if err := fn(ctx); err != nil {
			return err
		}
	}
	r.frame.Add(1)
	return nil
}

// Run steps at the configured rate until ctx is done, a quit is
// requested, or maxFrames frames ran (0 means unbounded).
func (r *Runtime) Run(ctx context.Context, maxFrames int64) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var ran int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.quit:
			return ErrQuit
		case <-ticker.C:
		}
		if err := r.Step(ctx); err != nil {
			return err
		}
		ran++
		if maxFrames > 0 && ran >= maxFrames {
			return nil
		}
	}
}

var (
	_ Host     = (*Runtime)(nil)
	_ Quitter  = (*Runtime)(nil)
	_ Recorder = (*Runtime)(nil)
)
