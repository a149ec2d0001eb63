// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clock

import (
	"context"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/random"
)

// App is the wrapped application.
type App interface {
	Tick(ctx context.Context, f *Frame) error
}

// AppFunc adapts a function to App.
type AppFunc func(ctx context.Context, f *Frame) error

func (fn AppFunc) Tick(ctx context.Context, f *Frame) error { return fn(ctx, f) }

// Frame is what the wrapped application sees of the supervisor during
// one tick.
type Frame struct {
	Number int64
	Seed   uint64

	rng    *random.Source
	causal *causal.State
	bus    *protocol.Bus
}

// Rand draws from the frame-seeded source. See random.Source.Rand.
func (f *Frame) Rand(max int) (float64, error) {
	return f.rng.Rand(max)
}

// Intn draws an integer in [0, n).
func (f *Frame) Intn(n int) (int, error) {
	return f.rng.Intn(n)
}

// Intent declares a deliberate state change so the frame is snapshotted.
func (f *Frame) Intent(domain causal.Domain, intention string) error {
	return f.causal.MarkDirty(domain, causal.SourceIntent, intention, "")
}

// Emit raises a gameplay event. Gameplay events mark the state dirty.
func (f *Frame) Emit(name string, data map[string]any) {
	f.bus.EmitGameplay(name, data)
}
