// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/clock"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
)

// demo is the chaos lab application: a hero wandering a line. With chaos
// on it occasionally misbehaves so the recovery paths can be watched.
type demo struct {
	world  host.StateMutator
	logger *slog.Logger
	chaos  bool
}

func newDemo(world host.StateMutator, logger *slog.Logger, chaos bool) *demo {
	return &demo{world: world, logger: logger.With(slog.String("subsystem", "demo")), chaos: chaos}
}

func (d *demo) Tick(_ context.Context, f *clock.Frame) error {
	step, err := f.Intn(3)
	if err != nil {
		return err
	}
	x, _ := d.world.Get("hero.x")
	d.world.Set("hero.x", x+int64(step)-1)
	if err := f.Intent(causal.DomainState, "hero wanders"); err != nil {
		return err
	}
	if f.Number > 0 && f.Number%600 == 0 {
		f.Emit("checkpoint", map[string]any{"x": x})
	}

	if !d.chaos {
		return nil
	}
	roll, err := f.Intn(2000)
	if err != nil {
		return err
	}
	switch roll {
	case 0:
		d.logger.Error("undefined method `hp' for nil:NilClass")
	case 1:
		d.logger.Warn("physics exception: body left the world")
	case 2:
		return errors.New("hero update failed: negative health")
	}
	return nil
}

var _ clock.App = (*demo)(nil)
