// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package timetravel captures recovery capsules and recalls them.
//
// Only the most recent successful capture is kept as the rollback
// target. Every recall attempt, successful or not, is appended to a
// bounded history.
package timetravel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Stargate/services/supervisor/clock"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/random"
	"github.com/AleutianAI/Stargate/services/supervisor/snapshot"
	"github.com/AleutianAI/Stargate/services/supervisor/telemetry"
)

var tracer = otel.Tracer("stargate.timetravel")

// ErrNoCapsule is returned when no capsule has been captured.
var ErrNoCapsule = errors.New("no valid capsule")

// DefaultHistoryLimit bounds the recall history.
const DefaultHistoryLimit = 64

// Capsule identifies a recoverable point in time. The payload lives in
// the snapshot store under Hash.
type Capsule struct {
	Branch     string    `json:"branch"`
	Frame      int64     `json:"frame"`
	Seed       uint64    `json:"seed"`
	Hash       string    `json:"hash"`
	CapturedAt time.Time `json:"captured_at"`
}

// RecallEntry is one recall attempt.
type RecallEntry struct {
	Capsule Capsule   `json:"capsule"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

// Config wires a Machine.
type Config struct {
	Clock        *clock.Clock
	Snapshots    *snapshot.Store
	RNG          *random.Source
	Bus          *protocol.Bus
	HistoryLimit int
	Logger       *slog.Logger
	Now          func() time.Time
}

// Machine owns the last valid capsule and the recall history.
//
// Thread Safety: not safe for concurrent use.
type Machine struct {
	clock     *clock.Clock
	snapshots *snapshot.Store
	rng       *random.Source
	bus       *protocol.Bus
	limit     int
	logger    *slog.Logger
	now       func() time.Time

	last    *Capsule
	history []RecallEntry
}

// New creates a Machine.
func New(cfg Config) *Machine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{
		clock:     cfg.Clock,
		snapshots: cfg.Snapshots,
		rng:       cfg.RNG,
		bus:       cfg.Bus,
		limit:     cfg.HistoryLimit,
		logger:    cfg.Logger.With(slog.String("component", "stargate.timetravel")),
		now:       cfg.Now,
	}
}

// CaptureMoment snapshots the host and records the capsule as the last
// valid one. A failed capture keeps the previous capsule.
func (m *Machine) CaptureMoment(ctx context.Context) (Capsule, bool) {
	packet, ok := m.snapshots.Capture(ctx)
	if !ok {
		return Capsule{}, false
	}
	addr := m.clock.Address()
	c := Capsule{
		Branch:     addr.Branch,
		Frame:      addr.Frame,
		Seed:       random.FrameSeed(addr.Frame),
		Hash:       packet.Hash,
		CapturedAt: m.now(),
	}
	m.last = &c
	capsulesTotal.Inc()
	m.logger.Debug("capsule captured", slog.Int64("frame", c.Frame), slog.String("hash", c.Hash))
	return c, true
}

// LastValid returns the rollback target.
func (m *Machine) LastValid() (Capsule, bool) {
	if m.last == nil {
		return Capsule{}, false
	}
	return *m.last, true
}

// RecallMoment pauses the clock and restores c. The clock resumes only
// when the restore succeeds.
func (m *Machine) RecallMoment(ctx context.Context, c Capsule) error {
	ctx, span := tracer.Start(ctx, "timetravel.RecallMoment",
		trace.WithAttributes(
			attribute.String("capsule.branch", c.Branch),
			attribute.Int64("capsule.frame", c.Frame),
			attribute.String("capsule.hash", c.Hash),
		),
	)
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, m.logger)

	m.clock.Pause("recall")
	res := m.clock.RestoreMoment(ctx, c.Branch, c.Frame, c.Hash, c.Seed)

	entry := RecallEntry{Capsule: c, OK: res == clock.ResultOK, At: m.now()}
	var err error
	if res != clock.ResultOK {
		err = &RecallError{Capsule: c, Result: res}
		entry.Error = err.Error()
		span.SetStatus(codes.Error, entry.Error)
		recallsTotal.WithLabelValues("failed").Inc()
		logger.Error("recall failed, clock stays paused", slog.Int64("frame", c.Frame), slog.String("hash", c.Hash))
	} else if !m.clock.Resume() {
		// Restored, but a standing violation still holds the clock.
		recallsTotal.WithLabelValues("held").Inc()
		logger.Warn("recall restored state but clock is held by an interrupt", slog.Int64("frame", c.Frame))
	} else {
		recallsTotal.WithLabelValues("ok").Inc()
		logger.Info("moment recalled", slog.Int64("frame", c.Frame), slog.String("hash", c.Hash))
	}

	m.history = append(m.history, entry)
	if len(m.history) > m.limit {
		m.history = m.history[len(m.history)-m.limit:]
	}

	m.bus.Emit(protocol.Recall{Frame: c.Frame, Hash: c.Hash, OK: entry.OK, Error: entry.Error})
	return err
}

// History returns a copy of the recall history, oldest first.
func (m *Machine) History() []RecallEntry {
	out := make([]RecallEntry, len(m.history))
	copy(out, m.history)
	return out
}

// RecallError reports a failed recall.
type RecallError struct {
	Capsule Capsule
	Result  clock.Result
}

func (e *RecallError) Error() string {
	return fmt.Sprintf("recall of frame %d (%s) failed: %s", e.Capsule.Frame, e.Capsule.Hash, e.Result)
}
