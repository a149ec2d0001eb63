// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
)

// DefaultBufferLimit caps events held before activation.
const DefaultBufferLimit = 4096

// Sink receives dispatched events together with their validated
// encoding.
type Sink interface {
	Dispatch(e Event, raw []byte)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(e Event, raw []byte)

func (f SinkFunc) Dispatch(e Event, raw []byte) { f(e, raw) }

// DirtyMarker is the causal ledger gameplay events write to.
type DirtyMarker interface {
	MarkDirty(domain causal.Domain, source causal.Source, intention, trace string) error
}

// BusConfig configures a Bus.
type BusConfig struct {
	// Frame stamps events. Nil stamps zero.
	Frame func() int64

	// Marker receives the implicit dirty mark of gameplay events.
	Marker DirtyMarker

	// BufferLimit caps pre-activation buffering. Zero uses
	// DefaultBufferLimit. Overflow drops the oldest buffered event.
	BufferLimit int

	Logger *slog.Logger
	Now    func() time.Time
}

// Bus buffers, stamps and dispatches events.
type Bus struct {
	frame  func() int64
	marker DirtyMarker
	limit  int
	logger *slog.Logger
	now    func() time.Time

	active  bool
	buffer  []Event
	sinks   []Sink
	dropped int64
}

// NewBus creates an inactive Bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.Frame == nil {
		cfg.Frame = func() int64 { return 0 }
	}
	if cfg.BufferLimit <= 0 {
		cfg.BufferLimit = DefaultBufferLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Bus{
		frame:  cfg.Frame,
		marker: cfg.Marker,
		limit:  cfg.BufferLimit,
		logger: cfg.Logger.With(slog.String("component", "stargate.protocol")),
		now:    cfg.Now,
	}
}

// Subscribe adds a sink. Sinks see events in subscription order.
func (b *Bus) Subscribe(s Sink) {
	b.sinks = append(b.sinks, s)
}

// Active reports whether events dispatch immediately.
func (b *Bus) Active() bool { return b.active }

// Buffered returns how many events wait for activation.
func (b *Bus) Buffered() int { return len(b.buffer) }

// Activate flushes the buffer in emission order and switches to direct
// dispatch.
func (b *Bus) Activate() {
	if b.active {
		return
	}
	b.active = true
	pending := b.buffer
	b.buffer = nil
	for _, e := range pending {
		b.dispatch(e)
	}
	if b.dropped > 0 {
		b.logger.Warn("events dropped before activation", slog.Int64("dropped", b.dropped))
		b.dropped = 0
	}
}

// Deactivate returns the bus to buffering, as during a reinstall.
func (b *Bus) Deactivate() {
	b.active = false
}

// Emit raises a system event.
func (b *Bus) Emit(p Payload) {
	b.emit(p, OriginSystem)
}

// EmitGameplay raises an application event and marks the state dirty.
func (b *Bus) EmitGameplay(name string, data map[string]any) {
	if b.marker != nil {
		if err := b.marker.MarkDirty(causal.DomainState, causal.SourceIntent, "gameplay event: "+name, ""); err != nil {
			b.logger.Warn("gameplay dirty mark rejected", slog.String("error", err.Error()))
		}
	}
	b.emit(Gameplay{Name: name, Data: data}, OriginGameplay)
}

func (b *Bus) emit(p Payload, origin Origin) {
	e := Event{
		Kind:    p.Kind(),
		Payload: p,
		Frame:   b.frame(),
		Time:    b.now(),
		Origin:  origin,
	}
	if !b.active {
		if len(b.buffer) >= b.limit {
			b.buffer = b.buffer[1:]
			b.dropped++
			eventsDropped.Inc()
		}
		b.buffer = append(b.buffer, e)
		return
	}
	b.dispatch(e)
}

func (b *Bus) dispatch(e Event) {
	raw, err := Encode(e)
	if err != nil {
		eventsRejected.WithLabelValues(string(e.Kind)).Inc()
		b.logger.Error("event rejected at bus boundary",
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()))
		return
	}
	eventsTotal.WithLabelValues(string(e.Kind), string(e.Origin)).Inc()
	for _, s := range b.sinks {
		s.Dispatch(e, raw)
	}
}
