// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol is the supervisor event bus.
//
// # Description
//
// Every supervisor signal is an Event carrying one typed payload. The
// payload variant is selected by Kind and validated against an embedded
// JSON schema whenever the event crosses the process boundary (machine
// channel, websocket stream, Decode).
//
// Events raised before the bus is activated are buffered in emission
// order and flushed ahead of any later event once Activate is called.
//
// # Thread Safety
//
// Bus is owned by the frame loop goroutine and is not safe for
// concurrent use. Sinks that fan out to other goroutines must do their
// own locking.
package protocol

import (
	"time"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
)

// Kind selects the payload variant.
type Kind string

const (
	KindBoot       Kind = "boot"
	KindMoment     Kind = "moment"
	KindDivergence Kind = "divergence"
	KindBranch     Kind = "branch"
	KindAlert      Kind = "alert"
	KindTrace      Kind = "trace"
	KindMetadata   Kind = "metadata"
	KindThreat     Kind = "threat"
	KindRecall     Kind = "recall"
	KindGameplay   Kind = "gameplay"
)

// Origin says who raised an event.
type Origin string

const (
	OriginSystem   Origin = "system"
	OriginGameplay Origin = "gameplay"
)

// Severity drives the human channel filter.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityAlert
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityAlert:
		return "alert"
	default:
		return "info"
	}
}

// Payload is implemented by every event variant.
type Payload interface {
	Kind() Kind
}

// Event is one bus message.
type Event struct {
	Kind    Kind
	Payload Payload
	Frame   int64
	Time    time.Time
	Origin  Origin
}

// Severity classifies the event for the human channel.
func (e Event) Severity() Severity {
	switch p := e.Payload.(type) {
	case Alert:
		return SeverityAlert
	case Divergence:
		return SeverityError
	case Threat:
		if p.Level == "critical" || p.Level == "paradox" {
			return SeverityError
		}
		return SeverityWarning
	case Recall:
		if !p.OK {
			return SeverityError
		}
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// MomentType distinguishes full snapshots from heartbeats.
type MomentType string

const (
	MomentTick      MomentType = "tick"
	MomentHeartbeat MomentType = "heartbeat"
	MomentStasis    MomentType = "stasis"
)

// Boot announces a (re)install.
type Boot struct {
	Mode        string `json:"mode"`
	Reinstall   bool   `json:"reinstall"`
	Interrupted bool   `json:"interrupted"`
	Seed        uint64 `json:"seed"`
}

// Moment is a published frame. Hash is empty for heartbeats.
type Moment struct {
	Type     MomentType   `json:"type"`
	Branch   string       `json:"branch"`
	Hash     string       `json:"hash,omitempty"`
	Seed     uint64       `json:"seed"`
	RNGCalls int64        `json:"rng_calls"`
	Dirty    []string     `json:"dirty,omitempty"`
	Cause    *causal.Node `json:"cause,omitempty"`
}

// Divergence reports live state drifting from the anchored hash.
type Divergence struct {
	Branch   string `json:"branch"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Branch reports a new timeline or a jump between timelines.
type Branch struct {
	ID              string `json:"id"`
	Parent          string `json:"parent,omitempty"`
	DivergenceFrame int64  `json:"divergence_frame"`
	Hash            string `json:"hash,omitempty"`
}

// Alert is a violation or stability fault.
type Alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Trace is a free-form diagnostic note.
type Trace struct {
	Message string            `json:"message"`
	Detail  map[string]string `json:"detail,omitempty"`
}

// Metadata tags the current frame.
type Metadata struct {
	Tag      string `json:"tag"`
	RNGCalls int64  `json:"rng_calls"`
}

// Threat is a classified telemetry entry.
type Threat struct {
	Level    string `json:"level"`
	Action   string `json:"action"`
	Evidence string `json:"evidence"`
}

// Recall reports a rollback attempt.
type Recall struct {
	Frame int64  `json:"frame"`
	Hash  string `json:"hash"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Gameplay is raised by the wrapped application.
type Gameplay struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

func (Boot) Kind() Kind       { return KindBoot }
func (Moment) Kind() Kind     { return KindMoment }
func (Divergence) Kind() Kind { return KindDivergence }
func (Branch) Kind() Kind     { return KindBranch }
func (Alert) Kind() Kind      { return KindAlert }
func (Trace) Kind() Kind      { return KindTrace }
func (Metadata) Kind() Kind   { return KindMetadata }
func (Threat) Kind() Kind     { return KindThreat }
func (Recall) Kind() Kind     { return KindRecall }
func (Gameplay) Kind() Kind   { return KindGameplay }
