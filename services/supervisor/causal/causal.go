// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package causal tracks which domains changed during a frame and why.
package causal

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Domain names a dirty flag.
type Domain string

const (
	DomainState    Domain = "state"
	DomainAssets   Domain = "assets"
	DomainLogic    Domain = "logic"
	DomainTimeline Domain = "timeline"

	// DomainReload is a sanctioned re-install of the runtime. Like
	// DomainLogic it excuses source fingerprint drift.
	DomainReload Domain = "reload"
)

// Domains lists every valid domain in flag order.
var Domains = []Domain{DomainState, DomainAssets, DomainLogic, DomainTimeline, DomainReload}

// Source classifies who caused a change.
type Source string

const (
	SourceIntent    Source = "intent"
	SourceInjection Source = "injection"
	SourceEmergent  Source = "emergent"
)

// Timestamp locates a node in frame and wall time.
type Timestamp struct {
	Frame     int64     `json:"frame"`
	Monotonic time.Time `json:"monotonic"`
}

// Node explains why the state became dirty.
type Node struct {
	ID        string    `json:"id"`
	Source    Source    `json:"source"`
	Intention string    `json:"intention"`
	Trace     string    `json:"trace,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// State is the dirty-flag ledger plus the current causal node.
//
// Thread Safety: not safe for concurrent use.
type State struct {
	flags   map[Domain]bool
	current *Node
	frame   func() int64
	now     func() time.Time
}

// New creates a clean State. frame supplies the host frame counter for
// node timestamps; nil means zero.
func New(frame func() int64) *State {
	if frame == nil {
		frame = func() int64 { return 0 }
	}
	return &State{
		flags: make(map[Domain]bool, len(Domains)),
		frame: frame,
		now:   time.Now,
	}
}

// MarkDirty sets the domain flag and replaces the current node.
func (s *State) MarkDirty(domain Domain, source Source, intention, trace string) error {
	if !validDomain(domain) {
		return fmt.Errorf("mark dirty: unknown domain %q", domain)
	}
	switch source {
	case SourceIntent, SourceInjection, SourceEmergent:
	default:
		return fmt.Errorf("mark dirty: unknown source %q", source)
	}
	s.flags[domain] = true
	s.current = &Node{
		ID:        uuid.NewString(),
		Source:    source,
		Intention: intention,
		Trace:     trace,
		Timestamp: Timestamp{Frame: s.frame(), Monotonic: s.now()},
	}
	return nil
}

// Dirty reports whether any domain is dirty.
func (s *State) Dirty() bool {
	for _, v := range s.flags {
		if v {
			return true
		}
	}
	return false
}

// IsDirty reports whether domain is dirty.
func (s *State) IsDirty(domain Domain) bool {
	return s.flags[domain]
}

// DirtyDomains returns dirty domains in flag order.
func (s *State) DirtyDomains() []Domain {
	var out []Domain
	for _, d := range Domains {
		if s.flags[d] {
			out = append(out, d)
		}
	}
	return out
}

// Current returns a copy of the current node, or nil.
func (s *State) Current() *Node {
	if s.current == nil {
		return nil
	}
	n := *s.current
	return &n
}

// AttachOutcome records the snapshot hash produced for the current node.
func (s *State) AttachOutcome(hash string) {
	if s.current != nil {
		s.current.Outcome = hash
	}
}

// Clear resets every flag and discards the current node.
func (s *State) Clear() {
	clear(s.flags)
	s.current = nil
}

func validDomain(d Domain) bool {
	for _, known := range Domains {
		if d == known {
			return true
		}
	}
	return false
}
