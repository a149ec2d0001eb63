// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package injection queues state writes from outside the wrapped
// application and applies them speculatively at the start of a frame.
//
// A frame checkpoints the queue, performs the injections, and either
// commits them when the frame succeeds or rolls the touched keys back
// to their previous values when it fails.
package injection

import (
	"fmt"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
)

// Injection is one keyed write.
type Injection struct {
	Key    string `json:"key" validate:"required"`
	Value  int64  `json:"value"`
	Delete bool   `json:"delete,omitempty"`
	Reason string `json:"reason" validate:"required"`
}

type prior struct {
	key     string
	value   int64
	existed bool
}

// Queue holds pending injections and the undo log of the frame in
// flight.
//
// Thread Safety: not safe for concurrent use. Control requests reach it
// through the supervisor's tick-start drain.
type Queue struct {
	pending []Injection
	undo    []prior
	open    bool
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue schedules inj for the next frame.
func (q *Queue) Enqueue(inj Injection) {
	q.pending = append(q.pending, inj)
}

// Pending returns the number of injections waiting.
func (q *Queue) Pending() int { return len(q.pending) }

// Checkpoint opens a speculation window.
func (q *Queue) Checkpoint() {
	q.undo = q.undo[:0]
	q.open = true
}

// Perform applies every pending injection to state and marks the state
// dirty with source injection. It returns the number applied.
func (q *Queue) Perform(state host.StateMutator, marker *causal.State) (int, error) {
	if !q.open {
		return 0, fmt.Errorf("perform injections: no checkpoint")
	}
	applied := 0
	for _, inj := range q.pending {
		old, existed := state.Get(inj.Key)
		q.undo = append(q.undo, prior{key: inj.Key, value: old, existed: existed})
		if inj.Delete {
			state.Delete(inj.Key)
		} else {
			state.Set(inj.Key, inj.Value)
		}
		if marker != nil {
			if err := marker.MarkDirty(causal.DomainState, causal.SourceInjection, inj.Reason, inj.Key); err != nil {
				return applied, err
			}
		}
		applied++
	}
	q.pending = q.pending[:0]
	return applied, nil
}

// Commit closes the speculation window and keeps the writes.
func (q *Queue) Commit() {
	q.undo = q.undo[:0]
	q.open = false
}

// Rollback restores every key touched since Checkpoint, newest first.
func (q *Queue) Rollback(state host.StateMutator) int {
	n := len(q.undo)
	for i := n - 1; i >= 0; i-- {
		p := q.undo[i]
		if p.existed {
			state.Set(p.key, p.value)
		} else {
			state.Delete(p.key)
		}
	}
	q.undo = q.undo[:0]
	q.open = false
	return n
}

// Reset drops pending injections and any open window without restoring
// anything. Used when the timeline is replaced wholesale.
func (q *Queue) Reset() {
	q.pending = nil
	q.undo = q.undo[:0]
	q.open = false
}
