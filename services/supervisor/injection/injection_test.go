// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package injection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
)

func TestQueue_PerformAndCommit(t *testing.T) {
	state := host.NewMemState()
	marker := causal.New(nil)
	q := New()
	q.Enqueue(Injection{Key: "gravity", Value: 12, Reason: "designer tweak"})

	q.Checkpoint()
	n, err := q.Perform(state, marker)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	q.Commit()

	v, ok := state.Get("gravity")
	assert.True(t, ok)
	assert.Equal(t, int64(12), v)
	assert.Equal(t, causal.SourceInjection, marker.Current().Source)
	assert.Zero(t, q.Pending())
}

func TestQueue_RollbackRestoresPriorValues(t *testing.T) {
	state := host.NewMemState()
	state.Set("hp", 100)
	q := New()
	q.Enqueue(Injection{Key: "hp", Value: 1, Reason: "test"})
	q.Enqueue(Injection{Key: "hp", Value: 2, Reason: "test"})
	q.Enqueue(Injection{Key: "shield", Value: 5, Reason: "test"})

	q.Checkpoint()
	_, err := q.Perform(state, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, q.Rollback(state))
	v, _ := state.Get("hp")
	assert.Equal(t, int64(100), v)
	_, ok := state.Get("shield")
	assert.False(t, ok)
}

func TestQueue_PerformRequiresCheckpoint(t *testing.T) {
	q := New()
	q.Enqueue(Injection{Key: "k", Reason: "r"})
	_, err := q.Perform(host.NewMemState(), nil)
	assert.Error(t, err)
}

func TestQueue_Reset(t *testing.T) {
	q := New()
	q.Enqueue(Injection{Key: "k", Reason: "r"})
	q.Reset()
	assert.Zero(t, q.Pending())
}
