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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/injection"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/random"
	"github.com/AleutianAI/Stargate/services/supervisor/snapshot"
)

type harness struct {
	rt     *host.Runtime
	clock  *Clock
	store  *snapshot.Store
	files  *host.MemFS
	events []protocol.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{files: host.NewMemFS()}
	h.rt = host.NewRuntime(h.files, 60)
	cs := causal.New(h.rt.Frame)
	bus := protocol.NewBus(protocol.BusConfig{Frame: h.rt.Frame, Marker: cs})
	bus.Subscribe(protocol.SinkFunc(func(e protocol.Event, _ []byte) {
		h.events = append(h.events, e)
	}))
	bus.Activate()
	h.store = snapshot.New(h.rt, snapshot.NewDirStore(h.files, "blobs"), nil)
	h.clock = New(Config{
		Host:      h.rt,
		RNG:       random.New(),
		Causal:    cs,
		Snapshots: h.store,
		Bus:       bus,
	})
	return h
}

func (h *harness) kinds(kind protocol.Kind) []protocol.Event {
	var out []protocol.Event
	for _, e := range h.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// counter moves "x" by a random step and declares the change.
func counter(calls *int) AppFunc {
	return func(ctx context.Context, f *Frame) error {
		*calls++
		step, err := f.Intn(10)
		if err != nil {
			return err
		}
		if err := f.Intent(causal.DomainState, "move"); err != nil {
			return err
		}
		f.Emit("moved", map[string]any{"step": step})
		return nil
	}
}

type fakeReporter struct {
	types    []string
	messages []string
}

func (r *fakeReporter) Shout(vt, msg string) {
	r.types = append(r.types, vt)
	r.messages = append(r.messages, msg)
}

type fakeGuard struct{ interrupted bool }

func (g *fakeGuard) Interrupted() bool { return g.interrupted }

func TestClock_DirtyFrameAnchorsAuthority(t *testing.T) {
	h := newHarness(t)
	calls := 0

	res := h.clock.Tick(context.Background(), counter(&calls))
	require.Equal(t, ResultOK, res)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), h.clock.Address().Frame)
	require.NotEmpty(t, h.clock.Authority())

	moments := h.kinds(protocol.KindMoment)
	require.Len(t, moments, 1)
	m := moments[0].Payload.(protocol.Moment)
	assert.Equal(t, protocol.MomentTick, m.Type)
	assert.Equal(t, h.clock.Authority(), m.Hash)
	assert.Equal(t, random.FrameSeed(0), m.Seed)
	assert.Equal(t, int64(1), m.RNGCalls)
	require.NotNil(t, m.Cause)
	assert.Equal(t, m.Hash, m.Cause.Outcome)
}

func TestClock_DivergencePausesWithoutRunningApp(t *testing.T) {
	h := newHarness(t)
	reporter := &fakeReporter{}
	h.clock.SetReporter(reporter)
	calls := 0
	app := counter(&calls)

	require.Equal(t, ResultOK, h.clock.Tick(context.Background(), app))
	anchored := h.clock.Authority()

	// State changes behind the supervisor's back.
	h.rt.Set("tampered", 1)

	res := h.clock.Tick(context.Background(), app)
	assert.Equal(t, ResultDivergence, res)
	assert.Equal(t, 1, calls, "wrapped callback must not run on a divergent tick")
	assert.True(t, h.clock.Paused())
	assert.Equal(t, Paused, h.clock.State())

	divs := h.kinds(protocol.KindDivergence)
	require.Len(t, divs, 1)
	d := divs[0].Payload.(protocol.Divergence)
	assert.Equal(t, anchored, d.Expected)
	assert.NotEqual(t, anchored, d.Actual)
	assert.Equal(t, []string{"divergence"}, reporter.types)

	assert.Equal(t, ResultPaused, h.clock.Tick(context.Background(), app))
	assert.Equal(t, 1, calls)
}

func TestClock_HeartbeatWithoutSnapshot(t *testing.T) {
	h := newHarness(t)
	idle := AppFunc(func(context.Context, *Frame) error { return nil })

	for i := 0; i < DefaultHeartbeatInterval; i++ {
		require.Equal(t, ResultOK, h.clock.Tick(context.Background(), idle))
	}

	moments := h.kinds(protocol.KindMoment)
	require.Len(t, moments, 1)
	m := moments[0].Payload.(protocol.Moment)
	assert.Equal(t, protocol.MomentHeartbeat, m.Type)
	assert.Empty(t, m.Hash)
	assert.Empty(t, h.clock.Authority())
}

func TestClock_WrappedErrorBecomesViolation(t *testing.T) {
	h := newHarness(t)
	reporter := &fakeReporter{}
	h.clock.SetReporter(reporter)
	h.rt.Set("hp", 10)
	h.clock.Injections().Enqueue(injection.Injection{Key: "hp", Value: 99, Reason: "cheat"})

	boom := AppFunc(func(ctx context.Context, f *Frame) error {
		panic("nil dereference in update")
	})

	res := h.clock.Tick(context.Background(), boom)
	assert.Equal(t, ResultError, res)
	assert.Equal(t, int64(0), h.clock.Address().Frame)
	require.Equal(t, []string{"wrapped_application_error"}, reporter.types)
	assert.Contains(t, reporter.messages[0], "nil dereference")

	hp, _ := h.rt.Get("hp")
	assert.Equal(t, int64(10), hp, "speculative injection must be rolled back")

	failing := AppFunc(func(context.Context, *Frame) error { return errors.New("plain failure") })
	assert.Equal(t, ResultError, h.clock.Tick(context.Background(), failing))
	assert.Len(t, reporter.types, 2)
}

func TestClock_InjectionsCommitOnSuccess(t *testing.T) {
	h := newHarness(t)
	h.clock.Injections().Enqueue(injection.Injection{Key: "gravity", Value: 3, Reason: "tuning"})

	idle := AppFunc(func(context.Context, *Frame) error { return nil })
	require.Equal(t, ResultOK, h.clock.Tick(context.Background(), idle))

	v, ok := h.rt.Get("gravity")
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)

	m := h.kinds(protocol.KindMoment)[0].Payload.(protocol.Moment)
	assert.Equal(t, causal.SourceInjection, m.Cause.Source)
}

func TestClock_GuardBlocksFrames(t *testing.T) {
	h := newHarness(t)
	guard := &fakeGuard{interrupted: true}
	h.clock.SetGuard(guard)
	calls := 0

	assert.Equal(t, ResultPaused, h.clock.Tick(context.Background(), counter(&calls)))
	assert.Zero(t, calls)
	assert.False(t, h.clock.Resume())

	guard.interrupted = false
	assert.True(t, h.clock.Resume())
	assert.Equal(t, ResultOK, h.clock.Tick(context.Background(), counter(&calls)))
	assert.Equal(t, 1, calls)
}

func TestClock_RestoreMoment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.rt.Set("x", 1)
	calls := 0
	require.Equal(t, ResultOK, h.clock.Tick(ctx, counter(&calls)))
	hash := h.clock.Authority()

	h.rt.Set("x", 500)
	res := h.clock.RestoreMoment(ctx, MainBranch, 1, hash, random.FrameSeed(1))
	require.Equal(t, ResultOK, res)

	x, _ := h.rt.Get("x")
	assert.Equal(t, int64(1), x)
	assert.Equal(t, hash, h.clock.Authority())
	assert.Equal(t, random.FrameSeed(1), h.clock.rng.Seed())

	assert.Equal(t, ResultError, h.clock.RestoreMoment(ctx, "nowhere", 1, hash, 1))
	assert.Equal(t, ResultError, h.clock.RestoreMoment(ctx, MainBranch, 1, snapshot.Digest([]byte("missing")), 1))
}

func TestClock_RestoreRejectsCorruptBlob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	calls := 0
	require.Equal(t, ResultOK, h.clock.Tick(ctx, counter(&calls)))
	hash := h.clock.Authority()

	require.NoError(t, h.files.WriteFile("blobs/"+hash+".snap", []byte(`{"forged":1}`)))
	h.rt.Set("keep", 7)

	assert.Equal(t, ResultError, h.clock.RestoreMoment(ctx, MainBranch, 1, hash, 1))
	v, ok := h.rt.Get("keep")
	assert.True(t, ok, "a rejected load must not touch host state")
	assert.Equal(t, int64(7), v)
}

func TestClock_Branch(t *testing.T) {
	h := newHarness(t)
	calls := 0
	require.Equal(t, ResultOK, h.clock.Tick(context.Background(), counter(&calls)))
	hash := h.clock.Authority()

	addr := h.clock.Branch(1, hash)
	assert.NotEqual(t, MainBranch, addr.Branch)
	assert.Equal(t, int64(1), addr.Frame)

	branches := h.clock.Branches()
	require.Len(t, branches, 2)
	assert.Equal(t, MainBranch, branches[0].ID)
	assert.Equal(t, MainBranch, branches[1].Parent)

	ev := h.kinds(protocol.KindBranch)
	require.Len(t, ev, 1)
	assert.Equal(t, addr.Branch, ev[0].Payload.(protocol.Branch).ID)

	require.NoError(t, h.clock.JumpTo(MainBranch, 1))
	assert.ErrorIs(t, h.clock.JumpTo("ghost", 0), ErrUnknownBranch)
}

func TestClock_Deterministic(t *testing.T) {
	run := func() []string {
		h := newHarness(t)
		calls := 0
		var hashes []string
		for i := 0; i < 5; i++ {
			require.Equal(t, ResultOK, h.clock.Tick(context.Background(), AppFunc(func(ctx context.Context, f *Frame) error {
				v, err := f.Intn(1000)
				if err != nil {
					return err
				}
				h.rt.Add("pos", int64(v))
				calls++
				return f.Intent(causal.DomainState, "walk")
			})))
			hashes = append(hashes, h.clock.Authority())
		}
		return hashes
	}
	assert.Equal(t, run(), run())
}

func TestClock_StatusAndTag(t *testing.T) {
	h := newHarness(t)
	h.clock.Pause("operator")
	st := h.clock.Status()
	assert.Equal(t, "paused", st.State)
	assert.Equal(t, "operator", st.Reason)

	h.clock.TagFrame("checkpoint-a")
	meta := h.kinds(protocol.KindMetadata)
	require.Len(t, meta, 1)
	assert.Equal(t, "checkpoint-a", meta[0].Payload.(protocol.Metadata).Tag)
}
