// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stargate/pkg/logging"
	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/clock"
	"github.com/AleutianAI/Stargate/services/supervisor/config"
	"github.com/AleutianAI/Stargate/services/supervisor/diagnose"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/immunology"
	"github.com/AleutianAI/Stargate/services/supervisor/injection"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/timetravel"
	"github.com/AleutianAI/Stargate/services/supervisor/vigilante"
)

type rig struct {
	rt     *host.Runtime
	files  *host.MemFS
	cfg    config.StargateConfig
	sup    *Supervisor
	events []protocol.Event
}

func testConfig() config.StargateConfig {
	cfg := config.DefaultConfig()
	cfg.Vigilante.Interval = 1
	cfg.Vigilante.Notify = false
	cfg.Ledger.Interval = 1000
	cfg.Clock.AutoCaptureInterval = 0
	return cfg
}

func newRig(t *testing.T, mutate ...func(*Options)) *rig {
	t.Helper()
	files := host.NewMemFS()
	require.NoError(t, files.WriteFile("app/hero.rb", []byte("# @node: hero\nclass Hero; end\n")))
	r := &rig{files: files, rt: host.NewRuntime(files, 60), cfg: testConfig()}

	opts := Options{
		Config: r.cfg,
		Host:   r.rt,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, m := range mutate {
		m(&opts)
	}
	r.cfg = opts.Config

	sup, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sup.Close() })
	sup.Subscribe(protocol.SinkFunc(func(e protocol.Event, _ []byte) {
		r.events = append(r.events, e)
	}))
	r.sup = sup
	return r
}

// tick runs one supervised frame and advances the host.
func (r *rig) tick(t *testing.T, app clock.App) clock.Result {
	t.Helper()
	res := r.sup.Tick(context.Background(), app)
	require.NoError(t, r.rt.Step(context.Background()))
	return res
}

func (r *rig) kinds(kind protocol.Kind) []protocol.Event {
	var out []protocol.Event
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// mover advances "x" and declares the change.
func (r *rig) mover() clock.App {
	return clock.AppFunc(func(ctx context.Context, f *clock.Frame) error {
		r.rt.Add("x", 1)
		return f.Intent(causal.DomainState, "step")
	})
}

var idle = clock.AppFunc(func(context.Context, *clock.Frame) error { return nil })

func TestSupervisor_InstallBoots(t *testing.T) {
	var machine bytes.Buffer
	r := newRig(t, func(o *Options) { o.Machine = &machine })

	r.sup.Install(context.Background())

	st := r.sup.Status()
	assert.True(t, st.Installed)
	require.NotNil(t, st.Capsule, "install captures a recovery capsule")
	assert.Equal(t, st.Capsule.Hash, st.Clock.Authority)
	assert.False(t, st.Vigilante.Interrupted)

	boots := r.kinds(protocol.KindBoot)
	require.Len(t, boots, 1)
	boot := boots[0].Payload.(protocol.Boot)
	assert.False(t, boot.Reinstall)
	assert.Equal(t, config.ModeStandard, boot.Mode)
	assert.Contains(t, machine.String(), "[STARGATE_BOOT]")

	_, err := r.files.ReadFile(r.cfg.Stability.LockPath)
	assert.NoError(t, err, "lock file claimed")

	assert.True(t, r.sup.Diagnose().Healthy())
}

func TestSupervisor_TickRunsFrames(t *testing.T) {
	r := newRig(t)
	app := r.mover()

	for i := 0; i < 3; i++ {
		require.Equal(t, clock.ResultOK, r.tick(t, app))
	}

	x, _ := r.rt.Get("x")
	assert.Equal(t, int64(3), x)
	st := r.sup.Status()
	assert.Equal(t, int64(3), st.Clock.Frame)
	assert.Equal(t, int64(3), st.HostFrame)

	ticks := 0
	for _, e := range r.kinds(protocol.KindMoment) {
		if e.Payload.(protocol.Moment).Type == protocol.MomentTick {
			ticks++
		}
	}
	assert.Equal(t, 3, ticks)
}

func TestSupervisor_UndeclaredMutationDiverges(t *testing.T) {
	r := newRig(t)
	app := r.mover()
	require.Equal(t, clock.ResultOK, r.tick(t, app))

	r.rt.Set("cheat", 1)

	assert.Equal(t, clock.ResultDivergence, r.tick(t, app))
	st := r.sup.Status()
	require.NotNil(t, st.Vigilante.Violation)
	assert.Equal(t, vigilante.TypeDivergence, st.Vigilante.Violation.Type)
	assert.Equal(t, clock.ResultPaused, r.tick(t, app))

	require.NoError(t, r.sup.Resolve(context.Background()))
	assert.Equal(t, clock.ResultOK, r.tick(t, app), "resolve accepts the live state")
	cheat, _ := r.rt.Get("cheat")
	assert.Equal(t, int64(1), cheat)
}

func TestSupervisor_UnsanctionedReinstall(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.sup.Install(ctx)
	r.sup.Install(ctx)

	st := r.sup.Status()
	require.True(t, st.Vigilante.Interrupted)
	assert.Equal(t, vigilante.TypeUnsanctionedMutation, st.Vigilante.Violation.Type)
	assert.Equal(t, clock.ResultPaused, r.tick(t, r.mover()))

	boots := r.kinds(protocol.KindBoot)
	require.Len(t, boots, 2)
	second := boots[1].Payload.(protocol.Boot)
	assert.True(t, second.Reinstall)
	assert.True(t, second.Interrupted)

	report := r.sup.Diagnose()
	assert.False(t, report.Healthy())
	var checks []string
	for _, c := range report.Cramps {
		checks = append(checks, c.Check)
	}
	assert.Contains(t, checks, diagnose.CheckMutation)
	assert.Contains(t, checks, diagnose.CheckDebt)
}

func TestSupervisor_SanctionedReload(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.sup.Install(ctx)

	r.sup.SanctionReload()
	r.sup.Install(ctx)

	assert.False(t, r.sup.Status().Vigilante.Interrupted)
	assert.Equal(t, clock.ResultOK, r.tick(t, r.mover()))
}

func TestSupervisor_ResetWorld(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.sup.Install(ctx)
	r.sup.Install(ctx)
	require.True(t, r.sup.Interrupted())

	require.NoError(t, r.sup.ResetWorld(ctx))
	assert.False(t, r.sup.Interrupted())

	r.sup.Install(ctx)
	assert.False(t, r.sup.Interrupted(), "reload after reset is sanctioned")
	assert.Equal(t, clock.ResultOK, r.tick(t, r.mover()))

	var traced bool
	for _, e := range r.kinds(protocol.KindTrace) {
		if e.Payload.(protocol.Trace).Message == "world reset" {
			traced = true
		}
	}
	assert.True(t, traced)
}

func TestSupervisor_LogicIntentExcusesSourceDrift(t *testing.T) {
	r := newRig(t)
	r.sup.Install(context.Background())
	base := time.Now()

	hotSwap := clock.AppFunc(func(ctx context.Context, f *clock.Frame) error {
		r.files.Touch("app/hero.rb", base.Add(time.Hour))
		return f.Intent(causal.DomainLogic, "hot swap hero")
	})
	require.Equal(t, clock.ResultOK, r.tick(t, hotSwap))
	require.Equal(t, clock.ResultOK, r.tick(t, idle))
	assert.False(t, r.sup.Interrupted(), "declared logic change is excused")

	r.files.Touch("app/hero.rb", base.Add(2*time.Hour))
	assert.Equal(t, clock.ResultPaused, r.tick(t, idle))
	st := r.sup.Status()
	require.NotNil(t, st.Vigilante.Violation)
	assert.Equal(t, vigilante.TypeUnsanctionedMutation, st.Vigilante.Violation.Type)
}

func TestSupervisor_LoggedThreatTriggersRecall(t *testing.T) {
	r := newRig(t, func(o *Options) {
		o.Logging = &logging.Config{Service: "game", Quiet: true}
	})
	app := r.mover()
	require.Equal(t, clock.ResultOK, r.tick(t, app))
	require.Equal(t, clock.ResultOK, r.tick(t, app))

	crash := clock.AppFunc(func(context.Context, *clock.Frame) error {
		r.sup.Logger().With("component", "combat").Error("undefined method `hp' for nil:NilClass")
		return nil
	})
	require.Equal(t, clock.ResultOK, r.tick(t, crash))
	require.Equal(t, clock.ResultOK, r.tick(t, idle))

	_, ok := r.rt.Get("x")
	assert.False(t, ok, "state rolled back to the boot capsule")
	st := r.sup.Status()
	assert.Equal(t, int64(1), st.Clock.Frame)
	assert.Equal(t, 1, st.Immunology.Threats)
	require.NotNil(t, st.Immunology.Last)
	assert.Equal(t, immunology.LevelRecoverable, st.Immunology.Last.Level)

	recalls := r.kinds(protocol.KindRecall)
	require.Len(t, recalls, 1)
	assert.True(t, recalls[0].Payload.(protocol.Recall).OK)
}

func TestSupervisor_HandleTelemetryDirect(t *testing.T) {
	r := newRig(t)
	r.sup.Install(context.Background())

	threat, ok := r.sup.HandleTelemetry(context.Background(), "engine", immunology.SeverityError, "Serialization data may be corrupt")
	require.True(t, ok)
	assert.Equal(t, immunology.LevelParadox, threat.Level)
	assert.True(t, r.sup.Status().Immunology.Stasis)
	assert.Equal(t, clock.ResultPaused, r.tick(t, idle))

	require.NoError(t, r.sup.Resolve(context.Background()))
	assert.Equal(t, clock.ResultOK, r.tick(t, idle))
}

func TestSupervisor_DoRunsAtTickStart(t *testing.T) {
	r := newRig(t)
	r.sup.Install(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- r.sup.Do(context.Background(), "pause", func(context.Context) error {
			r.sup.Pause("operator")
			return nil
		})
	}()
	require.Eventually(t, func() bool { return len(r.sup.ops) == 1 }, time.Second, time.Millisecond)

	assert.Equal(t, clock.ResultPaused, r.tick(t, r.mover()))
	require.NoError(t, <-done)
	assert.Equal(t, "operator", r.sup.Status().Clock.Reason)
}

func TestSupervisor_DoAfterClose(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.sup.Close())

	err := r.sup.Do(context.Background(), "noop", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSupervisor_DoHonoursContext(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.sup.Do(ctx, "noop", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupervisor_CorruptDebtEntersStasis(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.files.WriteFile(r.cfg.Vigilante.DebtPath, []byte("{not json")))

	r.sup.Install(context.Background())

	st := r.sup.Status()
	assert.True(t, st.Immunology.Stasis)
	require.NotNil(t, st.Vigilante.Violation)
	assert.Equal(t, vigilante.TypeCorruptDebtRecord, st.Vigilante.Violation.Type)
	assert.Equal(t, clock.ResultPaused, r.tick(t, idle))

	require.NoError(t, r.sup.Resolve(context.Background()))
	assert.Equal(t, clock.ResultOK, r.tick(t, idle))
	_, err := r.files.ReadFile(r.cfg.Vigilante.DebtPath)
	assert.True(t, host.IsNotExist(err))
}

func TestSupervisor_VerifyShoutsOnCorruptBlob(t *testing.T) {
	r := newRig(t)
	r.sup.Install(context.Background())
	hash := r.sup.Status().Capsule.Hash

	require.NoError(t, r.files.WriteFile(r.cfg.Snapshots.Dir+"/"+hash+".snap", []byte("garbage")))

	checked, corrupt, err := r.sup.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, checked)
	assert.Equal(t, []string{hash}, corrupt)
	st := r.sup.Status()
	require.NotNil(t, st.Vigilante.Violation)
	assert.Equal(t, vigilante.TypeIntegrityViolation, st.Vigilante.Violation.Type)
}

func TestSupervisor_AuditAndSanction(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.sup.Install(ctx)

	report, err := r.sup.Audit(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hero"}, report.Pending)
	require.True(t, r.sup.Interrupted())
	assert.Equal(t, "ledger_violation", r.sup.Status().Vigilante.Violation.Type)

	require.NoError(t, r.sup.Sanction("hero"))
	require.NoError(t, r.sup.Resolve(ctx))

	report, err = r.sup.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.False(t, r.sup.Interrupted())
}

func TestSupervisor_AutoCaptureThroughHook(t *testing.T) {
	r := newRig(t, func(o *Options) { o.Config.Clock.AutoCaptureInterval = 2 })
	r.rt.OnBeforeTick(r.sup.Hook(r.mover()))

	for i := 0; i < 4; i++ {
		require.NoError(t, r.rt.Step(context.Background()))
	}

	st := r.sup.Status()
	require.NotNil(t, st.Capsule)
	assert.Equal(t, int64(4), st.Capsule.Frame)
	assert.Equal(t, st.Clock.Authority, st.Capsule.Hash)
}

func TestSupervisor_ManualCaptureAndRecall(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	app := r.mover()
	require.Equal(t, clock.ResultOK, r.tick(t, app))

	c, err := r.sup.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), c.Frame)

	require.Equal(t, clock.ResultOK, r.tick(t, app))
	got, err := r.sup.Recall(ctx)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	x, _ := r.rt.Get("x")
	assert.Equal(t, int64(1), x)
}

func TestSupervisor_RecallWithoutCapsule(t *testing.T) {
	r := newRig(t)
	_, err := r.sup.Recall(context.Background())
	assert.ErrorIs(t, err, timetravel.ErrNoCapsule)
}

func TestSupervisor_InjectAppliesNextFrame(t *testing.T) {
	r := newRig(t)
	r.sup.Install(context.Background())

	r.sup.Inject(injection.Injection{Key: "gravity", Value: 3, Reason: "tuning"})
	assert.Equal(t, 1, r.sup.Status().Injections)

	require.Equal(t, clock.ResultOK, r.tick(t, idle))
	g, ok := r.rt.Get("gravity")
	require.True(t, ok)
	assert.Equal(t, int64(3), g)
	assert.Equal(t, 0, r.sup.Status().Injections)
}

func TestSupervisor_NewerInstanceYields(t *testing.T) {
	r := newRig(t)
	r.sup.Install(context.Background())

	newer := time.Now().Add(time.Minute).UnixNano()
	require.NoError(t, r.files.WriteFile(r.cfg.Stability.LockPath, []byte(strconv.FormatInt(newer, 10))))

	assert.Equal(t, clock.ResultPaused, r.tick(t, idle))
	assert.True(t, r.sup.Status().Superseded)
	select {
	case <-r.rt.Done():
	default:
		t.Fatal("host was not asked to quit")
	}
}

func TestNew_RequiresHost(t *testing.T) {
	_, err := New(Options{Config: testConfig()})
	assert.Error(t, err)
}

func TestSupervisor_SessionRecordingEdges(t *testing.T) {
	r := newRig(t)
	r.tick(t, idle)

	transitions := func() []string {
		var out []string
		for _, e := range r.kinds(protocol.KindTrace) {
			if tr, ok := e.Payload.(protocol.Trace); ok && tr.Detail["transition"] != "" {
				out = append(out, tr.Detail["transition"])
			}
		}
		return out
	}
	recordedTags := func() int {
		n := 0
		for _, e := range r.kinds(protocol.KindMetadata) {
			if e.Payload.(protocol.Metadata).Tag == TagRecorded {
				n++
			}
		}
		return n
	}
	assert.Empty(t, transitions())

	r.rt.SetRecording(true)
	r.tick(t, idle)
	r.tick(t, idle)
	assert.Equal(t, []string{"recording_start"}, transitions(), "one event per edge")
	assert.Equal(t, 1, recordedTags())
	assert.True(t, r.sup.Status().Recording)

	r.rt.SetRecording(false)
	r.rt.SetReplaying(true)
	r.tick(t, idle)
	assert.Equal(t, []string{"recording_start", "recording_stop", "replay_start"}, transitions())
	st := r.sup.Status()
	assert.False(t, st.Recording)
	assert.True(t, st.Replaying)

	r.rt.SetReplaying(false)
	r.tick(t, idle)
	assert.Equal(t, []string{"recording_start", "recording_stop", "replay_start", "replay_stop"}, transitions())
	assert.Equal(t, 1, recordedTags())
}

func TestSupervisor_CausalDebtSurfacesAndResetForgives(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.sup.Install(ctx)

	threat, ok := r.sup.HandleTelemetry(ctx, "physics", immunology.SeverityError, "physics exception: body left the world")
	require.True(t, ok)
	assert.Equal(t, immunology.LevelWarning, threat.Level)

	debt := r.sup.Status().Immunology.Debt
	require.Len(t, debt, 1)
	assert.Equal(t, "physics", debt[0].Node)
	assert.InDelta(t, immunology.HardDebt, debt[0].Debt, 1e-9)

	var checks []string
	for _, c := range r.sup.Diagnose().Cramps {
		checks = append(checks, c.Check)
	}
	assert.Contains(t, checks, diagnose.CheckReflexion)

	require.NoError(t, r.sup.ResetWorld(ctx))
	assert.Empty(t, r.sup.Status().Immunology.Debt)
	for _, c := range r.sup.Diagnose().Cramps {
		assert.NotEqual(t, diagnose.CheckReflexion, c.Check)
	}
}

func TestSupervisor_ResolveShoutsDriftMadeDuringStasis(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.sup.Install(ctx)

	_, ok := r.sup.HandleTelemetry(ctx, "engine", immunology.SeverityError, "Serialization data may be corrupt")
	require.True(t, ok)
	require.True(t, r.sup.Status().Immunology.Stasis)

	r.files.Touch("app/hero.rb", time.Now().Add(time.Hour))
	err := r.sup.Resolve(ctx)
	require.ErrorIs(t, err, ErrUnresolvedDrift)

	st := r.sup.Status()
	require.NotNil(t, st.Vigilante.Violation)
	assert.Equal(t, vigilante.TypeUnsanctionedMutation, st.Vigilante.Violation.Type)
	assert.True(t, r.sup.Interrupted())
	assert.Equal(t, clock.ResultPaused, r.tick(t, idle))

	require.NoError(t, r.sup.Resolve(ctx), "the shouted violation resolves normally")
	assert.False(t, r.sup.Interrupted())
	assert.Equal(t, clock.ResultOK, r.tick(t, idle))
}
