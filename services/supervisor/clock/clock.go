// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clock drives one supervised frame at a time.
//
// # Description
//
// Clock is a two-state machine, Running and Paused. Diverged is observed
// only inside Tick: a divergence moves the clock through Diverged into
// Paused before Tick returns.
//
// A running tick seeds the random source from the frame number, checks
// the live state digest against the anchored authority hash, opens an
// injection checkpoint, runs the wrapped application under a panic and
// error guard, then publishes the frame: a full snapshot when the causal
// state is dirty, a heartbeat moment on the heartbeat interval, nothing
// otherwise. Dirty flags are cleared at the end of every executed frame.
//
// # Thread Safety
//
// Clock is owned by the frame loop goroutine. Only Status is safe to
// call from elsewhere.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/injection"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/random"
	"github.com/AleutianAI/Stargate/services/supervisor/snapshot"
)

var tracer = otel.Tracer("stargate.clock")

// MainBranch is the root timeline.
const MainBranch = "main"

// DefaultHeartbeatInterval is the frame interval of heartbeat moments.
const DefaultHeartbeatInterval = 60

var (
	// ErrUnknownBranch is returned for operations on a missing branch.
	ErrUnknownBranch = errors.New("unknown branch")

	// ErrWrappedApplication wraps failures of the guarded callback.
	ErrWrappedApplication = errors.New("wrapped application error")
)

// State is the clock state.
type State int

const (
	Running State = iota
	Paused
	Diverged
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Diverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// Result is the outcome of Tick or RestoreMoment.
type Result string

const (
	ResultOK         Result = "ok"
	ResultPaused     Result = "paused"
	ResultDivergence Result = "divergence"
	ResultError      Result = "error"
)

// Address identifies a frame on a timeline.
type Address struct {
	Branch string `json:"branch"`
	Frame  int64  `json:"frame"`
}

// BranchInfo is one node of the branch forest.
type BranchInfo struct {
	ID              string    `json:"id"`
	Parent          string    `json:"parent,omitempty"`
	DivergenceFrame int64     `json:"divergence_frame"`
	Hash            string    `json:"hash,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Reporter converts faults into violations.
type Reporter interface {
	Shout(violationType, message string)
}

// Guard vetoes frame execution while the system is interrupted.
type Guard interface {
	Interrupted() bool
}

// Config wires a Clock to its collaborators.
type Config struct {
	Host       host.Host
	RNG        *random.Source
	Causal     *causal.State
	Snapshots  *snapshot.Store
	Bus        *protocol.Bus
	Injections *injection.Queue

	// HeartbeatInterval defaults to DefaultHeartbeatInterval.
	HeartbeatInterval int64

	// StasisHeartbeatInterval is measured in host frames. Defaults to
	// HeartbeatInterval.
	StasisHeartbeatInterval int64

	Logger *slog.Logger
}

// Status is an immutable view of the clock.
type Status struct {
	State     string `json:"state"`
	Branch    string `json:"branch"`
	Frame     int64  `json:"frame"`
	Authority string `json:"authority,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Clock is the frame state machine.
type Clock struct {
	host       host.Host
	rng        *random.Source
	causal     *causal.State
	snapshots  *snapshot.Store
	bus        *protocol.Bus
	injections *injection.Queue
	mutator    host.StateMutator

	heartbeat       int64
	stasisHeartbeat int64
	logger          *slog.Logger

	reporter Reporter
	guard    Guard

	state     State
	reason    string
	frame     int64
	branch    string
	authority string
	branches  map[string]BranchInfo
	order     []string

	status atomic.Pointer[Status]
}

// New creates a running clock on the main branch at frame zero.
func New(cfg Config) *Clock {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.StasisHeartbeatInterval <= 0 {
		cfg.StasisHeartbeatInterval = cfg.HeartbeatInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Injections == nil {
		cfg.Injections = injection.New()
	}
	c := &Clock{
		host:            cfg.Host,
		rng:             cfg.RNG,
		causal:          cfg.Causal,
		snapshots:       cfg.Snapshots,
		bus:             cfg.Bus,
		injections:      cfg.Injections,
		heartbeat:       cfg.HeartbeatInterval,
		stasisHeartbeat: cfg.StasisHeartbeatInterval,
		logger:          cfg.Logger.With(slog.String("component", "stargate.clock")),
		branch:          MainBranch,
		branches: map[string]BranchInfo{
			MainBranch: {ID: MainBranch, CreatedAt: time.Now()},
		},
		order: []string{MainBranch},
	}
	if m, ok := cfg.Host.(host.StateMutator); ok {
		c.mutator = m
	}
	c.publish()
	return c
}

// SetReporter installs the violation path for wrapped application
// failures.
func (c *Clock) SetReporter(r Reporter) { c.reporter = r }

// SetGuard installs the interrupt check consulted before every frame.
func (c *Clock) SetGuard(g Guard) { c.guard = g }

// Injections returns the speculative injection queue.
func (c *Clock) Injections() *injection.Queue { return c.injections }

// =============================================================================
// Frame execution
// =============================================================================

// Tick runs at most one frame of app.
func (c *Clock) Tick(ctx context.Context, app App) Result {
	result := c.tick(ctx, app)
	framesTotal.WithLabelValues(string(result)).Inc()
	c.publish()
	return result
}

func (c *Clock) tick(ctx context.Context, app App) Result {
	if c.guard != nil && c.guard.Interrupted() && c.state != Paused {
		c.Pause("interrupted")
	}

	if c.state == Paused {
		if c.host.Frame()%c.stasisHeartbeat == 0 {
			c.bus.Emit(protocol.Moment{
				Type:   protocol.MomentStasis,
				Branch: c.branch,
				Seed:   c.rng.Seed(),
			})
		}
		return ResultPaused
	}

	defer c.causal.Clear()

	seed := random.FrameSeed(c.frame)

	if c.authority != "" {
		live, err := c.snapshots.LiveDigest()
		if err != nil {
			c.logger.Error("live digest unavailable", slog.String("error", err.Error()))
			return ResultError
		}
		if live != c.authority {
			c.diverge(live)
			return ResultDivergence
		}
	}

	c.rng.BeginFrame(seed)

	c.injections.Checkpoint()
	if c.mutator != nil {
		if _, err := c.injections.Perform(c.mutator, c.causal); err != nil {
			c.logger.Warn("injection rejected", slog.String("error", err.Error()))
		}
	}

	frame := &Frame{Number: c.frame, Seed: seed, rng: c.rng, causal: c.causal, bus: c.bus}
	if err := c.invoke(ctx, app, frame); err != nil {
		if c.mutator != nil {
			c.injections.Rollback(c.mutator)
		} else {
			c.injections.Reset()
		}
		c.logger.Error("wrapped application failed",
			slog.Int64("frame", c.frame),
			slog.String("error", err.Error()))
		if c.reporter != nil {
			c.reporter.Shout("wrapped_application_error", err.Error())
		}
		return ResultError
	}
	c.injections.Commit()

	c.frame++
	c.publishFrame(ctx, seed)
	return ResultOK
}

// invoke runs app and converts panics into errors.
func (c *Clock) invoke(ctx context.Context, app App, f *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrWrappedApplication, r)
		}
	}()
	if err := app.Tick(ctx, f); err != nil {
		return fmt.Errorf("%w: %v", ErrWrappedApplication, err)
	}
	return nil
}

func (c *Clock) publishFrame(ctx context.Context, seed uint64) {
	if c.causal.Dirty() {
		packet, ok := c.snapshots.Capture(ctx)
		if !ok {
			return
		}
		c.authority = packet.Hash
		c.causal.AttachOutcome(packet.Hash)
		dirty := make([]string, 0, 4)
		for _, d := range c.causal.DirtyDomains() {
			dirty = append(dirty, string(d))
		}
		c.bus.Emit(protocol.Moment{
			Type:     protocol.MomentTick,
			Branch:   c.branch,
			Hash:     packet.Hash,
			Seed:     seed,
			RNGCalls: c.rng.Draws(),
			Dirty:    dirty,
			Cause:    c.causal.Current(),
		})
		return
	}
	if c.frame%c.heartbeat == 0 {
		c.bus.Emit(protocol.Moment{
			Type:     protocol.MomentHeartbeat,
			Branch:   c.branch,
			Seed:     seed,
			RNGCalls: c.rng.Draws(),
		})
	}
}

func (c *Clock) diverge(live string) {
	c.state = Diverged
	divergencesTotal.Inc()
	c.logger.Warn("divergence detected",
		slog.String("branch", c.branch),
		slog.Int64("frame", c.frame),
		slog.String("expected", c.authority),
		slog.String("actual", live))
	c.bus.Emit(protocol.Divergence{Branch: c.branch, Expected: c.authority, Actual: live})
	c.state = Paused
	c.reason = "divergence"
	pausedGauge.Set(1)
	if c.reporter != nil {
		c.reporter.Shout("divergence", fmt.Sprintf("live state %s does not match authority %s on %s", live, c.authority, c.branch))
	}
}

// =============================================================================
// Pause control
// =============================================================================

// Pause stops frame execution.
func (c *Clock) Pause(reason string) {
	if c.state != Paused {
		c.logger.Info("clock paused", slog.String("reason", reason))
	}
	c.state = Paused
	c.reason = reason
	pausedGauge.Set(1)
	c.publish()
}

// Resume restarts frame execution. It refuses while the guard reports an
// interrupt.
func (c *Clock) Resume() bool {
	if c.guard != nil && c.guard.Interrupted() {
		return false
	}
	if c.state == Paused {
		c.logger.Info("clock resumed", slog.String("after", c.reason))
	}
	c.state = Running
	c.reason = ""
	pausedGauge.Set(0)
	c.publish()
	return true
}

// Paused reports whether frames are suspended.
func (c *Clock) Paused() bool { return c.state == Paused }

// State returns the current state.
func (c *Clock) State() State { return c.state }

// Address returns the current branch and frame.
func (c *Clock) Address() Address { return Address{Branch: c.branch, Frame: c.frame} }

// Authority returns the anchored hash, empty before the first snapshot.
func (c *Clock) Authority() string { return c.authority }

// Anchor replaces the authority hash.
func (c *Clock) Anchor(hash string) {
	c.authority = hash
	c.publish()
}

// TagFrame attaches a tag to the current frame.
func (c *Clock) TagFrame(tag string) {
	c.bus.Emit(protocol.Metadata{Tag: tag, RNGCalls: c.rng.Draws()})
}

// =============================================================================
// Timelines
// =============================================================================

// Branch forks a new timeline at divergenceFrame anchored to hash and
// switches to it.
func (c *Clock) Branch(divergenceFrame int64, hash string) Address {
	info := BranchInfo{
		ID:              uuid.NewString(),
		Parent:          c.branch,
		DivergenceFrame: divergenceFrame,
		Hash:            hash,
		CreatedAt:       time.Now(),
	}
	c.branches[info.ID] = info
	c.order = append(c.order, info.ID)
	c.branch = info.ID
	c.frame = divergenceFrame
	c.authority = hash
	c.injections.Reset()
	c.logger.Info("timeline branched",
		slog.String("branch", info.ID),
		slog.String("parent", info.Parent),
		slog.Int64("frame", divergenceFrame))
	c.bus.Emit(protocol.Branch{
		ID:              info.ID,
		Parent:          info.Parent,
		DivergenceFrame: divergenceFrame,
		Hash:            hash,
	})
	c.publish()
	return c.Address()
}

// JumpTo moves the frame pointer to an existing branch without touching
// host state.
func (c *Clock) JumpTo(branch string, frame int64) error {
	info, ok := c.branches[branch]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
	}
	c.branch = branch
	c.frame = frame
	c.bus.Emit(protocol.Branch{ID: branch, Parent: info.Parent, DivergenceFrame: frame})
	c.publish()
	return nil
}

// Branches returns the branch forest ordered by creation.
func (c *Clock) Branches() []BranchInfo {
	out := make([]BranchInfo, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.branches[id])
	}
	return out
}

// RestoreMoment rolls back speculation, loads and applies the verified
// snapshot for hash, re-anchors authority and reseeds the random source.
func (c *Clock) RestoreMoment(ctx context.Context, branch string, frame int64, hash string, seed uint64) Result {
	ctx, span := tracer.Start(ctx, "clock.RestoreMoment",
		trace.WithAttributes(
			attribute.String("clock.branch", branch),
			attribute.Int64("clock.frame", frame),
			attribute.String("clock.hash", hash),
		),
	)
	defer span.End()

	if c.mutator != nil {
		c.injections.Rollback(c.mutator)
	}
	c.injections.Reset()

	if _, ok := c.branches[branch]; !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownBranch, branch)
		span.SetStatus(codes.Error, err.Error())
		restoresTotal.WithLabelValues(string(ResultError)).Inc()
		c.logger.Error("restore failed", slog.String("error", err.Error()))
		return ResultError
	}

	data, err := c.snapshots.Load(ctx, hash)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		restoresTotal.WithLabelValues(string(ResultError)).Inc()
		c.logger.Error("restore failed", slog.String("hash", hash), slog.String("error", err.Error()))
		return ResultError
	}

	if outcome := c.snapshots.Apply(data); outcome != snapshot.OutcomeOK {
		span.SetStatus(codes.Error, "apply diverged")
		restoresTotal.WithLabelValues(string(ResultError)).Inc()
		return ResultError
	}

	c.authority = hash
	c.branch = branch
	c.frame = frame
	c.rng.BeginFrame(seed)
	c.causal.Clear()
	restoresTotal.WithLabelValues(string(ResultOK)).Inc()
	c.logger.Info("moment restored",
		slog.String("branch", branch),
		slog.Int64("frame", frame),
		slog.String("hash", hash))
	c.publish()
	return ResultOK
}

// Status returns the last published status. Safe from any goroutine.
func (c *Clock) Status() Status {
	if s := c.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

func (c *Clock) publish() {
	c.status.Store(&Status{
		State:     c.state.String(),
		Branch:    c.branch,
		Frame:     c.frame,
		Authority: c.authority,
		Reason:    c.reason,
	})
}
