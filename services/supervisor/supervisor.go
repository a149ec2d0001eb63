// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package supervisor owns the Stargate runtime around one host.
//
// A Supervisor wires the frame clock, the integrity monitors, recovery
// and the event bus together and drives them in a fixed order once per
// host frame:
//
//	control queue → telemetry inbox → instance lock → vigilante →
//	asset sentinel → session watch → ledger → clock (guard, divergence,
//	app) → auto-capture
//
// # Thread Safety
//
// Install, Tick and the direct operations (Resolve, Capture, Recall, ...)
// belong to the loop goroutine. Other goroutines queue work with Do,
// which runs at the start of the next tick, and read the last published
// Status.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/Stargate/pkg/logging"
	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/clock"
	"github.com/AleutianAI/Stargate/services/supervisor/config"
	"github.com/AleutianAI/Stargate/services/supervisor/diagnose"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/immunology"
	"github.com/AleutianAI/Stargate/services/supervisor/injection"
	"github.com/AleutianAI/Stargate/services/supervisor/ledger"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/random"
	"github.com/AleutianAI/Stargate/services/supervisor/snapshot"
	"github.com/AleutianAI/Stargate/services/supervisor/stability"
	sbadger "github.com/AleutianAI/Stargate/services/supervisor/storage/badger"
	"github.com/AleutianAI/Stargate/services/supervisor/telemetry"
	"github.com/AleutianAI/Stargate/services/supervisor/timetravel"
	"github.com/AleutianAI/Stargate/services/supervisor/vigilante"
)

var (
	// ErrClosed is returned by Do once the supervisor is closed.
	ErrClosed = errors.New("supervisor closed")

	// ErrCaptureFailed is returned when a manual capture produced no
	// capsule.
	ErrCaptureFailed = errors.New("capture failed")

	// ErrUnresolvedDrift is returned by Resolve when the pre-resolve
	// scan found unsanctioned source drift.
	ErrUnresolvedDrift = errors.New("unsanctioned drift found while resolving")
)

// DefaultQueueSize bounds the control queue.
const DefaultQueueSize = 64

// Options wires a Supervisor to a host.
type Options struct {
	Config config.StargateConfig

	// Host is the wrapped engine. Hosts implementing host.Quitter are
	// asked to quit when a newer instance takes over; hosts implementing
	// host.StateMutator accept injections.
	Host host.Host

	// Blobs overrides the configured snapshot backend.
	Blobs snapshot.BlobStore

	// Machine and Human are the View channels. Nil disables a channel.
	// Silent mode disables Human regardless.
	Machine io.Writer
	Human   io.Writer

	// NotifyRoot is the OS directory behind Host.Files(). When set and
	// vigilante.notify is on, file system events wake Vigilante between
	// cadence checks.
	NotifyRoot string

	// OnAssetReload is called for every hot-reloaded asset.
	OnAssetReload func(name string)

	// Logging, when set, makes the supervisor own the process logger and
	// register Immunology as its log sink. Otherwise Logger is used and
	// telemetry reaches Immunology only through HandleTelemetry.
	Logging *logging.Config
	Logger  *slog.Logger

	Metrics *telemetry.Metrics
	Now     func() time.Time
}

// Status is an immutable snapshot published after every tick.
type Status struct {
	Installed  bool                `json:"installed"`
	Mode       string              `json:"mode"`
	HostFrame  int64               `json:"host_frame"`
	Seed       uint64              `json:"seed"`
	Clock      clock.Status        `json:"clock"`
	Vigilante  vigilante.Status    `json:"vigilante"`
	Immunology immunology.Status   `json:"immunology"`
	Capsule    *timetravel.Capsule `json:"capsule,omitempty"`
	Ledger     *ledger.Report      `json:"ledger,omitempty"`
	Injections int                 `json:"pending_injections"`
	Recording  bool                `json:"recording"`
	Replaying  bool                `json:"replaying"`
	Superseded bool                `json:"superseded"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

type op struct {
	name string
	fn   func(ctx context.Context) error
	done chan error
}

// Supervisor is the owned context object of one Stargate instance.
type Supervisor struct {
	cfg     config.StargateConfig
	host    host.Host
	files   host.FileSystem
	base    *slog.Logger
	logger  *slog.Logger
	proc    *logging.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	rng        *random.Source
	causal     *causal.State
	bus        *protocol.Bus
	db         *sbadger.DB
	snapshots  *snapshot.Store
	clock      *clock.Clock
	travel     *timetravel.Machine
	vigilante  *vigilante.Vigilante
	immunology *immunology.Immunology
	ledger     *ledger.Keeper
	lock       *stability.InstanceLock
	assets     *stability.AssetSentinel

	notifyRoot string
	notifier   *vigilante.Notifier
	session    sessionWatch

	installed        bool
	reloadSanctioned bool

	ops       chan op
	closed    chan struct{}
	closeOnce sync.Once

	status atomic.Pointer[Status]
}

// New builds every subsystem. Nothing touches the host until Install.
func New(opts Options) (*Supervisor, error) {
	if opts.Host == nil {
		return nil, errors.New("supervisor: host is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cfg := opts.Config

	s := &Supervisor{
		cfg:        cfg,
		host:       opts.Host,
		files:      opts.Host.Files(),
		metrics:    opts.Metrics,
		now:        opts.Now,
		notifyRoot: opts.NotifyRoot,
		ops:        make(chan op, DefaultQueueSize),
		closed:     make(chan struct{}),
	}
	s.session.recorder, _ = opts.Host.(host.Recorder)

	relay := &immuneRelay{}
	switch {
	case opts.Logging != nil:
		lc := *opts.Logging
		lc.Exporter = relay
		s.proc = logging.New(lc)
		s.logger = s.proc.Slog()
	case opts.Logger != nil:
		s.logger = opts.Logger
	default:
		s.logger = slog.Default()
	}
	logger := s.logger
	s.base = logger
	s.logger = logger.With(slog.String("component", "stargate.supervisor"))

	s.rng = random.New()
	s.causal = causal.New(s.host.Frame)
	s.bus = protocol.NewBus(protocol.BusConfig{
		Frame:  s.host.Frame,
		Marker: s.causal,
		Logger: logger,
		Now:    opts.Now,
	})

	human := opts.Human
	if !cfg.HumanChannel() {
		human = nil
	}
	if opts.Machine != nil || human != nil {
		s.bus.Subscribe(protocol.NewView(protocol.ViewConfig{
			Machine:        opts.Machine,
			Human:          human,
			MinSeverity:    parseSeverity(cfg.View.MinSeverity),
			LinesPerSecond: cfg.View.LinesPerSecond,
			Burst:          cfg.View.Burst,
			Styled:         cfg.View.Styled,
		}))
	}

	blobs := opts.Blobs
	if blobs == nil {
		switch cfg.Snapshots.Backend {
		case "badger":
			db, err := sbadger.OpenDB(sbadger.Config{
				Path:           cfg.Resolve(cfg.Snapshots.BadgerPath),
				SyncWrites:     true,
				Logger:         logger,
				GCInterval:     cfg.Snapshots.GCInterval,
				GCDiscardRatio: cfg.Snapshots.GCDiscardRatio,
			})
			if err != nil {
				return nil, fmt.Errorf("opening snapshot database: %w", err)
			}
			s.db = db
			blobs = snapshot.NewBadgerStore(db)
		default:
			blobs = snapshot.NewDirStore(s.files, cfg.Snapshots.Dir)
		}
	}
	s.snapshots = snapshot.New(s.host, blobs, logger)

	s.clock = clock.New(clock.Config{
		Host:                    s.host,
		RNG:                     s.rng,
		Causal:                  s.causal,
		Snapshots:               s.snapshots,
		Bus:                     s.bus,
		Injections:              injection.New(),
		HeartbeatInterval:       cfg.Clock.HeartbeatInterval,
		StasisHeartbeatInterval: cfg.Clock.StasisHeartbeatInterval,
		Logger:                  logger,
	})
	s.travel = timetravel.New(timetravel.Config{
		Clock:     s.clock,
		Snapshots: s.snapshots,
		RNG:       s.rng,
		Bus:       s.bus,
		Logger:    logger,
		Now:       opts.Now,
	})
	s.vigilante = vigilante.New(vigilante.Config{
		Files:      s.files,
		Watch:      cfg.Vigilante.Watch,
		Extensions: cfg.Vigilante.Extensions,
		DebtPath:   cfg.Vigilante.DebtPath,
		Interval:   cfg.Vigilante.Interval,
		Causal:     s.causal,
		Clock:      s.clock,
		Bus:        s.bus,
		Frame:      s.host.Frame,
		Logger:     logger,
		Now:        opts.Now,
	})
	s.clock.SetReporter(s.vigilante)
	s.clock.SetGuard(s)

	s.immunology = immunology.New(immunology.Config{
		Recaller:      s.travel,
		Clock:         s.clock,
		Bus:           s.bus,
		Frame:         s.host.Frame,
		Window:        cfg.Immunology.Window,
		LoopWindow:    cfg.Immunology.LoopWindow,
		LoopThreshold: cfg.Immunology.LoopThreshold,
		HistoryLimit:  cfg.Immunology.HistoryLimit,
		Logger:        logger,
		Now:           opts.Now,
	})
	relay.target.Store(s.immunology)

	s.ledger = ledger.New(ledger.Config{
		Files:       s.files,
		Root:        cfg.Ledger.Root,
		Extensions:  cfg.Ledger.Extensions,
		Path:        cfg.Ledger.Path,
		GracePeriod: cfg.Ledger.GracePeriod,
		Interval:    cfg.Ledger.Interval,
		Reporter:    s.vigilante,
		Bus:         s.bus,
		Logger:      logger,
		Now:         opts.Now,
	})

	quitter, _ := s.host.(host.Quitter)
	s.lock = stability.NewInstanceLock(stability.LockConfig{
		Files:    s.files,
		Path:     cfg.Stability.LockPath,
		Interval: cfg.Stability.LockInterval,
		Margin:   cfg.Stability.LockMargin,
		Quitter:  quitter,
		Bus:      s.bus,
		Logger:   logger,
		Now:      opts.Now,
	})
	s.assets = stability.NewAssetSentinel(stability.SentinelConfig{
		Files:      s.files,
		Dir:        cfg.Stability.AssetDir,
		Extensions: cfg.Stability.AssetExtensions,
		Interval:   cfg.Stability.AssetInterval,
		Causal:     s.causal,
		Bus:        s.bus,
		OnReload:   opts.OnAssetReload,
		Logger:     logger,
	})

	s.bus.Subscribe(protocol.SinkFunc(s.observe))
	s.publish()
	return s, nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Install boots the supervisor. Events are buffered until the end of
// Install so that nothing is lost before subscribers are attached.
//
// A second Install is a reinstall (hot reload). Unless SanctionReload was
// called first it is an unsanctioned structural mutation.
func (s *Supervisor) Install(ctx context.Context) {
	reinstall := s.installed
	s.bus.Deactivate()

	s.rng.BeginFrame(random.FrameSeed(s.host.Frame()))

	if err := s.lock.Claim(); err != nil {
		s.logger.Error("instance lock not claimed", slog.String("error", err.Error()))
	}
	s.assets.Scan()
	s.vigilante.Install()

	if v := s.vigilante.Violation(); v != nil && v.Type == vigilante.TypeCorruptDebtRecord {
		s.immunology.EnterStasis("corrupt debt record")
	}

	kind := "install"
	switch {
	case reinstall && s.reloadSanctioned:
		kind = "sanctioned_reload"
		s.vigilante.Sanction("sanctioned reload")
	case reinstall:
		kind = "reinstall"
		s.vigilante.Shout(vigilante.TypeUnsanctionedMutation, "structural mutation: runtime re-installed without causal intent")
	}
	s.reloadSanctioned = false
	installsTotal.WithLabelValues(kind).Inc()

	if !reinstall {
		s.startNotifier()
		if c, ok := s.travel.CaptureMoment(ctx); ok && !s.vigilante.Interrupted() {
			s.clock.Anchor(c.Hash)
		}
	}

	s.bus.Emit(protocol.Boot{
		Mode:        s.cfg.Mode,
		Reinstall:   reinstall,
		Interrupted: s.Interrupted(),
		Seed:        s.rng.Seed(),
	})
	s.installed = true
	s.bus.Activate()
	s.logger.Info("supervisor installed",
		slog.String("mode", s.cfg.Mode),
		slog.Bool("reinstall", reinstall),
		slog.Bool("interrupted", s.Interrupted()))
	s.publish()
}

func (s *Supervisor) startNotifier() {
	if !s.cfg.Vigilante.Notify || s.notifyRoot == "" || s.notifier != nil {
		return
	}
	n, err := vigilante.NewNotifier(s.notifyRoot, s.cfg.Vigilante.Watch, s.vigilante, s.base)
	if err != nil {
		s.logger.Warn("file notifications unavailable, relying on cadence", slog.String("error", err.Error()))
		return
	}
	s.notifier = n
}

// Hook adapts the supervisor to a host before-tick subscription.
func (s *Supervisor) Hook(app clock.App) host.TickFunc {
	return func(ctx context.Context) error {
		s.Tick(ctx, app)
		return nil
	}
}

// Tick runs one supervised frame. Tick installs on first use.
func (s *Supervisor) Tick(ctx context.Context, app clock.App) clock.Result {
	start := time.Now()
	if !s.installed {
		s.Install(ctx)
	}

	s.drain(ctx)
	s.immunology.Drain(ctx)

	frame := s.host.Frame()
	if err := s.lock.Tick(frame); errors.Is(err, stability.ErrSuperseded) {
		s.clock.Pause("superseded")
	}
	s.vigilante.Tick(frame)
	s.assets.Tick(frame)
	s.pollSession()
	if !s.vigilante.Interrupted() {
		s.ledger.Tick(ctx, frame)
	}

	result := s.clock.Tick(ctx, app)
	if result == clock.ResultOK {
		if every := s.cfg.Clock.AutoCaptureInterval; every > 0 && s.clock.Address().Frame%every == 0 {
			s.travel.CaptureMoment(ctx)
		}
	}

	s.publish()
	s.metrics.RecordTick(ctx, time.Since(start), string(result))
	return result
}

// Close releases the lock, stops notifications and closes the snapshot
// database and the owned logger.
func (s *Supervisor) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	var errs []error
	if s.notifier != nil {
		errs = append(errs, s.notifier.Close())
		s.notifier = nil
	}
	if s.installed {
		errs = append(errs, s.lock.Release())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if s.proc != nil {
		errs = append(errs, s.proc.Close())
		s.proc = nil
	} else {
		errs = append(errs, s.immunology.Close())
	}
	return errors.Join(errs...)
}

// Interrupted is the clock guard: frames stop while a violation is
// outstanding or Immunology holds absolute stasis.
func (s *Supervisor) Interrupted() bool {
	return s.vigilante.Interrupted() || s.immunology.InStasis()
}

// observe excuses source drift for frames that declared a logic or
// reload intent. The clock clears dirty flags at the end of every frame,
// so the published moment is the only place they are still visible.
func (s *Supervisor) observe(e protocol.Event, _ []byte) {
	m, ok := e.Payload.(protocol.Moment)
	if !ok || m.Type != protocol.MomentTick {
		return
	}
	for _, d := range m.Dirty {
		if d == string(causal.DomainLogic) || d == string(causal.DomainReload) {
			s.vigilante.Sanction("causal intent: " + d)
			return
		}
	}
}

// =============================================================================
// Control queue
// =============================================================================

// Do queues fn for the start of the next tick and waits for its result.
// It is the only supervisor method, besides Status, that other
// goroutines may call.
func (s *Supervisor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	o := op{name: name, fn: fn, done: make(chan error, 1)}
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	select {
	case s.ops <- o:
		s.metrics.RecordControl(ctx, name)
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.done:
		return err
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain runs the operations queued before this tick started.
func (s *Supervisor) drain(ctx context.Context) {
	for n := len(s.ops); n > 0; n-- {
		o := <-s.ops
		err := o.fn(ctx)
		result := "ok"
		if err != nil {
			result = "error"
			s.logger.Warn("control operation failed", slog.String("op", o.name), slog.String("error", err.Error()))
		}
		controlOpsTotal.WithLabelValues(o.name, result).Inc()
		o.done <- err
	}
}

// =============================================================================
// Operations (loop goroutine)
// =============================================================================

// Resolve clears stasis and the outstanding violation, accepts the live
// state as the new authority and resumes the clock. With no violation
// outstanding the vigilante scans first, so drift made during stasis is
// shouted instead of re-anchored.
func (s *Supervisor) Resolve(_ context.Context) error {
	if !s.vigilante.Interrupted() && s.vigilante.Installed() {
		if drifted := s.vigilante.Check(); len(drifted) > 0 && s.vigilante.Interrupted() {
			s.publish()
			return fmt.Errorf("%w: %s", ErrUnresolvedDrift, strings.Join(drifted, ", "))
		}
	}
	s.immunology.ClearStasis()
	if err := s.vigilante.Resolve(); err != nil {
		return err
	}
	if s.clock.Authority() != "" {
		live, err := s.snapshots.LiveDigest()
		if err != nil {
			return fmt.Errorf("re-anchoring authority: %w", err)
		}
		s.clock.Anchor(live)
	}
	s.clock.Resume()
	s.publish()
	return nil
}

// SanctionReload declares the next reinstall intentional.
func (s *Supervisor) SanctionReload() {
	s.reloadSanctioned = true
	if err := s.causal.MarkDirty(causal.DomainReload, causal.SourceIntent, "sanctioned reload", ""); err != nil {
		s.logger.Warn("reload intent not recorded", slog.String("error", err.Error()))
	}
	s.vigilante.Sanction("sanctioned reload")
}

// ResetWorld is the sanctioned purification: the next reload is
// sanctioned, every interrupt is cleared and the clock resumes.
func (s *Supervisor) ResetWorld(ctx context.Context) error {
	s.SanctionReload()
	if err := s.Resolve(ctx); err != nil {
		return err
	}
	s.immunology.ForgiveDebt()
	s.bus.Emit(protocol.Trace{Message: "world reset"})
	return nil
}

// Capture records a recovery capsule now.
func (s *Supervisor) Capture(ctx context.Context) (timetravel.Capsule, error) {
	c, ok := s.travel.CaptureMoment(ctx)
	if !ok {
		return timetravel.Capsule{}, ErrCaptureFailed
	}
	s.publish()
	return c, nil
}

// Recall restores the last valid capsule.
func (s *Supervisor) Recall(ctx context.Context) (timetravel.Capsule, error) {
	c, ok := s.travel.LastValid()
	if !ok {
		return timetravel.Capsule{}, timetravel.ErrNoCapsule
	}
	err := s.travel.RecallMoment(ctx, c)
	s.publish()
	return c, err
}

// Inject queues a speculative state write for the next frame.
func (s *Supervisor) Inject(inj injection.Injection) {
	s.clock.Injections().Enqueue(inj)
	s.publish()
}

// Pause stops frame execution.
func (s *Supervisor) Pause(reason string) {
	s.clock.Pause(reason)
	s.publish()
}

// Resume restarts frame execution unless an interrupt holds the clock.
func (s *Supervisor) Resume() bool {
	ok := s.clock.Resume()
	s.publish()
	return ok
}

// Audit runs the ledger audit now and enforces its outcome.
func (s *Supervisor) Audit(ctx context.Context) (ledger.Report, error) {
	report, err := s.ledger.Audit(ctx)
	if err != nil {
		return report, err
	}
	s.ledger.EnforceStasis(report)
	s.publish()
	return report, nil
}

// Sanction accepts pending ledger nodes and retires ghosts.
func (s *Supervisor) Sanction(ids ...string) error {
	return s.ledger.Sanction(ids...)
}

// Verify checks every stored snapshot. Corrupt blobs are an integrity
// violation.
func (s *Supervisor) Verify(ctx context.Context) (int, []string, error) {
	checked, corrupt, err := s.snapshots.Verify(ctx)
	if err != nil {
		return checked, corrupt, err
	}
	if len(corrupt) > 0 {
		s.vigilante.Shout(vigilante.TypeIntegrityViolation, "corrupt snapshots: "+strings.Join(corrupt, ", "))
		s.publish()
	}
	return checked, corrupt, nil
}

// Diagnose runs the health checks against the live instance.
func (s *Supervisor) Diagnose() diagnose.Report {
	vs := s.vigilante.Status()
	is := s.immunology.Status()
	in := diagnose.Input{
		Files:      s.files,
		DebtPath:   s.cfg.Vigilante.DebtPath,
		LedgerPath: s.cfg.Ledger.Path,
		Live:       true,
		Installed:  s.installed,
		RNG:        s.rng,
		Vigilante:  &vs,
		Stasis:     is.Stasis,
		StasisWhy:  is.StasisReason,
		Debt:       is.Debt,
		Superseded: s.lock.Superseded(),
		Now:        s.now,
	}
	if r, ok := s.ledger.Last(); ok {
		in.Ledger = &r
	}
	return diagnose.Run(in)
}

// HandleTelemetry feeds one host telemetry entry to Immunology.
func (s *Supervisor) HandleTelemetry(ctx context.Context, subsystem string, severity int, message string) (immunology.Threat, bool) {
	t, ok := s.immunology.HandleTelemetry(ctx, subsystem, severity, message)
	s.publish()
	return t, ok
}

// =============================================================================
// Accessors
// =============================================================================

// Subscribe attaches a sink to the event bus. Call before the loop
// starts.
func (s *Supervisor) Subscribe(sink protocol.Sink) { s.bus.Subscribe(sink) }

// Logger is the process logger. Entries the wrapped application writes
// through it reach Immunology when the supervisor owns logging.
func (s *Supervisor) Logger() *slog.Logger { return s.base }

// Clock exposes the frame clock to the loop goroutine.
func (s *Supervisor) Clock() *clock.Clock { return s.clock }

// Status is safe from any goroutine.
func (s *Supervisor) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{}
}

func (s *Supervisor) publish() {
	st := &Status{
		Installed:  s.installed,
		Mode:       s.cfg.Mode,
		HostFrame:  s.host.Frame(),
		Seed:       s.rng.Seed(),
		Clock:      s.clock.Status(),
		Vigilante:  s.vigilante.Status(),
		Immunology: s.immunology.Status(),
		Injections: s.clock.Injections().Pending(),
		Recording:  s.session.recording,
		Replaying:  s.session.replaying,
		Superseded: s.lock.Superseded(),
		UpdatedAt:  s.now(),
	}
	if c, ok := s.travel.LastValid(); ok {
		st.Capsule = &c
	}
	if r, ok := s.ledger.Last(); ok {
		st.Ledger = &r
	}
	s.status.Store(st)
}

func parseSeverity(s string) protocol.Severity {
	switch s {
	case "error":
		return protocol.SeverityError
	case "alert":
		return protocol.SeverityAlert
	default:
		return protocol.SeverityWarning
	}
}

// immuneRelay is the process log sink. It exists before Immunology does
// so the logger handed to every subsystem already carries the hook.
type immuneRelay struct {
	target atomic.Pointer[immunology.Immunology]
}

func (r *immuneRelay) Export(ctx context.Context, entry logging.LogEntry) error {
	if im := r.target.Load(); im != nil {
		return im.Export(ctx, entry)
	}
	return nil
}

func (r *immuneRelay) Flush(ctx context.Context) error {
	if im := r.target.Load(); im != nil {
		return im.Flush(ctx)
	}
	return nil
}

func (r *immuneRelay) Close() error {
	if im := r.target.Load(); im != nil {
		return im.Close()
	}
	return nil
}
