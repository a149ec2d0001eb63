// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vigilante detects unsanctioned changes to watched source
// artifacts and holds the system paused until an explicit resolve.
//
// # Description
//
// Vigilante fingerprints watched artifacts by modification time. On a
// fixed frame cadence (or sooner, when a change notification arrives)
// it re-stats them. Drift is excused only when a logic or reload dirty
// flag was raised since the previous check; excused drift re-anchors
// the fingerprint, unexcused drift raises a violation through Shout.
//
// Shout is the single violation path of the supervisor. It interrupts,
// persists the violation as a debt record, pauses the clock and emits
// an alert. A debt record found at install starts the system already
// interrupted. Resolve is the only way out.
//
// # Thread Safety
//
// Owned by the frame loop goroutine, except Notify and Status which are
// safe from any goroutine.
package vigilante

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
)

// Violation types.
const (
	TypeUnsanctionedMutation = "unsanctioned_mutation"
	TypeWrappedApplication   = "wrapped_application_error"
	TypeLedgerViolation      = "ledger_violation"
	TypeCorruptDebtRecord    = "corrupt_debt_record"
	TypeIntegrityViolation   = "integrity_violation"
	TypeDivergence           = "divergence"
)

// DefaultDebtPath is where the debt record lives on the host file system.
const DefaultDebtPath = ".stargate/debt.json"

// DefaultInterval is the check cadence in frames.
const DefaultInterval = 60

// ErrCorruptDebtRecord is returned when the debt record cannot be parsed.
var ErrCorruptDebtRecord = errors.New("corrupt debt record")

// Violation is a recorded fault. Its presence means the system is
// interrupted.
type Violation struct {
	Type       string    `json:"type"`
	Message    string    `json:"message"`
	Frame      int64     `json:"frame"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Pauser is the clock surface Vigilante controls.
type Pauser interface {
	Pause(reason string)
	Resume() bool
}

// Config wires a Vigilante.
type Config struct {
	Files host.FileSystem

	// Watch lists artifact files or directories. Directories are walked.
	Watch []string

	// Extensions filters walked directory entries, e.g. ".rb". Empty
	// accepts every file.
	Extensions []string

	DebtPath string
	Interval int64

	Causal *causal.State
	Clock  Pauser
	Bus    *protocol.Bus
	Frame  func() int64

	Logger *slog.Logger
	Now    func() time.Time
}

// Status is an immutable view for other goroutines.
type Status struct {
	Interrupted bool       `json:"interrupted"`
	Violation   *Violation `json:"violation,omitempty"`
	Watched     int        `json:"watched"`
	LastCheck   int64      `json:"last_check"`
}

// Vigilante is the integrity monitor.
type Vigilante struct {
	files    host.FileSystem
	watch    []string
	exts     []string
	debtPath string
	interval int64
	causal   *causal.State
	clock    Pauser
	bus      *protocol.Bus
	frame    func() int64
	logger   *slog.Logger
	now      func() time.Time

	installed    bool
	fingerprints map[string]time.Time
	interrupted  bool
	violation    *Violation
	sanctioned   bool
	lastCheck    int64

	wake   atomic.Bool
	status atomic.Pointer[Status]
}

// New creates a Vigilante. Install must be called before Tick.
func New(cfg Config) *Vigilante {
	if cfg.DebtPath == "" {
		cfg.DebtPath = DefaultDebtPath
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Frame == nil {
		cfg.Frame = func() int64 { return 0 }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	v := &Vigilante{
		files:        cfg.Files,
		watch:        cfg.Watch,
		exts:         cfg.Extensions,
		debtPath:     cfg.DebtPath,
		interval:     cfg.Interval,
		causal:       cfg.Causal,
		clock:        cfg.Clock,
		bus:          cfg.Bus,
		frame:        cfg.Frame,
		logger:       cfg.Logger.With(slog.String("component", "stargate.vigilante")),
		now:          cfg.Now,
		fingerprints: make(map[string]time.Time),
	}
	v.publish()
	return v
}

// SetClock installs the pause target. Used to break the construction
// cycle with the clock.
func (v *Vigilante) SetClock(p Pauser) { v.clock = p }

// =============================================================================
// Lifecycle
// =============================================================================

// Install checks for outstanding debt, then either establishes the
// baseline (first install) or re-validates against it (re-install).
func (v *Vigilante) Install() {
	v.loadDebt()

	if !v.installed {
		v.fingerprints = v.scan()
		v.installed = true
		v.lastCheck = v.frame()
		v.logger.Info("vigilante armed", slog.Int("watched", len(v.fingerprints)))
	} else if !v.interrupted {
		v.Check()
	}
	v.publish()
}

func (v *Vigilante) loadDebt() {
	data, err := v.files.ReadFile(v.debtPath)
	if host.IsNotExist(err) {
		return
	}
	if err != nil {
		v.logger.Warn("debt record unreadable", slog.String("error", err.Error()))
		v.Shout(TypeCorruptDebtRecord, fmt.Sprintf("%v: %v", ErrCorruptDebtRecord, err))
		return
	}
	var debt Violation
	if err := json.Unmarshal(data, &debt); err != nil || debt.Type == "" {
		reason := "missing type"
		if err != nil {
			reason = err.Error()
		}
		v.Shout(TypeCorruptDebtRecord, fmt.Sprintf("%v: %s", ErrCorruptDebtRecord, reason))
		return
	}
	v.interrupted = true
	v.violation = &debt
	if v.clock != nil {
		v.clock.Pause("debt: " + debt.Type)
	}
	v.logger.Warn("outstanding debt found at boot",
		slog.String("type", debt.Type),
		slog.String("message", debt.Message))
	v.bus.Emit(protocol.Alert{Type: debt.Type, Message: "unresolved from previous session: " + debt.Message})
}

// =============================================================================
// Checking
// =============================================================================

// Notify requests an off-cadence check on the next Tick.
func (v *Vigilante) Notify() { v.wake.Store(true) }

// Sanction excuses drift found by the next check.
func (v *Vigilante) Sanction(reason string) {
	v.sanctioned = true
	v.logger.Info("mutation sanctioned", slog.String("reason", reason))
}

// Tick runs a check when the cadence elapsed or a notification arrived.
func (v *Vigilante) Tick(frame int64) {
	if v.causal != nil && (v.causal.IsDirty(causal.DomainLogic) || v.causal.IsDirty(causal.DomainReload)) {
		v.sanctioned = true
	}
	if v.interrupted || !v.installed {
		return
	}
	if v.wake.Swap(false) || frame-v.lastCheck >= v.interval {
		v.lastCheck = frame
		v.Check()
	}
}

// Check compares the watched artifacts against the baseline and returns
// the drifted paths. Unexcused drift interrupts the system.
func (v *Vigilante) Check() []string {
	checksTotal.Inc()
	current := v.scan()

	var drifted []string
	for path, mod := range current {
		anchor, known := v.fingerprints[path]
		if !known || mod.After(anchor) {
			drifted = append(drifted, path)
		}
	}
	for path := range v.fingerprints {
		if _, ok := current[path]; !ok {
			drifted = append(drifted, path)
		}
	}
	sort.Strings(drifted)

	sanctioned := v.sanctioned
	v.sanctioned = false
	defer v.publish()

	if len(drifted) == 0 {
		return nil
	}
	if sanctioned {
		v.fingerprints = current
		v.logger.Info("sanctioned change re-anchored", slog.Any("paths", drifted))
		v.bus.Emit(protocol.Trace{Message: "sanctioned change re-anchored", Detail: map[string]string{"paths": strings.Join(drifted, ",")}})
		return drifted
	}
	v.Shout(TypeUnsanctionedMutation, "structural mutation without causal intent: "+strings.Join(drifted, ", "))
	return drifted
}

func (v *Vigilante) scan() map[string]time.Time {
	out := make(map[string]time.Time)
	for _, root := range v.watch {
		info, err := v.files.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir {
			out[root] = info.ModTime
			continue
		}
		_ = host.Walk(v.files, root, func(name string, fi host.FileInfo) error {
			if v.accepts(name) {
				out[name] = fi.ModTime
			}
			return nil
		})
	}
	return out
}

func (v *Vigilante) accepts(name string) bool {
	if len(v.exts) == 0 {
		return true
	}
	for _, ext := range v.exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// =============================================================================
// Violations
// =============================================================================

// Shout records a violation, persists it, pauses the clock and raises an
// alert. While already interrupted the first violation is kept and later
// ones are only reported.
func (v *Vigilante) Shout(violationType, message string) {
	violationsTotal.WithLabelValues(violationType).Inc()
	v.logger.Error("violation", slog.String("type", violationType), slog.String("message", message))
	defer v.publish()

	if v.interrupted && v.violation != nil {
		v.bus.Emit(protocol.Alert{Type: violationType, Message: message})
		return
	}

	violation := Violation{
		Type:       violationType,
		Message:    message,
		Frame:      v.frame(),
		RecordedAt: v.now(),
	}
	v.interrupted = true
	v.violation = &violation

	if violationType != TypeCorruptDebtRecord {
		if data, err := json.MarshalIndent(violation, "", "  "); err == nil {
			if err := v.files.WriteFile(v.debtPath, data); err != nil {
				v.logger.Error("debt record not persisted", slog.String("error", err.Error()))
			}
		}
	}

	if v.clock != nil {
		v.clock.Pause("violation: " + violationType)
	}
	v.bus.Emit(protocol.Alert{Type: violationType, Message: message})
}

// Resolve clears the violation, deletes the debt record, re-anchors the
// baseline and resumes the clock.
func (v *Vigilante) Resolve() error {
	if err := v.files.Remove(v.debtPath); err != nil && !host.IsNotExist(err) {
		return fmt.Errorf("removing debt record: %w", err)
	}
	prior := v.violation
	v.interrupted = false
	v.violation = nil
	v.sanctioned = false
	v.fingerprints = v.scan()
	v.installed = true
	v.lastCheck = v.frame()
	if v.clock != nil {
		v.clock.Resume()
	}
	resolvesTotal.Inc()
	msg := "violation resolved"
	if prior != nil {
		msg = "violation resolved: " + prior.Type
	}
	v.logger.Info(msg)
	v.bus.Emit(protocol.Trace{Message: msg})
	v.publish()
	return nil
}

// Installed reports whether a baseline exists.
func (v *Vigilante) Installed() bool { return v.installed }

// Interrupted reports whether a violation is outstanding.
func (v *Vigilante) Interrupted() bool { return v.interrupted }

// Violation returns a copy of the current violation, or nil.
func (v *Vigilante) Violation() *Violation {
	if v.violation == nil {
		return nil
	}
	c := *v.violation
	return &c
}

// Status is safe from any goroutine.
func (v *Vigilante) Status() Status {
	if s := v.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

func (v *Vigilante) publish() {
	v.status.Store(&Status{
		Interrupted: v.interrupted,
		Violation:   v.Violation(),
		Watched:     len(v.fingerprints),
		LastCheck:   v.lastCheck,
	})
}

// ReadDebt loads the debt record without installing anything. Used by
// offline tooling.
func ReadDebt(files host.FileSystem, path string) (*Violation, error) {
	if path == "" {
		path = DefaultDebtPath
	}
	data, err := files.ReadFile(path)
	if host.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var debt Violation
	if err := json.Unmarshal(data, &debt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptDebtRecord, err)
	}
	return &debt, nil
}
