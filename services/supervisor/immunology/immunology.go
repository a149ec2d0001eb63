// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package immunology classifies diagnostic telemetry into threat levels
// and drives escalating corrective action.
//
// # Description
//
// Telemetry arrives as (subsystem, severity, message). Entries below
// warning severity are ignored. The rest are matched against a fixed
// rule table and escalated:
//
//	warning      observe
//	recoverable  recall the last valid capsule
//	critical     pause, then recall
//	paradox      absolute stasis
//
// Identical signatures are suppressed for a window. When a threat brings
// its level to the loop threshold within the last records (three of five
// by default), the action is forced to absolute stasis. A recall without a capsule also falls into
// stasis. Stasis holds until ClearStasis.
//
// # Log Sink
//
// Immunology implements logging.LogExporter. Export only queues; the
// frame loop calls Drain at the start of each tick so every threat is
// handled by the single writer.
//
// # Thread Safety
//
// Export, Flush, Close and Status are safe from any goroutine. Every
// other method belongs to the frame loop.
package immunology

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/Stargate/pkg/logging"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
	"github.com/AleutianAI/Stargate/services/supervisor/timetravel"
)

// Level is a threat classification.
type Level string

const (
	LevelNone        Level = "none"
	LevelWarning     Level = "warning"
	LevelRecoverable Level = "recoverable"
	LevelCritical    Level = "critical"
	LevelParadox     Level = "paradox"
)

// Action is the corrective response to a threat.
type Action string

const (
	ActionNone            Action = "none"
	ActionObserve         Action = "observe"
	ActionRecall          Action = "recall"
	ActionFreezeAndRecall Action = "freeze_and_recall"
	ActionAbsoluteStasis  Action = "absolute_stasis"
)

// Action returns the escalation for l.
func (l Level) Action() Action {
	switch l {
	case LevelWarning:
		return ActionObserve
	case LevelRecoverable:
		return ActionRecall
	case LevelCritical:
		return ActionFreezeAndRecall
	case LevelParadox:
		return ActionAbsoluteStasis
	default:
		return ActionNone
	}
}

// Host severities, as delivered by the logging hook.
const (
	SeveritySpam  = 0
	SeverityDebug = 1
	SeverityInfo  = 2
	SeverityWarn  = 3
	SeverityError = 4
)

// Defaults.
const (
	DefaultWindow        = 5 * time.Second
	DefaultLoopWindow    = 5
	DefaultLoopThreshold = 3
	DefaultHistoryLimit  = 128
	DefaultInboxLimit    = 1024
	EvidenceLimit        = 100
)

// ignoredComponentPrefix marks supervisor logs. Feeding them back would
// let a recall log line trigger another recall.
const ignoredComponentPrefix = "stargate"

type rule struct {
	pattern *regexp.Regexp
	level   Level
}

// First match wins.
var rules = []rule{
	{regexp.MustCompile("undefined method `.*' for nil:NilClass"), LevelRecoverable},
	{regexp.MustCompile(`invalid memory address or nil pointer dereference`), LevelRecoverable},
	{regexp.MustCompile(`Serialization data may be corrupt`), LevelParadox},
	{regexp.MustCompile(`(?i)divergence|not deterministic`), LevelCritical},
	{regexp.MustCompile(`(?i)exception|error`), LevelWarning},
}

// Classify maps a message onto a threat level.
func Classify(message string) Level {
	for _, r := range rules {
		if r.pattern.MatchString(message) {
			return r.level
		}
	}
	return LevelNone
}

// Threat is one recorded classification.
type Threat struct {
	Level     Level     `json:"level"`
	Action    Action    `json:"action"`
	Subsystem string    `json:"subsystem"`
	Evidence  string    `json:"evidence"`
	Frame     int64     `json:"frame"`
	At        time.Time `json:"at"`
}

// Recaller is the TimeTravel surface.
type Recaller interface {
	LastValid() (timetravel.Capsule, bool)
	RecallMoment(ctx context.Context, c timetravel.Capsule) error
}

// Pauser is the clock surface.
type Pauser interface {
	Pause(reason string)
}

// Config wires an Immunology.
type Config struct {
	Recaller Recaller
	Clock    Pauser
	Bus      *protocol.Bus
	Frame    func() int64

	// Window suppresses repeats of an identical signature.
	Window time.Duration

	// LoopThreshold of the last LoopWindow threats sharing a level
	// forces absolute stasis.
	LoopWindow    int
	LoopThreshold int

	HistoryLimit int
	InboxLimit   int

	Logger *slog.Logger
	Now    func() time.Time
}

// Status is an immutable view for other goroutines.
type Status struct {
	Stasis       bool    `json:"stasis"`
	StasisReason string  `json:"stasis_reason,omitempty"`
	Threats      int     `json:"threats"`
	Last         *Threat `json:"last,omitempty"`
	Suppressed   int64   `json:"suppressed"`
	Dropped      int64   `json:"dropped"`
	Debt         []Debt  `json:"debt,omitempty"`
}

type telemetry struct {
	subsystem string
	severity  int
	message   string
}

// Immunology is the threat classifier.
type Immunology struct {
	recaller      Recaller
	clock         Pauser
	bus           *protocol.Bus
	frame         func() int64
	window        time.Duration
	loopWindow    int
	loopThreshold int
	historyLimit  int
	logger        *slog.Logger
	now           func() time.Time

	history      []Threat
	debts        map[string]*Debt
	seen         map[string]time.Time
	stasis       bool
	stasisReason string
	suppressed   int64

	mu         sync.Mutex
	inbox      []telemetry
	inboxLimit int
	dropped    int64
	closed     bool

	status atomic.Pointer[Status]
}

var _ logging.LogExporter = (*Immunology)(nil)

// New creates an Immunology.
func New(cfg Config) *Immunology {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.LoopWindow <= 0 {
		cfg.LoopWindow = DefaultLoopWindow
	}
	if cfg.LoopThreshold <= 0 {
		cfg.LoopThreshold = DefaultLoopThreshold
	}
	if cfg.HistoryLimit < cfg.LoopWindow {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.InboxLimit <= 0 {
		cfg.InboxLimit = DefaultInboxLimit
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
	im := &Immunology{
		recaller:      cfg.Recaller,
		clock:         cfg.Clock,
		bus:           cfg.Bus,
		frame:         cfg.Frame,
		window:        cfg.Window,
		loopWindow:    cfg.LoopWindow,
		loopThreshold: cfg.LoopThreshold,
		historyLimit:  cfg.HistoryLimit,
		logger:        cfg.Logger.With(slog.String("component", "stargate.immunology")),
		now:           cfg.Now,
		debts:         make(map[string]*Debt),
		seen:          make(map[string]time.Time),
		inboxLimit:    cfg.InboxLimit,
	}
	im.publish()
	return im
}

// =============================================================================
// Telemetry
// =============================================================================

// HandleTelemetry books the entry's causal debt, then classifies it and
// runs its corrective action.
// It returns the recorded threat, or false when the entry was filtered,
// suppressed or unclassified.
func (im *Immunology) HandleTelemetry(ctx context.Context, subsystem string, severity int, message string) (Threat, bool) {
	accrued := im.accrue(subsystem, severity, message)
	if severity < SeverityWarn {
		if accrued {
			im.publish()
		}
		return Threat{}, false
	}
	level := Classify(message)
	if level == LevelNone {
		if accrued {
			im.publish()
		}
		return Threat{}, false
	}

	now := im.now()
	sig := fmt.Sprintf("%s\x00%s\x00%d", message, subsystem, severity)
	if last, ok := im.seen[sig]; ok && now.Sub(last) < im.window {
		im.suppressed++
		suppressedTotal.Inc()
		im.publish()
		return Threat{}, false
	}
	im.seen[sig] = now
	im.pruneSeen(now)

	return im.process(ctx, subsystem, level, message, now), true
}

func (im *Immunology) pruneSeen(now time.Time) {
	if len(im.seen) < 256 {
		return
	}
	for sig, at := range im.seen {
		if now.Sub(at) >= im.window {
			delete(im.seen, sig)
		}
	}
}

func (im *Immunology) process(ctx context.Context, subsystem string, level Level, message string, now time.Time) Threat {
	action := level.Action()
	if im.failureLoop(level) {
		im.logger.Warn("failure loop detected, escalating", slog.String("level", string(level)))
		im.bus.Emit(protocol.Alert{Type: "immune_collapse", Message: "failure loop detected on " + string(level) + ", escalating to absolute stasis"})
		action = ActionAbsoluteStasis
	}

	threat := Threat{
		Level:     level,
		Action:    action,
		Subsystem: subsystem,
		Evidence:  truncate(message, EvidenceLimit),
		Frame:     im.frame(),
		At:        now,
	}
	im.history = append(im.history, threat)
	if len(im.history) > im.historyLimit {
		im.history = im.history[len(im.history)-im.historyLimit:]
	}
	threatsTotal.WithLabelValues(string(level)).Inc()
	actionsTotal.WithLabelValues(string(action)).Inc()
	im.bus.Emit(protocol.Threat{Level: string(level), Action: string(action), Evidence: threat.Evidence})

	im.execute(ctx, threat)
	im.publish()
	return threat
}

// failureLoop reports whether the incoming threat at level fills the
// loop threshold of the last loopWindow records, itself included.
func (im *Immunology) failureLoop(level Level) bool {
	recent := im.history
	if keep := im.loopWindow - 1; len(recent) > keep {
		recent = recent[len(recent)-keep:]
	}
	n := 1
	for _, t := range recent {
		if t.Level == level {
			n++
		}
	}
	return n >= im.loopThreshold
}

func (im *Immunology) execute(ctx context.Context, t Threat) {
	switch t.Action {
	case ActionObserve:
		im.logger.Info("observing breach", slog.String("subsystem", t.Subsystem), slog.String("evidence", t.Evidence))
		im.bus.Emit(protocol.Trace{Message: "observing breach: " + truncate(t.Evidence, 60)})
	case ActionRecall:
		im.bus.Emit(protocol.Alert{Type: "auto_recall", Message: "auto-correction triggered"})
		im.TriggerRecall(ctx)
	case ActionFreezeAndRecall:
		im.bus.Emit(protocol.Alert{Type: "freeze", Message: "freezing for analysis"})
		if im.clock != nil {
			im.clock.Pause("immunology: " + string(t.Level))
		}
		im.TriggerRecall(ctx)
	case ActionAbsoluteStasis:
		im.EnterStasis(string(t.Level) + ": " + t.Evidence)
	}
}

// TriggerRecall restores the last valid capsule. Without one, or when
// the restore fails, the system falls into absolute stasis.
func (im *Immunology) TriggerRecall(ctx context.Context) {
	var (
		capsule timetravel.Capsule
		ok      bool
	)
	if im.recaller != nil {
		capsule, ok = im.recaller.LastValid()
	}
	if !ok {
		im.bus.Emit(protocol.Alert{Type: "recall_unavailable", Message: "no valid capsule found"})
		im.EnterStasis(timetravel.ErrNoCapsule.Error())
		return
	}
	im.logger.Info("reverting to last valid capsule", slog.Int64("frame", capsule.Frame), slog.String("hash", capsule.Hash))
	if err := im.recaller.RecallMoment(ctx, capsule); err != nil {
		im.EnterStasis("recall failed: " + err.Error())
	}
}

// =============================================================================
// Stasis
// =============================================================================

// EnterStasis pauses the clock and holds it until ClearStasis.
func (im *Immunology) EnterStasis(reason string) {
	if !im.stasis {
		stasisTotal.Inc()
	}
	im.stasis = true
	im.stasisReason = reason
	if im.clock != nil {
		im.clock.Pause("stasis: " + reason)
	}
	im.logger.Error("absolute stasis", slog.String("reason", reason))
	im.bus.Emit(protocol.Alert{Type: "absolute_stasis", Message: "absolute stasis forced, intervention required: " + reason})
	im.publish()
}

// InStasis reports whether absolute stasis holds.
func (im *Immunology) InStasis() bool { return im.stasis }

// ClearStasis lifts absolute stasis. It does not resume the clock.
func (im *Immunology) ClearStasis() {
	if !im.stasis {
		return
	}
	im.stasis = false
	im.stasisReason = ""
	im.logger.Info("stasis cleared")
	im.publish()
}

// History returns a copy of the threat history, oldest first.
func (im *Immunology) History() []Threat {
	out := make([]Threat, len(im.history))
	copy(out, im.history)
	return out
}

// =============================================================================
// Log Sink
// =============================================================================

// Export queues a log entry for the next Drain. Supervisor components
// are skipped, as are entries below warning without an error marker. When the inbox is full the oldest entry is dropped.
func (im *Immunology) Export(_ context.Context, entry logging.LogEntry) error {
	if c, ok := entry.Attrs["component"].(string); ok && strings.HasPrefix(c, ignoredComponentPrefix) {
		return nil
	}
	t := telemetry{
		subsystem: entry.Service,
		severity:  severityOf(entry.Level),
		message:   entry.Message,
	}
	if s, ok := entry.Attrs["subsystem"].(string); ok && s != "" {
		t.subsystem = s
	}
	if e, ok := entry.Attrs["error"].(string); ok && e != "" {
		t.message += ": " + e
	}
	if t.severity < SeverityWarn && !debtMarker(t.message) {
		return nil
	}

	im.mu.Lock()
	defer im.mu.Unlock()
	if im.closed {
		return nil
	}
	if len(im.inbox) >= im.inboxLimit {
		im.inbox = im.inbox[1:]
		im.dropped++
		droppedTotal.Inc()
	}
	im.inbox = append(im.inbox, t)
	return nil
}

// Flush is a no-op; entries are handled by Drain.
func (im *Immunology) Flush(context.Context) error { return nil }

// Close stops accepting entries.
func (im *Immunology) Close() error {
	im.mu.Lock()
	im.closed = true
	im.inbox = nil
	im.mu.Unlock()
	return nil
}

// Pending returns the number of queued entries.
func (im *Immunology) Pending() int {
	im.mu.Lock()
	defer im.mu.Unlock()
	return len(im.inbox)
}

// Drain handles every queued entry and returns the number of threats
// recorded.
func (im *Immunology) Drain(ctx context.Context) int {
	im.mu.Lock()
	batch := im.inbox
	im.inbox = nil
	im.mu.Unlock()

	n := 0
	for _, t := range batch {
		if _, ok := im.HandleTelemetry(ctx, t.subsystem, t.severity, t.message); ok {
			n++
		}
	}
	return n
}

func severityOf(l logging.Level) int {
	switch l {
	case logging.LevelDebug:
		return SeverityDebug
	case logging.LevelInfo:
		return SeverityInfo
	case logging.LevelWarn:
		return SeverityWarn
	case logging.LevelError:
		return SeverityError
	default:
		return SeveritySpam
	}
}

// Status is safe from any goroutine.
func (im *Immunology) Status() Status {
	if s := im.status.Load(); s != nil {
		return *s
	}
	return Status{}
}

func (im *Immunology) publish() {
	s := &Status{
		Stasis:       im.stasis,
		StasisReason: im.stasisReason,
		Threats:      len(im.history),
		Suppressed:   im.suppressed,
		Debt:         im.DebtReport(),
	}
	if n := len(im.history); n > 0 {
		last := im.history[n-1]
		s.Last = &last
	}
	im.mu.Lock()
	s.Dropped = im.dropped
	im.mu.Unlock()
	im.status.Store(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
