// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ledger audits structural identifiers tagged in source files.
//
// A source line carrying "@node: <id>" declares that the id lives in that
// file. Each audit scans the watched tree with plain substring matching,
// merges the observation into a persisted registry, and reports ids
// that still await sanction (pending) or have been missing for the
// grace period (ghost). EnforceStasis forwards such a report to the
// violation path.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
)

var tracer = otel.Tracer("stargate.ledger")

// Tag marks a structural identifier in a source line.
const Tag = "@node:"

// ViolationType is the type passed to the Reporter.
const ViolationType = "ledger_violation"

// Defaults.
const (
	DefaultPath        = ".stargate/ledger.yaml"
	DefaultGracePeriod = 2
	DefaultInterval    = 600
)

// Reporter receives ledger violations.
type Reporter interface {
	Shout(violationType, message string)
}

// Config wires a Keeper.
type Config struct {
	Files host.FileSystem

	// Root is the scanned source tree.
	Root       string
	Extensions []string

	// Path is the registry file.
	Path string

	// GracePeriod seeds new registries. An existing registry keeps its
	// own value.
	GracePeriod int

	// Interval is the audit cadence in frames.
	Interval int64

	Reporter Reporter
	Bus      *protocol.Bus
	Logger   *slog.Logger
	Now      func() time.Time
}

// Migration records an id that moved between files.
type Migration struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
}

// Report summarises one audit.
type Report struct {
	Observed   int         `json:"observed"`
	Born       []string    `json:"born,omitempty"`
	Confirmed  []string    `json:"confirmed,omitempty"`
	Migrations []Migration `json:"migrations,omitempty"`
	Missing    []string    `json:"missing,omitempty"`
	Pending    []string    `json:"pending,omitempty"`
	Ghosts     []string    `json:"ghosts,omitempty"`
	AuditedAt  int64       `json:"audited_at"`
}

// Clean reports whether nothing awaits sanction.
func (r Report) Clean() bool { return len(r.Pending) == 0 && len(r.Ghosts) == 0 }

// Summary is the violation message for an unclean report.
func (r Report) Summary() string {
	var b strings.Builder
	b.WriteString("ledger stasis invoked")
	if len(r.Pending) > 0 {
		b.WriteString("; pending sanction: ")
		b.WriteString(strings.Join(r.Pending, ", "))
	}
	if len(r.Ghosts) > 0 {
		b.WriteString("; ghost nodes: ")
		b.WriteString(strings.Join(r.Ghosts, ", "))
	}
	return b.String()
}

// Keeper runs audits.
//
// Thread Safety: not safe for concurrent use.
type Keeper struct {
	files    host.FileSystem
	root     string
	exts     []string
	path     string
	grace    int
	interval int64
	reporter Reporter
	bus      *protocol.Bus
	logger   *slog.Logger
	now      func() time.Time

	lastAudit int64
	last      *Report
}

// New creates a Keeper.
func New(cfg Config) *Keeper {
	if cfg.Root == "" {
		cfg.Root = "app"
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Keeper{
		files:    cfg.Files,
		root:     cfg.Root,
		exts:     cfg.Extensions,
		path:     cfg.Path,
		grace:    cfg.GracePeriod,
		interval: cfg.Interval,
		reporter: cfg.Reporter,
		bus:      cfg.Bus,
		logger:   cfg.Logger.With(slog.String("component", "stargate.ledger")),
		now:      cfg.Now,
	}
}

// SetReporter installs the violation target.
func (k *Keeper) SetReporter(r Reporter) { k.reporter = r }

// Scan returns observed id → file. When an id is tagged in several
// files the lexically last file wins.
func (k *Keeper) Scan() (map[string]string, error) {
	observed := make(map[string]string)
	err := host.Walk(k.files, k.root, func(name string, _ host.FileInfo) error {
		if !k.accepts(name) {
			return nil
		}
		data, err := k.files.ReadFile(name)
		if err != nil {
			return nil
		}
		for _, line := range strings.Split(string(data), "\n") {
			if id := extractID(line); id != "" {
				observed[id] = name
			}
		}
		return nil
	})
	if host.IsNotExist(err) {
		return observed, nil
	}
	return observed, err
}

// extractID returns the first token after the last tag on line.
func extractID(line string) string {
	i := strings.LastIndex(line, Tag)
	if i < 0 {
		return ""
	}
	fields := strings.Fields(line[i+len(Tag):])
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimRight(fields[0], ",;")
}

func (k *Keeper) accepts(name string) bool {
	if len(k.exts) == 0 {
		return true
	}
	for _, ext := range k.exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Load reads the registry, or returns a fresh one when none exists.
func (k *Keeper) Load() (*Registry, error) {
	data, err := k.files.ReadFile(k.path)
	if host.IsNotExist(err) {
		return NewRegistry(k.grace, k.now().Unix()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	reg, err := ParseRegistry(data)
	if err != nil {
		return nil, err
	}
	if reg.Metadata.GracePeriod <= 0 {
		reg.Metadata.GracePeriod = k.grace
	}
	if reg.Metadata.Version == "" {
		reg.Metadata.Version = RegistryVersion
	}
	return reg, nil
}

// Audit scans, merges and persists. It does not enforce.
func (k *Keeper) Audit(ctx context.Context) (Report, error) {
	_, span := tracer.Start(ctx, "ledger.Audit", trace.WithAttributes(attribute.String("ledger.root", k.root)))
	defer span.End()

	report, err := k.audit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		auditsTotal.WithLabelValues("error").Inc()
		k.logger.Error("ledger audit failed", slog.String("error", err.Error()))
		return Report{}, err
	}
	span.SetAttributes(
		attribute.Int("ledger.observed", report.Observed),
		attribute.Int("ledger.pending", len(report.Pending)),
		attribute.Int("ledger.ghosts", len(report.Ghosts)),
	)
	auditsTotal.WithLabelValues("ok").Inc()
	k.last = &report
	return report, nil
}

func (k *Keeper) audit() (Report, error) {
	observed, err := k.Scan()
	if err != nil {
		return Report{}, fmt.Errorf("scanning %s: %w", k.root, err)
	}
	reg, err := k.Load()
	if err != nil {
		return Report{}, err
	}
	now := k.now().Unix()
	report := Report{Observed: len(observed), AuditedAt: now}

	ids := make([]string, 0, len(observed))
	for id := range observed {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		file := observed[id]
		node, known := reg.Lookup(id)
		if !known {
			reg.Add(&Node{ID: id, CurrentFile: file, FirstSeen: now, LastSeen: now, Status: StatusPending})
			report.Born = append(report.Born, id)
			continue
		}
		node.LastSeen = now
		node.MissingCount = 0
		switch node.Status {
		case StatusPending:
			// Confirmed by a second audit.
			node.Status = StatusAlive
			report.Confirmed = append(report.Confirmed, id)
		case StatusGhost:
			node.Status = StatusPending
		}
		if node.CurrentFile != file {
			report.Migrations = append(report.Migrations, Migration{ID: id, From: node.CurrentFile, To: file})
			node.CurrentFile = file
		}
	}

	for _, node := range reg.Nodes {
		if _, seen := observed[node.ID]; seen {
			continue
		}
		node.MissingCount++
		report.Missing = append(report.Missing, node.ID)
		if node.MissingCount >= reg.Metadata.GracePeriod {
			node.Status = StatusGhost
		}
	}

	reg.Metadata.LastAudit = now
	if err := k.files.WriteFile(k.path, reg.Encode()); err != nil {
		return Report{}, fmt.Errorf("writing ledger: %w", err)
	}

	report.Pending = reg.WithStatus(StatusPending)
	report.Ghosts = reg.WithStatus(StatusGhost)
	nodesGauge.WithLabelValues(StatusPending).Set(float64(len(report.Pending)))
	nodesGauge.WithLabelValues(StatusGhost).Set(float64(len(report.Ghosts)))
	nodesGauge.WithLabelValues(StatusAlive).Set(float64(len(reg.WithStatus(StatusAlive))))

	for _, m := range report.Migrations {
		k.logger.Info("node migrated", slog.String("id", m.ID), slog.String("from", m.From), slog.String("to", m.To))
		if k.bus != nil {
			k.bus.Emit(protocol.Trace{Message: "node migrated: " + m.ID, Detail: map[string]string{"from": m.From, "to": m.To}})
		}
	}
	k.logger.Debug("ledger audited",
		slog.Int("observed", report.Observed),
		slog.Int("pending", len(report.Pending)),
		slog.Int("ghosts", len(report.Ghosts)))
	return report, nil
}

// EnforceStasis forwards an unclean report to the Reporter and reports
// whether it did.
func (k *Keeper) EnforceStasis(r Report) bool {
	if r.Clean() || k.reporter == nil {
		return false
	}
	k.reporter.Shout(ViolationType, r.Summary())
	return true
}

// Tick audits and enforces when the cadence elapsed.
func (k *Keeper) Tick(ctx context.Context, frame int64) {
	if frame-k.lastAudit < k.interval {
		return
	}
	k.lastAudit = frame
	report, err := k.Audit(ctx)
	if err != nil {
		return
	}
	k.EnforceStasis(report)
}

// Sanction accepts ids ahead of the audit that would confirm them.
// Pending ids become alive. Ghost ids are retired: the node is removed
// from the registry. Unknown ids are an error.
func (k *Keeper) Sanction(ids ...string) error {
	reg, err := k.Load()
	if err != nil {
		return err
	}
	for _, id := range ids {
		node, ok := reg.Lookup(id)
		if !ok {
			return fmt.Errorf("sanction %q: unknown node", id)
		}
		switch node.Status {
		case StatusPending:
			node.Status = StatusAlive
			k.logger.Info("node sanctioned", slog.String("id", id))
		case StatusGhost:
			reg.Remove(id)
			k.logger.Info("ghost node retired", slog.String("id", id), slog.String("file", node.CurrentFile))
		}
	}
	if err := k.files.WriteFile(k.path, reg.Encode()); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	return nil
}

// Last returns the most recent report.
func (k *Keeper) Last() (Report, bool) {
	if k.last == nil {
		return Report{}, false
	}
	return *k.last, true
}
