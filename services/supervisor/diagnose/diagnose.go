// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diagnose runs health checks over a live or stopped supervisor.
//
// Each failed check is a Cramp. A healthy system reports none.
package diagnose

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/immunology"
	"github.com/AleutianAI/Stargate/services/supervisor/ledger"
	"github.com/AleutianAI/Stargate/services/supervisor/vigilante"
)

// Check names.
const (
	CheckRNG       = "rng"
	CheckDebt      = "debt"
	CheckLedger    = "ledger"
	CheckIdentity  = "identity"
	CheckMutation  = "mutation"
	CheckStasis    = "stasis"
	CheckAuthority = "authority"
	CheckReflexion = "reflexion"
)

// DebtThreshold is the causal debt at which a node cramps: one hard
// error, or ten warnings.
const DebtThreshold = immunology.HardDebt

// Cramp is one failed check.
type Cramp struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

func (c Cramp) String() string { return strings.ToUpper(c.Check) + " CRAMP: " + c.Message }

// Report is the outcome of Run.
type Report struct {
	Cramps    []Cramp   `json:"cramps"`
	CheckedAt time.Time `json:"checked_at"`
}

// Healthy reports whether no check failed.
func (r Report) Healthy() bool { return len(r.Cramps) == 0 }

// Seeder reports whether the random source is seeded.
type Seeder interface {
	Seeded() bool
}

// Input is what the checks look at. Files is required; everything else
// is optional and its check is skipped when unset. Offline callers pass
// only Files and the paths.
type Input struct {
	Files      host.FileSystem
	DebtPath   string
	LedgerPath string

	// Live is true when a supervisor instance is running in-process.
	Live      bool
	Installed bool

	RNG        Seeder
	Vigilante  *vigilante.Status
	Ledger     *ledger.Report
	Stasis     bool
	StasisWhy  string
	Debt       []immunology.Debt
	Superseded bool

	Now func() time.Time
}

// Run executes every applicable check.
func Run(in Input) Report {
	if in.Now == nil {
		in.Now = time.Now
	}
	var cramps []Cramp
	add := func(check, format string, args ...any) {
		cramps = append(cramps, Cramp{Check: check, Message: fmt.Sprintf(format, args...)})
	}

	if in.Live && !in.Installed {
		add(CheckIdentity, "supervisor is not installed")
	}

	if in.RNG != nil && in.Live && in.Installed && !in.RNG.Seeded() {
		add(CheckRNG, "random source is not seeded for the current frame")
	}

	if in.Files != nil {
		debt, err := vigilante.ReadDebt(in.Files, in.DebtPath)
		switch {
		case errors.Is(err, vigilante.ErrCorruptDebtRecord):
			add(CheckDebt, "debt record on disk is corrupt")
		case err != nil:
			add(CheckDebt, "debt record unreadable: %v", err)
		case debt != nil:
			add(CheckDebt, "unresolved %s debt on disk: %s", debt.Type, debt.Message)
		}
	}

	if in.Vigilante != nil && in.Vigilante.Interrupted && in.Vigilante.Violation != nil &&
		in.Vigilante.Violation.Type == vigilante.TypeUnsanctionedMutation {
		add(CheckMutation, "unsanctioned code modification detected")
	}

	report := in.Ledger
	if report == nil && in.Files != nil && in.LedgerPath != "" {
		report = offlineLedger(in, &cramps)
	}
	if report != nil {
		if len(report.Pending) > 0 {
			add(CheckLedger, "nodes pending sanction: %s", strings.Join(report.Pending, ", "))
		}
		if len(report.Ghosts) > 0 {
			add(CheckLedger, "ghost nodes: %s", strings.Join(report.Ghosts, ", "))
		}
	}

	if in.Stasis {
		add(CheckStasis, "clock held in stasis: %s", in.StasisWhy)
	}

	for _, d := range in.Debt {
		// Ten soft entries sum to just under 1.0.
		if d.Debt >= DebtThreshold-1e-9 {
			add(CheckReflexion, "causal debt %.1f on %s over %d entries, last at frame %d: %s",
				d.Debt, d.Node, d.Count, d.LastFrame, d.Digest)
		}
	}

	if in.Superseded {
		add(CheckAuthority, "a newer instance holds the lock")
	}

	return Report{Cramps: cramps, CheckedAt: in.Now()}
}

// offlineLedger reads the persisted registry without auditing.
func offlineLedger(in Input, cramps *[]Cramp) *ledger.Report {
	data, err := in.Files.ReadFile(in.LedgerPath)
	if host.IsNotExist(err) {
		return nil
	}
	if err != nil {
		*cramps = append(*cramps, Cramp{Check: CheckLedger, Message: "registry unreadable: " + err.Error()})
		return nil
	}
	reg, err := ledger.ParseRegistry(data)
	if err != nil {
		*cramps = append(*cramps, Cramp{Check: CheckLedger, Message: err.Error()})
		return nil
	}
	return &ledger.Report{
		Pending:   reg.WithStatus(ledger.StatusPending),
		Ghosts:    reg.WithStatus(ledger.StatusGhost),
		AuditedAt: reg.Metadata.LastAudit,
	}
}
