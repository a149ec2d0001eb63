// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/immunology"
	"github.com/AleutianAI/Stargate/services/supervisor/ledger"
	"github.com/AleutianAI/Stargate/services/supervisor/vigilante"
)

type seeder bool

func (s seeder) Seeded() bool { return bool(s) }

func checks(r Report) []string {
	var out []string
	for _, c := range r.Cramps {
		out = append(out, c.Check)
	}
	return out
}

func TestRun_Healthy(t *testing.T) {
	r := Run(Input{
		Files:     host.NewMemFS(),
		Live:      true,
		Installed: true,
		RNG:       seeder(true),
		Vigilante: &vigilante.Status{},
		Ledger:    &ledger.Report{},
	})
	assert.True(t, r.Healthy(), "cramps: %v", r.Cramps)
}

func TestRun_LiveCramps(t *testing.T) {
	r := Run(Input{
		Files:     host.NewMemFS(),
		Live:      true,
		Installed: true,
		RNG:       seeder(false),
		Vigilante: &vigilante.Status{
			Interrupted: true,
			Violation:   &vigilante.Violation{Type: vigilante.TypeUnsanctionedMutation},
		},
		Ledger:     &ledger.Report{Pending: []string{"hud"}, Ghosts: []string{"old_menu"}},
		Stasis:     true,
		StasisWhy:  "paradox",
		Superseded: true,
	})
	assert.Equal(t, []string{CheckRNG, CheckMutation, CheckLedger, CheckLedger, CheckStasis, CheckAuthority}, checks(r))
	assert.Equal(t, "STASIS CRAMP: clock held in stasis: paradox", r.Cramps[4].String())
}

func TestRun_NotInstalled(t *testing.T) {
	r := Run(Input{Live: true, RNG: seeder(false)})
	assert.Equal(t, []string{CheckIdentity}, checks(r), "rng is only checked once installed")
}

func TestRun_OfflineDebtAndLedger(t *testing.T) {
	files := host.NewMemFS()
	require.NoError(t, files.WriteFile(vigilante.DefaultDebtPath, []byte(`{"type":"ledger_violation","message":"pending"}`)))
	reg := ledger.NewRegistry(2, 1)
	reg.Add(&ledger.Node{ID: "hud", Status: ledger.StatusGhost})
	require.NoError(t, files.WriteFile(ledger.DefaultPath, reg.Encode()))

	r := Run(Input{Files: files, DebtPath: vigilante.DefaultDebtPath, LedgerPath: ledger.DefaultPath})
	require.Equal(t, []string{CheckDebt, CheckLedger}, checks(r))
	assert.Contains(t, r.Cramps[0].Message, "ledger_violation")
	assert.Contains(t, r.Cramps[1].Message, "ghost nodes: hud")
}

func TestRun_CorruptFiles(t *testing.T) {
	files := host.NewMemFS()
	require.NoError(t, files.WriteFile(vigilante.DefaultDebtPath, []byte("{nope")))
	require.NoError(t, files.WriteFile(ledger.DefaultPath, []byte("nodes:\n  - id: a\n    missing_count: many\n")))

	r := Run(Input{Files: files, DebtPath: vigilante.DefaultDebtPath, LedgerPath: ledger.DefaultPath})
	require.Equal(t, []string{CheckDebt, CheckLedger}, checks(r))
	assert.Contains(t, r.Cramps[0].Message, "corrupt")
}

func TestRun_CausalDebt(t *testing.T) {
	r := Run(Input{
		Debt: []immunology.Debt{
			{Node: "physics", Debt: 2.1, Count: 3, LastFrame: 90, Digest: "undefined method `hp' for nil:NilClass"},
			{Node: "audio", Debt: 0.3, Count: 3, LastFrame: 80, Digest: "buffer underrun error"},
			{Node: "render", Debt: 0.9999999999999999, Count: 10, LastFrame: 70, Digest: "texture error"},
		},
	})
	require.Equal(t, []string{CheckReflexion, CheckReflexion}, checks(r))
	assert.Equal(t, "REFLEXION CRAMP: causal debt 2.1 on physics over 3 entries, last at frame 90: undefined method `hp' for nil:NilClass", r.Cramps[0].String())
	assert.Contains(t, r.Cramps[1].Message, "on render")
}
