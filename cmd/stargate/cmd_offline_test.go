// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Stargate/services/supervisor/config"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/ledger"
	"github.com/AleutianAI/Stargate/services/supervisor/snapshot"
)

func offlineFiles(t *testing.T) (config.StargateConfig, *host.MemFS) {
	t.Helper()
	files := host.NewMemFS()
	files.WriteFile("app/hero.rb", []byte("# @node: hero\n"))
	return config.DefaultConfig(), files
}

func testCommand() (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetContext(context.Background())
	return cmd, &out
}

func TestWriteStatus_Empty(t *testing.T) {
	cfg, files := offlineFiles(t)
	var out bytes.Buffer

	require.NoError(t, writeStatus(&out, cfg, files, false))
	assert.Contains(t, out.String(), "debt:    none")
	assert.Contains(t, out.String(), "lock:    free")
	assert.Contains(t, out.String(), "no registry yet")
}

func TestWriteStatus_JSONWithDebt(t *testing.T) {
	cfg, files := offlineFiles(t)
	debt := `{"type":"unsanctioned_mutation","message":"reinstalled","frame":9,"recorded_at":"2026-01-01T00:00:00Z"}`
	require.NoError(t, files.WriteFile(cfg.Vigilante.DebtPath, []byte(debt)))

	var out bytes.Buffer
	require.NoError(t, writeStatus(&out, cfg, files, true))

	var st offlineStatus
	require.NoError(t, json.Unmarshal(out.Bytes(), &st))
	require.NotNil(t, st.Debt)
	assert.Equal(t, "unsanctioned_mutation", st.Debt.Type)
	assert.Equal(t, int64(9), st.Debt.Frame)
}

func TestWriteStatus_CorruptDebt(t *testing.T) {
	cfg, files := offlineFiles(t)
	require.NoError(t, files.WriteFile(cfg.Vigilante.DebtPath, []byte("{nope")))

	var out bytes.Buffer
	require.NoError(t, writeStatus(&out, cfg, files, false))
	assert.Contains(t, out.String(), "unreadable")
}

func TestResolveDebt(t *testing.T) {
	cfg, files := offlineFiles(t)
	require.NoError(t, files.WriteFile(cfg.Vigilante.DebtPath, []byte(`{}`)))

	var out bytes.Buffer
	require.NoError(t, resolveDebt(&out, cfg, files))
	assert.Contains(t, out.String(), "debt cleared")
	_, err := files.ReadFile(cfg.Vigilante.DebtPath)
	assert.True(t, host.IsNotExist(err))

	out.Reset()
	require.NoError(t, resolveDebt(&out, cfg, files))
	assert.Contains(t, out.String(), "no debt recorded")
}

func TestAudit_SecondAuditConfirms(t *testing.T) {
	cfg, files := offlineFiles(t)

	cmd, out := testCommand()
	require.NoError(t, audit(cmd, cfg, files, nil, false))
	assert.Contains(t, out.String(), "observed 1 nodes")
	assert.Contains(t, out.String(), "pending sanction: hero")

	require.NoError(t, files.WriteFile("app/villain.rb", []byte("# @node: villain\n")))
	cmd, out = testCommand()
	require.NoError(t, audit(cmd, cfg, files, nil, true))

	var report ledger.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, []string{"hero"}, report.Confirmed)
	assert.Equal(t, []string{"villain"}, report.Pending)

	cmd, out = testCommand()
	require.NoError(t, audit(cmd, cfg, files, []string{"villain"}, false))
	assert.Contains(t, out.String(), "ledger clean")
}

func TestAudit_SanctionRetiresGhost(t *testing.T) {
	cfg, files := offlineFiles(t)
	cfg.Ledger.GracePeriod = 1

	cmd, _ := testCommand()
	require.NoError(t, audit(cmd, cfg, files, nil, false))
	require.NoError(t, files.Remove("app/hero.rb"))

	cmd, out := testCommand()
	require.NoError(t, audit(cmd, cfg, files, nil, false))
	assert.Contains(t, out.String(), "ghost nodes: hero")

	cmd, out = testCommand()
	require.NoError(t, audit(cmd, cfg, files, []string{"hero"}, false))
	assert.Contains(t, out.String(), "observed 0 nodes")
	assert.Contains(t, out.String(), "ledger clean")
}

func TestDoctor_OfflineChecks(t *testing.T) {
	cfg, files := offlineFiles(t)
	assert.True(t, doctor(cfg, files).Healthy())

	require.NoError(t, files.WriteFile(cfg.Vigilante.DebtPath, []byte("{nope")))
	report := doctor(cfg, files)
	assert.False(t, report.Healthy())
}

func TestRunVerify_DirBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.StateDir = dir
	path := filepath.Join(dir, config.DefaultFileName)
	require.NoError(t, config.Save(path, cfg))

	prev := configPath
	configPath = path
	t.Cleanup(func() { configPath = prev })

	files := host.NewOSFiles(dir)
	store := snapshot.New(nil, snapshot.NewDirStore(files, cfg.Snapshots.Dir), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	good, err := store.Save(ctx, []byte("frame 1"))
	require.NoError(t, err)

	cmd, out := testCommand()
	require.NoError(t, runVerify(cmd, nil))
	assert.Contains(t, out.String(), "checked 1 snapshots")

	cmd, out = testCommand()
	require.NoError(t, runVerify(cmd, []string{good}))
	assert.Contains(t, out.String(), good+" ok")

	bad, err := store.Save(ctx, []byte("frame 2"))
	require.NoError(t, err)
	blob := filepath.Join(dir, cfg.Snapshots.Dir, bad+".snap")
	require.NoError(t, os.WriteFile(blob, []byte("tampered"), 0644))

	cmd, _ = testCommand()
	err = runVerify(cmd, nil)
	assert.ErrorIs(t, err, snapshot.ErrIntegrityViolation)
}
