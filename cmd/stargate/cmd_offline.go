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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/Stargate/services/supervisor/config"
	"github.com/AleutianAI/Stargate/services/supervisor/diagnose"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/ledger"
	"github.com/AleutianAI/Stargate/services/supervisor/snapshot"
	"github.com/AleutianAI/Stargate/services/supervisor/stability"
	sbadger "github.com/AleutianAI/Stargate/services/supervisor/storage/badger"
	"github.com/AleutianAI/Stargate/services/supervisor/vigilante"
)

// offlineStatus is what `stargate status` reports.
type offlineStatus struct {
	Debt       *vigilante.Violation `json:"debt,omitempty"`
	DebtError  string               `json:"debt_error,omitempty"`
	LockBirth  *time.Time           `json:"lock_birth,omitempty"`
	Ledger     *ledger.Report       `json:"ledger,omitempty"`
	LedgerNote string               `json:"ledger_note,omitempty"`
}

func loadOffline() (config.StargateConfig, host.FileSystem, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, host.NewOSFiles(cfg.StateDir), nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// --- status ---

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, files, err := loadOffline()
	if err != nil {
		return err
	}
	return writeStatus(cmd.OutOrStdout(), cfg, files, jsonOutput)
}

func writeStatus(w io.Writer, cfg config.StargateConfig, files host.FileSystem, asJSON bool) error {
	var st offlineStatus
	debt, err := vigilante.ReadDebt(files, cfg.Vigilante.DebtPath)
	if err != nil {
		st.DebtError = err.Error()
	}
	st.Debt = debt

	if birth, err := stability.ReadLock(files, cfg.Stability.LockPath); err == nil {
		st.LockBirth = &birth
	}

	data, err := files.ReadFile(cfg.Ledger.Path)
	switch {
	case host.IsNotExist(err):
		st.LedgerNote = "no registry yet"
	case err != nil:
		st.LedgerNote = err.Error()
	default:
		reg, err := ledger.ParseRegistry(data)
		if err != nil {
			st.LedgerNote = err.Error()
			break
		}
		st.Ledger = &ledger.Report{
			Observed:  len(reg.Nodes),
			Pending:   reg.WithStatus(ledger.StatusPending),
			Ghosts:    reg.WithStatus(ledger.StatusGhost),
			AuditedAt: reg.Metadata.LastAudit,
		}
	}

	if asJSON {
		return printJSON(w, st)
	}
	switch {
	case st.DebtError != "":
		fmt.Fprintf(w, "debt:    unreadable (%s)\n", st.DebtError)
	case st.Debt != nil:
		fmt.Fprintf(w, "debt:    %s at frame %d: %s\n", st.Debt.Type, st.Debt.Frame, st.Debt.Message)
	default:
		fmt.Fprintln(w, "debt:    none")
	}
	if st.LockBirth != nil {
		fmt.Fprintf(w, "lock:    held since %s\n", st.LockBirth.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "lock:    free")
	}
	if st.Ledger != nil {
		fmt.Fprintf(w, "ledger:  %d nodes, %d pending, %d ghosts\n", st.Ledger.Observed, len(st.Ledger.Pending), len(st.Ledger.Ghosts))
	} else {
		fmt.Fprintf(w, "ledger:  %s\n", st.LedgerNote)
	}
	return nil
}

// --- resolve ---

func runResolve(cmd *cobra.Command, _ []string) error {
	cfg, files, err := loadOffline()
	if err != nil {
		return err
	}
	return resolveDebt(cmd.OutOrStdout(), cfg, files)
}

func resolveDebt(w io.Writer, cfg config.StargateConfig, files host.FileSystem) error {
	err := files.Remove(cfg.Vigilante.DebtPath)
	switch {
	case host.IsNotExist(err):
		fmt.Fprintln(w, "no debt recorded")
		return nil
	case err != nil:
		return fmt.Errorf("removing debt record: %w", err)
	}
	fmt.Fprintln(w, "debt cleared")
	return nil
}

// --- audit ---

func runAudit(cmd *cobra.Command, _ []string) error {
	cfg, files, err := loadOffline()
	if err != nil {
		return err
	}
	return audit(cmd, cfg, files, sanctioned, jsonOutput)
}

func audit(cmd *cobra.Command, cfg config.StargateConfig, files host.FileSystem, sanction []string, asJSON bool) error {
	keeper := ledger.New(ledger.Config{
		Files:       files,
		Root:        cfg.Ledger.Root,
		Extensions:  cfg.Ledger.Extensions,
		Path:        cfg.Ledger.Path,
		GracePeriod: cfg.Ledger.GracePeriod,
		Interval:    cfg.Ledger.Interval,
	})
	if len(sanction) > 0 {
		if err := keeper.Sanction(sanction...); err != nil {
			return err
		}
	}
	report, err := keeper.Audit(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON {
		return printJSON(w, report)
	}
	fmt.Fprintf(w, "observed %d nodes\n", report.Observed)
	if len(report.Born) > 0 {
		fmt.Fprintf(w, "born:     %s\n", strings.Join(report.Born, ", "))
	}
	if len(report.Confirmed) > 0 {
		fmt.Fprintf(w, "alive:    %s\n", strings.Join(report.Confirmed, ", "))
	}
	for _, m := range report.Migrations {
		fmt.Fprintf(w, "migrated: %s %s -> %s\n", m.ID, m.From, m.To)
	}
	if report.Clean() {
		fmt.Fprintln(w, "ledger clean")
		return nil
	}
	fmt.Fprintln(w, report.Summary())
	return nil
}

// --- verify ---

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, files, err := loadOffline()
	if err != nil {
		return err
	}
	blobs, closeBlobs, err := openBlobs(cfg, files)
	if err != nil {
		return err
	}
	defer closeBlobs()

	store := snapshot.New(nil, blobs, nil)
	w := cmd.OutOrStdout()
	if len(args) == 1 {
		if _, err := store.Load(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s ok\n", args[0])
		return nil
	}

	checked, corrupt, err := store.Verify(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "checked %d snapshots\n", checked)
	if len(corrupt) > 0 {
		return fmt.Errorf("%w: %s", snapshot.ErrIntegrityViolation, strings.Join(corrupt, ", "))
	}
	return nil
}

func openBlobs(cfg config.StargateConfig, files host.FileSystem) (snapshot.BlobStore, func(), error) {
	if cfg.Snapshots.Backend != "badger" {
		return snapshot.NewDirStore(files, cfg.Snapshots.Dir), func() {}, nil
	}
	bcfg := sbadger.DefaultConfig()
	bcfg.Path = cfg.Resolve(cfg.Snapshots.BadgerPath)
	bcfg.GCInterval = 0
	db, err := sbadger.OpenDB(bcfg)
	if err != nil {
		return nil, nil, err
	}
	return snapshot.NewBadgerStore(db), func() { _ = db.Close() }, nil
}

// --- doctor ---

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, files, err := loadOffline()
	if err != nil {
		return err
	}
	report := doctor(cfg, files)
	w := cmd.OutOrStdout()
	if jsonOutput {
		if err := printJSON(w, report); err != nil {
			return err
		}
	} else {
		for _, c := range report.Cramps {
			fmt.Fprintln(w, c.String())
		}
		if report.Healthy() {
			fmt.Fprintln(w, "no cramps")
		}
	}
	if !report.Healthy() {
		return fmt.Errorf("%d checks failed", len(report.Cramps))
	}
	return nil
}

func doctor(cfg config.StargateConfig, files host.FileSystem) diagnose.Report {
	return diagnose.Run(diagnose.Input{
		Files:      files,
		DebtPath:   cfg.Vigilante.DebtPath,
		LedgerPath: cfg.Ledger.Path,
	})
}
