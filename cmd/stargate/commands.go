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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/Stargate/services/supervisor/config"
)

// --- Global Command Variables ---
var (
	configPath string
	jsonOutput bool
	runFrames  int64
	runChaos   bool
	sanctioned []string

	rootCmd = &cobra.Command{
		Use:   "stargate",
		Short: "Deterministic supervisor for frame-stepped simulations",
		Long: `Stargate wraps a frame-stepped application with snapshots, divergence
detection, integrity monitoring and automatic rollback.`,
		SilenceUsage: true,
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the chaos lab demo under the supervisor with the control surface",
		RunE:  runRun, // Defined in cmd_run.go
	}

	// --- Offline inspection ---
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the persisted debt, ledger and lock state",
		RunE:  runStatus, // Defined in cmd_offline.go
	}
	resolveCmd = &cobra.Command{
		Use:   "resolve",
		Short: "Delete the debt record so the next boot is not interrupted",
		RunE:  runResolve,
	}
	auditCmd = &cobra.Command{
		Use:   "audit",
		Short: "Run one structural ledger audit and print the report",
		RunE:  runAudit,
	}
	verifyCmd = &cobra.Command{
		Use:   "verify [hash]",
		Short: "Verify one stored snapshot, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runVerify,
	}
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Follow a running supervisor's event stream",
		RunE:  runWatch, // Defined in cmd_watch.go
	}
	doctorCmd = &cobra.Command{
		Use:   "doctor",
		Short: "Run the health checks against the state directory",
		RunE:  runDoctor,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultFileName, "path to stargate.yaml")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")

	runCmd.Flags().Int64Var(&runFrames, "frames", 0, "stop after N host frames (0 runs until interrupted)")
	runCmd.Flags().BoolVar(&runChaos, "chaos", false, "inject random faults into the demo application")

	auditCmd.Flags().StringSliceVar(&sanctioned, "sanction", nil, "node ids to settle before auditing: pending ids become alive, ghost ids are retired")

	rootCmd.AddCommand(runCmd, statusCmd, resolveCmd, auditCmd, verifyCmd, watchCmd, doctorCmd)
}
