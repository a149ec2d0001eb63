// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the supervisor configuration file.
package config

import "time"

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

// Modes.
const (
	ModeStandard = "standard"
	ModeChaosLab = "chaos_lab"
	ModeSilent   = "silent"
)

// StargateConfig is the root of stargate.yaml.
type StargateConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Mode is standard, chaos_lab (debug machine channel) or silent (no
	// human channel).
	Mode string `yaml:"mode" validate:"oneof=standard chaos_lab silent"`

	// StateDir is the host file system root. Every relative path below
	// resolves inside it.
	StateDir string `yaml:"state_dir" validate:"required"`

	FPS int `yaml:"fps" validate:"min=1,max=1000"`

	Clock      ClockConfig      `yaml:"clock"`
	Snapshots  SnapshotConfig   `yaml:"snapshots"`
	Vigilante  VigilanteConfig  `yaml:"vigilante"`
	Immunology ImmunologyConfig `yaml:"immunology"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Stability  StabilityConfig  `yaml:"stability"`
	View       ViewConfig       `yaml:"view"`
	Control    ControlConfig    `yaml:"control"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type ClockConfig struct {
	HeartbeatInterval       int64 `yaml:"heartbeat_interval" validate:"min=1"`
	StasisHeartbeatInterval int64 `yaml:"stasis_heartbeat_interval" validate:"min=1"`

	// AutoCaptureInterval captures a recovery capsule every N running
	// frames. 0 disables.
	AutoCaptureInterval int64 `yaml:"auto_capture_interval" validate:"min=0"`
}

type SnapshotConfig struct {
	// Backend is "dir" or "badger".
	Backend        string        `yaml:"backend" validate:"oneof=dir badger"`
	Dir            string        `yaml:"dir" validate:"required_if=Backend dir"`
	BadgerPath     string        `yaml:"badger_path" validate:"required_if=Backend badger"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"min=0"`
	GCDiscardRatio float64       `yaml:"gc_discard_ratio" validate:"gt=0,lt=1"`
}

type VigilanteConfig struct {
	Watch      []string `yaml:"watch"`
	Extensions []string `yaml:"extensions"`
	Interval   int64    `yaml:"interval" validate:"min=1"`
	DebtPath   string   `yaml:"debt_path" validate:"required"`

	// Notify adds file system notifications on top of the cadence.
	Notify bool `yaml:"notify"`
}

type ImmunologyConfig struct {
	Window        time.Duration `yaml:"window" validate:"gt=0"`
	LoopWindow    int           `yaml:"loop_window" validate:"min=1"`
	LoopThreshold int           `yaml:"loop_threshold" validate:"min=1,ltefield=LoopWindow"`
	HistoryLimit  int           `yaml:"history_limit" validate:"gtefield=LoopWindow"`
}

type LedgerConfig struct {
	Root        string   `yaml:"root" validate:"required"`
	Extensions  []string `yaml:"extensions"`
	Path        string   `yaml:"path" validate:"required"`
	GracePeriod int      `yaml:"grace_period" validate:"min=1"`
	Interval    int64    `yaml:"interval" validate:"min=1"`
}

type StabilityConfig struct {
	LockPath        string        `yaml:"lock_path" validate:"required"`
	LockInterval    int64         `yaml:"lock_interval" validate:"min=1"`
	LockMargin      time.Duration `yaml:"lock_margin" validate:"gt=0"`
	AssetDir        string        `yaml:"asset_dir"`
	AssetExtensions []string      `yaml:"asset_extensions"`
	AssetInterval   int64         `yaml:"asset_interval" validate:"min=1"`
}

type ViewConfig struct {
	// MinSeverity is the lowest severity on the human channel.
	MinSeverity    string  `yaml:"min_severity" validate:"oneof=warning error alert"`
	LinesPerSecond float64 `yaml:"lines_per_second" validate:"gt=0"`
	Burst          int     `yaml:"burst" validate:"min=1"`

	// Styled forces colour on or off. Unset detects a terminal.
	Styled *bool `yaml:"styled,omitempty"`
}

type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" validate:"omitempty,hostname_port"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" validate:"required"`

	// Traces is none, stdout or otlp.
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint" validate:"required_if=Traces otlp"`

	// Metrics is none, prometheus or stdout.
	Metrics string `yaml:"metrics" validate:"oneof=none prometheus stdout"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() StargateConfig {
	return StargateConfig{
		Meta:     MetaConfig{Version: CurrentConfigVersion},
		Mode:     ModeStandard,
		StateDir: ".",
		FPS:      60,
		Clock: ClockConfig{
			HeartbeatInterval:       60,
			StasisHeartbeatInterval: 60,
			AutoCaptureInterval:     300,
		},
		Snapshots: SnapshotConfig{
			Backend:        "dir",
			Dir:            ".stargate/blobs",
			BadgerPath:     ".stargate/badger",
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Vigilante: VigilanteConfig{
			Watch:      []string{"app"},
			Extensions: []string{".go", ".rb"},
			Interval:   60,
			DebtPath:   ".stargate/debt.json",
			Notify:     true,
		},
		Immunology: ImmunologyConfig{
			Window:        5 * time.Second,
			LoopWindow:    5,
			LoopThreshold: 3,
			HistoryLimit:  128,
		},
		Ledger: LedgerConfig{
			Root:        "app",
			Extensions:  []string{".go", ".rb"},
			Path:        ".stargate/ledger.yaml",
			GracePeriod: 2,
			Interval:    600,
		},
		Stability: StabilityConfig{
			LockPath:        ".stargate/lock",
			LockInterval:    30,
			LockMargin:      10 * time.Millisecond,
			AssetDir:        "assets",
			AssetExtensions: []string{".png"},
			AssetInterval:   60,
		},
		View: ViewConfig{
			MinSeverity:    "warning",
			LinesPerSecond: 10,
			Burst:          20,
		},
		Control: ControlConfig{
			Enabled: true,
			Addr:    "127.0.0.1:7341",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "stargate",
			Traces:      "none",
			Metrics:     "prometheus",
		},
	}
}

// HumanChannel reports whether narrative lines are printed.
func (c StargateConfig) HumanChannel() bool { return c.Mode != ModeSilent }

// MachineLevel is the logging level implied by the mode.
func (c StargateConfig) MachineLevel() string {
	if c.Mode == ModeChaosLab {
		return "debug"
	}
	return c.Logging.Level
}
