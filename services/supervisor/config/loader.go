// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultFileName is the config file name inside a state directory.
const DefaultFileName = "stargate.yaml"

var validate = validator.New()

// Load reads path. A missing file is created with DefaultConfig first.
// Keys absent from the file keep their default values.
func Load(path string) (StargateConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := createDefault(path); err != nil {
			return StargateConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return StargateConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (StargateConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return StargateConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return StargateConfig{}, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func Validate(cfg StargateConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Control.Enabled && cfg.Control.Addr == "" {
		return fmt.Errorf("invalid config: control.addr is required when control is enabled")
	}
	return nil
}

// Save writes cfg to path.
func Save(path string, cfg StargateConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func createDefault(path string) error {
	return Save(path, DefaultConfig())
}

// Resolve joins a state-relative path onto StateDir. Absolute paths are
// returned unchanged.
func (c StargateConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.StateDir, p)
}
