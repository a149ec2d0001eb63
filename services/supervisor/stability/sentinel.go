// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stability

import (
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/Stargate/services/supervisor/causal"
	"github.com/AleutianAI/Stargate/services/supervisor/host"
	"github.com/AleutianAI/Stargate/services/supervisor/protocol"
)

// Sentinel defaults.
const (
	DefaultAssetDir      = "assets"
	DefaultAssetInterval = 60
)

// SentinelConfig wires an AssetSentinel.
type SentinelConfig struct {
	Files      host.FileSystem
	Dir        string
	Extensions []string
	Interval   int64

	Causal *causal.State
	Bus    *protocol.Bus

	// OnReload is called for every changed asset.
	OnReload func(name string)

	Logger *slog.Logger
}

// AssetSentinel re-stats asset files and turns newer modification times
// into emergent causal changes.
type AssetSentinel struct {
	files    host.FileSystem
	dir      string
	exts     []string
	interval int64
	causal   *causal.State
	bus      *protocol.Bus
	onReload func(string)
	logger   *slog.Logger

	stamps map[string]time.Time
}

// NewAssetSentinel creates an AssetSentinel.
func NewAssetSentinel(cfg SentinelConfig) *AssetSentinel {
	if cfg.Dir == "" {
		cfg.Dir = DefaultAssetDir
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".png"}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAssetInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AssetSentinel{
		files:    cfg.Files,
		dir:      cfg.Dir,
		exts:     cfg.Extensions,
		interval: cfg.Interval,
		causal:   cfg.Causal,
		bus:      cfg.Bus,
		onReload: cfg.OnReload,
		logger:   cfg.Logger.With(slog.String("component", "stargate.stability")),
		stamps:   make(map[string]time.Time),
	}
}

// Scan records the baseline.
func (s *AssetSentinel) Scan() {
	s.stamps = s.stat()
}

// Tracked returns the number of baseline assets.
func (s *AssetSentinel) Tracked() int { return len(s.stamps) }

// Tick watches on the cadence.
func (s *AssetSentinel) Tick(frame int64) []string {
	if frame%s.interval != 0 {
		return nil
	}
	return s.Watch()
}

// Watch returns the assets whose modification time advanced. Each one
// is re-anchored, marked dirty and reported. New files join the baseline
// silently.
func (s *AssetSentinel) Watch() []string {
	current := s.stat()
	var changed []string
	for name, mod := range current {
		anchor, known := s.stamps[name]
		if known && mod.After(anchor) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	s.stamps = current

	for _, name := range changed {
		base := path.Base(name)
		if s.causal != nil {
			if err := s.causal.MarkDirty(causal.DomainAssets, causal.SourceEmergent, "asset hot-reload: "+base, name); err != nil {
				s.logger.Warn("asset change not recorded", slog.String("error", err.Error()))
			}
		}
		s.logger.Info("asset mutation detected", slog.String("asset", name))
		if s.bus != nil {
			s.bus.Emit(protocol.Trace{Message: "asset mutation detected: " + base, Detail: map[string]string{"path": name}})
		}
		if s.onReload != nil {
			s.onReload(name)
		}
	}
	return changed
}

func (s *AssetSentinel) stat() map[string]time.Time {
	out := make(map[string]time.Time)
	_ = host.Walk(s.files, s.dir, func(name string, info host.FileInfo) error {
		for _, ext := range s.exts {
			if strings.HasSuffix(name, ext) {
				out[name] = info.ModTime
				break
			}
		}
		return nil
	})
	return out
}
