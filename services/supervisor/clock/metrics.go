// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// framesTotal counts ticks by result.
	// Labels: result (ok, paused, divergence, error)
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "clock",
		Name:      "ticks_total",
		Help:      "Clock ticks by result",
	}, []string{"result"})

	divergencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "clock",
		Name:      "divergences_total",
		Help:      "Live state digests that did not match the anchored authority",
	})

	// restoresTotal counts RestoreMoment calls.
	// Labels: result (ok, error)
	restoresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "clock",
		Name:      "restores_total",
		Help:      "Snapshot restores by result",
	}, []string{"result"})

	pausedGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stargate",
		Subsystem: "clock",
		Name:      "paused",
		Help:      "1 while the clock is paused",
	})
)
