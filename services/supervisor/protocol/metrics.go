// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// eventsTotal counts dispatched events.
	// Labels: kind, source
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "bus",
		Name:      "events_total",
		Help:      "Events dispatched to sinks",
	}, []string{"kind", "source"})

	eventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "bus",
		Name:      "events_rejected_total",
		Help:      "Events that failed schema validation",
	}, []string{"kind"})

	eventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "bus",
		Name:      "events_dropped_total",
		Help:      "Events dropped because the bootstrap buffer was full",
	})

	humanSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "view",
		Name:      "human_lines_suppressed_total",
		Help:      "Human channel lines dropped by the rate limiter",
	})
)
