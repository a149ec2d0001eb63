// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package immunology

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// threatsTotal counts recorded threats.
	// Labels: level (warning, recoverable, critical, paradox)
	threatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "immunology",
		Name:      "threats_total",
		Help:      "Threats recorded by level",
	}, []string{"level"})

	// actionsTotal counts corrective actions after escalation.
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "immunology",
		Name:      "actions_total",
		Help:      "Corrective actions by kind",
	}, []string{"action"})

	suppressedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "immunology",
		Name:      "suppressed_total",
		Help:      "Telemetry entries suppressed by the signature window",
	})

	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "immunology",
		Name:      "inbox_dropped_total",
		Help:      "Log entries dropped because the inbox was full",
	})

	// debtGauge is the accumulated causal debt per node.
	debtGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stargate",
		Subsystem: "immunology",
		Name:      "causal_debt",
		Help:      "Accumulated causal debt by node",
	}, []string{"node"})

	stasisTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "immunology",
		Name:      "stasis_total",
		Help:      "Transitions into absolute stasis",
	})
)
