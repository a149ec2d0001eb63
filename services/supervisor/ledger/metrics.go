// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// auditsTotal counts audits.
	// Labels: result (ok, error)
	auditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "ledger",
		Name:      "audits_total",
		Help:      "Ledger audits by result",
	}, []string{"result"})

	nodesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stargate",
		Subsystem: "ledger",
		Name:      "nodes",
		Help:      "Ledger nodes by status after the last audit",
	}, []string{"status"})
)
