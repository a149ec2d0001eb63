// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package supervisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// installsTotal counts Install calls.
	// Labels: kind (install, reinstall, sanctioned_reload)
	installsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "supervisor",
		Name:      "installs_total",
		Help:      "Supervisor installs by kind",
	}, []string{"kind"})

	// controlOpsTotal counts drained control operations.
	// Labels: op, result (ok, error)
	controlOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "supervisor",
		Name:      "control_ops_total",
		Help:      "Control operations executed at tick start",
	}, []string{"op", "result"})
)
