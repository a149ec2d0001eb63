// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vigilante

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "vigilante",
		Name:      "checks_total",
		Help:      "Fingerprint checks performed",
	})

	// violationsTotal counts Shout calls.
	// Labels: type
	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "vigilante",
		Name:      "violations_total",
		Help:      "Violations raised by type",
	}, []string{"type"})

	resolvesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "vigilante",
		Name:      "resolves_total",
		Help:      "Explicit resolves",
	})
)
