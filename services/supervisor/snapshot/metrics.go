// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// captureFailures counts best-effort captures that were dropped.
	// Labels: stage (serialize, persist)
	captureFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "snapshot",
		Name:      "capture_failures_total",
		Help:      "Snapshot captures that failed and were skipped",
	}, []string{"stage"})

	captureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stargate",
		Subsystem: "snapshot",
		Name:      "capture_seconds",
		Help:      "Time to serialize and persist a snapshot",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	})

	blobsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "snapshot",
		Name:      "blobs_written_total",
		Help:      "New content-addressed blobs persisted",
	})

	blobBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stargate",
		Subsystem: "snapshot",
		Name:      "blob_bytes",
		Help:      "Size of newly persisted blobs",
		Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
	})

	integrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stargate",
		Subsystem: "snapshot",
		Name:      "integrity_failures_total",
		Help:      "Loads rejected because the blob did not match its digest",
	})
)
