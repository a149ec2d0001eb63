// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics are the OTel instruments of the supervisor loop.
//
// Thread Safety: safe for concurrent use after creation.
type Metrics struct {
	// TickDuration records the wall time of one supervisor tick.
	TickDuration metric.Float64Histogram

	// ControlRequests counts queued control operations by kind.
	ControlRequests metric.Int64Counter
}

// NewMetrics registers the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TickDuration, err = meter.Float64Histogram(
		"stargate_tick_duration_seconds",
		metric.WithDescription("Supervisor tick duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.0167, 0.033, 0.1),
	)
	if err != nil {
		return nil, fmt.Errorf("create tick_duration: %w", err)
	}

	m.ControlRequests, err = meter.Int64Counter(
		"stargate_control_requests_total",
		metric.WithDescription("Control operations queued for the frame loop"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create control_requests_total: %w", err)
	}
	return m, nil
}

// RecordTick records one tick.
func (m *Metrics) RecordTick(ctx context.Context, d time.Duration, result string) {
	if m == nil {
		return
	}
	m.TickDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("result", result)))
}

// RecordControl records one queued control operation.
func (m *Metrics) RecordControl(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.ControlRequests.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}
