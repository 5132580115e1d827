// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sourcetrace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("outsync.sourcetrace")
	meter  = otel.Meter("outsync.sourcetrace")
)

var (
	markersInstalled metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		markersInstalled, metricsErr = meter.Int64Counter(
			"outsync_markers_installed_total",
			metric.WithDescription("Total number of source files that received markers"),
		)
	})
	return metricsErr
}

func recordMarkersInstalled(ctx context.Context, generator string) {
	if err := initMetrics(); err != nil {
		return
	}
	markersInstalled.Add(ctx, 1, metric.WithAttributes(attribute.String("generator", generator)))
}

func startFlushSpan(ctx context.Context, generator string, sources int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "sourcetrace.Flush",
		trace.WithAttributes(
			attribute.String("sourcetrace.generator", generator),
			attribute.Int("sourcetrace.sources", sources),
		),
	)
}

func setFlushSpanResult(span trace.Span, installed, failed int) {
	span.SetAttributes(
		attribute.Int("sourcetrace.installed", installed),
		attribute.Int("sourcetrace.failed", failed),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "marker installation failed")
	}
}
