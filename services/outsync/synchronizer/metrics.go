// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synchronizer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome labels for outsync_synchronize_total.
const (
	outcomeCreated   = "created"
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
	outcomeSkipped   = "skipped"
	outcomeDeleted   = "deleted"
	outcomeVetoed    = "vetoed"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

var (
	// synchronizeTotal counts synchronize and delete calls by outcome.
	synchronizeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outsync_synchronize_total",
		Help: "Total synchronize and delete calls by outcome",
	}, []string{"outcome"})

	// synchronizeDuration tracks per-call latency.
	synchronizeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outsync_synchronize_duration_seconds",
		Help:    "Synchronize and delete call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"operation"})
)

var tracer = otel.Tracer("outsync.synchronizer")

func startSpan(ctx context.Context, operation, fileName, outputName string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Synchronizer."+operation,
		trace.WithAttributes(
			attribute.String("outsync.file", fileName),
			attribute.String("outsync.output", outputName),
		),
	)
}

func endSpan(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("outsync.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
