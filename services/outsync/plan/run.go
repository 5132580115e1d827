// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/outsync/services/outsync/region"
	"github.com/AleutianAI/outsync/services/outsync/telemetry"
)

var tracer = otel.Tracer("outsync.plan")

// Syncer is the part of synchronizer.Synchronizer a pass drives.
type Syncer interface {
	Synchronize(ctx context.Context, fileName, outputName string, content region.Content) error
	Delete(ctx context.Context, fileName, outputName string) error
	FlushSourceTracesAs(ctx context.Context, generatorName string) error
}

// Result summarizes a pass.
type Result struct {
	PassID       string
	Synchronized int
	Deleted      int
	Duration     time.Duration
}

type runOptions struct {
	passID string
	logger *slog.Logger
}

// RunOption configures Run.
type RunOption func(*runOptions)

// WithPassID sets the pass ID instead of generating one.
func WithPassID(id string) RunOption {
	return func(o *runOptions) {
		if id != "" {
			o.passID = id
		}
	}
}

// WithLogger sets the logger. Entries carry the pass_id attribute.
func WithLogger(l *slog.Logger) RunOption {
	return func(o *runOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// Run executes p against syn as one pass.
//
// Description:
//
//	Synchronizes every artifact in order, then processes the deletes, then
//	flushes the source traces under the plan's generator name. The first
//	failing artifact or delete stops the pass; traces recorded before the
//	failure are still flushed so markers reflect what was written.
//
// Inputs:
//
//	ctx - Cancellation stops the pass at the next artifact. The flush
//	      ignores cancellation so that files already written get markers.
//	p - A validated plan.
//	syn - The pass's synchronizer; it must not be shared with other passes.
//
// Outputs:
//
//	Result - Counts for the work done, also on error.
//	error - The first synchronization failure, joined with a flush failure.
func Run(ctx context.Context, p *Plan, syn Syncer, opts ...RunOption) (Result, error) {
	o := runOptions{passID: uuid.NewString(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	ctx, span := tracer.Start(ctx, "plan.Run", trace.WithAttributes(
		attribute.String("outsync.pass_id", o.passID),
		attribute.String("outsync.generator", p.GeneratorName()),
		attribute.String("outsync.project", p.Project),
	))
	defer span.End()
	logger := telemetry.LoggerWithTrace(ctx, o.logger).With("pass_id", o.passID, "generator", p.GeneratorName())
	start := time.Now()
	res := Result{PassID: o.passID}

	runErr := run(ctx, p, syn, logger, &res)

	flushErr := syn.FlushSourceTracesAs(context.WithoutCancel(ctx), p.GeneratorName())
	if flushErr != nil {
		logger.Warn("flush source traces failed", "error", flushErr)
		flushErr = fmt.Errorf("flush source traces: %w", flushErr)
	}

	res.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("outsync.synchronized", res.Synchronized),
		attribute.Int("outsync.deleted", res.Deleted),
	)
	if runErr != nil || flushErr != nil {
		span.SetStatus(codes.Error, "pass failed")
		logger.Error("pass failed",
			"synchronized", res.Synchronized,
			"deleted", res.Deleted,
			"error", runErr,
		)
		if runErr == nil {
			return res, flushErr
		}
		if flushErr == nil {
			return res, runErr
		}
		return res, fmt.Errorf("%w; %w", runErr, flushErr)
	}
	logger.Info("pass finished",
		"synchronized", res.Synchronized,
		"deleted", res.Deleted,
		"duration", res.Duration,
	)
	return res, nil
}

func run(ctx context.Context, p *Plan, syn Syncer, logger *slog.Logger, res *Result) error {
	for _, a := range p.Artifacts {
		content, err := a.Content(p.dir)
		if err != nil {
			return err
		}
		if err := syn.Synchronize(ctx, a.File, a.OutputName(), content); err != nil {
			return fmt.Errorf("synchronize %s: %w", a.File, err)
		}
		res.Synchronized++
		logger.Debug("artifact synchronized", "file", a.File, "output", a.OutputName(), "kind", content.Kind())
	}
	for _, d := range p.Deletes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := syn.Delete(ctx, d.File, d.OutputName()); err != nil {
			return fmt.Errorf("delete %s: %w", d.File, err)
		}
		res.Deleted++
		logger.Debug("artifact deleted", "file", d.File, "output", d.OutputName())
	}
	return nil
}
