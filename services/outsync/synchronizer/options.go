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
	"log/slog"

	"github.com/AleutianAI/outsync/services/outsync/compare"
	"github.com/AleutianAI/outsync/services/outsync/region"
	"github.com/AleutianAI/outsync/services/outsync/smap"
	"github.com/AleutianAI/outsync/services/outsync/sourcetrace"
)

// Callback receives artifact lifecycle notifications.
type Callback interface {
	// AfterCreate is called after a new generated file was written.
	AfterCreate(ctx context.Context, p string)

	// AfterUpdate is called after an existing file received new bytes.
	AfterUpdate(ctx context.Context, p string)

	// BeforeDelete is called before a delete; returning false vetoes it.
	BeforeDelete(ctx context.Context, p string) bool
}

// NopCallback ignores notifications and never vetoes.
type NopCallback struct{}

func (NopCallback) AfterCreate(context.Context, string)       {}
func (NopCallback) AfterUpdate(context.Context, string)       {}
func (NopCallback) BeforeDelete(context.Context, string) bool { return true }

// PostProcessor transforms content before it is persisted. It may replace
// or attach trace information.
type PostProcessor interface {
	Process(fileName, outputName string, content region.Content) region.Content
}

// PostProcessorFunc adapts a function to PostProcessor.
type PostProcessorFunc func(fileName, outputName string, content region.Content) region.Content

// Process calls f.
func (f PostProcessorFunc) Process(fileName, outputName string, content region.Content) region.Content {
	return f(fileName, outputName, content)
}

// DefaultSourceMapExtension is the generated-file extension that receives
// a .smap sibling.
const DefaultSourceMapExtension = ".java"

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithCallback sets the lifecycle callback.
func WithCallback(cb Callback) Option {
	return func(s *Synchronizer) {
		if cb != nil {
			s.callback = cb
		}
	}
}

// WithPostProcessor sets the content post-processor.
func WithPostProcessor(pp PostProcessor) Option {
	return func(s *Synchronizer) {
		s.postProcessor = pp
	}
}

// WithIndex sets the reverse index that receives source→trace associations.
// Without an index nothing is recorded.
func WithIndex(ix *sourcetrace.Index) Option {
	return func(s *Synchronizer) {
		s.index = ix
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSourceMapExtension sets the debug-language extension whose files get
// a .smap sibling. An empty extension disables source maps.
func WithSourceMapExtension(ext string) Option {
	return func(s *Synchronizer) {
		s.smapExt = ext
	}
}

// WithSmapBuilder replaces the default source-map builder.
func WithSmapBuilder(b smap.Builder) Option {
	return func(s *Synchronizer) {
		s.smapBuilder = b
	}
}

// WithComparator replaces the default change-detection comparator.
func WithComparator(c compare.Comparator) Option {
	return func(s *Synchronizer) {
		s.comparator = c
	}
}
