// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sourcetrace maintains the reverse index from source URIs to the
// trace files that reference them, and hands it to a marker installer at the
// end of a generation pass.
package sourcetrace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/outsync/services/outsync/store"
	"github.com/AleutianAI/outsync/services/outsync/telemetry"
)

// DefaultGeneratorName is used by Flush when no generator name is given.
const DefaultGeneratorName = "default"

// PlatformResourcePrefix is the URI scheme prefix for workspace resources
// accepted by DefaultResolver.
const PlatformResourcePrefix = "platform:/resource/"

// Installer installs provenance markers on a source file.
//
// Install replaces any markers the same generator installed on source
// earlier. traces is sorted and non-empty.
type Installer interface {
	Install(ctx context.Context, source, generator string, traces []string) error
}

// InstallerFunc adapts a function to Installer.
type InstallerFunc func(ctx context.Context, source, generator string, traces []string) error

// Install calls f.
func (f InstallerFunc) Install(ctx context.Context, source, generator string, traces []string) error {
	return f(ctx, source, generator, traces)
}

// Resolver maps a source URI to a store path. ok is false when the URI does
// not denote a file of the store.
type Resolver func(uri string) (p string, ok bool)

// DefaultResolver accepts platform resource URIs only.
func DefaultResolver(uri string) (string, bool) {
	rest, found := strings.CutPrefix(uri, PlatformResourcePrefix)
	if !found || rest == "" {
		return "", false
	}
	p, err := store.Clean(rest)
	if err != nil || p == "" {
		return "", false
	}
	return p, true
}

// Index is the pass-scoped multimap source URI → set of trace paths.
//
// Thread Safety: NOT safe for concurrent use. An Index belongs to one pass.
type Index struct {
	store     store.Store
	installer Installer
	resolver  Resolver
	logger    *slog.Logger
	traces    map[string]map[string]struct{}
}

// Option configures an Index.
type Option func(*Index)

// WithResolver replaces DefaultResolver.
func WithResolver(r Resolver) Option {
	return func(ix *Index) {
		if r != nil {
			ix.resolver = r
		}
	}
}

// WithLogger sets the logger used for skipped sources and failed installs.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New creates an empty index flushing to installer. s is consulted for the
// existence of source files at flush time.
func New(s store.Store, installer Installer, opts ...Option) *Index {
	ix := &Index{
		store:     s,
		installer: installer,
		resolver:  DefaultResolver,
		logger:    slog.Default(),
		traces:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Record associates uri with tracePath. Duplicate pairs are ignored.
func (ix *Index) Record(uri, tracePath string) {
	set, ok := ix.traces[uri]
	if !ok {
		set = make(map[string]struct{})
		ix.traces[uri] = set
	}
	set[tracePath] = struct{}{}
}

// Len returns the number of distinct source URIs recorded.
func (ix *Index) Len() int {
	return len(ix.traces)
}

// Sources returns the recorded source URIs, sorted.
func (ix *Index) Sources() []string {
	out := make([]string, 0, len(ix.traces))
	for uri := range ix.traces {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Traces returns the trace paths recorded for uri, sorted.
func (ix *Index) Traces(uri string) []string {
	return setToSorted(ix.traces[uri])
}

// Flush installs markers for every recorded source and clears the index.
//
// Description:
//
//	For each source URI in sorted order: the URI is resolved to a store
//	path, sources that do not resolve or do not exist are skipped, and
//	the installer receives the sorted trace paths. An empty generatorName
//	means DefaultGeneratorName.
//
// Outputs:
//
//	error - All installer and store failures, joined. Failures do not stop
//	        the flush and the index is cleared regardless.
func (ix *Index) Flush(ctx context.Context, generatorName string) error {
	if generatorName == "" {
		generatorName = DefaultGeneratorName
	}
	ctx, span := startFlushSpan(ctx, generatorName, len(ix.traces))
	logger := telemetry.LoggerWithTrace(ctx, ix.logger)
	defer span.End()

	pending := ix.traces
	ix.traces = make(map[string]map[string]struct{})

	var errs []error
	installed := 0
	for _, uri := range sortedKeys(pending) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("flush cancelled: %w", err))
			break
		}
		source, ok := ix.resolver(uri)
		if !ok {
			logger.Debug("sourcetrace: skipping non-resource source",
				slog.String("uri", uri))
			continue
		}
		exists, err := ix.store.Exists(ctx, source)
		if err != nil {
			logger.Warn("sourcetrace: cannot check source",
				slog.String("source", source),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		if !exists {
			logger.Debug("sourcetrace: skipping missing source",
				slog.String("source", source))
			continue
		}
		traces := setToSorted(pending[uri])
		if err := ix.installer.Install(ctx, source, generatorName, traces); err != nil {
			logger.Error("sourcetrace: failed to install markers",
				slog.String("source", source),
				slog.String("generator", generatorName),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("install markers on %s: %w", source, err))
			continue
		}
		installed++
		recordMarkersInstalled(ctx, generatorName)
	}

	setFlushSpanResult(span, installed, len(errs))
	return errors.Join(errs...)
}

func sortedKeys(m map[string]map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
