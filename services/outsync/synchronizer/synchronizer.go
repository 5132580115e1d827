// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synchronizer writes generated artifacts to a store.
//
// Each Synchronize call creates, updates or skips one generated file using
// byte-exact change detection, keeps its "._trace" and ".smap" siblings in
// line with the trace data of the call, reconciles the derived flag and
// records source→trace associations in a sourcetrace.Index. Delete removes a
// generated file and its trace sibling unless a callback vetoes it.
//
// # Persisted layout for a generated file F
//
//	F          generated bytes, encoded in the store's charset for F
//	F._trace   present iff the last call carried a non-nil trace region
//	F'.smap    debug-language files only: F with its extension replaced,
//	           present iff a source map could be derived
//
// # Thread Safety
//
// A Synchronizer belongs to one generation pass and must not be shared by
// concurrent passes. Ordering between passes writing the same files is the
// scheduler's job (see passlock).
package synchronizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/AleutianAI/outsync/services/outsync/compare"
	"github.com/AleutianAI/outsync/services/outsync/output"
	"github.com/AleutianAI/outsync/services/outsync/region"
	"github.com/AleutianAI/outsync/services/outsync/smap"
	"github.com/AleutianAI/outsync/services/outsync/sourcetrace"
	"github.com/AleutianAI/outsync/services/outsync/store"
	"github.com/AleutianAI/outsync/services/outsync/telemetry"
	"github.com/AleutianAI/outsync/services/outsync/traceio"
)

// TraceSuffix is appended to a generated file name to name its trace file.
const TraceSuffix = "._trace"

// SourceMapSuffix replaces the debug-language extension for source maps.
const SourceMapSuffix = ".smap"

var (
	// ErrCancelled is returned when the context is done at call entry.
	ErrCancelled = errors.New("synchronization cancelled")

	// ErrUnknownOutput is returned for an output name missing from the set.
	ErrUnknownOutput = errors.New("unknown output configuration")

	// ErrPathTraversal is returned when a file name escapes its output folder.
	ErrPathTraversal = errors.New("file name escapes output directory")
)

// Synchronizer writes generated artifacts of one pass into a store.
type Synchronizer struct {
	store         store.Store
	outputs       *output.Set
	project       string
	index         *sourcetrace.Index
	callback      Callback
	postProcessor PostProcessor
	logger        *slog.Logger
	smapExt       string
	smapBuilder   smap.Builder
	comparator    compare.Comparator
}

// New creates a Synchronizer.
//
// Inputs:
//
//	s - Store the artifacts are written to.
//	outputs - Read-only lookup of output configurations.
//	project - Store path all output directories are relative to; "" is
//	          the store root.
//	opts - Functional options.
//
// Outputs:
//
//	*Synchronizer - Ready for use by one pass.
//	error - Non-nil if s or outputs is nil or project is not a valid path.
func New(s store.Store, outputs *output.Set, project string, opts ...Option) (*Synchronizer, error) {
	if s == nil {
		return nil, errors.New("synchronizer: store is required")
	}
	if outputs == nil {
		return nil, errors.New("synchronizer: output configurations are required")
	}
	clean, err := store.Clean(project)
	if err != nil {
		return nil, fmt.Errorf("synchronizer: project %q: %w", project, err)
	}
	syn := &Synchronizer{
		store:    s,
		outputs:  outputs,
		project:  clean,
		callback: NopCallback{},
		logger:   slog.Default(),
		smapExt:  DefaultSourceMapExtension,
	}
	for _, opt := range opts {
		opt(syn)
	}
	return syn, nil
}

// target is the resolved location of one artifact.
type target struct {
	config output.Configuration
	folder string
	file   string
	trace  string
	smap   string // empty unless the file is a debug-language file
}

func (s *Synchronizer) resolve(fileName, outputName string) (target, error) {
	cfg, ok := s.outputs.Get(outputName)
	if !ok {
		return target{}, fmt.Errorf("%w: %s", ErrUnknownOutput, outputName)
	}
	folder, err := store.Clean(path.Join(s.project, cfg.OutputDirectory))
	if err != nil {
		return target{}, fmt.Errorf("output %s: %w", outputName, err)
	}
	rel, err := store.Clean(fileName)
	if err != nil || rel == "" {
		return target{}, fmt.Errorf("%w: %q", ErrPathTraversal, fileName)
	}
	file := path.Join(folder, rel)
	t := target{
		config: cfg,
		folder: folder,
		file:   file,
		trace:  file + TraceSuffix,
	}
	if s.smapExt != "" && strings.HasSuffix(file, s.smapExt) {
		t.smap = strings.TrimSuffix(file, s.smapExt) + SourceMapSuffix
	}
	return t, nil
}

// URI returns the platform resource URI of the generated file.
func (s *Synchronizer) URI(fileName, outputName string) (string, error) {
	t, err := s.resolve(fileName, outputName)
	if err != nil {
		return "", err
	}
	return sourcetrace.PlatformResourcePrefix + t.file, nil
}

// Synchronize writes one generated artifact.
//
// Description:
//
//	Resolves fileName inside the output folder of outputName, creating the
//	folder when the configuration allows it, and then creates, updates or
//	leaves the file untouched depending on whether it exists and whether
//	its stored bytes differ from content. The trace and source-map siblings
//	are refreshed whenever the call proceeds past the override check.
//
// Inputs:
//
//	ctx - Checked once at entry; the call itself is not interruptible.
//	fileName - Slash-separated path relative to the output folder.
//	outputName - Name of the output configuration.
//	content - Plain or traced text.
//
// Outputs:
//
//	error - ErrCancelled, ErrUnknownOutput, ErrPathTraversal, or a
//	        *store.Error (matching store.ErrStoreFailure). A failure after
//	        the generated file was written leaves it written; the next
//	        successful pass reconciles the siblings.
func (s *Synchronizer) Synchronize(ctx context.Context, fileName, outputName string, content region.Content) (err error) {
	start := time.Now()
	outcome := outcomeError
	ctx, span := startSpan(ctx, "Synchronize", fileName, outputName)
	defer func() {
		if err != nil && outcome != outcomeCancelled {
			outcome = outcomeError
		}
		synchronizeTotal.WithLabelValues(outcome).Inc()
		synchronizeDuration.WithLabelValues("synchronize").Observe(time.Since(start).Seconds())
		endSpan(span, outcome, err)
	}()

	if cerr := ctx.Err(); cerr != nil {
		outcome = outcomeCancelled
		return fmt.Errorf("%w: %w", ErrCancelled, cerr)
	}

	t, err := s.resolve(fileName, outputName)
	if err != nil {
		return err
	}

	ok, err := s.prepareFolder(ctx, t)
	if err != nil || !ok {
		outcome = outcomeSkipped
		return err
	}

	if s.postProcessor != nil {
		content = s.postProcessor.Process(fileName, outputName, content)
	}

	exists, err := s.store.Exists(ctx, t.file)
	if err != nil {
		return store.Wrap("exists", t.file, err)
	}
	if exists {
		outcome, err = s.update(ctx, t, content)
	} else {
		outcome, err = s.create(ctx, t, content)
	}
	if err != nil {
		return err
	}

	s.log(ctx).Debug("synchronized generated file",
		slog.String("file", t.file),
		slog.String("output", outputName),
		slog.String("outcome", outcome))
	return nil
}

// log returns the synchronizer logger annotated with the span in ctx.
func (s *Synchronizer) log(ctx context.Context) *slog.Logger {
	return telemetry.LoggerWithTrace(ctx, s.logger)
}

// prepareFolder reports whether the output folder exists after applying the
// createOutputDirectory policy.
func (s *Synchronizer) prepareFolder(ctx context.Context, t target) (bool, error) {
	exists, err := s.store.Exists(ctx, t.folder)
	if err != nil {
		return false, store.Wrap("exists", t.folder, err)
	}
	if exists {
		return true, nil
	}
	if !t.config.CreateOutputDirectory {
		s.log(ctx).Debug("output folder missing, skipping",
			slog.String("folder", t.folder),
			slog.String("output", t.config.Name))
		return false, nil
	}
	if err := store.EnsureContainer(ctx, s.store, t.folder); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Synchronizer) update(ctx context.Context, t target, content region.Content) (string, error) {
	if !t.config.OverrideExistingResources {
		return outcomeSkipped, nil
	}

	data, err := s.encode(ctx, t.file, content.Text())
	if err != nil {
		return "", err
	}

	changed, err := s.changed(ctx, t.file, data)
	if err != nil {
		return "", err
	}

	outcome := outcomeUnchanged
	if changed {
		if err := s.store.Write(ctx, t.file, bytes.NewReader(data), true); err != nil {
			return "", store.Wrap("write", t.file, err)
		}
		outcome = outcomeUpdated
	} else if t.smap != "" {
		hasSmap, err := s.store.Exists(ctx, t.smap)
		if err != nil {
			return "", store.Wrap("exists", t.smap, err)
		}
		if hasSmap {
			if err := s.store.Touch(ctx, t.file); err != nil {
				return "", store.Wrap("touch", t.file, err)
			}
		}
	}

	if err := s.reconcileDerived(ctx, t.file, t.config.SetDerivedProperty); err != nil {
		return "", err
	}
	if err := s.updateSiblings(ctx, t, content); err != nil {
		return "", err
	}
	if changed {
		s.callback.AfterUpdate(ctx, t.file)
	}
	return outcome, nil
}

func (s *Synchronizer) create(ctx context.Context, t target, content region.Content) (string, error) {
	data, err := s.encode(ctx, t.file, content.Text())
	if err != nil {
		return "", err
	}
	if err := store.EnsureContainer(ctx, s.store, store.Parent(t.file)); err != nil {
		return "", err
	}
	if err := s.store.Create(ctx, t.file, bytes.NewReader(data)); err != nil {
		return "", store.Wrap("create", t.file, err)
	}
	if t.config.SetDerivedProperty {
		if err := s.store.SetDerived(ctx, t.file, true); err != nil {
			return "", store.Wrap("set derived", t.file, err)
		}
	}
	if err := s.updateSiblings(ctx, t, content); err != nil {
		return "", err
	}
	s.callback.AfterCreate(ctx, t.file)
	return outcomeCreated, nil
}

// changed compares the stored bytes of p with data. A file that cannot be
// opened counts as changed.
func (s *Synchronizer) changed(ctx context.Context, p string, data []byte) (bool, error) {
	rc, err := s.store.Open(ctx, p)
	if err != nil {
		s.log(ctx).Debug("cannot read existing file, rewriting",
			slog.String("file", p),
			slog.String("error", err.Error()))
		return true, nil
	}
	defer rc.Close()
	changed, err := s.comparator.Changed(rc, bytes.NewReader(data))
	if err != nil {
		return false, store.Wrap("compare", p, err)
	}
	return changed, nil
}

// encode converts text to the charset the store resolves for p.
func (s *Synchronizer) encode(ctx context.Context, p, text string) ([]byte, error) {
	charset, err := s.store.Encoding(ctx, p)
	if err != nil {
		return nil, store.Wrap("encoding", p, fmt.Errorf("%w: %w", store.ErrEncoding, err))
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, &store.Error{Op: "encode", Path: p, Err: fmt.Errorf("%w: charset %q: %w", store.ErrEncoding, charset, err)}
	}
	data, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, &store.Error{Op: "encode", Path: p, Err: fmt.Errorf("%w: %s: %w", store.ErrEncoding, charset, err)}
	}
	return data, nil
}

func (s *Synchronizer) reconcileDerived(ctx context.Context, p string, want bool) error {
	derived, err := s.store.IsDerived(ctx, p)
	if err != nil {
		return store.Wrap("is derived", p, err)
	}
	if derived == want {
		return nil
	}
	return store.Wrap("set derived", p, s.store.SetDerived(ctx, p, want))
}

// updateSiblings refreshes the source map and the trace file of t.
func (s *Synchronizer) updateSiblings(ctx context.Context, t target, content region.Content) error {
	r, traced := content.Region()
	if t.smap != "" {
		if err := s.updateSourceMap(ctx, t, r); err != nil {
			return err
		}
	}
	if !traced {
		return s.removeIfExists(ctx, t.trace)
	}

	data, err := traceio.Marshal(r)
	if err != nil {
		return &store.Error{Op: "write trace", Path: t.trace, Err: err}
	}
	if err := s.writeSibling(ctx, t.trace, data, t.config.SetDerivedProperty); err != nil {
		return err
	}
	if s.index != nil {
		for _, uri := range r.SourceURIs() {
			s.index.Record(uri, t.trace)
		}
	}
	return nil
}

func (s *Synchronizer) updateSourceMap(ctx context.Context, t target, r *region.Region) error {
	text, ok := s.smapBuilder.Build(r, path.Base(t.file))
	if !ok {
		return s.removeIfExists(ctx, t.smap)
	}
	return s.writeSibling(ctx, t.smap, []byte(text), t.config.SetDerivedProperty)
}

// writeSibling replaces or creates a companion file and reconciles its
// derived flag with the policy of the owning configuration.
func (s *Synchronizer) writeSibling(ctx context.Context, p string, data []byte, derived bool) error {
	exists, err := s.store.Exists(ctx, p)
	if err != nil {
		return store.Wrap("exists", p, err)
	}
	if exists {
		err = s.store.Write(ctx, p, bytes.NewReader(data), true)
	} else {
		err = s.store.Create(ctx, p, bytes.NewReader(data))
	}
	if err != nil {
		return store.Wrap("write", p, err)
	}
	return s.reconcileDerived(ctx, p, derived)
}

func (s *Synchronizer) removeIfExists(ctx context.Context, p string) error {
	exists, err := s.store.Exists(ctx, p)
	if err != nil {
		return store.Wrap("exists", p, err)
	}
	if !exists {
		return nil
	}
	return store.Wrap("delete", p, s.store.Delete(ctx, p, true))
}

// Delete removes a generated file and its trace file.
//
// Description:
//
//	The callback may veto the delete, in which case nothing changes. The
//	source-map sibling is left in place; the next synchronization of the
//	same file reconciles it.
func (s *Synchronizer) Delete(ctx context.Context, fileName, outputName string) (err error) {
	start := time.Now()
	outcome := outcomeError
	ctx, span := startSpan(ctx, "Delete", fileName, outputName)
	defer func() {
		if err != nil && outcome != outcomeCancelled {
			outcome = outcomeError
		}
		synchronizeTotal.WithLabelValues(outcome).Inc()
		synchronizeDuration.WithLabelValues("delete").Observe(time.Since(start).Seconds())
		endSpan(span, outcome, err)
	}()

	if cerr := ctx.Err(); cerr != nil {
		outcome = outcomeCancelled
		return fmt.Errorf("%w: %w", ErrCancelled, cerr)
	}

	t, err := s.resolve(fileName, outputName)
	if err != nil {
		return err
	}
	if !s.callback.BeforeDelete(ctx, t.file) {
		outcome = outcomeVetoed
		s.log(ctx).Debug("delete vetoed", slog.String("file", t.file))
		return nil
	}

	exists, err := s.store.Exists(ctx, t.file)
	if err != nil {
		return store.Wrap("exists", t.file, err)
	}
	if !exists {
		outcome = outcomeSkipped
		return nil
	}
	if err := s.store.Delete(ctx, t.file, true); err != nil {
		return store.Wrap("delete", t.file, err)
	}
	if err := s.removeIfExists(ctx, t.trace); err != nil {
		return err
	}
	outcome = outcomeDeleted
	return nil
}

// FlushSourceTraces installs the recorded markers under
// sourcetrace.DefaultGeneratorName and clears the index.
func (s *Synchronizer) FlushSourceTraces(ctx context.Context) error {
	return s.FlushSourceTracesAs(ctx, sourcetrace.DefaultGeneratorName)
}

// FlushSourceTracesAs installs the recorded markers under generatorName and
// clears the index. Without an index it does nothing.
func (s *Synchronizer) FlushSourceTracesAs(ctx context.Context, generatorName string) error {
	if s.index == nil {
		return nil
	}
	return s.index.Flush(ctx, generatorName)
}
