// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/AleutianAI/outsync/services/outsync/markers"
	"github.com/AleutianAI/outsync/services/outsync/output"
	"github.com/AleutianAI/outsync/services/outsync/passlock"
	"github.com/AleutianAI/outsync/services/outsync/plan"
	"github.com/AleutianAI/outsync/services/outsync/sourcetrace"
	"github.com/AleutianAI/outsync/services/outsync/storage/badger"
	"github.com/AleutianAI/outsync/services/outsync/store"
	"github.com/AleutianAI/outsync/services/outsync/store/localfs"
	"github.com/AleutianAI/outsync/services/outsync/synchronizer"
)

// defaultStateDir is the metadata directory inside the output root.
const defaultStateDir = ".outsync"

// workspace is an opened output root: file store, metadata database,
// marker store and output configurations.
type workspace struct {
	root    string
	db      *badger.DB
	fs      *localfs.Store
	markers *markers.Store
	outputs *output.Set
	logger  *slog.Logger
}

// openWorkspace opens the output root configured by the global flags.
func (a *app) openWorkspace() (*workspace, error) {
	logger := a.log()

	outputs := output.DefaultSet()
	if a.outputs != "" {
		var err error
		outputs, err = output.LoadFile(a.outputs)
		if err != nil {
			return nil, err
		}
	}

	root, err := filepath.Abs(a.root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", a.root, err)
	}
	stateDir := a.stateDir
	if stateDir == "" {
		stateDir = filepath.Join(root, defaultStateDir)
	}

	cfg := badger.DefaultConfig(stateDir)
	cfg.Logger = logger
	db, err := badger.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open state in %s: %w", stateDir, err)
	}
	fs, err := localfs.New(root, db, localfs.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, err
	}

	return &workspace{
		root:    root,
		db:      db,
		fs:      fs,
		markers: markers.New(db),
		outputs: outputs,
		logger:  logger,
	}, nil
}

// Close closes the metadata database.
func (w *workspace) Close() error {
	return w.db.Close()
}

// synchronizer creates the synchronizer and reverse index of one pass on
// project. Markers are installed into the workspace marker store.
func (w *workspace) synchronizer(project string, logger *slog.Logger) (*synchronizer.Synchronizer, error) {
	ix := sourcetrace.New(w.fs, w.markers, sourcetrace.WithLogger(logger))
	return synchronizer.New(w.fs, w.outputs, project,
		synchronizer.WithIndex(ix),
		synchronizer.WithCallback(loggingCallback{logger: logger}),
		synchronizer.WithLogger(logger),
	)
}

// lockPass takes the pass lock of project, waiting for other passes on the
// same project to finish.
func (w *workspace) lockPass(ctx context.Context, project, passID string) (*passlock.Lock, error) {
	clean, err := store.Clean(project)
	if err != nil {
		return nil, fmt.Errorf("project %q: %w", project, err)
	}
	dir := filepath.Join(w.root, filepath.FromSlash(clean))
	return passlock.Acquire(ctx, dir, passID, passlock.WithWait(passlock.DefaultPollInterval))
}

// runPlan runs p as one locked pass.
func (w *workspace) runPlan(ctx context.Context, p *plan.Plan) (plan.Result, error) {
	passID := uuid.NewString()
	logger := w.logger.With("pass_id", passID)

	syn, err := w.synchronizer(p.Project, logger)
	if err != nil {
		return plan.Result{PassID: passID}, err
	}
	lock, err := w.lockPass(ctx, p.Project, passID)
	if err != nil {
		return plan.Result{PassID: passID}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("release pass lock failed", "path", lock.Path(), "error", err)
		}
	}()

	return plan.Run(ctx, p, syn, plan.WithPassID(passID), plan.WithLogger(w.logger))
}

// loggingCallback reports file changes of a pass.
type loggingCallback struct {
	logger *slog.Logger
}

func (c loggingCallback) AfterCreate(_ context.Context, p string) {
	c.logger.Info("generated file created", "path", p)
}

func (c loggingCallback) AfterUpdate(_ context.Context, p string) {
	c.logger.Info("generated file updated", "path", p)
}

func (c loggingCallback) BeforeDelete(_ context.Context, p string) bool {
	c.logger.Info("deleting generated file", "path", p)
	return true
}
