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
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/outsync/pkg/logging"
	"github.com/AleutianAI/outsync/services/outsync/plan"
	"github.com/AleutianAI/outsync/services/outsync/telemetry"
)

// DefaultDebounce is how long watch waits after the last change before it
// re-runs the affected plans.
const DefaultDebounce = 250 * time.Millisecond

func newWatchCmd(a *app) *cobra.Command {
	var (
		metricsAddr string
		debounce    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch PLAN...",
		Short: "Run plans, then re-run each plan when it or its contents files change",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.run(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ws, err := a.openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			status := &watchStatus{recent: a.recent}
			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: newStatusRouter(status)}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						ws.logger.Error("metrics server failed", "addr", metricsAddr, "error", err)
					}
				}()
				defer func() {
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				ws.logger.Info("serving metrics", "addr", metricsAddr)
			}

			w := &watcher{ws: ws, status: status, debounce: debounce, logger: ws.logger}
			return w.run(ctx, args)
		}),
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address (e.g. :9464)")
	cmd.Flags().DurationVar(&debounce, "debounce", DefaultDebounce, "Quiet period before re-running changed plans")
	return cmd
}

// watchStatus is the pass summary reported by /healthz.
type watchStatus struct {
	mu        sync.Mutex
	passes    int
	failures  int
	lastPass  time.Time
	lastError string

	// recent holds the latest warnings and errors; nil when not logging to it.
	recent *logging.RingExporter
}

func (s *watchStatus) record(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passes += n
	s.lastPass = time.Now().UTC()
	s.lastError = ""
	if err != nil {
		s.failures++
		s.lastError = err.Error()
	}
}

func (s *watchStatus) snapshot() gin.H {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := gin.H{
		"status":   "ok",
		"passes":   s.passes,
		"failures": s.failures,
	}
	if !s.lastPass.IsZero() {
		h["last_pass"] = s.lastPass.Format(time.RFC3339)
	}
	if s.lastError != "" {
		h["status"] = "degraded"
		h["last_error"] = s.lastError
	}
	if s.recent != nil {
		problems := make([]gin.H, 0, recentProblems)
		for _, e := range s.recent.Entries() {
			problems = append(problems, gin.H{
				"time":    e.Timestamp.UTC().Format(time.RFC3339),
				"level":   e.Level.String(),
				"message": e.Message,
			})
		}
		h["recent_problems"] = problems
	}
	return h
}

// newStatusRouter serves the prometheus registry and the watch status.
func newStatusRouter(status *watchStatus) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metrics))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, status.snapshot())
	})
	return router
}

// watcher re-runs plans on file changes.
type watcher struct {
	ws       *workspace
	status   *watchStatus
	debounce time.Duration
	logger   *slog.Logger

	// deps maps an absolute file path to the plan files that read it.
	deps map[string][]string
}

func (w *watcher) run(ctx context.Context, files []string) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	abs := make([]string, len(files))
	for i, f := range files {
		if abs[i], err = filepath.Abs(f); err != nil {
			return err
		}
	}

	w.runPlans(ctx, abs)
	w.refresh(fw, abs)

	pending := make(map[string]struct{})
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name, err := filepath.Abs(ev.Name)
			if err != nil {
				continue
			}
			for _, pf := range w.deps[name] {
				pending[pf] = struct{}{}
			}
			if len(pending) > 0 {
				fire = time.After(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-fire:
			fire = nil
			changed := make([]string, 0, len(pending))
			for pf := range pending {
				changed = append(changed, pf)
			}
			clear(pending)
			sort.Strings(changed)
			w.logger.Info("re-running changed plans", "plans", changed)
			w.runPlans(ctx, changed)
			w.refresh(fw, abs)
		}
	}
}

func (w *watcher) runPlans(ctx context.Context, files []string) {
	results, err := w.ws.runPlanFiles(ctx, files)
	ran := 0
	for _, r := range results {
		if r.PassID != "" {
			ran++
		}
	}
	w.status.record(ran, err)
	if err != nil {
		w.logger.Error("watch pass failed", "error", err)
	}
}

// refresh rebuilds the dependency map and watches the directories of every
// plan and contents file. Directories are watched instead of files so that
// editors replacing files by rename keep triggering events.
func (w *watcher) refresh(fw *fsnotify.Watcher, files []string) {
	w.deps = planDependencies(files, w.logger)
	watched := make(map[string]struct{})
	for _, d := range fw.WatchList() {
		watched[d] = struct{}{}
	}
	for name := range w.deps {
		dir := filepath.Dir(name)
		if _, ok := watched[dir]; ok {
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.logger.Warn("cannot watch directory", "dir", dir, "error", err)
			continue
		}
		watched[dir] = struct{}{}
	}
}

// planDependencies maps every plan file and every contents file it reads to
// the plan files depending on it. Plans that fail to load only depend on
// themselves so that fixing them triggers a re-run.
func planDependencies(files []string, logger *slog.Logger) map[string][]string {
	deps := make(map[string][]string)
	add := func(name, planFile string) {
		deps[name] = append(deps[name], planFile)
	}
	for _, pf := range files {
		add(pf, pf)
		p, err := plan.LoadFile(pf)
		if err != nil {
			logger.Warn("plan not loadable, watching plan file only", "plan", pf, "error", err)
			continue
		}
		for _, a := range p.Artifacts {
			if a.ContentsFile == "" {
				continue
			}
			name := a.ContentsFile
			if !filepath.IsAbs(name) {
				name = filepath.Join(p.Dir(), name)
			}
			if abs, err := filepath.Abs(name); err == nil {
				add(abs, pf)
			}
		}
	}
	return deps
}
