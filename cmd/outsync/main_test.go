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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/outsync/pkg/logging"
)

const testOutputs = `
outputs:
  - name: DEFAULT_OUTPUT
    directory: src-gen
`

const testPlan = `
generator: statemachine
project: demo
artifacts:
  - file: A.java
    contents: "class A {}\n"
    trace:
      offset: 0
      length: 11
      startLine: 1
      endLine: 1
      locations:
        - uri: platform:/resource/demo/src/A.sm
          startLine: 3
          endLine: 3
  - file: notes.txt
    contentsFile: notes.tmpl
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0750))
	require.NoError(t, os.WriteFile(name, []byte(data), 0644))
	return name
}

type testEnv struct {
	root    string
	outputs string
	plan    string
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		root:    filepath.Join(dir, "root"),
		outputs: writeFile(t, filepath.Join(dir, "outputs.yaml"), testOutputs),
		plan:    writeFile(t, filepath.Join(dir, "plans", "demo.yaml"), testPlan),
	}
	writeFile(t, filepath.Join(dir, "plans", "notes.tmpl"), "generated notes\n")
	writeFile(t, filepath.Join(env.root, "demo", "src", "A.sm"), "machine A")
	return env
}

func TestSync_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	gen := filepath.Join(env.root, "demo", "src-gen")

	out, err := execute(t, "sync", "--root", env.root, "--outputs", env.outputs, env.plan)
	require.NoError(t, err)
	assert.Contains(t, out, "SYNCHRONIZED")
	assert.Contains(t, out, env.plan)

	data, err := os.ReadFile(filepath.Join(gen, "A.java"))
	require.NoError(t, err)
	assert.Equal(t, "class A {}\n", string(data))
	data, err = os.ReadFile(filepath.Join(gen, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "generated notes\n", string(data))
	assert.FileExists(t, filepath.Join(gen, "A.java._trace"))
	assert.FileExists(t, filepath.Join(gen, "A.smap"))
	assert.NoFileExists(t, filepath.Join(gen, "notes.txt._trace"))

	// Markers survive the process: the state directory is on disk.
	out, err = execute(t, "markers", "--root", env.root, "demo/src/A.sm")
	require.NoError(t, err)
	assert.Contains(t, out, "generator: statemachine")
	assert.Contains(t, out, "demo/src-gen/A.java._trace")

	out, err = execute(t, "trace", "dump", filepath.Join(gen, "A.java._trace"))
	require.NoError(t, err)
	assert.Contains(t, out, "uri: platform:/resource/demo/src/A.sm")

	out, err = execute(t, "trace", "dump", "--json", filepath.Join(gen, "A.java._trace"))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.EqualValues(t, 11, decoded["length"])
}

func TestSync_RerunIsStable(t *testing.T) {
	env := newTestEnv(t)
	_, err := execute(t, "sync", "--root", env.root, "--outputs", env.outputs, env.plan)
	require.NoError(t, err)

	target := filepath.Join(env.root, "demo", "src-gen", "A.java")
	before, err := os.ReadFile(target)
	require.NoError(t, err)

	_, err = execute(t, "sync", "--root", env.root, "--outputs", env.outputs, env.plan)
	require.NoError(t, err)
	after, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSync_ConcurrentProjects(t *testing.T) {
	env := newTestEnv(t)
	dir := filepath.Dir(env.plan)
	other := writeFile(t, filepath.Join(dir, "other.yaml"), `
project: other
artifacts:
  - file: B.txt
    contents: b
`)

	out, err := execute(t, "sync", "--root", env.root, "--outputs", env.outputs, env.plan, other)
	require.NoError(t, err)
	assert.Contains(t, out, other)
	assert.FileExists(t, filepath.Join(env.root, "demo", "src-gen", "A.java"))
	assert.FileExists(t, filepath.Join(env.root, "other", "src-gen", "B.txt"))
}

func TestSync_InvalidPlanRunsNothing(t *testing.T) {
	env := newTestEnv(t)
	bad := writeFile(t, filepath.Join(filepath.Dir(env.plan), "bad.yaml"), "artifacts:\n  - file: x\n")

	_, err := execute(t, "sync", "--root", env.root, "--outputs", env.outputs, env.plan, bad)
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(env.root, "demo", "src-gen", "A.java"))
}

func TestDelete(t *testing.T) {
	env := newTestEnv(t)
	gen := filepath.Join(env.root, "demo", "src-gen")
	_, err := execute(t, "sync", "--root", env.root, "--outputs", env.outputs, env.plan)
	require.NoError(t, err)

	out, err := execute(t, "delete", "--root", env.root, "--outputs", env.outputs, "--project", "demo", "A.java")
	require.NoError(t, err)
	assert.Equal(t, "A.java\n", out)

	assert.NoFileExists(t, filepath.Join(gen, "A.java"))
	assert.NoFileExists(t, filepath.Join(gen, "A.java._trace"))
	assert.FileExists(t, filepath.Join(gen, "A.smap"))

	out, err = execute(t, "history", "--root", env.root, "demo/src-gen/A.java")
	require.NoError(t, err)
	assert.Contains(t, out, "VERSION")
	assert.Contains(t, out, "1 ")

	out, err = execute(t, "history", "--root", env.root, "--show", "1", "demo/src-gen/A.java")
	require.NoError(t, err)
	assert.Equal(t, "class A {}\n", out)

	_, err = execute(t, "history", "--root", env.root, "--show", "2", "demo/src-gen/A.java")
	assert.Error(t, err)
}

func TestRoot_InvalidLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "trace", "dump", "x")
	assert.Error(t, err)
}

func TestTraceDump_NotATraceFile(t *testing.T) {
	name := writeFile(t, filepath.Join(t.TempDir(), "x._trace"), "not a trace")
	_, err := execute(t, "trace", "dump", name)
	assert.Error(t, err)
}

func TestPlanDependencies(t *testing.T) {
	env := newTestEnv(t)
	plan, err := filepath.Abs(env.plan)
	require.NoError(t, err)
	broken := writeFile(t, filepath.Join(filepath.Dir(plan), "broken.yaml"), "nope: [")

	deps := planDependencies([]string{plan, broken}, slog.Default())
	assert.Equal(t, []string{plan}, deps[plan])
	assert.Equal(t, []string{plan}, deps[filepath.Join(filepath.Dir(plan), "notes.tmpl")])
	assert.Equal(t, []string{broken}, deps[broken])
	assert.Len(t, deps, 3)
}

func TestStatusRouter(t *testing.T) {
	recent := logging.NewRingExporter(recentProblems, logging.LevelWarn)
	logger := logging.New(logging.Config{Level: logging.LevelInfo, Quiet: true, Exporter: recent})
	defer logger.Close()
	status := &watchStatus{recent: recent}
	router := newStatusRouter(status)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["passes"])

	status.record(2, errors.New("disk full"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "disk full", body["last_error"])
	assert.EqualValues(t, 2, body["passes"])
	assert.Empty(t, body["recent_problems"])

	logger.Info("pass finished")
	logger.Error("watch pass failed", "error", "disk full")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	problems, ok := body["recent_problems"].([]any)
	require.True(t, ok, "recent_problems is a list: %v", body["recent_problems"])
	require.Len(t, problems, 1)
	assert.Equal(t, "watch pass failed", problems[0].(map[string]any)["message"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
