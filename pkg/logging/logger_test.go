// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"Error", LevelError, false},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFromSlogLevel(t *testing.T) {
	tests := []struct {
		in   slog.Level
		want Level
	}{
		{slog.LevelDebug, LevelDebug},
		{slog.LevelInfo, LevelInfo},
		{slog.LevelInfo + 2, LevelInfo},
		{slog.LevelWarn, LevelWarn},
		{slog.LevelError, LevelError},
		{slog.LevelError + 4, LevelError},
	}
	for _, tt := range tests {
		if got := fromSlogLevel(tt.in); got != tt.want {
			t.Errorf("fromSlogLevel(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "outsync", Output: &buf})
	defer logger.Close()

	logger.Debug("hidden")
	logger.Info("pass finished", "synchronized", 3)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message leaked at info level: %s", out)
	}
	for _, want := range []string{"pass finished", "synchronized=3", "service=outsync"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q: %s", want, out)
		}
	}
}

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Service: "outsync", JSON: true, Output: &buf})
	defer logger.Close()

	logger.With("pass_id", "p-1").Debug("file unchanged", "path", "proj/src-gen/A.java")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %s", err, buf.String())
	}
	if rec["msg"] != "file unchanged" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["pass_id"] != "p-1" {
		t.Errorf("pass_id = %v", rec["pass_id"])
	}
	if rec["service"] != "outsync" {
		t.Errorf("service = %v", rec["service"])
	}
}

func TestNew_Quiet(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelDebug, Quiet: true, Output: &buf})
	defer logger.Close()

	logger.Error("nobody hears this")
	if buf.Len() != 0 {
		t.Errorf("quiet logger wrote %q", buf.String())
	}
}

func TestNew_LogFile(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{Level: LevelInfo, Service: "outsync", Quiet: true, LogDir: dir})
	logger.Info("written to file", "n", 1)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	name := "outsync_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"written to file"`) {
		t.Errorf("log file missing entry: %s", data)
	}
}

func TestNew_Exporter(t *testing.T) {
	exp := NewRingExporter(16, LevelDebug)
	logger := New(Config{Level: LevelInfo, Service: "outsync", Quiet: true, Exporter: exp})
	defer logger.Close()

	logger.Debug("below level")
	logger.Slog().With("component", "synchronizer").WithGroup("file").Warn("trace write failed", "path", "a._trace")

	entries := exp.Entries()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}
	e := entries[0]
	if e.Level != LevelWarn {
		t.Errorf("Level = %v, want WARN", e.Level)
	}
	if e.Message != "trace write failed" {
		t.Errorf("Message = %q", e.Message)
	}
	if e.Service != "outsync" {
		t.Errorf("Service = %q", e.Service)
	}
	if e.Attrs["component"] != "synchronizer" {
		t.Errorf("component attr = %v", e.Attrs["component"])
	}
	if e.Attrs["file.path"] != "a._trace" {
		t.Errorf("file.path attr = %v (attrs %v)", e.Attrs["file.path"], e.Attrs)
	}
	if _, ok := e.Attrs["service"]; ok {
		t.Errorf("service should not be duplicated into attrs")
	}
}

func TestRingExporter_KeepsNewestAboveMin(t *testing.T) {
	exp := NewRingExporter(2, LevelWarn)
	logger := New(Config{Level: LevelDebug, Quiet: true, Exporter: exp})
	defer logger.Close()

	logger.Info("ignored")
	logger.Warn("first")
	logger.Error("second")
	logger.Warn("third")

	entries := exp.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Message != "second" || entries[1].Message != "third" {
		t.Errorf("messages = %q, %q; want second, third", entries[0].Message, entries[1].Message)
	}
}

func TestLogger_CloseTwice(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: NewRingExporter(1, LevelInfo), LogDir: t.TempDir()})
	if err := logger.Close(); err != nil {
		t.Fatalf("first Close() error = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath(/var/log) = %q", got)
	}
}

func TestAutoJSON_RegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if !AutoJSON(f) {
		t.Error("AutoJSON(regular file) = false, want true")
	}
}
