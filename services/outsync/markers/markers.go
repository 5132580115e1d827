// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package markers persists provenance markers: for each source file, the
// trace files produced from it, grouped by generator.
//
// A marker set is keyed by (source path, generator name). Installing a set
// replaces the previous set of the same generator on the same source, so a
// source that no longer contributes to a trace loses the stale marker on
// the next flush.
package markers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/outsync/services/outsync/storage/badger"
)

const keyPrefix = "m\x00"

// ErrEmptySource is returned when a marker is installed for an empty path.
var ErrEmptySource = errors.New("source path must not be empty")

// Marker is one installed marker set.
type Marker struct {
	// Source is the store path of the source file.
	Source string `json:"source"`

	// Generator is the name of the generator that produced the traces.
	Generator string `json:"generator"`

	// Traces are the store paths of the trace files, sorted.
	Traces []string `json:"traces"`
}

// Store keeps marker sets in a BadgerDB.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db *badger.DB
}

// New creates a marker store on db. The caller owns db.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

func key(source, generator string) []byte {
	return []byte(keyPrefix + source + "\x00" + generator)
}

// Install replaces the marker set of generator on source with traces.
// An empty traces slice removes the set.
func (s *Store) Install(ctx context.Context, source, generator string, traces []string) error {
	if source == "" {
		return ErrEmptySource
	}
	if len(traces) == 0 {
		return s.Remove(ctx, source, generator)
	}
	sorted := append([]string(nil), traces...)
	sort.Strings(sorted)
	data, err := json.Marshal(sorted)
	if err != nil {
		return fmt.Errorf("encode markers for %s: %w", source, err)
	}
	if err := s.db.Set(ctx, key(source, generator), data); err != nil {
		return fmt.Errorf("install markers for %s: %w", source, err)
	}
	return nil
}

// Remove deletes the marker set of generator on source.
func (s *Store) Remove(ctx context.Context, source, generator string) error {
	if err := s.db.Delete(ctx, key(source, generator)); err != nil {
		return fmt.Errorf("remove markers for %s: %w", source, err)
	}
	return nil
}

// Lookup returns every marker set installed on source, ordered by generator.
func (s *Store) Lookup(ctx context.Context, source string) ([]Marker, error) {
	prefix := []byte(keyPrefix + source + "\x00")
	var out []Marker
	err := s.db.Scan(ctx, prefix, func(k, v []byte) error {
		var traces []string
		if err := json.Unmarshal(v, &traces); err != nil {
			return fmt.Errorf("decode markers %q: %w", k, err)
		}
		out = append(out, Marker{
			Source:    source,
			Generator: strings.TrimPrefix(string(k), string(prefix)),
			Traces:    traces,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// All returns every installed marker set, ordered by source then generator.
func (s *Store) All(ctx context.Context) ([]Marker, error) {
	var out []Marker
	err := s.db.Scan(ctx, []byte(keyPrefix), func(k, v []byte) error {
		rest := strings.TrimPrefix(string(k), keyPrefix)
		source, generator, ok := strings.Cut(rest, "\x00")
		if !ok {
			return fmt.Errorf("malformed marker key %q", k)
		}
		var traces []string
		if err := json.Unmarshal(v, &traces); err != nil {
			return fmt.Errorf("decode markers %q: %w", k, err)
		}
		out = append(out, Marker{Source: source, Generator: generator, Traces: traces})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
