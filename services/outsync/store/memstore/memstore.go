// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memstore provides an ephemeral, thread-safe, in-memory
// implementation of store.Store.
//
// Besides the store contract it records every mutating operation so tests
// can assert on exactly which writes happened, keeps deleted bytes as
// history, and supports injecting failures per operation and path.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/outsync/services/outsync/store"
)

// Op is one recorded mutating operation.
type Op struct {
	Kind string
	Path string
}

type entry struct {
	dir     bool
	data    []byte
	derived bool
	stamp   int64
}

// Store is an in-memory store.Store.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*entry
	history   map[string][][]byte
	encodings map[string]string
	failures  map[Op]error
	ops       []Op
	clock     int64
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:   make(map[string]*entry),
		history:   make(map[string][][]byte),
		encodings: make(map[string]string),
		failures:  make(map[Op]error),
	}
}

// FailOn makes the next and all later operations of kind on p fail with
// err. Kinds are the method names in lower case: "open", "write",
// "create", "delete", "createcontainer", "touch", "encoding", "setderived".
func (s *Store) FailOn(kind, p string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[Op{Kind: kind, Path: p}] = err
}

// SetEncoding configures the charset for every path under prefix.
func (s *Store) SetEncoding(prefix, charset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encodings[prefix] = charset
}

// Ops returns a copy of all recorded mutating operations.
func (s *Store) Ops() []Op {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Op, len(s.ops))
	copy(out, s.ops)
	return out
}

// OpsOn returns the recorded operation kinds on p, in order.
func (s *Store) OpsOn(p string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kinds []string
	for _, op := range s.ops {
		if op.Path == p {
			kinds = append(kinds, op.Kind)
		}
	}
	return kinds
}

// ResetOps clears the operation log.
func (s *Store) ResetOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = nil
}

// Put writes a file directly, creating missing containers, without
// recording an operation. Intended for test setup.
func (s *Store) Put(p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _ = store.Clean(p)
	for dir := store.Parent(p); dir != ""; dir = store.Parent(dir) {
		if _, ok := s.entries[dir]; !ok {
			s.entries[dir] = &entry{dir: true}
		}
	}
	s.clock++
	s.entries[p] = &entry{data: append([]byte(nil), data...), stamp: s.clock}
}

// Get returns the bytes of the file at p.
func (s *Store) Get(p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok || e.dir {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}

// Stamp returns the modification stamp of p; it increases on every write
// and touch.
func (s *Store) Stamp(p string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[p]; ok {
		return e.stamp
	}
	return 0
}

// History returns the retained versions of a deleted path, oldest first.
func (s *Store) History(p string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.history[p]...)
}

// Paths returns all file paths, sorted.
func (s *Store) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for p, e := range s.entries {
		if !e.dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Exists reports whether a file or container exists at p.
func (s *Store) Exists(_ context.Context, p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := store.Clean(p)
	if err != nil {
		return false, err
	}
	if p == "" {
		return true, nil
	}
	_, ok := s.entries[p]
	return ok, nil
}

// IsContainer reports whether p is an existing container.
func (s *Store) IsContainer(_ context.Context, p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := store.Clean(p)
	if err != nil {
		return false, err
	}
	if p == "" {
		return true, nil
	}
	e, ok := s.entries[p]
	return ok && e.dir, nil
}

// Open returns the bytes of the file at p.
func (s *Store) Open(_ context.Context, p string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, p, err := s.file("open", p)
	if err != nil {
		return nil, err
	}
	if err := s.failure("open", p); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), e.data...))), nil
}

// Write replaces the bytes of the file at p.
func (s *Store) Write(_ context.Context, p string, r io.Reader, overwrite bool) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &store.Error{Op: "write", Path: p, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := store.Clean(p)
	if err != nil {
		return &store.Error{Op: "write", Path: p, Err: err}
	}
	p = clean
	if err := s.failure("write", p); err != nil {
		return err
	}
	e, ok := s.entries[p]
	switch {
	case ok && e.dir:
		return &store.Error{Op: "write", Path: p, Err: fmt.Errorf("is a container")}
	case ok && !overwrite:
		return &store.Error{Op: "write", Path: p, Err: store.ErrExists}
	case !ok:
		if err := s.parentExists("write", p); err != nil {
			return err
		}
		e = &entry{}
		s.entries[p] = e
	}
	s.clock++
	e.data = data
	e.stamp = s.clock
	s.record("write", p)
	return nil
}

// Create creates a new file at p.
func (s *Store) Create(_ context.Context, p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return &store.Error{Op: "create", Path: p, Err: err}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := store.Clean(p)
	if err != nil {
		return &store.Error{Op: "create", Path: p, Err: err}
	}
	p = clean
	if err := s.failure("create", p); err != nil {
		return err
	}
	if _, ok := s.entries[p]; ok {
		return &store.Error{Op: "create", Path: p, Err: store.ErrExists}
	}
	if err := s.parentExists("create", p); err != nil {
		return err
	}
	s.clock++
	s.entries[p] = &entry{data: data, stamp: s.clock}
	s.record("create", p)
	return nil
}

// Delete removes the file at p, retaining its bytes when keepHistory is set.
func (s *Store) Delete(_ context.Context, p string, keepHistory bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, p, err := s.file("delete", p)
	if err != nil {
		return err
	}
	if err := s.failure("delete", p); err != nil {
		return err
	}
	if keepHistory {
		s.history[p] = append(s.history[p], e.data)
	}
	delete(s.entries, p)
	s.record("delete", p)
	return nil
}

// CreateContainer creates the container p.
func (s *Store) CreateContainer(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clean, err := store.Clean(p)
	if err != nil {
		return &store.Error{Op: "create container", Path: p, Err: err}
	}
	p = clean
	if err := s.failure("createcontainer", p); err != nil {
		return err
	}
	if p == "" {
		return nil
	}
	if _, ok := s.entries[p]; ok {
		return &store.Error{Op: "create container", Path: p, Err: store.ErrExists}
	}
	if err := s.parentExists("create container", p); err != nil {
		return err
	}
	s.entries[p] = &entry{dir: true}
	s.record("createcontainer", p)
	return nil
}

// Touch bumps the modification stamp of the file at p.
func (s *Store) Touch(_ context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, p, err := s.file("touch", p)
	if err != nil {
		return err
	}
	if err := s.failure("touch", p); err != nil {
		return err
	}
	s.clock++
	e.stamp = s.clock
	s.record("touch", p)
	return nil
}

// Encoding returns the charset configured for the longest matching prefix
// of p, or store.DefaultEncoding.
func (s *Store) Encoding(_ context.Context, p string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := store.Clean(p)
	if err != nil {
		return "", err
	}
	if err := s.failure("encoding", p); err != nil {
		return "", err
	}
	best, charset := -1, store.DefaultEncoding
	for prefix, enc := range s.encodings {
		if (p == prefix || strings.HasPrefix(p, prefix+"/")) && len(prefix) > best {
			best, charset = len(prefix), enc
		}
	}
	return charset, nil
}

// IsDerived reports the derived flag of the file at p.
func (s *Store) IsDerived(_ context.Context, p string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, _, err := s.file("is derived", p)
	if err != nil {
		return false, err
	}
	return e.derived, nil
}

// SetDerived sets the derived flag of the file at p.
func (s *Store) SetDerived(_ context.Context, p string, derived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, p, err := s.file("set derived", p)
	if err != nil {
		return err
	}
	if err := s.failure("setderived", p); err != nil {
		return err
	}
	e.derived = derived
	s.record("setderived", p)
	return nil
}

// file looks up a non-container entry. Callers hold s.mu.
func (s *Store) file(op, p string) (*entry, string, error) {
	clean, err := store.Clean(p)
	if err != nil {
		return nil, p, &store.Error{Op: op, Path: p, Err: err}
	}
	p = clean
	e, ok := s.entries[p]
	if !ok || e.dir {
		return nil, p, &store.Error{Op: op, Path: p, Err: store.ErrNotFound}
	}
	return e, p, nil
}

func (s *Store) parentExists(op, p string) error {
	parent := store.Parent(p)
	if parent == "" {
		return nil
	}
	e, ok := s.entries[parent]
	if !ok {
		return &store.Error{Op: op, Path: p, Err: fmt.Errorf("parent %s: %w", parent, store.ErrNotFound)}
	}
	if !e.dir {
		return &store.Error{Op: op, Path: p, Err: store.ErrNotContainer}
	}
	return nil
}

func (s *Store) failure(kind, p string) error {
	if err, ok := s.failures[Op{Kind: kind, Path: p}]; ok {
		return &store.Error{Op: kind, Path: p, Err: err}
	}
	return nil
}

func (s *Store) record(kind, p string) {
	s.ops = append(s.ops, Op{Kind: kind, Path: p})
}
