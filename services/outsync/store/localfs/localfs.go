// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package localfs implements store.Store on an operating system directory.
//
// File bytes live in the directory tree. Metadata that plain files cannot
// carry lives in a BadgerDB instance:
//
//	d\x00<path>            derived flag ("1")
//	e\x00<prefix>          charset override for every path under prefix
//	h\x00<path>\x00<nanos> bytes of a deleted file, kept as history
package localfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/outsync/services/outsync/storage/badger"
	"github.com/AleutianAI/outsync/services/outsync/store"
)

const (
	prefixDerived  = "d\x00"
	prefixEncoding = "e\x00"
	prefixHistory  = "h\x00"
)

// Store is a store.Store rooted at an OS directory.
//
// Thread Safety: Safe for concurrent use on distinct paths.
type Store struct {
	root   string
	meta   *badger.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for non-fatal metadata problems.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used by Touch and history keys.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Store rooted at root, keeping metadata in meta.
//
// Description:
//
//	The root directory is created if missing. The caller owns meta and
//	closes it after the store is no longer used.
//
// Inputs:
//
//	root - Directory that store paths are relative to.
//	meta - Open metadata database. Must not be nil.
//
// Outputs:
//
//	*Store - The store.
//	error - Non-nil if root cannot be created or meta is nil.
func New(root string, meta *badger.DB, opts ...Option) (*Store, error) {
	if meta == nil {
		return nil, errors.New("localfs: metadata database is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("localfs: resolve root %s: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0750); err != nil {
		return nil, fmt.Errorf("localfs: create root %s: %w", abs, err)
	}
	s := &Store{root: abs, meta: meta, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string {
	return s.root
}

// Abs maps a store path to its absolute OS path.
func (s *Store) Abs(p string) (string, error) {
	c, err := store.Clean(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(c)), nil
}

// Rel maps an absolute OS path under the root back to a store path.
func (s *Store) Rel(abs string) (string, error) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", store.ErrPathTraversal, abs)
	}
	if rel == "." {
		return "", nil
	}
	return rel, nil
}

// SetEncoding records charset for every path under prefix. The longest
// matching prefix wins.
func (s *Store) SetEncoding(ctx context.Context, prefix, charset string) error {
	c, err := store.Clean(prefix)
	if err != nil {
		return store.Wrap("set encoding", prefix, err)
	}
	return store.Wrap("set encoding", c, s.meta.Set(ctx, []byte(prefixEncoding+c), []byte(charset)))
}

// Version is one retained copy of a deleted file.
type Version struct {
	DeletedAt time.Time
	Data      []byte
}

// History returns the retained versions of a deleted path, oldest first.
func (s *Store) History(ctx context.Context, p string) ([]Version, error) {
	c, err := store.Clean(p)
	if err != nil {
		return nil, store.Wrap("history", p, err)
	}
	prefix := prefixHistory + c + "\x00"
	var out []Version
	err = s.meta.Scan(ctx, []byte(prefix), func(key, value []byte) error {
		nanos, err := strconv.ParseInt(strings.TrimPrefix(string(key), prefix), 10, 64)
		if err != nil {
			return fmt.Errorf("bad history key %q: %w", key, err)
		}
		out = append(out, Version{DeletedAt: time.Unix(0, nanos).UTC(), Data: value})
		return nil
	})
	return out, store.Wrap("history", c, err)
}

// Exists reports whether a file or directory exists at p.
func (s *Store) Exists(_ context.Context, p string) (bool, error) {
	abs, err := s.Abs(p)
	if err != nil {
		return false, store.Wrap("exists", p, err)
	}
	_, err = os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, store.Wrap("exists", p, err)
	}
	return true, nil
}

// IsContainer reports whether p is an existing directory.
func (s *Store) IsContainer(_ context.Context, p string) (bool, error) {
	abs, err := s.Abs(p)
	if err != nil {
		return false, store.Wrap("stat", p, err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, store.Wrap("stat", p, err)
	}
	return info.IsDir(), nil
}

// Open opens the file at p for reading.
func (s *Store) Open(_ context.Context, p string) (io.ReadCloser, error) {
	abs, err := s.file("open", p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return nil, store.Wrap("open", p, err)
	}
	return f, nil
}

// Write replaces the file at p through a temporary sibling and rename, so
// readers never observe a partial file.
func (s *Store) Write(ctx context.Context, p string, r io.Reader, overwrite bool) error {
	abs, err := s.Abs(p)
	if err != nil {
		return store.Wrap("write", p, err)
	}
	if !overwrite {
		return s.Create(ctx, p, r)
	}
	if err := s.parentIsDir("write", p, abs); err != nil {
		return err
	}
	if info, err := os.Stat(abs); err == nil && info.IsDir() {
		return &store.Error{Op: "write", Path: p, Err: errors.New("is a container")}
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), "."+filepath.Base(abs)+".*")
	if err != nil {
		return store.Wrap("write", p, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return store.Wrap("write", p, err)
	}
	if err := tmp.Close(); err != nil {
		return store.Wrap("write", p, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return store.Wrap("write", p, err)
	}
	return store.Wrap("write", p, os.Rename(tmpName, abs))
}

// Create creates a new file at p. Fails with store.ErrExists if present.
func (s *Store) Create(_ context.Context, p string, r io.Reader) error {
	abs, err := s.Abs(p)
	if err != nil {
		return store.Wrap("create", p, err)
	}
	if err := s.parentIsDir("create", p, abs); err != nil {
		return err
	}
	f, err := os.OpenFile(abs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return &store.Error{Op: "create", Path: p, Err: store.ErrExists}
	}
	if err != nil {
		return store.Wrap("create", p, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(abs)
		return store.Wrap("create", p, err)
	}
	return store.Wrap("create", p, f.Close())
}

// Delete removes the file at p and its metadata. With keepHistory the
// previous bytes are kept in the metadata database.
func (s *Store) Delete(ctx context.Context, p string, keepHistory bool) error {
	abs, err := s.file("delete", p)
	if err != nil {
		return err
	}
	c, _ := store.Clean(p)
	if keepHistory {
		data, err := os.ReadFile(abs)
		if err != nil {
			return store.Wrap("delete", p, err)
		}
		key := fmt.Sprintf("%s%s\x00%020d", prefixHistory, c, s.now().UnixNano())
		if err := s.meta.Set(ctx, []byte(key), data); err != nil {
			return store.Wrap("delete", p, fmt.Errorf("keep history: %w", err))
		}
	}
	if err := os.Remove(abs); err != nil {
		return store.Wrap("delete", p, err)
	}
	if err := s.meta.Delete(ctx, []byte(prefixDerived+c)); err != nil {
		s.logger.Warn("localfs: failed to clear derived flag",
			slog.String("path", c),
			slog.String("error", err.Error()))
	}
	return nil
}

// CreateContainer creates the directory p. Its parent must exist.
func (s *Store) CreateContainer(_ context.Context, p string) error {
	abs, err := s.Abs(p)
	if err != nil {
		return store.Wrap("create container", p, err)
	}
	if err := s.parentIsDir("create container", p, abs); err != nil {
		return err
	}
	err = os.Mkdir(abs, 0755)
	if errors.Is(err, fs.ErrExist) {
		return &store.Error{Op: "create container", Path: p, Err: store.ErrExists}
	}
	return store.Wrap("create container", p, err)
}

// Touch sets the modification time of the file at p to now.
func (s *Store) Touch(_ context.Context, p string) error {
	abs, err := s.file("touch", p)
	if err != nil {
		return err
	}
	now := s.now()
	return store.Wrap("touch", p, os.Chtimes(abs, now, now))
}

// Encoding returns the charset of the longest configured prefix of p.
func (s *Store) Encoding(ctx context.Context, p string) (string, error) {
	c, err := store.Clean(p)
	if err != nil {
		return "", store.Wrap("encoding", p, err)
	}
	for candidate := c; ; candidate = store.Parent(candidate) {
		val, ok, err := s.meta.Get(ctx, []byte(prefixEncoding+candidate))
		if err != nil {
			return "", store.Wrap("encoding", c, err)
		}
		if ok {
			return string(val), nil
		}
		if candidate == "" {
			return store.DefaultEncoding, nil
		}
	}
}

// IsDerived reports the derived flag of the file at p.
func (s *Store) IsDerived(ctx context.Context, p string) (bool, error) {
	if _, err := s.file("is derived", p); err != nil {
		return false, err
	}
	c, _ := store.Clean(p)
	val, ok, err := s.meta.Get(ctx, []byte(prefixDerived+c))
	if err != nil {
		return false, store.Wrap("is derived", p, err)
	}
	return ok && bytes.Equal(val, []byte("1")), nil
}

// SetDerived sets the derived flag of the file at p.
func (s *Store) SetDerived(ctx context.Context, p string, derived bool) error {
	if _, err := s.file("set derived", p); err != nil {
		return err
	}
	c, _ := store.Clean(p)
	key := []byte(prefixDerived + c)
	if derived {
		return store.Wrap("set derived", p, s.meta.Set(ctx, key, []byte("1")))
	}
	return store.Wrap("set derived", p, s.meta.Delete(ctx, key))
}

// file resolves p and requires it to be an existing regular file.
func (s *Store) file(op, p string) (string, error) {
	abs, err := s.Abs(p)
	if err != nil {
		return "", store.Wrap(op, p, err)
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return "", &store.Error{Op: op, Path: p, Err: store.ErrNotFound}
	}
	if err != nil {
		return "", store.Wrap(op, p, err)
	}
	if info.IsDir() {
		return "", &store.Error{Op: op, Path: p, Err: errors.New("is a container")}
	}
	return abs, nil
}

func (s *Store) parentIsDir(op, p, abs string) error {
	info, err := os.Stat(filepath.Dir(abs))
	if errors.Is(err, fs.ErrNotExist) {
		return &store.Error{Op: op, Path: p, Err: fmt.Errorf("parent: %w", store.ErrNotFound)}
	}
	if err != nil {
		return store.Wrap(op, p, err)
	}
	if !info.IsDir() {
		return &store.Error{Op: op, Path: p, Err: store.ErrNotContainer}
	}
	return nil
}
