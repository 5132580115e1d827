// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store defines the file store contract the synchronizer writes
// generated output through, and the error taxonomy shared by all stores.
//
// # Paths
//
// Paths are slash-separated and relative to the store root, e.g.
// "proj/src-gen/A.java". The first segment conventionally names a project.
// Implementations clean paths with path.Clean and reject paths escaping the
// root with ErrPathTraversal.
//
// # Implementations
//
//   - memstore: in-memory, for tests and dry runs
//   - localfs: operating system directory with embedded metadata
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// DefaultEncoding is reported for files with no configured charset.
const DefaultEncoding = "UTF-8"

// Sentinel errors for store operations.
var (
	// ErrStoreFailure matches every *Error via errors.Is.
	ErrStoreFailure = errors.New("store failure")

	// ErrNotFound is returned when a file or container does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned by Create when the target already exists.
	ErrExists = errors.New("already exists")

	// ErrNotContainer is returned when a path segment is a file but a
	// container was expected.
	ErrNotContainer = errors.New("not a container")

	// ErrPathTraversal is returned when a path escapes the store root.
	ErrPathTraversal = errors.New("path escapes store root")

	// ErrEncoding is wrapped when content cannot be encoded in a file's charset.
	ErrEncoding = errors.New("encoding failure")
)

// Error describes a failed store operation.
type Error struct {
	// Op is the operation, e.g. "create", "write", "delete".
	Op string

	// Path is the store path involved.
	Path string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrStoreFailure.
func (e *Error) Is(target error) bool {
	return target == ErrStoreFailure
}

// Wrap returns err as a *Error unless it already is one. A nil err stays nil.
func Wrap(op, p string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Path: p, Err: err}
}

// Store is the persistent file store generated output is written to.
//
// Thread Safety: implementations must be safe for concurrent use; callers
// are responsible for not racing on the same path.
type Store interface {
	// Exists reports whether a file or container exists at p.
	Exists(ctx context.Context, p string) (bool, error)

	// IsContainer reports whether p exists and is a container.
	IsContainer(ctx context.Context, p string) (bool, error)

	// Open returns the stored bytes of the file at p. Caller closes.
	Open(ctx context.Context, p string) (io.ReadCloser, error)

	// Write replaces the bytes of the file at p. When overwrite is false
	// the file must not exist yet.
	Write(ctx context.Context, p string, r io.Reader, overwrite bool) error

	// Create creates a new file at p. The parent container must exist.
	Create(ctx context.Context, p string, r io.Reader) error

	// Delete removes the file at p. With keepHistory the previous bytes
	// are retained if the store supports history.
	Delete(ctx context.Context, p string, keepHistory bool) error

	// CreateContainer creates the container p. Its parent must exist.
	CreateContainer(ctx context.Context, p string) error

	// Touch updates the modification stamp of the file at p.
	Touch(ctx context.Context, p string) error

	// Encoding resolves the charset name used for the file at p, which
	// need not exist yet.
	Encoding(ctx context.Context, p string) (string, error)

	// IsDerived reports the derived flag of the file at p.
	IsDerived(ctx context.Context, p string) (bool, error)

	// SetDerived sets the derived flag of the file at p.
	SetDerived(ctx context.Context, p string, derived bool) error
}

// Clean normalizes a store path and rejects paths escaping the root.
func Clean(p string) (string, error) {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathTraversal, p)
		}
	}
	c := strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(p)), "/")
	return c, nil
}

// Parent returns the parent path of p, or "" for top-level entries.
func Parent(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}
	return dir
}

// EnsureContainer creates p and any missing ancestors.
func EnsureContainer(ctx context.Context, s Store, p string) error {
	if p == "" {
		return nil
	}
	ok, err := s.Exists(ctx, p)
	if err != nil {
		return Wrap("exists", p, err)
	}
	if ok {
		isDir, err := s.IsContainer(ctx, p)
		if err != nil {
			return Wrap("stat", p, err)
		}
		if !isDir {
			return &Error{Op: "create container", Path: p, Err: ErrNotContainer}
		}
		return nil
	}
	if err := EnsureContainer(ctx, s, Parent(p)); err != nil {
		return err
	}
	return Wrap("create container", p, s.CreateContainer(ctx, p))
}
