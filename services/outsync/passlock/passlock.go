// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package passlock enforces one writing generation pass per output root.
//
// # Description
//
// A pass takes an advisory, exclusive flock(2) on "<root>/.outsync.lock"
// before it synchronizes anything under root, and records who holds it.
// Locks are released on Release, on file close and on process exit, so a
// crashed pass never leaves a stuck lock behind.
//
// # Thread Safety
//
// A Lock is owned by one goroutine. Distinct roots may be locked
// concurrently.
package passlock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the lock file created in the output root.
const FileName = ".outsync.lock"

// DefaultPollInterval is how often a waiting Acquire retries.
const DefaultPollInterval = 100 * time.Millisecond

var (
	// ErrLocked is returned when another pass holds the lock.
	ErrLocked = errors.New("output root is locked by another pass")

	// ErrReleased is returned when releasing a lock twice.
	ErrReleased = errors.New("lock already released")
)

// Holder describes the pass holding a lock.
type Holder struct {
	PID      int       `json:"pid"`
	PassID   string    `json:"pass_id"`
	LockedAt time.Time `json:"locked_at"`
}

// LockError reports a lock conflict on Path.
type LockError struct {
	Path string

	// Holder is the recorded holder, nil if it could not be read.
	Holder *Holder

	Err error
}

func (e *LockError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("%s: %v (pid %d, pass %s)", e.Path, e.Err, e.Holder.PID, e.Holder.PassID)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Lock is a held pass lock.
type Lock struct {
	f    *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

type options struct {
	wait     bool
	interval time.Duration
}

// Option configures Acquire.
type Option func(*options)

// WithWait makes Acquire retry until the lock is free or ctx is done.
func WithWait(interval time.Duration) Option {
	return func(o *options) {
		o.wait = true
		if interval > 0 {
			o.interval = interval
		}
	}
}

// Acquire locks root for the pass passID.
//
// Description:
//
//	Creates root if needed and takes the lock. Without WithWait a held
//	lock fails immediately with a *LockError wrapping ErrLocked.
//
// Outputs:
//
//	*Lock - Release it when the pass is done.
//	error - *LockError on conflict, ctx error when waiting was cancelled.
func Acquire(ctx context.Context, root, passID string, opts ...Option) (*Lock, error) {
	o := options{interval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create output root %s: %w", root, err)
	}
	lockPath := filepath.Join(root, FileName)

	for {
		l, err := tryAcquire(lockPath, passID)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, ErrLocked) || !o.wait {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", lockPath, ctx.Err())
		case <-time.After(o.interval):
		}
	}
}

func tryAcquire(lockPath, passID string) (*Lock, error) {
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lockPath, err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, &LockError{Path: lockPath, Holder: ReadHolder(lockPath), Err: ErrLocked}
		}
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}

	holder := Holder{PID: os.Getpid(), PassID: passID, LockedAt: time.Now().UTC()}
	data, err := json.Marshal(holder)
	if err == nil {
		if err = f.Truncate(0); err == nil {
			_, err = f.WriteAt(data, 0)
		}
	}
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("write lock holder: %w", err)
	}
	return &Lock{f: f, path: lockPath}, nil
}

// Release unlocks and closes the lock file. The file itself stays so that
// waiting passes keep locking the same inode.
func (l *Lock) Release() error {
	if l.f == nil {
		return ErrReleased
	}
	f := l.f
	l.f = nil
	if err := f.Truncate(0); err != nil {
		unlockFile(f)
		f.Close()
		return fmt.Errorf("clear lock holder: %w", err)
	}
	uerr := unlockFile(f)
	cerr := f.Close()
	return errors.Join(uerr, cerr)
}

// ReadHolder returns the recorded holder of lockPath, or nil.
func ReadHolder(lockPath string) *Holder {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return nil
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil
	}
	return &h
}
