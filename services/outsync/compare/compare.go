// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package compare decides whether freshly generated bytes differ from the
// bytes already stored, without holding either side fully in memory.
package compare

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// DefaultBufferSize is the chunk size read from each side per step.
const DefaultBufferSize = 32 * 1024

// Comparator streams two readers in lockstep. The zero value uses
// DefaultBufferSize.
type Comparator struct {
	BufferSize int
}

// Changed reports whether existing and fresh differ. See Comparator.Changed.
func Changed(existing, fresh io.Reader) (bool, error) {
	return Comparator{}.Changed(existing, fresh)
}

// Changed reports whether existing and fresh differ.
//
// Description:
//
//	Reads both streams chunk by chunk and stops at the first differing
//	chunk or as soon as one stream ends before the other.
//
// Behavior:
//
//   - Length mismatch counts as changed.
//   - A read failure on existing is reported as changed=true with a nil
//     error, so the caller rewrites instead of skipping a needed update.
//   - A read failure on fresh is returned as an error; that content comes
//     from the generator, not the store.
func (c Comparator) Changed(existing, fresh io.Reader) (bool, error) {
	size := c.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	oldBuf := make([]byte, size)
	newBuf := make([]byte, size)

	for {
		no, errOld := io.ReadFull(existing, oldBuf)
		if errOld != nil && !isEnd(errOld) {
			return true, nil
		}
		nn, errNew := io.ReadFull(fresh, newBuf)
		if errNew != nil && !isEnd(errNew) {
			return false, fmt.Errorf("read generated content: %w", errNew)
		}

		if no != nn || !bytes.Equal(oldBuf[:no], newBuf[:nn]) {
			return true, nil
		}
		// Equal short reads mean both streams ended at the same length.
		if errOld != nil || errNew != nil {
			return false, nil
		}
	}
}

func isEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
