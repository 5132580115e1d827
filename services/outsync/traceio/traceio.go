// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package traceio encodes trace region trees into the compact form stored in
// "._trace" files and decodes them back.
//
// # Format
//
// The stream is a sequence of msgpack values:
//
//	"otrc"                  magic
//	1                       format version
//	[uri, uri, ...]         source URI table
//	node                    root region, pre-order
//
// where each node is
//
//	[offset, length, startLine, endLine]
//	[[uriIndex, startLine, startColumn, endLine, endColumn], ...]
//	childCount
//	child nodes...
//
// A uriIndex of -1 stands for a location without a URI. Sharing URIs through
// the table keeps files small when one source feeds many regions.
//
// # Guarantee
//
// Read(Write(t)) reproduces the shape and location data of t exactly.
package traceio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/outsync/services/outsync/region"
)

const (
	magic = "otrc"

	// Version is the format version written by this package.
	Version = 1

	// maxDepth bounds the nesting of a tree, root at depth 0. Write refuses
	// deeper trees so that everything written can be read back.
	maxDepth = 4096

	// preallocCap caps slice preallocation driven by decoded lengths.
	preallocCap = 1024
)

var (
	// ErrCorrupt is returned when the input is not a valid trace stream.
	ErrCorrupt = errors.New("corrupt trace data")

	// ErrUnsupportedVersion is returned for streams written by a newer format.
	ErrUnsupportedVersion = errors.New("unsupported trace format version")

	// ErrNilRegion is returned when asked to encode a nil tree.
	ErrNilRegion = errors.New("nil trace region")

	// ErrTooDeep is returned when asked to encode a tree nested deeper than
	// the decoder accepts.
	ErrTooDeep = errors.New("trace region nested too deeply")
)

// Write encodes r to w.
func Write(w io.Writer, r *region.Region) error {
	if r == nil {
		return ErrNilRegion
	}
	if tooDeep(r, 0) {
		return fmt.Errorf("%w: limit %d", ErrTooDeep, maxDepth)
	}
	enc := msgpack.NewEncoder(w)

	table := newURITable(r)

	if err := enc.EncodeString(magic); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := enc.EncodeInt(Version); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := enc.EncodeArrayLen(len(table.uris)); err != nil {
		return fmt.Errorf("write uri table: %w", err)
	}
	for _, u := range table.uris {
		if err := enc.EncodeString(u); err != nil {
			return fmt.Errorf("write uri table: %w", err)
		}
	}
	if err := writeNode(enc, table, r); err != nil {
		return fmt.Errorf("write region: %w", err)
	}
	return nil
}

// Marshal encodes r into a byte slice.
func Marshal(r *region.Region) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read decodes a tree previously written by Write.
func Read(rd io.Reader) (*region.Region, error) {
	dec := msgpack.NewDecoder(rd)

	m, err := dec.DecodeString()
	if err != nil {
		return nil, fmt.Errorf("%w: read magic: %v", ErrCorrupt, err)
	}
	if m != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorrupt, m)
	}
	v, err := dec.DecodeInt()
	if err != nil {
		return nil, fmt.Errorf("%w: read version: %v", ErrCorrupt, err)
	}
	if v != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	n, err := dec.DecodeArrayLen()
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: read uri table: %v", ErrCorrupt, err)
	}
	uris := make([]string, 0, min(n, preallocCap))
	for i := 0; i < n; i++ {
		u, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("%w: read uri %d: %v", ErrCorrupt, i, err)
		}
		uris = append(uris, u)
	}

	root, err := readNode(dec, uris, 0)
	if err != nil {
		return nil, err
	}
	return root, nil
}

// Unmarshal decodes a tree from data.
func Unmarshal(data []byte) (*region.Region, error) {
	return Read(bytes.NewReader(data))
}

// uriTable assigns stable indices to the URIs of one tree.
type uriTable struct {
	uris  []string
	index map[string]int
}

func newURITable(r *region.Region) *uriTable {
	t := &uriTable{index: make(map[string]int)}
	for _, u := range r.SourceURIs() {
		t.index[u] = len(t.uris)
		t.uris = append(t.uris, u)
	}
	return t
}

func (t *uriTable) lookup(uri string) int {
	if uri == "" {
		return -1
	}
	return t.index[uri]
}

func tooDeep(r *region.Region, depth int) bool {
	if depth > maxDepth {
		return true
	}
	for _, c := range r.Children {
		if c != nil && tooDeep(c, depth+1) {
			return true
		}
	}
	return false
}

func writeNode(enc *msgpack.Encoder, t *uriTable, r *region.Region) error {
	if err := encodeInts(enc, r.Offset, r.Length, r.StartLine, r.EndLine); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(r.Locations)); err != nil {
		return err
	}
	for _, loc := range r.Locations {
		err := encodeInts(enc, t.lookup(loc.SourceURI), loc.StartLine, loc.StartColumn, loc.EndLine, loc.EndColumn)
		if err != nil {
			return err
		}
	}

	children := make([]*region.Region, 0, len(r.Children))
	for _, c := range r.Children {
		if c != nil {
			children = append(children, c)
		}
	}
	if err := enc.EncodeInt(int64(len(children))); err != nil {
		return err
	}
	for _, c := range children {
		if err := writeNode(enc, t, c); err != nil {
			return err
		}
	}
	return nil
}

func encodeInts(enc *msgpack.Encoder, vals ...int) error {
	if err := enc.EncodeArrayLen(len(vals)); err != nil {
		return err
	}
	for _, v := range vals {
		if err := enc.EncodeInt(int64(v)); err != nil {
			return err
		}
	}
	return nil
}

func decodeInts(dec *msgpack.Decoder, want int) ([]int, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != want {
		return nil, fmt.Errorf("expected %d fields, got %d", want, n)
	}
	vals := make([]int, n)
	for i := range vals {
		if vals[i], err = dec.DecodeInt(); err != nil {
			return nil, err
		}
	}
	return vals, nil
}

func readNode(dec *msgpack.Decoder, uris []string, depth int) (*region.Region, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrCorrupt, maxDepth)
	}
	span, err := decodeInts(dec, 4)
	if err != nil {
		return nil, fmt.Errorf("%w: read span: %v", ErrCorrupt, err)
	}
	r := region.New(span[0], span[1], span[2], span[3])

	nloc, err := dec.DecodeArrayLen()
	if err != nil || nloc < 0 {
		return nil, fmt.Errorf("%w: read locations: %v", ErrCorrupt, err)
	}
	if nloc > 0 {
		r.Locations = make([]region.Location, 0, min(nloc, preallocCap))
	}
	for i := 0; i < nloc; i++ {
		f, err := decodeInts(dec, 5)
		if err != nil {
			return nil, fmt.Errorf("%w: read location: %v", ErrCorrupt, err)
		}
		loc := region.Location{StartLine: f[1], StartColumn: f[2], EndLine: f[3], EndColumn: f[4]}
		switch {
		case f[0] == -1:
		case f[0] >= 0 && f[0] < len(uris):
			loc.SourceURI = uris[f[0]]
		default:
			return nil, fmt.Errorf("%w: uri index %d out of range", ErrCorrupt, f[0])
		}
		r.Locations = append(r.Locations, loc)
	}

	nchild, err := dec.DecodeInt()
	if err != nil || nchild < 0 {
		return nil, fmt.Errorf("%w: read child count: %v", ErrCorrupt, err)
	}
	if nchild > 0 {
		r.Children = make([]*region.Region, 0, min(nchild, preallocCap))
	}
	for i := 0; i < nchild; i++ {
		c, err := readNode(dec, uris, depth+1)
		if err != nil {
			return nil, err
		}
		r.Children = append(r.Children, c)
	}
	return r, nil
}
