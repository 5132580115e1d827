// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package region models trace regions: trees that link spans of generated
// text back to the source locations they were produced from.
//
// A Region covers a span of the generated file (Offset/Length in bytes,
// StartLine/EndLine as 1-based line numbers). Children are non-overlapping
// and nested inside their parent. Traversal is depth-first pre-order, which
// matches the order in which spans appear in the generated text.
//
// Line and column values of 0 mean "unknown".
package region

import (
	"errors"
	"fmt"
)

// ErrInvalidRegion is returned by Validate when the tree violates the
// nesting invariant.
var ErrInvalidRegion = errors.New("invalid trace region")

// Location is a span in an originating source file.
type Location struct {
	// SourceURI identifies the source file, e.g. "platform:/resource/proj/src/Foo.dsl".
	SourceURI string `yaml:"uri" json:"uri"`

	StartLine   int `yaml:"startLine" json:"startLine"`
	StartColumn int `yaml:"startColumn,omitempty" json:"startColumn,omitempty"`
	EndLine     int `yaml:"endLine" json:"endLine"`
	EndColumn   int `yaml:"endColumn,omitempty" json:"endColumn,omitempty"`
}

// HasLines reports whether the location carries usable line data.
func (l Location) HasLines() bool {
	return l.StartLine > 0 && l.EndLine >= l.StartLine
}

// Region is one node of a trace region tree.
type Region struct {
	Offset    int `yaml:"offset,omitempty" json:"offset,omitempty"`
	Length    int `yaml:"length,omitempty" json:"length,omitempty"`
	StartLine int `yaml:"startLine,omitempty" json:"startLine,omitempty"`
	EndLine   int `yaml:"endLine,omitempty" json:"endLine,omitempty"`

	Locations []Location `yaml:"locations,omitempty" json:"locations,omitempty"`
	Children  []*Region  `yaml:"children,omitempty" json:"children,omitempty"`
}

// New creates a region covering the given generated span.
func New(offset, length, startLine, endLine int, locations ...Location) *Region {
	return &Region{
		Offset:    offset,
		Length:    length,
		StartLine: startLine,
		EndLine:   endLine,
		Locations: locations,
	}
}

// AddChild appends child and returns the receiver for chaining.
func (r *Region) AddChild(child *Region) *Region {
	r.Children = append(r.Children, child)
	return r
}

// HasLines reports whether the generated span has line data.
func (r *Region) HasLines() bool {
	return r.StartLine > 0 && r.EndLine >= r.StartLine
}

// Walk visits r and its descendants depth-first, pre-order. Returning false
// from fn stops the walk.
func (r *Region) Walk(fn func(*Region) bool) {
	if r == nil {
		return
	}
	r.walk(fn)
}

func (r *Region) walk(fn func(*Region) bool) bool {
	if !fn(r) {
		return false
	}
	for _, c := range r.Children {
		if c == nil {
			continue
		}
		if !c.walk(fn) {
			return false
		}
	}
	return true
}

// Count returns the number of nodes in the tree.
func (r *Region) Count() int {
	n := 0
	r.Walk(func(*Region) bool {
		n++
		return true
	})
	return n
}

// SourceURIs returns the distinct non-empty source URIs referenced by the
// tree, in first-appearance order.
func (r *Region) SourceURIs() []string {
	seen := make(map[string]struct{})
	var uris []string
	r.Walk(func(n *Region) bool {
		for _, loc := range n.Locations {
			if loc.SourceURI == "" {
				continue
			}
			if _, ok := seen[loc.SourceURI]; ok {
				continue
			}
			seen[loc.SourceURI] = struct{}{}
			uris = append(uris, loc.SourceURI)
		}
		return true
	})
	return uris
}

// Validate checks the nesting invariant: every child span lies inside its
// parent span and siblings do not overlap. Regions with zero length are
// treated as points and only need to lie inside the parent.
func (r *Region) Validate() error {
	if r == nil {
		return nil
	}
	return r.validate("root")
}

func (r *Region) validate(at string) error {
	if r.Offset < 0 || r.Length < 0 {
		return fmt.Errorf("%w: %s has negative span", ErrInvalidRegion, at)
	}
	end := r.Offset + r.Length
	prevEnd := r.Offset
	for i, c := range r.Children {
		if c == nil {
			return fmt.Errorf("%w: %s.children[%d] is nil", ErrInvalidRegion, at, i)
		}
		path := fmt.Sprintf("%s.children[%d]", at, i)
		if c.Offset < r.Offset || c.Offset+c.Length > end {
			return fmt.Errorf("%w: %s outside parent span", ErrInvalidRegion, path)
		}
		if c.Offset < prevEnd {
			return fmt.Errorf("%w: %s overlaps previous sibling", ErrInvalidRegion, path)
		}
		prevEnd = c.Offset + c.Length
		if err := c.validate(path); err != nil {
			return err
		}
	}
	return nil
}
