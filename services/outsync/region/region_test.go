// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package region

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Region {
	root := New(0, 100, 1, 10, Location{SourceURI: "platform:/resource/p/Foo.dsl", StartLine: 1, EndLine: 8})
	a := New(0, 40, 1, 4, Location{SourceURI: "platform:/resource/p/Foo.dsl", StartLine: 2, EndLine: 3})
	a.AddChild(New(5, 10, 2, 2, Location{SourceURI: "platform:/resource/p/Bar.dsl", StartLine: 7, EndLine: 7}))
	b := New(40, 60, 5, 10)
	root.AddChild(a).AddChild(b)
	return root
}

func TestRegion_WalkOrder(t *testing.T) {
	root := sampleTree()

	var offsets []int
	root.Walk(func(r *Region) bool {
		offsets = append(offsets, r.Offset)
		return true
	})

	assert.Equal(t, []int{0, 0, 5, 40}, offsets)
	assert.Equal(t, 4, root.Count())
}

func TestRegion_WalkStops(t *testing.T) {
	root := sampleTree()
	visited := 0
	root.Walk(func(r *Region) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}

func TestRegion_NilWalk(t *testing.T) {
	var r *Region
	assert.Equal(t, 0, r.Count())
	assert.Empty(t, r.SourceURIs())
	assert.NoError(t, r.Validate())
}

func TestRegion_SourceURIs(t *testing.T) {
	uris := sampleTree().SourceURIs()
	assert.Equal(t, []string{"platform:/resource/p/Foo.dsl", "platform:/resource/p/Bar.dsl"}, uris)
}

func TestRegion_Validate(t *testing.T) {
	t.Run("valid tree", func(t *testing.T) {
		require.NoError(t, sampleTree().Validate())
	})

	t.Run("child outside parent", func(t *testing.T) {
		root := New(0, 10, 1, 1)
		root.AddChild(New(5, 10, 1, 1))
		err := root.Validate()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidRegion))
	})

	t.Run("overlapping siblings", func(t *testing.T) {
		root := New(0, 20, 1, 2)
		root.AddChild(New(0, 10, 1, 1)).AddChild(New(5, 10, 1, 2))
		assert.ErrorIs(t, root.Validate(), ErrInvalidRegion)
	})
}

func TestContent_Tags(t *testing.T) {
	plain := PlainText("x")
	assert.Equal(t, KindPlain, plain.Kind())
	_, ok := plain.Region()
	assert.False(t, ok)

	r := New(0, 1, 1, 1)
	traced := TracedText("y", r)
	assert.Equal(t, KindTraced, traced.Kind())
	got, ok := traced.Region()
	require.True(t, ok)
	assert.Same(t, r, got)

	_, ok = TracedText("z", nil).Region()
	assert.False(t, ok, "nil region is not a produced trace")

	swapped := traced.WithText("other")
	assert.Equal(t, "other", swapped.Text())
	assert.Equal(t, KindTraced, swapped.Kind())
	assert.Equal(t, "y", traced.Text())
}
