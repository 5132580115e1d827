// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package traceio

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AleutianAI/outsync/services/outsync/region"
)

func TestRoundTrip_SingleNode(t *testing.T) {
	r := region.New(0, 42, 1, 3, region.Location{
		SourceURI: "platform:/resource/p/Foo.dsl",
		StartLine: 3, StartColumn: 1, EndLine: 5, EndColumn: 12,
	})

	data, err := Marshal(r)
	require.NoError(t, err)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	if diff := cmp.Diff(r, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundTrip_LocationWithoutURI(t *testing.T) {
	r := region.New(0, 1, 1, 1, region.Location{StartLine: 2, EndLine: 2})
	r.AddChild(region.New(0, 1, 1, 1, region.Location{SourceURI: "a", StartLine: 1, EndLine: 1}))

	data, err := Marshal(r)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, "", got.Locations[0].SourceURI)
	assert.Equal(t, "a", got.Children[0].Locations[0].SourceURI)
}

// randomTree builds a tree with nested, non-overlapping spans.
func randomTree(rng *rand.Rand, offset, length, depth int) *region.Region {
	uris := []string{"platform:/resource/p/A.dsl", "platform:/resource/p/B.dsl", ""}
	line := 1 + offset/10
	r := region.New(offset, length, line, line+length/10)
	for i := rng.Intn(3); i > 0; i-- {
		sl := 1 + rng.Intn(50)
		r.Locations = append(r.Locations, region.Location{
			SourceURI:   uris[rng.Intn(len(uris))],
			StartLine:   sl,
			StartColumn: rng.Intn(80),
			EndLine:     sl + rng.Intn(5),
			EndColumn:   rng.Intn(80),
		})
	}
	if depth == 0 || length < 4 {
		return r
	}
	parts := rng.Intn(4)
	if parts == 0 {
		return r
	}
	step := length / parts
	for i := 0; i < parts; i++ {
		r.AddChild(randomTree(rng, offset+i*step, step/2, depth-1))
	}
	return r
}

func TestRoundTrip_RandomTrees(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		tree := randomTree(rng, 0, 1000, 5)
		require.NoError(t, tree.Validate())

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, tree))
		got, err := Read(&buf)
		require.NoError(t, err)

		assert.Equal(t, tree.Count(), got.Count())
		if diff := cmp.Diff(tree, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("tree %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func chain(n int) *region.Region {
	root := region.New(0, n, 1, 1)
	cur := root
	for i := 1; i < n; i++ {
		next := region.New(i, n-i, 1, 1)
		cur.AddChild(next)
		cur = next
	}
	return root
}

func TestRoundTrip_DepthLimit(t *testing.T) {
	deepest := chain(maxDepth + 1)
	data, err := Marshal(deepest)
	require.NoError(t, err)
	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, deepest.Count(), got.Count())

	var buf bytes.Buffer
	err = Write(&buf, chain(maxDepth+2))
	assert.ErrorIs(t, err, ErrTooDeep)
	assert.Zero(t, buf.Len(), "nothing written for a rejected tree")
}

func TestWrite_NilRegion(t *testing.T) {
	_, err := Marshal(nil)
	assert.ErrorIs(t, err, ErrNilRegion)
}

func TestRead_Errors(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		_, err := Unmarshal(nil)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("bad magic", func(t *testing.T) {
		data, err := msgpack.Marshal("nope")
		require.NoError(t, err)
		_, err = Unmarshal(data)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("future version", func(t *testing.T) {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		require.NoError(t, enc.EncodeString(magic))
		require.NoError(t, enc.EncodeInt(Version+1))
		_, err := Read(&buf)
		assert.ErrorIs(t, err, ErrUnsupportedVersion)
	})

	t.Run("truncated tree", func(t *testing.T) {
		data, err := Marshal(region.New(0, 10, 1, 2).AddChild(region.New(0, 5, 1, 1)))
		require.NoError(t, err)
		_, err = Unmarshal(data[:len(data)-3])
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("uri index out of range", func(t *testing.T) {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		require.NoError(t, enc.EncodeString(magic))
		require.NoError(t, enc.EncodeInt(Version))
		require.NoError(t, enc.EncodeArrayLen(0))
		require.NoError(t, encodeInts(enc, 0, 1, 1, 1))
		require.NoError(t, enc.EncodeArrayLen(1))
		require.NoError(t, encodeInts(enc, 3, 1, 0, 1, 0))
		require.NoError(t, enc.EncodeInt(0))
		_, err := Read(&buf)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}
