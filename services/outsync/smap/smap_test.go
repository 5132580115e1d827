// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package smap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/outsync/services/outsync/region"
)

func TestBuild_SingleLocation(t *testing.T) {
	r := region.New(0, 30, 1, 3, region.Location{SourceURI: "src://Foo.dsl", StartLine: 3, EndLine: 5})

	got, ok := Build(r, "A.java")
	require.True(t, ok)

	want := strings.Join([]string{
		"SMAP",
		"A.java",
		"Outsync",
		"*S Outsync",
		"*F",
		"+ 1 Foo.dsl",
		"Foo.dsl",
		"*L",
		"3#1,3:1",
		"*E",
		"",
	}, "\n")
	assert.Equal(t, want, got)
}

func TestBuild_MergesContiguousStripes(t *testing.T) {
	uri := "platform:/resource/proj/src/Foo.dsl"
	root := region.New(0, 20, 1, 2)
	root.AddChild(region.New(0, 10, 1, 1, region.Location{SourceURI: uri, StartLine: 10, EndLine: 10}))
	root.AddChild(region.New(10, 10, 2, 2, region.Location{SourceURI: uri, StartLine: 11, EndLine: 11}))

	got, ok := Build(root, "A.java")
	require.True(t, ok)
	assert.Contains(t, got, "+ 1 Foo.dsl\nproj/src/Foo.dsl\n")
	assert.Contains(t, got, "*L\n10#1,2:1\n*E\n")
}

func TestBuild_DistinctFilesAreNotMerged(t *testing.T) {
	root := region.New(0, 20, 1, 2)
	root.AddChild(region.New(0, 10, 1, 1, region.Location{SourceURI: "src://A.dsl", StartLine: 1, EndLine: 1}))
	root.AddChild(region.New(10, 10, 2, 2, region.Location{SourceURI: "src://B.dsl", StartLine: 2, EndLine: 2}))

	got, ok := Build(root, "X.java")
	require.True(t, ok)
	assert.Contains(t, got, "+ 1 A.dsl\nA.dsl\n+ 2 B.dsl\nB.dsl\n")
	assert.Contains(t, got, "*L\n1#1:1\n2#2:2\n*E\n")
}

func TestBuild_UnevenSpansUseIncrement(t *testing.T) {
	r := region.New(0, 50, 4, 6, region.Location{SourceURI: "src://Foo.dsl", StartLine: 7, EndLine: 7})

	got, ok := Build(r, "A.java")
	require.True(t, ok)
	assert.Contains(t, got, "*L\n7#1:4,3\n*E\n")
}

func TestBuild_DuplicateStripesCollapse(t *testing.T) {
	loc := region.Location{SourceURI: "src://Foo.dsl", StartLine: 2, EndLine: 2}
	root := region.New(0, 10, 1, 1, loc)
	root.AddChild(region.New(0, 5, 1, 1, loc))

	got, ok := Build(root, "A.java")
	require.True(t, ok)
	assert.Equal(t, 1, strings.Count(got, "2#1:1"))
}

func TestBuild_NoUsableData(t *testing.T) {
	tests := []struct {
		name string
		r    *region.Region
	}{
		{"nil region", nil},
		{"no locations", region.New(0, 10, 1, 1)},
		{"location without uri", region.New(0, 10, 1, 1, region.Location{StartLine: 1, EndLine: 1})},
		{"location without lines", region.New(0, 10, 1, 1, region.Location{SourceURI: "src://A.dsl"})},
		{"region without lines", region.New(0, 10, 0, 0, region.Location{SourceURI: "src://A.dsl", StartLine: 1, EndLine: 1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := Build(tt.r, "A.java")
			assert.False(t, ok)
		})
	}
}

func TestBuilder_CustomStratum(t *testing.T) {
	r := region.New(0, 1, 1, 1, region.Location{SourceURI: "src://Foo.dsl", StartLine: 1, EndLine: 1})
	got, ok := Builder{Stratum: "MyDsl"}.Build(r, "A.java")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(got, "SMAP\nA.java\nMyDsl\n*S MyDsl\n"))
}
