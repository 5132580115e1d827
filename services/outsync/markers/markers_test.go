// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package markers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/outsync/services/outsync/storage/badger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestStore_InstallReplaces(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Install(ctx, "proj/src/Foo.dsl", "default",
		[]string{"proj/src-gen/B.java._trace", "proj/src-gen/A.java._trace"}))

	got, err := s.Lookup(ctx, "proj/src/Foo.dsl")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "default", got[0].Generator)
	assert.Equal(t, []string{"proj/src-gen/A.java._trace", "proj/src-gen/B.java._trace"}, got[0].Traces)

	require.NoError(t, s.Install(ctx, "proj/src/Foo.dsl", "default", []string{"proj/src-gen/C.java._trace"}))
	got, err = s.Lookup(ctx, "proj/src/Foo.dsl")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"proj/src-gen/C.java._trace"}, got[0].Traces)
}

func TestStore_GeneratorsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Install(ctx, "p/Foo.dsl", "java", []string{"p/gen/A.java._trace"}))
	require.NoError(t, s.Install(ctx, "p/Foo.dsl", "docs", []string{"p/gen/A.md._trace"}))
	require.NoError(t, s.Install(ctx, "p/Foo.dsl.bak", "java", []string{"p/gen/X._trace"}))

	got, err := s.Lookup(ctx, "p/Foo.dsl")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "docs", got[0].Generator)
	assert.Equal(t, "java", got[1].Generator)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStore_InstallEmptyRemoves(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Install(ctx, "p/Foo.dsl", "java", []string{"p/gen/A.java._trace"}))
	require.NoError(t, s.Install(ctx, "p/Foo.dsl", "java", nil))

	got, err := s.Lookup(ctx, "p/Foo.dsl")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_InstallRequiresSource(t *testing.T) {
	err := newStore(t).Install(context.Background(), "", "java", []string{"x"})
	assert.ErrorIs(t, err, ErrEmptySource)
}
