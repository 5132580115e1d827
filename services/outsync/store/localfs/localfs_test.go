// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/outsync/services/outsync/storage/badger"
	"github.com/AleutianAI/outsync/services/outsync/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(t.TempDir(), db)
	require.NoError(t, err)
	return s
}

func readAll(t *testing.T, s *Store, p string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), p)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestNew_RequiresMeta(t *testing.T) {
	_, err := New(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestStore_CreateWriteDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, store.EnsureContainer(ctx, s, "proj/src-gen/pkg"))
	isDir, err := s.IsContainer(ctx, "proj/src-gen")
	require.NoError(t, err)
	assert.True(t, isDir)

	require.NoError(t, s.Create(ctx, "proj/src-gen/pkg/A.java", strings.NewReader("class A {}")))
	err = s.Create(ctx, "proj/src-gen/pkg/A.java", strings.NewReader("again"))
	assert.ErrorIs(t, err, store.ErrExists)
	assert.Equal(t, "class A {}", readAll(t, s, "proj/src-gen/pkg/A.java"))

	require.NoError(t, s.Write(ctx, "proj/src-gen/pkg/A.java", strings.NewReader("class A { int x; }"), true))
	assert.Equal(t, "class A { int x; }", readAll(t, s, "proj/src-gen/pkg/A.java"))

	entries, err := os.ReadDir(filepath.Join(s.Root(), "proj", "src-gen", "pkg"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")

	require.NoError(t, s.Delete(ctx, "proj/src-gen/pkg/A.java", true))
	ok, err := s.Exists(ctx, "proj/src-gen/pkg/A.java")
	require.NoError(t, err)
	assert.False(t, ok)

	hist, err := s.History(ctx, "proj/src-gen/pkg/A.java")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, []byte("class A { int x; }"), hist[0].Data)
}

func TestStore_WriteWithoutOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Write(ctx, "A.txt", strings.NewReader("a"), false))
	err := s.Write(ctx, "A.txt", strings.NewReader("b"), false)
	assert.ErrorIs(t, err, store.ErrExists)
}

func TestStore_MissingParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Create(ctx, "missing/A.java", strings.NewReader(""))
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, err, store.ErrStoreFailure)

	err = s.CreateContainer(ctx, "missing/deeper")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_PathTraversal(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Exists(ctx, "../outside")
	assert.ErrorIs(t, err, store.ErrPathTraversal)

	err = s.Create(ctx, "proj/../../x", strings.NewReader(""))
	assert.ErrorIs(t, err, store.ErrPathTraversal)
}

func TestStore_Derived(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Create(ctx, "A.java", strings.NewReader("")))

	derived, err := s.IsDerived(ctx, "A.java")
	require.NoError(t, err)
	assert.False(t, derived)

	require.NoError(t, s.SetDerived(ctx, "A.java", true))
	derived, err = s.IsDerived(ctx, "A.java")
	require.NoError(t, err)
	assert.True(t, derived)

	require.NoError(t, s.SetDerived(ctx, "A.java", false))
	derived, err = s.IsDerived(ctx, "A.java")
	require.NoError(t, err)
	assert.False(t, derived)

	_, err = s.IsDerived(ctx, "B.java")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_DeleteClearsDerived(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Create(ctx, "A.java", strings.NewReader("x")))
	require.NoError(t, s.SetDerived(ctx, "A.java", true))
	require.NoError(t, s.Delete(ctx, "A.java", false))

	require.NoError(t, s.Create(ctx, "A.java", strings.NewReader("y")))
	derived, err := s.IsDerived(ctx, "A.java")
	require.NoError(t, err)
	assert.False(t, derived)

	hist, err := s.History(ctx, "A.java")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestStore_Encoding(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.SetEncoding(ctx, "proj", "ISO-8859-1"))
	require.NoError(t, s.SetEncoding(ctx, "proj/utf", "UTF-16"))

	tests := []struct {
		path string
		want string
	}{
		{"proj/A.java", "ISO-8859-1"},
		{"proj/utf/B.java", "UTF-16"},
		{"proj/utfx/C.java", "ISO-8859-1"},
		{"other/D.java", store.DefaultEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := s.Encoding(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_Touch(t *testing.T) {
	ctx := context.Background()
	db, err := badger.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	fixed := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	s, err := New(t.TempDir(), db, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	require.NoError(t, s.Create(ctx, "A.smap", strings.NewReader("SMAP")))
	require.NoError(t, s.Touch(ctx, "A.smap"))

	info, err := os.Stat(filepath.Join(s.Root(), "A.smap"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(fixed))

	err = s.Touch(ctx, "missing.smap")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "A.smap", true))
	hist, err := s.History(ctx, "A.smap")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].DeletedAt.Equal(fixed))
	assert.Equal(t, []byte("SMAP"), hist[0].Data)
}

func TestStore_Rel(t *testing.T) {
	s := newTestStore(t)
	rel, err := s.Rel(filepath.Join(s.Root(), "proj", "A.java"))
	require.NoError(t, err)
	assert.Equal(t, "proj/A.java", rel)

	_, err = s.Rel(filepath.Dir(s.Root()))
	assert.ErrorIs(t, err, store.ErrPathTraversal)
}
