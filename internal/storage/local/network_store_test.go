// Package local_test tests the local network store.
package local_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/citenet/internal/citation"
	"github.com/JakeFAU/citenet/internal/id/uuid"
	"github.com/JakeFAU/citenet/internal/storage/local"
)

func sampleSubgraph(seed string) *citation.Subgraph {
	return &citation.Subgraph{
		Seed:     seed,
		Status:   citation.StatusExhausted,
		MaxDepth: 2,
		MaxNodes: 100,
		Nodes: []citation.Node{
			{ID: seed, DOI: seed, Year: 2010, Field: "Psychology"},
			{ID: "10.1/ref", DOI: "10.1/ref", Depth: 1},
		},
		Edges:        []citation.Edge{{Source: seed, Target: "10.1/ref"}},
		DepthReached: 1,
	}
}

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "networks_raw", "chunk_03")
		store, err := local.New(local.Config{BaseDir: dir}, uuid.New())
		require.NoError(t, err)
		assert.Equal(t, dir, store.Dir())
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{}, uuid.New())
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file}, uuid.New())
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("permission bits are not enforced for root")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		_, err := local.New(local.Config{BaseDir: tempDir}, uuid.New())
		assert.Error(t, err)
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(tempDir, 0o700))
	})
}

func TestOpen(t *testing.T) {
	t.Run("MissingDirIsNotCreated", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "networks_raw", "chunk_03")
		store, err := local.Open(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.NoDirExists(t, dir)

		ok, err := store.Exists("10.1/a")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoDirExists(t, dir)
	})

	t.Run("SeesCompletedFiles", func(t *testing.T) {
		dir := t.TempDir()
		writer, err := local.New(local.Config{BaseDir: dir}, uuid.New())
		require.NoError(t, err)
		_, err = writer.Put(context.Background(), sampleSubgraph("10.1/a"))
		require.NoError(t, err)

		reader, err := local.Open(local.Config{BaseDir: dir})
		require.NoError(t, err)
		ok, err := reader.Exists("10.1/a")
		require.NoError(t, err)
		assert.True(t, ok)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("RejectsWrites", func(t *testing.T) {
		store, err := local.Open(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		_, err = store.Put(context.Background(), sampleSubgraph("10.1/a"))
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.Open(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestKey(t *testing.T) {
	a := local.Key("10.1000/ABC(def)")
	b := local.Key("https://doi.org/10.1000/abc(def)")
	assert.Equal(t, a, b, "keys use the normalized doi")
	assert.True(t, strings.HasPrefix(a, "10.1000_abc_def_"))
	assert.NotContains(t, a, "/")

	// Distinct DOIs that sanitize identically still get distinct keys.
	assert.NotEqual(t, local.Key("10.1/a-b"), local.Key("10.1/a_b"))

	long := local.Key("10.1/" + strings.Repeat("x", 500))
	assert.LessOrEqual(t, len(long), 96+1+16)
}

func TestPutGetExists(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, uuid.New())
	require.NoError(t, err)

	sg := sampleSubgraph("10.1/seed")
	ok, err := store.Exists(sg.Seed)
	require.NoError(t, err)
	assert.False(t, ok)

	uri, err := store.Put(context.Background(), sg)
	require.NoError(t, err)
	assert.Equal(t, "file://"+store.Path(sg.Seed), uri)

	ok, err = store.Exists(sg.Seed)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := store.Get(sg.Seed)
	require.NoError(t, err)
	assert.Equal(t, sg, loaded)

	info, err := os.Stat(store.Path(sg.Seed))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestPutRejectsEmptySeed(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, uuid.New())
	require.NoError(t, err)
	_, err = store.Put(context.Background(), &citation.Subgraph{})
	assert.Error(t, err)
}

func TestCrashBeforeRenameLeavesNoFinalFile(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir}, uuid.New())
	require.NoError(t, err)

	crash := errors.New("simulated crash")
	var leftover string
	local.SetBeforeRename(store, func(tmp string) error {
		leftover = tmp
		return crash
	})

	sg := sampleSubgraph("10.1/seed")
	_, err = store.Put(context.Background(), sg)
	require.ErrorIs(t, err, crash)
	assert.FileExists(t, leftover)

	ok, err := store.Exists(sg.Seed)
	require.NoError(t, err)
	assert.False(t, ok, "a partial write never counts as complete")

	restarted, err := local.New(local.Config{BaseDir: dir}, uuid.New())
	require.NoError(t, err)
	removed, err := restarted.CleanTemp()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, leftover)

	_, err = restarted.Put(context.Background(), sg)
	require.NoError(t, err)
	loaded, err := restarted.Get(sg.Seed)
	require.NoError(t, err)
	assert.Equal(t, sg, loaded)
}

func TestPutAbandonedOnCancel(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, uuid.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Put(ctx, sampleSubgraph("10.1/seed"))
	require.ErrorIs(t, err, context.Canceled)

	ok, err := store.Exists("10.1/seed")
	require.NoError(t, err)
	assert.False(t, ok)
	removed, err := store.CleanTemp()
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCleanTempKeepsCompletedFiles(t *testing.T) {
	store, err := local.New(local.Config{BaseDir: t.TempDir()}, uuid.New())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := store.Put(context.Background(), sampleSubgraph(fmt.Sprintf("10.1/s%d", i)))
		require.NoError(t, err)
	}
	removed, err := store.CleanTemp()
	require.NoError(t, err)
	assert.Zero(t, removed)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
