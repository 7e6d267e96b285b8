package fuzzloop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorpusSeedLoadsFiles(t *testing.T) {
	seedDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "a"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "b"), []byte("world"), 0o644))

	c, err := NewCorpus(t.TempDir(), t.TempDir())
	require.NoError(t, err)

	seeded, err := c.Seed(seedDir)
	require.NoError(t, err)
	assert.Len(t, seeded, 2)
	assert.Equal(t, 2, c.Len())
}

func TestCorpusAddPersistsAndAppends(t *testing.T) {
	inputDir := t.TempDir()
	c, err := NewCorpus(inputDir, t.TempDir())
	require.NoError(t, err)

	e, err := c.Add([]byte("payload"))
	require.NoError(t, err)
	assert.NotEmpty(t, e.Path)

	onDisk, err := os.ReadFile(e.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), onDisk)
	assert.Equal(t, 1, c.Len())
}

func TestCorpusAddCrashPersistsOutsideLiveSet(t *testing.T) {
	crashesDir := t.TempDir()
	c, err := NewCorpus(t.TempDir(), crashesDir)
	require.NoError(t, err)

	path, err := c.AddCrash([]byte("boom"))
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	onDisk, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("boom"), onDisk)
	assert.Equal(t, 0, c.Len(), "crashes are not part of the live scheduling set")
}

func TestCorpusAddCrashNoopWithoutDir(t *testing.T) {
	c, err := NewCorpus(t.TempDir(), "")
	require.NoError(t, err)
	path, err := c.AddCrash([]byte("boom"))
	require.NoError(t, err)
	assert.Empty(t, path)
}
