package canfuzz

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/canfuzz/internal/registry"
	"github.com/dfinity-labs/canfuzz/internal/rewrite"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
	"github.com/dfinity-labs/canfuzz/internal/wasm"
	"github.com/dfinity-labs/canfuzz/internal/wasm/binary"
)

func writeEmptyModule(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	// The instrumented helper/export functions touch linear memory, so
	// the image must already declare one, matching a real canister.
	m := &wasm.Module{MemorySection: &wasm.Memory{Min: 1}}
	require.NoError(t, os.WriteFile(path, binary.EncodeModule(m), 0o644))
	return path
}

func TestBuilderBuildsCampaignAgainstFakeSimulator(t *testing.T) {
	dir := t.TempDir()
	covPath := writeEmptyModule(t, dir, "cov.wasm")

	sim := simulator.NewFake()
	cfg := NewCampaignConfig().
		WithHistorySize(2).
		WithSeedPolicy(rewrite.StaticSeed(1)).
		WithExecTimeout(100 * time.Millisecond)

	state, err := NewFuzzerStateBuilder("demo", sim).
		WithConfig(cfg).
		WithCanister(&registry.Entry{Name: "cov", Role: registry.Coverage, Image: registry.ImageSource{Path: covPath}}).
		Build(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "demo", state.Name)
	assert.NotEmpty(t, state.Registry.CoverageEntry().AssignedID)
	assert.Equal(t, 2, state.CovMap.HistorySize())
}

func TestBuilderFailsWithoutExactlyOneCoverageCanister(t *testing.T) {
	sim := simulator.NewFake()
	_, err := NewFuzzerStateBuilder("demo", sim).Build(context.Background())
	assert.Error(t, err)
}

func TestBuilderFailsOnMissingWasmImage(t *testing.T) {
	sim := simulator.NewFake()
	_, err := NewFuzzerStateBuilder("demo", sim).
		WithCanister(&registry.Entry{Name: "cov", Role: registry.Coverage, Image: registry.ImageSource{Path: "/nonexistent.wasm"}}).
		Build(context.Background())
	assert.Error(t, err)
}

func TestBuilderWithRNGSeedIsReproducible(t *testing.T) {
	dir := t.TempDir()
	covPath := writeEmptyModule(t, dir, "cov.wasm")

	build := func() *FuzzerState {
		sim := simulator.NewFake()
		state, err := NewFuzzerStateBuilder("demo", sim).
			WithCanister(&registry.Entry{Name: "cov", Role: registry.Coverage, Image: registry.ImageSource{Path: covPath}}).
			WithRNGSeed(7).
			Build(context.Background())
		require.NoError(t, err)
		return state
	}

	a := build()
	b := build()
	ma := a.Loop.Stats()
	mb := b.Loop.Stats()
	assert.Equal(t, ma.Executions, mb.Executions)
}
