package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/canfuzz/internal/rewrite"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

func TestNewRequiresExactlyOneCoverageEntry(t *testing.T) {
	_, err := New([]*Entry{
		{Name: "a", Role: Support},
		{Name: "b", Role: Support},
	})
	assert.Error(t, err)

	_, err = New([]*Entry{
		{Name: "a", Role: Coverage},
		{Name: "b", Role: Coverage},
	})
	assert.Error(t, err)

	r, err := New([]*Entry{
		{Name: "a", Role: Coverage},
		{Name: "b", Role: Support},
	})
	require.NoError(t, err)
	assert.Equal(t, "a", r.CoverageEntry().Name)
}

func TestNewRejectsDuplicateNames(t *testing.T) {
	_, err := New([]*Entry{
		{Name: "dup", Role: Coverage},
		{Name: "dup", Role: Support},
	})
	assert.Error(t, err)
}

func TestNewForcesInstrumentOnCoverageRole(t *testing.T) {
	r, err := New([]*Entry{{Name: "cov", Role: Coverage, Instrument: false}})
	require.NoError(t, err)
	assert.True(t, r.ByName("cov").Instrument)
}

func TestSetupStopsAtCoverageEntryBeforeSupportEntry(t *testing.T) {
	dir := t.TempDir()
	covWasm := filepath.Join(dir, "cov.wasm")
	supWasm := filepath.Join(dir, "support.wasm")
	require.NoError(t, os.WriteFile(supWasm, []byte("support-bytes"), 0o644))
	require.NoError(t, os.WriteFile(covWasm, []byte("cov-bytes"), 0o644))

	r, err := New([]*Entry{
		{Name: "cov", Role: Coverage, Image: ImageSource{Path: covWasm}},
		{Name: "sup", Role: Support, Image: ImageSource{Path: supWasm}, Instrument: false},
	})
	require.NoError(t, err)

	sim := simulator.NewFake()
	// The Coverage entry would need a real Wasm module to instrument; use
	// a fake simulator and a deliberately-invalid Coverage image so Setup
	// fails fast on the Coverage entry, confirming it was the instrumented
	// one attempted while the Support entry never reaches InstallCode.
	err = Setup(context.Background(), sim, r, 0, RewriteParams{HistorySize: 2, SeedPolicy: rewrite.StaticSeed(1)})
	assert.Error(t, err, "cov-bytes is not a valid Wasm module")
	assert.False(t, r.ByName("sup").assigned, "support entry is processed after coverage in declaration order")
}

func TestSetupRejectsMissingWasmFile(t *testing.T) {
	r, err := New([]*Entry{
		{Name: "cov", Role: Coverage, Image: ImageSource{Path: "/nonexistent/path.wasm"}},
	})
	require.NoError(t, err)

	sim := simulator.NewFake()
	err = Setup(context.Background(), sim, r, 0, RewriteParams{HistorySize: 2, SeedPolicy: rewrite.StaticSeed(1)})
	assert.Error(t, err)
}

func TestSetupRejectsDoubleInstall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c.wasm")
	require.NoError(t, os.WriteFile(path, []byte("irrelevant"), 0o644))

	e := &Entry{Name: "cov", Role: Coverage, Image: ImageSource{Path: path}}
	r, err := New([]*Entry{e})
	require.NoError(t, err)

	// Mark as already assigned to exercise the re-Setup guard without
	// needing a real instrumentable module.
	e.assigned = true
	sim := simulator.NewFake()
	err = Setup(context.Background(), sim, r, 0, RewriteParams{HistorySize: 2, SeedPolicy: rewrite.StaticSeed(1)})
	assert.Error(t, err)
}

func TestImageSourceResolvesFromEnvVar(t *testing.T) {
	t.Setenv("CANFUZZ_TEST_IMAGE", "/tmp/from-env.wasm")
	src := ImageSource{EnvVar: "CANFUZZ_TEST_IMAGE"}
	p, err := src.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-env.wasm", p)
}

func TestImageSourceResolveFailsWithNeither(t *testing.T) {
	_, err := ImageSource{}.Resolve()
	assert.Error(t, err)
}

func TestByNameMissingReturnsNil(t *testing.T) {
	r, err := New([]*Entry{{Name: "only", Role: Coverage}})
	require.NoError(t, err)
	assert.Nil(t, r.ByName("missing"))
}
