package rewrite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/canfuzz/internal/leb128"
	"github.com/dfinity-labs/canfuzz/internal/wasm"
	"github.com/dfinity-labs/canfuzz/internal/wasm/binary"
)

// Every fixture declares a one-page memory: the instrumentation helper
// and coverage-export functions both touch linear memory (load8u/store8,
// memory.fill), matching the real assumption that every IC canister
// already owns a linear memory the instrumentation mirrors into.
func emptyModule() []byte {
	return binary.EncodeModule(&wasm.Module{MemorySection: &wasm.Memory{Min: 1}})
}

func oneFunctionModule(body []byte) []byte {
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{{}},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []*wasm.Code{{Body: body}},
		MemorySection:   &wasm.Memory{Min: 1},
	}
	return binary.EncodeModule(m)
}

// E1: empty module, history=2.
func TestInstrumentEmptyModuleHistory2(t *testing.T) {
	out, err := Instrument(emptyModule(), 2, StaticSeed(1))
	require.NoError(t, err)

	m, err := binary.DecodeModule(out)
	require.NoError(t, err)

	require.Len(t, m.GlobalSection, 3)
	assert.True(t, m.GlobalSection[0].Type.Mutable)
	assert.True(t, m.GlobalSection[1].Type.Mutable)
	assert.False(t, m.GlobalSection[2].Type.Mutable)
	for _, g := range m.GlobalSection {
		assert.Equal(t, wasm.ValueTypeI32, g.Type.ValType)
		assert.Equal(t, byte(wasm.OpcodeI32Const), g.Init.Opcode)
	}

	// Only the helper and the coverage-export entry exist.
	require.Len(t, m.FunctionSection, 2)
	require.Len(t, m.CodeSection, 2)
}

// E2 (structural form): one function with `block nop end`, history=2.
// The literal constants 17486/69016 are an artifact of the original Rust
// RNG (see SPEC_FULL.md §8); this test checks the instruction shape the
// rule produces instead.
func TestInstrumentBlockNopEnd(t *testing.T) {
	body := []byte{wasm.OpcodeBlock, 0x40, wasm.OpcodeNop, wasm.OpcodeEnd, wasm.OpcodeEnd}
	out, err := Instrument(oneFunctionModule(body), 2, StaticSeed(42))
	require.NoError(t, err)

	m, err := binary.DecodeModule(out)
	require.NoError(t, err)

	helperIdx := m.NumFunctionIndexes() - 2
	got := m.CodeSection[0].Body

	// The i32.const operand is RNG-derived and intentionally not asserted
	// byte-exact; only the instruction shape is checked.
	assert.Equal(t, wasm.OpcodeI32Const, got[0])

	// call helper
	idx := 1
	n, err := leb128.ScanLength(got[idx:])
	require.NoError(t, err)
	idx += n
	assert.Equal(t, wasm.OpcodeCall, got[idx])
	idx++
	callIdx, n, err := leb128.LoadUint32(got[idx:])
	require.NoError(t, err)
	assert.Equal(t, helperIdx, callIdx)
	idx += n

	// block $void
	assert.Equal(t, wasm.OpcodeBlock, got[idx])
	idx++
	assert.Equal(t, byte(0x40), got[idx])
	idx++

	// edge call right after the block opener
	assert.Equal(t, wasm.OpcodeI32Const, got[idx])
	idx++
	n, err = leb128.ScanLength(got[idx:])
	require.NoError(t, err)
	idx += n
	assert.Equal(t, wasm.OpcodeCall, got[idx])
	idx++
	callIdx, n, err = leb128.LoadUint32(got[idx:])
	require.NoError(t, err)
	assert.Equal(t, helperIdx, callIdx)
	idx += n

	assert.Equal(t, wasm.OpcodeNop, got[idx])
	idx++
	assert.Equal(t, wasm.OpcodeEnd, got[idx])
	idx++
	assert.Equal(t, wasm.OpcodeEnd, got[idx])
	idx++
	assert.Equal(t, len(got), idx)
}

// E3: Return instrumentation — the edge call precedes Return, not follows.
func TestInstrumentReturn(t *testing.T) {
	body := []byte{wasm.OpcodeReturn, wasm.OpcodeEnd}
	out, err := Instrument(oneFunctionModule(body), 1, StaticSeed(7))
	require.NoError(t, err)

	m, err := binary.DecodeModule(out)
	require.NoError(t, err)
	got := m.CodeSection[0].Body

	// entry edge call, then a second edge call, then Return, then End.
	idx := 0
	for i := 0; i < 2; i++ {
		require.Equal(t, wasm.OpcodeI32Const, got[idx])
		idx++
		n, err := leb128.ScanLength(got[idx:])
		require.NoError(t, err)
		idx += n
		require.Equal(t, wasm.OpcodeCall, got[idx])
		idx++
		n, err = leb128.ScanLength(got[idx:])
		require.NoError(t, err)
		idx += n
	}
	assert.Equal(t, wasm.OpcodeReturn, got[idx])
	idx++
	assert.Equal(t, wasm.OpcodeEnd, got[idx])
	idx++
	assert.Equal(t, len(got), idx)
}

// Property 1 (a valid module instruments and passes Validate) and property
// 4 (determinism).
func TestInstrumentDeterministicUnderStaticSeed(t *testing.T) {
	body := []byte{
		wasm.OpcodeBlock, 0x40,
		wasm.OpcodeBr, 0x00,
		wasm.OpcodeEnd,
		wasm.OpcodeEnd,
	}
	for _, h := range []int{1, 2, 4, 8} {
		a, err := Instrument(oneFunctionModule(body), h, StaticSeed(99))
		require.NoError(t, err)
		b, err := Instrument(oneFunctionModule(body), h, StaticSeed(99))
		require.NoError(t, err)
		assert.Equal(t, a, b, "history size %d", h)
	}
}

func TestInstrumentRejectsBadHistorySize(t *testing.T) {
	_, err := Instrument(emptyModule(), 3, StaticSeed(1))
	require.Error(t, err)
}

func TestInstrumentExportSignature(t *testing.T) {
	out, err := Instrument(emptyModule(), 4, StaticSeed(1))
	require.NoError(t, err)
	m, err := binary.DecodeModule(out)
	require.NoError(t, err)

	e := m.FindExport(coverageExportName)
	require.NotNil(t, e)
	ft := m.TypeOfFunction(e.Index)
	require.NotNil(t, ft)
	assert.Empty(t, ft.Params)
	assert.Empty(t, ft.Results)
}
