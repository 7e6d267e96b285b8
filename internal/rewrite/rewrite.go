// Package rewrite implements the Wasm coverage instrumentation pass (C2):
// parse a canister image, inject the AFL-style edge-coverage machinery
// described in spec.md §4.2, and re-encode it. The approach mirrors how
// wazero's own frontend walks a function body instruction-by-instruction
// (internal/engine/wazevo/frontend's lowering switch) and how its
// internal/leb128 package measures varints — adapted here from read-only
// decoding to read-and-rewrite.
package rewrite

import (
	"bytes"
	"fmt"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/fuzzerr"
	"github.com/dfinity-labs/canfuzz/internal/leb128"
	"github.com/dfinity-labs/canfuzz/internal/wasm"
	"github.com/dfinity-labs/canfuzz/internal/wasm/binary"
)

const (
	apiVersionIC0      = "ic0"
	importReplyAppend  = "msg_reply_data_append"
	importReply        = "msg_reply"
	coverageExportName = "canister_update __export_coverage_for_afl"
)

// rng is the sequential draw source Instrument's helpers need; satisfied
// by *math/rand.Rand.
type rng interface {
	Intn(int) int
}

// Instrument parses wasmBytes, injects coverage instrumentation for the
// given history size, and returns the re-encoded module. It is a pure
// function of its three arguments except for its random draws: under
// StaticSeed those are a pure function of the seed, under RandomSeed they
// come from OS entropy.
func Instrument(wasmBytes []byte, historySize int, seedPolicy SeedPolicy) ([]byte, error) {
	if !coverage.ValidHistorySizes[historySize] {
		return nil, fuzzerr.New(fuzzerr.InvalidHistory, fmt.Errorf("history size %d not in {1,2,4,8}", historySize))
	}

	m, err := binary.DecodeModule(wasmBytes)
	if err != nil {
		return nil, fuzzerr.New(fuzzerr.InvalidModule, err)
	}

	origLocalFuncCount := len(m.FunctionSection)
	oldImportFuncCount := m.NumFunctionIndexes() - wasm.Index(origLocalFuncCount)

	// Step 1: inject globals.
	prevLocGlobalIdx := make([]wasm.Index, historySize)
	baseGlobalIdx := wasm.Index(len(m.GlobalSection))
	for i := 0; i < historySize; i++ {
		m.GlobalSection = append(m.GlobalSection, &wasm.Global{
			Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: true},
			Init: zeroI32Const(),
		})
		prevLocGlobalIdx[i] = baseGlobalIdx + wasm.Index(i)
	}
	memPtrGlobalIdx := baseGlobalIdx + wasm.Index(historySize)
	m.GlobalSection = append(m.GlobalSection, &wasm.Global{
		Type: &wasm.GlobalType{ValType: wasm.ValueTypeI32, Mutable: false},
		Init: zeroI32Const(),
	})

	// Step 2: ensure host imports, tracking any function-index shift this
	// causes for every already-defined local function.
	replyAppendIdx, newReplyAppend := ensureImportedFunc(m, apiVersionIC0, importReplyAppend,
		[]wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}, nil)
	replyIdx, newReply := ensureImportedFunc(m, apiVersionIC0, importReply, nil, nil)
	shift := wasm.Index(0)
	if newReplyAppend {
		shift++
	}
	if newReply {
		shift++
	}
	if shift > 0 {
		shiftLocalFunctionIndexes(m, oldImportFuncCount, shift)
	}

	// Step 3: emit the instrumentation helper, appended after every
	// original local function so its own index is fixed before step 5
	// starts emitting calls to it.
	helperTypeIdx := ensureFunctionType(m, []wasm.ValueType{wasm.ValueTypeI32}, nil)
	m.FunctionSection = append(m.FunctionSection, helperTypeIdx)
	helperFuncIdx := m.NumFunctionIndexes() - 1
	helperLocals, helperBody := buildHelperBody(prevLocGlobalIdx, memPtrGlobalIdx, historySize)
	m.CodeSection = append(m.CodeSection, &wasm.Code{LocalTypes: helperLocals, Body: helperBody})

	// Step 4: emit the coverage-export entry and export it.
	exportTypeIdx := ensureFunctionType(m, nil, nil)
	m.FunctionSection = append(m.FunctionSection, exportTypeIdx)
	exportFuncIdx := m.NumFunctionIndexes() - 1
	mapLen := uint32(coverage.MapSize * historySize)
	exportBody := buildCoverageExportBody(memPtrGlobalIdx, mapLen, replyAppendIdx, replyIdx)
	m.CodeSection = append(m.CodeSection, &wasm.Code{Body: exportBody})
	m.ExportSection = append(m.ExportSection, &wasm.Export{
		Type: wasm.ExternTypeFunc, Name: coverageExportName, Index: exportFuncIdx,
	})

	// Step 5: instrument every original local function.
	r := seedPolicy.newRand()
	for i := 0; i < origLocalFuncCount; i++ {
		code := m.CodeSection[i]
		newBody, err := instrumentFunctionBody(code.Body, r, coverage.MapSize, historySize,
			helperFuncIdx)
		if err != nil {
			return nil, fuzzerr.New(fuzzerr.InvalidModule, err)
		}
		code.Body = newBody
	}

	out := binary.EncodeModule(m)

	// Step 6: validate the re-encoded module.
	if err := Validate(m, out); err != nil {
		return nil, fuzzerr.New(fuzzerr.ValidationFailed, err)
	}
	return out, nil
}

func zeroI32Const() *wasm.ConstantExpression {
	return &wasm.ConstantExpression{Opcode: wasm.OpcodeI32Const, Data: leb128.EncodeInt32(0)}
}

// ensureFunctionType returns the index of a FunctionType matching
// (params, results), appending one if none matches.
func ensureFunctionType(m *wasm.Module, params, results []wasm.ValueType) wasm.Index {
	for i, ft := range m.TypeSection {
		if bytes.Equal(ft.Params, params) && bytes.Equal(ft.Results, results) {
			return wasm.Index(i)
		}
	}
	m.TypeSection = append(m.TypeSection, &wasm.FunctionType{Params: params, Results: results})
	return wasm.Index(len(m.TypeSection) - 1)
}

// ensureImportedFunc finds an existing import of (module, name) with a
// matching signature, or appends one. It returns the function's absolute
// index in the function index space and whether a new import was added.
func ensureImportedFunc(m *wasm.Module, module, name string, params, results []wasm.ValueType) (wasm.Index, bool) {
	funcIdx := wasm.Index(0)
	for _, imp := range m.ImportSection {
		if imp.Type != wasm.ExternTypeFunc {
			continue
		}
		if imp.Module == module && imp.Name == name {
			return funcIdx, false
		}
		funcIdx++
	}
	typeIdx := ensureFunctionType(m, params, results)
	m.ImportSection = append(m.ImportSection, &wasm.Import{
		Type: wasm.ExternTypeFunc, Module: module, Name: name, DescFunc: typeIdx,
	})
	return funcIdx, true
}

// shiftLocalFunctionIndexes adds delta to every absolute function-index
// reference that pointed at a pre-existing local function (index >=
// oldImportFuncCount), after new imports were inserted ahead of them in
// the function index space.
func shiftLocalFunctionIndexes(m *wasm.Module, oldImportFuncCount, delta wasm.Index) {
	if m.StartSection != nil && *m.StartSection >= oldImportFuncCount {
		*m.StartSection += delta
	}
	for _, es := range m.ElementSection {
		for i, idx := range es.Init {
			if idx >= oldImportFuncCount {
				es.Init[i] = idx + delta
			}
		}
	}
	for _, e := range m.ExportSection {
		if e.Type == wasm.ExternTypeFunc && e.Index >= oldImportFuncCount {
			e.Index += delta
		}
	}
	for _, code := range m.CodeSection {
		code.Body = shiftCallTargets(code.Body, oldImportFuncCount, delta)
	}
}

// shiftCallTargets rewrites every Call instruction's function-index
// immediate that targets a shifted local function, leaving everything
// else byte-identical.
func shiftCallTargets(body []byte, oldImportFuncCount, delta wasm.Index) []byte {
	insns, err := walkInstructions(body)
	if err != nil {
		// Leave unparseable bodies untouched; Instrument's final Validate
		// pass rejects the module if this matters.
		return body
	}
	var out bytes.Buffer
	pos := 0
	for _, insn := range insns {
		out.Write(body[pos:insn.Start])
		if insn.Opcode == wasm.OpcodeCall {
			idx, _, _ := leb128.LoadUint32(body[insn.Start+1 : insn.ImmEnd])
			if wasm.Index(idx) >= oldImportFuncCount {
				idx += delta
			}
			out.WriteByte(wasm.OpcodeCall)
			out.Write(leb128.EncodeUint32(idx))
		} else {
			out.Write(body[insn.Start:insn.ImmEnd])
		}
		pos = insn.ImmEnd
	}
	out.Write(body[pos:])
	return out.Bytes()
}

// buildHelperBody emits the AFL coverage-update function described in
// spec.md §4.2 step 3. Its signature is (curr_loc: i32) -> (); curr_loc
// occupies local index 0 (the parameter) and key occupies local index 1
// (the one declared local returned alongside the body).
func buildHelperBody(prevLoc []wasm.Index, memPtr wasm.Index, historySize int) ([]wasm.ValueType, []byte) {
	const currLocLocal = wasm.Index(0)
	const keyLocal = wasm.Index(1)

	var b bytes.Buffer

	// key := (curr_loc ^ prev_loc[0] ^ ... ^ prev_loc[h-1]) + mem_ptr
	emitLocalGet(&b, currLocLocal)
	for i := 0; i < historySize; i++ {
		emitGlobalGet(&b, prevLoc[i])
		b.WriteByte(0x73) // i32.xor
	}
	emitGlobalGet(&b, memPtr)
	b.WriteByte(0x6a) // i32.add
	emitLocalSet(&b, keyLocal)

	// mem[key] = (mem[key] + 1) mod 256 — store8 truncates to the low
	// byte, giving the mod-256 wraparound for free.
	emitLocalGet(&b, keyLocal)
	emitLocalGet(&b, keyLocal)
	emitMemArg(&b, wasm.OpcodeI32Load8U, 0, 0)
	b.Write([]byte{0x41, 0x01}) // i32.const 1
	b.WriteByte(0x6a)           // i32.add
	emitMemArg(&b, wasm.OpcodeI32Store8, 0, 0)

	// for i := h-1 downto 1: prev_loc[i] = prev_loc[i-1] >>> 1
	for i := historySize - 1; i >= 1; i-- {
		emitGlobalGet(&b, prevLoc[i-1])
		b.Write([]byte{0x41, 0x01}) // i32.const 1
		b.WriteByte(0x76)           // i32.shr_u
		emitGlobalSet(&b, prevLoc[i])
	}
	// prev_loc[0] = curr_loc >>> 1
	emitLocalGet(&b, currLocLocal)
	b.Write([]byte{0x41, 0x01}) // i32.const 1
	b.WriteByte(0x76)           // i32.shr_u
	emitGlobalSet(&b, prevLoc[0])

	b.WriteByte(wasm.OpcodeEnd)
	return []wasm.ValueType{wasm.ValueTypeI32}, b.Bytes()
}

func emitLocalGet(b *bytes.Buffer, idx wasm.Index) {
	b.WriteByte(wasm.OpcodeLocalGet)
	b.Write(leb128.EncodeUint32(idx))
}

func emitLocalSet(b *bytes.Buffer, idx wasm.Index) {
	b.WriteByte(wasm.OpcodeLocalSet)
	b.Write(leb128.EncodeUint32(idx))
}

func emitGlobalGet(b *bytes.Buffer, idx wasm.Index) {
	b.WriteByte(wasm.OpcodeGlobalGet)
	b.Write(leb128.EncodeUint32(idx))
}

func emitGlobalSet(b *bytes.Buffer, idx wasm.Index) {
	b.WriteByte(wasm.OpcodeGlobalSet)
	b.Write(leb128.EncodeUint32(idx))
}

func emitMemArg(b *bytes.Buffer, op byte, align, offset uint32) {
	b.WriteByte(op)
	b.Write(leb128.EncodeUint32(align))
	b.Write(leb128.EncodeUint32(offset))
}

// buildCoverageExportBody emits the exported entry point from spec.md
// §4.2 step 4: reply with the whole coverage region, then zero it.
func buildCoverageExportBody(memPtr wasm.Index, mapLen uint32, replyAppendIdx, replyIdx wasm.Index) []byte {
	var b bytes.Buffer
	emitGlobalGet(&b, memPtr)
	b.WriteByte(wasm.OpcodeI32Const)
	b.Write(leb128.EncodeInt32(int32(mapLen)))
	b.WriteByte(wasm.OpcodeCall)
	b.Write(leb128.EncodeUint32(replyAppendIdx))

	b.WriteByte(wasm.OpcodeCall)
	b.Write(leb128.EncodeUint32(replyIdx))

	// memory.fill(mem_ptr, 0, mapLen) — the one 0xFC-prefixed instruction
	// this codebase ever emits, and the one immediateLength (walk.go)
	// measures, so Validate can walk this body like any other.
	emitGlobalGet(&b, memPtr)
	b.Write([]byte{0x41, 0x00}) // i32.const 0
	b.WriteByte(wasm.OpcodeI32Const)
	b.Write(leb128.EncodeInt32(int32(mapLen)))
	b.WriteByte(0xFC)
	b.Write(leb128.EncodeUint32(11)) // memory.fill sub-opcode
	b.WriteByte(0x00)                // reserved memidx

	b.WriteByte(wasm.OpcodeEnd)
	return b.Bytes()
}

// instrumentFunctionBody rewrites one original local function's body per
// spec.md §4.2 step 5: an entry-edge call, an edge call after every
// control opener, and an edge call before every branch/exit instruction.
// Every original instruction, Call included, is copied unchanged: call
// targets were already shifted by shiftLocalFunctionIndexes.
func instrumentFunctionBody(body []byte, r rng, mapSize, historySize int, helperFuncIdx wasm.Index) ([]byte, error) {
	insns, err := walkInstructions(body)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	emitEdgeCall(&out, uint32(r.Intn(mapSize*historySize)), helperFuncIdx)

	pos := 0
	for _, insn := range insns {
		if isBranchExit(insn.Opcode) {
			emitEdgeCall(&out, uint32(r.Intn(mapSize*historySize)), helperFuncIdx)
		}

		out.Write(body[insn.Start:insn.ImmEnd])
		pos = insn.ImmEnd

		if isControlOpener(insn.Opcode) {
			emitEdgeCall(&out, uint32(r.Intn(mapSize*historySize)), helperFuncIdx)
		}
	}
	out.Write(body[pos:])
	return out.Bytes(), nil
}

func emitEdgeCall(b *bytes.Buffer, currLoc uint32, helperFuncIdx wasm.Index) {
	b.WriteByte(wasm.OpcodeI32Const)
	b.Write(leb128.EncodeInt32(int32(currLoc)))
	b.WriteByte(wasm.OpcodeCall)
	b.Write(leb128.EncodeUint32(helperFuncIdx))
}
