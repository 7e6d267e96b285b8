package rewrite

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/dfinity-labs/canfuzz/internal/leb128"
	"github.com/dfinity-labs/canfuzz/internal/wasm"
)

// Validate checks the structural invariants spec.md §3 requires of a
// rewritten module — every call targets a valid function index, every
// global reference is in range, every branch target stays within the
// enclosing block nesting, and the coverage export has the right shape —
// then hands the re-encoded bytes to wazero's own compiler
// (wazero.Runtime.CompileModule) for the full static validation pass
// spec.md §4.2 step 6 calls "the standard Wasm validator": type-stack
// checking and block-signature checking that this package's own walker
// has no need to duplicate, exactly as _examples/tetratelabs-wazero's own
// runtime_test.go uses CompileModule for compile-only validation with no
// host-import resolution or execution involved.
func Validate(m *wasm.Module, encoded []byte) error {
	numFuncs := m.NumFunctionIndexes()
	numGlobals := m.NumGlobalIndexes()

	for i, code := range m.CodeSection {
		insns, err := walkInstructions(code.Body)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		if len(insns) == 0 || insns[len(insns)-1].Opcode != wasm.OpcodeEnd {
			return fmt.Errorf("function %d: body does not end with End", i)
		}
		if err := checkBranchDepths(code.Body, insns); err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		for _, insn := range insns {
			switch insn.Opcode {
			case wasm.OpcodeCall:
				idx, _, _ := loadIdx(code.Body, insn)
				if idx >= numFuncs {
					return fmt.Errorf("function %d: call targets out-of-range function index %d", i, idx)
				}
			case wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
				idx, _, _ := loadIdx(code.Body, insn)
				if idx >= numGlobals {
					return fmt.Errorf("function %d: global reference out of range: %d", i, idx)
				}
			}
		}
	}

	e := m.FindExport(coverageExportName)
	if e == nil {
		return fmt.Errorf("missing coverage export %q", coverageExportName)
	}
	if e.Type != wasm.ExternTypeFunc {
		return fmt.Errorf("coverage export %q is not a function", coverageExportName)
	}
	if ft := m.TypeOfFunction(e.Index); ft == nil || len(ft.Params) != 0 || len(ft.Results) != 0 {
		return fmt.Errorf("coverage export %q does not have type () -> ()", coverageExportName)
	}

	return validateWithWazero(encoded)
}

// validateWithWazero compiles encoded with wazero, which performs full
// static validation (type-stack checking, block-signature checking,
// branch-depth checking, and everything else the core Wasm spec requires)
// without instantiating the module or resolving any host imports.
func validateWithWazero(encoded []byte) error {
	ctx := context.Background()
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	compiled, err := rt.CompileModule(ctx, encoded)
	if err != nil {
		return fmt.Errorf("standard Wasm validator: %w", err)
	}
	return compiled.Close(ctx)
}

func loadIdx(body []byte, insn instruction) (wasm.Index, int, error) {
	v, n, err := leb128.LoadUint32(body[insn.Start+1:])
	return wasm.Index(v), int(n), err
}

// checkBranchDepths walks insns with an explicit block-nesting depth
// stack and rejects any Br/BrIf/BrTable label index that is not strictly
// less than the current nesting depth at that point in the stream —
// spec.md §3's "every branch target is within enclosing control-structure
// depth" invariant. walkInstructions itself only measures instruction
// boundaries and deliberately doesn't track nesting (see its own doc
// comment), so this pass re-walks the same instruction list maintaining
// the stack the instrumentation pass never needed.
func checkBranchDepths(body []byte, insns []instruction) error {
	depth := 1 // the function body itself is the outermost label: br 0 at top level is in range
	for _, insn := range insns {
		switch insn.Opcode {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			depth++
		case wasm.OpcodeEnd:
			if depth > 0 {
				depth--
			}
		case wasm.OpcodeBr, wasm.OpcodeBrIf:
			label, _, err := leb128.LoadUint32(body[insn.Start+1 : insn.ImmEnd])
			if err != nil {
				return err
			}
			if int(label) >= depth {
				return fmt.Errorf("branch target %d exceeds enclosing block depth %d at offset %d", label, depth, insn.Start)
			}
		case wasm.OpcodeBrTable:
			labels, defaultLabel, err := decodeBrTableLabels(body, insn)
			if err != nil {
				return err
			}
			for _, label := range labels {
				if int(label) >= depth {
					return fmt.Errorf("branch table target %d exceeds enclosing block depth %d at offset %d", label, depth, insn.Start)
				}
			}
			if int(defaultLabel) >= depth {
				return fmt.Errorf("branch table default target %d exceeds enclosing block depth %d at offset %d", defaultLabel, depth, insn.Start)
			}
		}
	}
	return nil
}

// decodeBrTableLabels parses a BrTable instruction's label vector and
// default label from the raw body bytes spanned by insn.
func decodeBrTableLabels(body []byte, insn instruction) ([]uint32, uint32, error) {
	rest := body[insn.Start+1 : insn.ImmEnd]
	count, n, err := leb128.LoadUint32(rest)
	if err != nil {
		return nil, 0, err
	}
	pos := n
	labels := make([]uint32, 0, count)
	for i := uint32(0); i < count; i++ {
		label, ln, err := leb128.LoadUint32(rest[pos:])
		if err != nil {
			return nil, 0, err
		}
		labels = append(labels, label)
		pos += ln
	}
	defaultLabel, _, err := leb128.LoadUint32(rest[pos:])
	if err != nil {
		return nil, 0, err
	}
	return labels, defaultLabel, nil
}
