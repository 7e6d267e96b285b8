package rewrite

import (
	"fmt"

	"github.com/dfinity-labs/canfuzz/internal/leb128"
	"github.com/dfinity-labs/canfuzz/internal/wasm"
)

// errUnsupportedOpcode builds the error for a 0xFC/0xFD-prefixed
// (bulk-memory, reference types, SIMD) instruction other than memory.fill:
// out of scope per SPEC_FULL §4.
var errUnsupportedOpcode = func(op byte) error {
	return fmt.Errorf("rewrite: unsupported multi-byte-prefixed opcode %#x", op)
}

// instruction describes one decoded instruction's position in a function
// body: Start is the opcode's own offset, ImmEnd is the offset one past
// its immediate (so body[Start:ImmEnd] is the whole instruction except any
// nested body, which instruction boundaries don't need to know about).
type instruction struct {
	Opcode byte
	Start  int
	ImmEnd int
}

// isControlOpener reports whether op is one of Block/Loop/If/Else, after
// which the rewriter inserts an edge-record call (spec.md §4.2 step 5c).
func isControlOpener(op byte) bool {
	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf, wasm.OpcodeElse:
		return true
	default:
		return false
	}
}

// isBranchExit reports whether op is one of Br/BrIf/BrTable/Return, before
// which the rewriter inserts an edge-record call (spec.md §4.2 step 5d).
func isBranchExit(op byte) bool {
	switch op {
	case wasm.OpcodeBr, wasm.OpcodeBrIf, wasm.OpcodeBrTable, wasm.OpcodeReturn:
		return true
	default:
		return false
	}
}

// walkInstructions decodes body into a flat sequence of instruction
// boundaries. It does not track control-flow nesting depth itself: every
// opener and every exit instruction is reported regardless of depth, which
// is all the instrumentation pass needs (insert immediately after an
// opener, immediately before an exit). Validate re-walks the same list
// with an explicit depth stack (checkBranchDepths in validate.go) to
// reject out-of-range branch targets; that check lives there rather than
// here because only the validator, not the instrumentation pass, needs it.
func walkInstructions(body []byte) ([]instruction, error) {
	var out []instruction
	pos := 0
	for pos < len(body) {
		op := body[pos]
		start := pos
		pos++
		n, err := immediateLength(op, body[pos:])
		if err != nil {
			return nil, err
		}
		pos += n
		out = append(out, instruction{Opcode: op, Start: start, ImmEnd: pos})
	}
	return out, nil
}

// immediateLength returns the number of bytes occupied by op's immediate
// operand(s), given the bytes immediately following the opcode. It does
// not validate the instruction; it only measures enough to preserve
// instruction boundaries while copying the stream through.
func immediateLength(op byte, rest []byte) (int, error) {
	switch op {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		// blocktype: 0x40, a valtype byte, or a signed LEB128 type index.
		// All single-byte forms have the continuation bit clear already,
		// so a plain varint scan covers every case uniformly.
		return leb128.ScanLength(rest)

	case wasm.OpcodeBr, wasm.OpcodeBrIf:
		return leb128.ScanLength(rest)

	case wasm.OpcodeBrTable:
		count, n, err := leb128.LoadUint32(rest)
		if err != nil {
			return 0, err
		}
		total := n
		for i := uint32(0); i < count; i++ {
			ln, err := leb128.ScanLength(rest[total:])
			if err != nil {
				return 0, err
			}
			total += uint64(ln)
		}
		ln, err := leb128.ScanLength(rest[total:]) // default label
		if err != nil {
			return 0, err
		}
		total += uint64(ln)
		return int(total), nil

	case wasm.OpcodeCall:
		return leb128.ScanLength(rest)

	case wasm.OpcodeCallIndirect:
		ln, err := leb128.ScanLength(rest)
		if err != nil {
			return 0, err
		}
		return ln + 1, nil // + reserved table index byte

	case wasm.OpcodeLocalGet, wasm.OpcodeLocalSet, wasm.OpcodeLocalTee,
		wasm.OpcodeGlobalGet, wasm.OpcodeGlobalSet:
		return leb128.ScanLength(rest)

	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U,
		wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		alignLen, err := leb128.ScanLength(rest)
		if err != nil {
			return 0, err
		}
		offsetLen, err := leb128.ScanLength(rest[alignLen:])
		if err != nil {
			return 0, err
		}
		return alignLen + offsetLen, nil

	case wasm.OpcodeMemorySize, wasm.OpcodeMemoryGrow:
		return 1, nil // reserved memidx byte, fixed 0x00 in the MVP encoding

	case wasm.OpcodeI32Const, wasm.OpcodeI64Const:
		return leb128.ScanLength(rest)

	case wasm.OpcodeF32Const:
		return 4, nil

	case wasm.OpcodeF64Const:
		return 8, nil

	case wasm.OpcodePrefixFC:
		// memory.fill (0xFC 11) is the one prefixed instruction measured: a
		// LEB128 sub-opcode followed by one reserved memidx byte.
		sub, n, err := leb128.LoadUint32(rest)
		if err != nil {
			return 0, err
		}
		if sub != 11 {
			return 0, errUnsupportedOpcode(op)
		}
		if uint64(len(rest)) < n+1 {
			return 0, fmt.Errorf("rewrite: truncated memory.fill")
		}
		return int(n) + 1, nil

	case wasm.OpcodePrefixFD:
		return 0, errUnsupportedOpcode(op)

	default:
		// Unreachable, Nop, Else, End, Return, Drop, Select, and the whole
		// comparison/arithmetic/conversion/sign-extension range: no immediate.
		return 0, nil
	}
}
