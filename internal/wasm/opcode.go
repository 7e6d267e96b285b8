package wasm

// Opcode is a single WebAssembly instruction byte. Only the MVP numeric,
// control-flow, variable, and memory instruction set is named here; the
// rewriter's walker treats any other single-byte opcode as having no
// immediate and rejects 0xFC/0xFD-prefixed instructions other than
// memory.fill (see internal/rewrite).
type Opcode = byte

const (
	OpcodeUnreachable Opcode = 0x00
	OpcodeNop         Opcode = 0x01
	OpcodeBlock       Opcode = 0x02
	OpcodeLoop        Opcode = 0x03
	OpcodeIf          Opcode = 0x04
	OpcodeElse        Opcode = 0x05
	OpcodeEnd         Opcode = 0x0B
	OpcodeBr          Opcode = 0x0C
	OpcodeBrIf        Opcode = 0x0D
	OpcodeBrTable     Opcode = 0x0E
	OpcodeReturn      Opcode = 0x0F
	OpcodeCall        Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11

	OpcodeDrop   Opcode = 0x1A
	OpcodeSelect Opcode = 0x1B

	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24

	// Memory load/store: 0x28-0x3E, all take a memarg (align, offset).
	OpcodeI32Load    Opcode = 0x28
	OpcodeI64Load    Opcode = 0x29
	OpcodeF32Load    Opcode = 0x2A
	OpcodeF64Load    Opcode = 0x2B
	OpcodeI32Load8S  Opcode = 0x2C
	OpcodeI32Load8U  Opcode = 0x2D
	OpcodeI32Load16S Opcode = 0x2E
	OpcodeI32Load16U Opcode = 0x2F
	OpcodeI64Load8S  Opcode = 0x30
	OpcodeI64Load8U  Opcode = 0x31
	OpcodeI64Load16S Opcode = 0x32
	OpcodeI64Load16U Opcode = 0x33
	OpcodeI64Load32S Opcode = 0x34
	OpcodeI64Load32U Opcode = 0x35
	OpcodeI32Store   Opcode = 0x36
	OpcodeI64Store   Opcode = 0x37
	OpcodeF32Store   Opcode = 0x38
	OpcodeF64Store   Opcode = 0x39
	OpcodeI32Store8  Opcode = 0x3A
	OpcodeI32Store16 Opcode = 0x3B
	OpcodeI64Store8  Opcode = 0x3C
	OpcodeI64Store16 Opcode = 0x3D
	OpcodeI64Store32 Opcode = 0x3E

	OpcodeMemorySize Opcode = 0x3F
	OpcodeMemoryGrow Opcode = 0x40

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	// Comparisons, arithmetic, conversions, and sign-extension ops occupy
	// 0x45-0xC4 with no immediates; the rewriter's walker treats the whole
	// range uniformly through immediateLength's default case.

	// Multi-byte-prefixed opcodes (bulk memory, reference types, SIMD):
	// out of scope apart from memory.fill, see internal/rewrite.
	OpcodePrefixFC Opcode = 0xFC
	OpcodePrefixFD Opcode = 0xFD
)
