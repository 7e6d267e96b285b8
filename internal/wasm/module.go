// Package wasm is the parsed, in-memory representation of a WebAssembly
// 1.0 module: the data model the rewriter (package rewrite) transforms and
// the binary codec (package binary) encodes/decodes.
//
// Differences from the specification, mirroring how wazero represents the
// same module (see internal/wasm.Module upstream):
//   - Code.Body is an opaque, already-encoded instruction stream. Nothing
//     in this package needs to understand instruction boundaries; that's
//     the rewriter's job.
//   - Sections preserve declaration order, since function/global/table/
//     memory indices are positional and must stay stable across a rewrite.
package wasm

// Index is a position in one of the module's index spaces (function,
// global, table, memory, type). Imports occupy the low end of each space.
type Index = uint32

// ValueType is a WebAssembly 1.0 numeric value type.
type ValueType = byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

func ValueTypeName(v ValueType) string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// ExternType classifies imports and exports.
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

// Module is the parsed form of a %.wasm binary.
type Module struct {
	TypeSection     []*FunctionType
	ImportSection   []*Import
	FunctionSection []Index // TypeSection index, per locally-defined function
	TableSection    []*Table
	MemorySection   *Memory // Wasm 1.0 allows at most one memory
	GlobalSection   []*Global
	ExportSection   []*Export
	StartSection    *Index
	ElementSection  []*ElementSegment
	CodeSection     []*Code // index-correlated with FunctionSection
	DataSection     []*DataSegment
	NameSection     *NameSection
}

// FunctionType is a function signature: a possibly-empty parameter list
// and a possibly-empty (WebAssembly 1.0: at most one value) result list.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// Import is a single entry of the import section.
type Import struct {
	Type ExternType
	// Module and Name form the two-level import namespace, e.g. "ic0" /
	// "msg_reply".
	Module, Name string
	DescFunc     Index       // valid when Type == ExternTypeFunc: index into TypeSection
	DescTable    *Table      // valid when Type == ExternTypeTable
	DescMem      *Memory     // valid when Type == ExternTypeMemory
	DescGlobal   *GlobalType // valid when Type == ExternTypeGlobal
}

// Table describes a table of a single reference type. WebAssembly 1.0 only
// defines funcref tables and at most one per module.
type Table struct {
	Min uint32
	Max *uint32
}

// Memory describes the limits, in 64KiB pages, of a linear memory.
type Memory struct {
	Min uint32
	Max *uint32
}

// GlobalType is the declared type of a global: its value type and whether
// it may be written to after initialization.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// Global is a single entry of the global section: its type and constant
// initializer expression.
type Global struct {
	Type *GlobalType
	Init *ConstantExpression
}

// ConstantExpression is a restricted instruction sequence (a single
// const/global.get instruction followed by OpcodeEnd) used to initialize
// globals, element segments, and data segments.
type ConstantExpression struct {
	Opcode Opcode
	Data   []byte // the instruction's encoded immediate, not including the opcode or the trailing End
}

// Export is a single entry of the export section.
type Export struct {
	Type  ExternType
	Name  string
	Index Index // index into the space selected by Type
}

// Code is a CodeSection entry: a function's locals and instruction stream.
type Code struct {
	// LocalTypes are function-scoped variables in declaration order; the
	// local index space used by OpcodeLocalGet/Set/Tee begins with the
	// function's parameters and continues with LocalTypes.
	LocalTypes []ValueType
	// Body is a sequence of instructions ending in OpcodeEnd, in encoded
	// (not yet disassembled) form.
	Body []byte
}

// ElementSegment initializes a contiguous range of a table with function
// indices.
type ElementSegment struct {
	TableIndex Index
	Offset     *ConstantExpression
	Init       []Index
}

// DataSegment initializes a contiguous range of linear memory with bytes.
type DataSegment struct {
	Offset *ConstantExpression
	Init   []byte
}

// NameSection is the "name" custom section: human-readable names that have
// no effect on execution. Only the module name is retained; wazero's own
// scheme for function/local names is not needed by this fuzzer.
type NameSection struct {
	ModuleName string
}

// NumFunctionIndexes returns the number of entries in the function index
// space: imported functions first, then locally-defined ones.
func (m *Module) NumFunctionIndexes() Index {
	return Index(m.numImportedFuncs() + len(m.FunctionSection))
}

func (m *Module) numImportedFuncs() int {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc {
			n++
		}
	}
	return n
}

// NumGlobalIndexes returns the size of the global index space.
func (m *Module) NumGlobalIndexes() Index {
	n := 0
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeGlobal {
			n++
		}
	}
	return Index(n + len(m.GlobalSection))
}

// TypeOfFunction returns the signature of the function at the given
// position in the function index space, or nil if funcIdx is out of
// range.
func (m *Module) TypeOfFunction(funcIdx Index) *FunctionType {
	importFuncCount := Index(0)
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc {
			if funcIdx == importFuncCount {
				if int(imp.DescFunc) >= len(m.TypeSection) {
					return nil
				}
				return m.TypeSection[imp.DescFunc]
			}
			importFuncCount++
		}
	}
	localIdx := funcIdx - importFuncCount
	if int(localIdx) >= len(m.FunctionSection) {
		return nil
	}
	typeIdx := m.FunctionSection[localIdx]
	if int(typeIdx) >= len(m.TypeSection) {
		return nil
	}
	return m.TypeSection[typeIdx]
}

// FindExport returns the export with the given name, or nil.
func (m *Module) FindExport(name string) *Export {
	for _, e := range m.ExportSection {
		if e.Name == name {
			return e
		}
	}
	return nil
}
