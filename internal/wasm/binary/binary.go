// Package binary decodes and encodes the WebAssembly binary module format
// (https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-format),
// producing and consuming *wasm.Module. Function bodies are decoded only as
// far as their length-prefixed byte range: Code.Body is handed to callers
// as an opaque, still-encoded instruction stream (see wasm.Code), matching
// wazero's own internal/wasm/binary package.
package binary

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/dfinity-labs/canfuzz/internal/leb128"
	"github.com/dfinity-labs/canfuzz/internal/wasm"
)

var (
	magic   = []byte{0x00, 0x61, 0x73, 0x6d}
	version = []byte{0x01, 0x00, 0x00, 0x00}
)

// ErrInvalidMagic is returned when a byte stream doesn't start with the
// Wasm binary magic number.
var ErrInvalidMagic = errors.New("binary: invalid wasm magic number")

const (
	sectionIDCustom   = 0
	sectionIDType     = 1
	sectionIDImport   = 2
	sectionIDFunction = 3
	sectionIDTable    = 4
	sectionIDMemory   = 5
	sectionIDGlobal   = 6
	sectionIDExport   = 7
	sectionIDStart    = 8
	sectionIDElement  = 9
	sectionIDCode     = 10
	sectionIDData     = 11
)

// DecodeModule parses a complete %.wasm binary.
func DecodeModule(b []byte) (*wasm.Module, error) {
	if len(b) < 8 || !bytes.Equal(b[0:4], magic) {
		return nil, ErrInvalidMagic
	}
	if !bytes.Equal(b[4:8], version) {
		return nil, fmt.Errorf("binary: unsupported wasm version %x", b[4:8])
	}
	r := bytes.NewReader(b[8:])
	m := &wasm.Module{}
	for r.Len() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("binary: section %d size: %w", id, err)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("binary: section %d body: %w", id, err)
		}
		if err := decodeSection(m, id, body); err != nil {
			return nil, fmt.Errorf("binary: section %d: %w", id, err)
		}
	}
	return m, nil
}

func decodeSection(m *wasm.Module, id byte, body []byte) error {
	r := bytes.NewReader(body)
	switch id {
	case sectionIDCustom:
		return decodeCustomSection(m, body)
	case sectionIDType:
		return decodeVector(r, func() error {
			ft, err := decodeFunctionType(r)
			if err != nil {
				return err
			}
			m.TypeSection = append(m.TypeSection, ft)
			return nil
		})
	case sectionIDImport:
		return decodeVector(r, func() error {
			imp, err := decodeImport(r)
			if err != nil {
				return err
			}
			m.ImportSection = append(m.ImportSection, imp)
			return nil
		})
	case sectionIDFunction:
		return decodeVector(r, func() error {
			idx, _, err := leb128.DecodeUint32(r)
			if err != nil {
				return err
			}
			m.FunctionSection = append(m.FunctionSection, idx)
			return nil
		})
	case sectionIDTable:
		return decodeVector(r, func() error {
			if _, err := r.ReadByte(); err != nil { // elemtype, always funcref (0x70) in Wasm 1.0
				return err
			}
			t, err := decodeLimits(r)
			if err != nil {
				return err
			}
			m.TableSection = append(m.TableSection, &wasm.Table{Min: t.min, Max: t.max})
			return nil
		})
	case sectionIDMemory:
		return decodeVector(r, func() error {
			lim, err := decodeLimits(r)
			if err != nil {
				return err
			}
			m.MemorySection = &wasm.Memory{Min: lim.min, Max: lim.max}
			return nil
		})
	case sectionIDGlobal:
		return decodeVector(r, func() error {
			g, err := decodeGlobal(r)
			if err != nil {
				return err
			}
			m.GlobalSection = append(m.GlobalSection, g)
			return nil
		})
	case sectionIDExport:
		return decodeVector(r, func() error {
			e, err := decodeExport(r)
			if err != nil {
				return err
			}
			m.ExportSection = append(m.ExportSection, e)
			return nil
		})
	case sectionIDStart:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		m.StartSection = &idx
		return nil
	case sectionIDElement:
		return decodeVector(r, func() error {
			es, err := decodeElementSegment(r)
			if err != nil {
				return err
			}
			m.ElementSection = append(m.ElementSection, es)
			return nil
		})
	case sectionIDCode:
		return decodeVector(r, func() error {
			c, err := decodeCode(r)
			if err != nil {
				return err
			}
			m.CodeSection = append(m.CodeSection, c)
			return nil
		})
	case sectionIDData:
		return decodeVector(r, func() error {
			ds, err := decodeDataSegment(r)
			if err != nil {
				return err
			}
			m.DataSection = append(m.DataSection, ds)
			return nil
		})
	default:
		return fmt.Errorf("unknown section id %d", id)
	}
}

func decodeCustomSection(m *wasm.Module, body []byte) error {
	r := bytes.NewReader(body)
	name, err := decodeName(r)
	if err != nil {
		return err
	}
	if name != "name" {
		return nil // other custom sections (producers, etc.) carry no semantics here
	}
	// Only the module name subsection (id 0) is retained.
	for r.Len() > 0 {
		subID, err := r.ReadByte()
		if err != nil {
			return err
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return err
		}
		sub := make([]byte, size)
		if _, err := io.ReadFull(r, sub); err != nil {
			return err
		}
		if subID == 0 {
			subR := bytes.NewReader(sub)
			modName, err := decodeName(subR)
			if err != nil {
				return err
			}
			m.NameSection = &wasm.NameSection{ModuleName: modName}
		}
	}
	return nil
}

func decodeVector(r *bytes.Reader, decodeOne func() error) error {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < count; i++ {
		if err := decodeOne(); err != nil {
			return err
		}
	}
	return nil
}

func decodeName(r *bytes.Reader) (string, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func decodeFunctionType(r *bytes.Reader) (*wasm.FunctionType, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if tag != 0x60 {
		return nil, fmt.Errorf("invalid functype tag %#x", tag)
	}
	params, err := decodeValueTypes(r)
	if err != nil {
		return nil, err
	}
	results, err := decodeValueTypes(r)
	if err != nil {
		return nil, err
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}

func decodeValueTypes(r *bytes.Reader) ([]wasm.ValueType, error) {
	n, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ValueType, n)
	for i := range out {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

type limits struct {
	min uint32
	max *uint32
}

func decodeLimits(r *bytes.Reader) (limits, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return limits{}, err
	}
	min, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return limits{}, err
	}
	l := limits{min: min}
	if flag == 1 {
		max, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return limits{}, err
		}
		l.max = &max
	}
	return l, nil
}

func decodeImport(r *bytes.Reader) (*wasm.Import, error) {
	mod, err := decodeName(r)
	if err != nil {
		return nil, err
	}
	name, err := decodeName(r)
	if err != nil {
		return nil, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	imp := &wasm.Import{Type: kind, Module: mod, Name: name}
	switch kind {
	case wasm.ExternTypeFunc:
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		imp.DescFunc = idx
	case wasm.ExternTypeTable:
		if _, err := r.ReadByte(); err != nil {
			return nil, err
		}
		lim, err := decodeLimits(r)
		if err != nil {
			return nil, err
		}
		imp.DescTable = &wasm.Table{Min: lim.min, Max: lim.max}
	case wasm.ExternTypeMemory:
		lim, err := decodeLimits(r)
		if err != nil {
			return nil, err
		}
		imp.DescMem = &wasm.Memory{Min: lim.min, Max: lim.max}
	case wasm.ExternTypeGlobal:
		vt, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		mut, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		imp.DescGlobal = &wasm.GlobalType{ValType: vt, Mutable: mut == 1}
	default:
		return nil, fmt.Errorf("invalid import kind %#x", kind)
	}
	return imp, nil
}

// teeByteReader is an io.ByteReader that records every byte it returns,
// so leb128's streaming decoders can be reused while still recovering the
// exact immediate bytes for ConstantExpression.Data.
type teeByteReader struct {
	r   *bytes.Reader
	buf []byte
}

func (t *teeByteReader) ReadByte() (byte, error) {
	b, err := t.r.ReadByte()
	if err != nil {
		return 0, err
	}
	t.buf = append(t.buf, b)
	return b, nil
}

func decodeConstantExpression(r *bytes.Reader) (*wasm.ConstantExpression, error) {
	op, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	tr := &teeByteReader{r: r}
	switch op {
	case wasm.OpcodeI32Const:
		if _, _, err := leb128.DecodeInt32(tr); err != nil {
			return nil, err
		}
	case wasm.OpcodeI64Const:
		if _, _, err := leb128.DecodeInt64(tr); err != nil {
			return nil, err
		}
	case wasm.OpcodeF32Const:
		for i := 0; i < 4; i++ {
			if _, err := tr.ReadByte(); err != nil {
				return nil, err
			}
		}
	case wasm.OpcodeF64Const:
		for i := 0; i < 8; i++ {
			if _, err := tr.ReadByte(); err != nil {
				return nil, err
			}
		}
	case wasm.OpcodeGlobalGet:
		if _, _, err := leb128.DecodeUint32(tr); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid constant expression opcode %#x", op)
	}
	end, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if end != wasm.OpcodeEnd {
		return nil, fmt.Errorf("constant expression missing end opcode, got %#x", end)
	}
	return &wasm.ConstantExpression{Opcode: op, Data: tr.buf}, nil
}

func decodeGlobal(r *bytes.Reader) (*wasm.Global, error) {
	vt, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	mut, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	init, err := decodeConstantExpression(r)
	if err != nil {
		return nil, err
	}
	return &wasm.Global{Type: &wasm.GlobalType{ValType: vt, Mutable: mut == 1}, Init: init}, nil
}

func decodeExport(r *bytes.Reader) (*wasm.Export, error) {
	name, err := decodeName(r)
	if err != nil {
		return nil, err
	}
	kind, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	return &wasm.Export{Type: kind, Name: name, Index: idx}, nil
}

func decodeElementSegment(r *bytes.Reader) (*wasm.ElementSegment, error) {
	tableIdx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	offset, err := decodeConstantExpression(r)
	if err != nil {
		return nil, err
	}
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	init := make([]wasm.Index, count)
	for i := range init {
		idx, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		init[i] = idx
	}
	return &wasm.ElementSegment{TableIndex: tableIdx, Offset: offset, Init: init}, nil
}

func decodeCode(r *bytes.Reader) (*wasm.Code, error) {
	size, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	br := bytes.NewReader(body)
	localGroups, _, err := leb128.DecodeUint32(br)
	if err != nil {
		return nil, err
	}
	var locals []wasm.ValueType
	for i := uint32(0); i < localGroups; i++ {
		n, _, err := leb128.DecodeUint32(br)
		if err != nil {
			return nil, err
		}
		vt, err := br.ReadByte()
		if err != nil {
			return nil, err
		}
		for j := uint32(0); j < n; j++ {
			locals = append(locals, vt)
		}
	}
	rest := make([]byte, br.Len())
	if _, err := io.ReadFull(br, rest); err != nil {
		return nil, err
	}
	return &wasm.Code{LocalTypes: locals, Body: rest}, nil
}

func decodeDataSegment(r *bytes.Reader) (*wasm.DataSegment, error) {
	memIdx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if memIdx != 0 {
		return nil, fmt.Errorf("multiple memories not supported, got memidx %d", memIdx)
	}
	offset, err := decodeConstantExpression(r)
	if err != nil {
		return nil, err
	}
	size, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	init := make([]byte, size)
	if _, err := io.ReadFull(r, init); err != nil {
		return nil, err
	}
	return &wasm.DataSegment{Offset: offset, Init: init}, nil
}

// EncodeModule serializes m back into the %.wasm binary format.
func EncodeModule(m *wasm.Module) []byte {
	var buf bytes.Buffer
	buf.Write(magic)
	buf.Write(version)

	writeSection(&buf, sectionIDType, func(b *bytes.Buffer) {
		encodeVector(b, len(m.TypeSection), func(i int) { encodeFunctionType(b, m.TypeSection[i]) })
	})
	writeSection(&buf, sectionIDImport, func(b *bytes.Buffer) {
		encodeVector(b, len(m.ImportSection), func(i int) { encodeImport(b, m.ImportSection[i]) })
	})
	writeSection(&buf, sectionIDFunction, func(b *bytes.Buffer) {
		encodeVector(b, len(m.FunctionSection), func(i int) { b.Write(leb128.EncodeUint32(m.FunctionSection[i])) })
	})
	if len(m.TableSection) > 0 {
		writeSection(&buf, sectionIDTable, func(b *bytes.Buffer) {
			encodeVector(b, len(m.TableSection), func(i int) {
				b.WriteByte(0x70)
				encodeLimits(b, m.TableSection[i].Min, m.TableSection[i].Max)
			})
		})
	}
	if m.MemorySection != nil {
		writeSection(&buf, sectionIDMemory, func(b *bytes.Buffer) {
			encodeVector(b, 1, func(int) { encodeLimits(b, m.MemorySection.Min, m.MemorySection.Max) })
		})
	}
	if len(m.GlobalSection) > 0 {
		writeSection(&buf, sectionIDGlobal, func(b *bytes.Buffer) {
			encodeVector(b, len(m.GlobalSection), func(i int) { encodeGlobal(b, m.GlobalSection[i]) })
		})
	}
	writeSection(&buf, sectionIDExport, func(b *bytes.Buffer) {
		encodeVector(b, len(m.ExportSection), func(i int) { encodeExport(b, m.ExportSection[i]) })
	})
	if m.StartSection != nil {
		writeSection(&buf, sectionIDStart, func(b *bytes.Buffer) { b.Write(leb128.EncodeUint32(*m.StartSection)) })
	}
	if len(m.ElementSection) > 0 {
		writeSection(&buf, sectionIDElement, func(b *bytes.Buffer) {
			encodeVector(b, len(m.ElementSection), func(i int) { encodeElementSegment(b, m.ElementSection[i]) })
		})
	}
	writeSection(&buf, sectionIDCode, func(b *bytes.Buffer) {
		encodeVector(b, len(m.CodeSection), func(i int) { encodeCode(b, m.CodeSection[i]) })
	})
	if len(m.DataSection) > 0 {
		writeSection(&buf, sectionIDData, func(b *bytes.Buffer) {
			encodeVector(b, len(m.DataSection), func(i int) { encodeDataSegment(b, m.DataSection[i]) })
		})
	}
	if m.NameSection != nil {
		writeSection(&buf, sectionIDCustom, func(b *bytes.Buffer) {
			encodeName(b, "name")
			var sub bytes.Buffer
			encodeName(&sub, m.NameSection.ModuleName)
			sub2 := sub.Bytes()
			b.WriteByte(0)
			b.Write(leb128.EncodeUint32(uint32(len(sub2))))
			b.Write(sub2)
		})
	}
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, id byte, body func(b *bytes.Buffer)) {
	var sec bytes.Buffer
	body(&sec)
	buf.WriteByte(id)
	buf.Write(leb128.EncodeUint32(uint32(sec.Len())))
	buf.Write(sec.Bytes())
}

func encodeVector(b *bytes.Buffer, count int, encodeOne func(i int)) {
	b.Write(leb128.EncodeUint32(uint32(count)))
	for i := 0; i < count; i++ {
		encodeOne(i)
	}
}

func encodeName(b *bytes.Buffer, s string) {
	b.Write(leb128.EncodeUint32(uint32(len(s))))
	b.WriteString(s)
}

func encodeValueTypes(b *bytes.Buffer, vs []wasm.ValueType) {
	b.Write(leb128.EncodeUint32(uint32(len(vs))))
	b.Write(vs)
}

func encodeFunctionType(b *bytes.Buffer, ft *wasm.FunctionType) {
	b.WriteByte(0x60)
	encodeValueTypes(b, ft.Params)
	encodeValueTypes(b, ft.Results)
}

func encodeLimits(b *bytes.Buffer, min uint32, max *uint32) {
	if max != nil {
		b.WriteByte(1)
		b.Write(leb128.EncodeUint32(min))
		b.Write(leb128.EncodeUint32(*max))
	} else {
		b.WriteByte(0)
		b.Write(leb128.EncodeUint32(min))
	}
}

func encodeImport(b *bytes.Buffer, imp *wasm.Import) {
	encodeName(b, imp.Module)
	encodeName(b, imp.Name)
	b.WriteByte(imp.Type)
	switch imp.Type {
	case wasm.ExternTypeFunc:
		b.Write(leb128.EncodeUint32(imp.DescFunc))
	case wasm.ExternTypeTable:
		b.WriteByte(0x70)
		encodeLimits(b, imp.DescTable.Min, imp.DescTable.Max)
	case wasm.ExternTypeMemory:
		encodeLimits(b, imp.DescMem.Min, imp.DescMem.Max)
	case wasm.ExternTypeGlobal:
		b.WriteByte(imp.DescGlobal.ValType)
		if imp.DescGlobal.Mutable {
			b.WriteByte(1)
		} else {
			b.WriteByte(0)
		}
	}
}

func encodeConstantExpression(b *bytes.Buffer, ce *wasm.ConstantExpression) {
	b.WriteByte(ce.Opcode)
	b.Write(ce.Data)
	b.WriteByte(wasm.OpcodeEnd)
}

func encodeGlobal(b *bytes.Buffer, g *wasm.Global) {
	b.WriteByte(g.Type.ValType)
	if g.Type.Mutable {
		b.WriteByte(1)
	} else {
		b.WriteByte(0)
	}
	encodeConstantExpression(b, g.Init)
}

func encodeExport(b *bytes.Buffer, e *wasm.Export) {
	encodeName(b, e.Name)
	b.WriteByte(e.Type)
	b.Write(leb128.EncodeUint32(e.Index))
}

func encodeElementSegment(b *bytes.Buffer, es *wasm.ElementSegment) {
	b.Write(leb128.EncodeUint32(es.TableIndex))
	encodeConstantExpression(b, es.Offset)
	encodeVector(b, len(es.Init), func(i int) { b.Write(leb128.EncodeUint32(es.Init[i])) })
}

// encodeCode writes the length-prefixed local-variable declarations
// followed by Body verbatim: Body is already a valid encoded instruction
// stream, whether freshly parsed or produced by the rewriter.
func encodeCode(b *bytes.Buffer, c *wasm.Code) {
	var body bytes.Buffer
	groups := groupLocals(c.LocalTypes)
	body.Write(leb128.EncodeUint32(uint32(len(groups))))
	for _, g := range groups {
		body.Write(leb128.EncodeUint32(g.count))
		body.WriteByte(g.valType)
	}
	body.Write(c.Body)

	b.Write(leb128.EncodeUint32(uint32(body.Len())))
	b.Write(body.Bytes())
}

type localGroup struct {
	count   uint32
	valType wasm.ValueType
}

func groupLocals(locals []wasm.ValueType) []localGroup {
	var groups []localGroup
	for _, vt := range locals {
		if len(groups) > 0 && groups[len(groups)-1].valType == vt {
			groups[len(groups)-1].count++
			continue
		}
		groups = append(groups, localGroup{count: 1, valType: vt})
	}
	return groups
}

func encodeDataSegment(b *bytes.Buffer, ds *wasm.DataSegment) {
	b.Write(leb128.EncodeUint32(0)) // memidx, always 0: Wasm 1.0 allows a single memory
	encodeConstantExpression(b, ds.Offset)
	b.Write(leb128.EncodeUint32(uint32(len(ds.Init))))
	b.Write(ds.Init)
}
