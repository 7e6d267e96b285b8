// Package leb128 encodes and decodes the variable-length integer
// encodings used throughout the WebAssembly binary format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#integers
package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when a varint would need more than 64 bits to
// represent, which never happens in a well-formed Wasm module.
var ErrOverflow = errors.New("leb128: overflow")

// EncodeUint32 encodes v as an unsigned LEB128 varint.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as an unsigned LEB128 varint.
func EncodeUint64(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// EncodeInt32 encodes v as a signed LEB128 varint.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 encodes v as a signed LEB128 varint.
func EncodeInt64(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		done := (v == 0 && !signBitSet) || (v == -1 && signBitSet)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			break
		}
	}
	return out
}

// DecodeUint32 reads an unsigned LEB128 varint from r, returning the value
// and the number of bytes consumed.
func DecodeUint32(r io.ByteReader) (uint32, uint64, error) {
	v, n, err := DecodeUint64(r)
	return uint32(v), n, err
}

// DecodeUint64 reads an unsigned LEB128 varint from r.
func DecodeUint64(r io.ByteReader) (uint64, uint64, error) {
	var result uint64
	var shift uint
	var n uint64
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, n, err
		}
		n++
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, n, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, n, ErrOverflow
		}
	}
}

// DecodeInt32 reads a signed LEB128 varint from r.
func DecodeInt32(r io.ByteReader) (int32, uint64, error) {
	v, n, err := DecodeInt64(r)
	return int32(v), n, err
}

// DecodeInt64 reads a signed LEB128 varint from r.
func DecodeInt64(r io.ByteReader) (int64, uint64, error) {
	var result int64
	var shift uint
	var n uint64
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, n, err
		}
		n++
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 70 {
			return 0, n, ErrOverflow
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, n, nil
}

// byteSliceReader adapts a []byte to io.ByteReader without allocating,
// tracking position externally so LoadXxx can report bytes consumed.
type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

// LoadUint32 decodes an unsigned LEB128 varint from the start of b,
// returning the value and the number of bytes consumed. Used when
// decoding constant expressions or function bodies already sliced out of
// the module, where there's no surrounding io.Reader.
func LoadUint32(b []byte) (uint32, uint64, error) {
	r := &byteSliceReader{b: b}
	return DecodeUint32(r)
}

// LoadUint64 is LoadUint32 for the 64-bit case.
func LoadUint64(b []byte) (uint64, uint64, error) {
	r := &byteSliceReader{b: b}
	return DecodeUint64(r)
}

// LoadInt32 decodes a signed LEB128 varint from the start of b.
func LoadInt32(b []byte) (int32, uint64, error) {
	r := &byteSliceReader{b: b}
	return DecodeInt32(r)
}

// LoadInt64 decodes a signed LEB128 varint from the start of b.
func LoadInt64(b []byte) (int64, uint64, error) {
	r := &byteSliceReader{b: b}
	return DecodeInt64(r)
}

// ScanLength returns the number of bytes a single LEB128 varint (signed or
// unsigned — the shapes are indistinguishable without knowing which) would
// occupy starting at b[0], without materializing its value. Used by the
// instruction walker to skip over immediates it doesn't otherwise care
// about.
func ScanLength(b []byte) (int, error) {
	for i := 0; i < len(b); i++ {
		if b[i]&0x80 == 0 {
			return i + 1, nil
		}
		if i >= 9 {
			return 0, ErrOverflow
		}
	}
	return 0, io.ErrUnexpectedEOF
}
