package idl

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/dfinity-labs/canfuzz/internal/leb128"
)

// ErrDecode marks any failure to decode a blob against a Type: malformed
// length prefixes, an out-of-range variant tag, or running past the end
// of the blob. Every caller treats it the same way as a subtype mismatch
// or encode failure: fall back to Skipped (spec.md §4.3).
var ErrDecode = errors.New("idl: decode failed")

// Decode parses blob against t, returning the decoded Value and the
// number of bytes consumed. Because the value is built to exactly match
// t's shape at every level, a successful Decode is itself a proof that
// the result is a valid member of t; Mutate still runs the separate
// isSubtype check on each decoded and each mutated value (see DESIGN.md).
func Decode(blob []byte, t *Type) (*Value, int, error) {
	if t == nil {
		return nil, 0, fmt.Errorf("%w: nil type", ErrDecode)
	}
	switch t.Kind {
	case KindBool:
		if len(blob) < 1 {
			return nil, 0, fmt.Errorf("%w: bool: short read", ErrDecode)
		}
		return &Value{Kind: KindBool, Bool: blob[0] != 0}, 1, nil

	case KindNull, KindNone, KindReserved:
		return &Value{Kind: t.Kind}, 0, nil

	case KindText, KindNumber:
		s, n, err := decodeText(blob)
		if err != nil {
			return nil, 0, err
		}
		return &Value{Kind: t.Kind, Text: s}, n, nil

	case KindInt:
		n, consumed, err := decodeBigSigned(blob)
		if err != nil {
			return nil, 0, err
		}
		return &Value{Kind: KindInt, Big: n}, consumed, nil

	case KindNat:
		n, consumed, err := decodeBigUnsigned(blob)
		if err != nil {
			return nil, 0, err
		}
		return &Value{Kind: KindNat, Big: n}, consumed, nil

	case KindInt8, KindInt16, KindInt32, KindInt64, KindNat8, KindNat16, KindNat32, KindNat64:
		bits := sizeOf(t.Kind)
		nbytes := bits / 8
		if len(blob) < nbytes {
			return nil, 0, fmt.Errorf("%w: sized integer: short read", ErrDecode)
		}
		return &Value{Kind: t.Kind, Sized: readLE(blob[:nbytes])}, nbytes, nil

	case KindFloat32:
		if len(blob) < 4 {
			return nil, 0, fmt.Errorf("%w: float32: short read", ErrDecode)
		}
		bits := binary.LittleEndian.Uint32(blob[:4])
		return &Value{Kind: KindFloat32, F32: math.Float32frombits(bits)}, 4, nil

	case KindFloat64:
		if len(blob) < 8 {
			return nil, 0, fmt.Errorf("%w: float64: short read", ErrDecode)
		}
		bits := binary.LittleEndian.Uint64(blob[:8])
		return &Value{Kind: KindFloat64, F64: math.Float64frombits(bits)}, 8, nil

	case KindPrincipal:
		b, n, err := decodeLenPrefixed(blob, 29)
		if err != nil {
			return nil, 0, err
		}
		return &Value{Kind: KindPrincipal, Bytes: b}, n, nil

	case KindBlob:
		b, n, err := decodeLenPrefixed(blob, -1)
		if err != nil {
			return nil, 0, err
		}
		return &Value{Kind: KindBlob, Bytes: b}, n, nil

	case KindVec:
		count, n, err := leb128.LoadUint32(blob)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: vec length: %v", ErrDecode, err)
		}
		pos := int(n)
		vals := make([]*Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, used, err := Decode(blob[pos:], t.Elem)
			if err != nil {
				return nil, 0, err
			}
			vals = append(vals, v)
			pos += used
		}
		return &Value{Kind: KindVec, Vec: vals}, pos, nil

	case KindRecord:
		pos := 0
		fields := make([]Field, 0, len(t.Fields))
		for _, ft := range t.Fields {
			v, used, err := Decode(blob[pos:], ft.Type)
			if err != nil {
				return nil, 0, err
			}
			fields = append(fields, Field{ID: ft.ID, Value: v})
			pos += used
		}
		return &Value{Kind: KindRecord, Record: fields}, pos, nil

	case KindVariant:
		tagIdx, n, err := leb128.LoadUint32(blob)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: variant tag: %v", ErrDecode, err)
		}
		if int(tagIdx) >= len(t.Fields) {
			return nil, 0, fmt.Errorf("%w: variant tag %d out of range", ErrDecode, tagIdx)
		}
		ft := t.Fields[tagIdx]
		inner, used, err := Decode(blob[n:], ft.Type)
		if err != nil {
			return nil, 0, err
		}
		return &Value{Kind: KindVariant, Variant: &Variant{
			FieldID: ft.ID, TagIndex: int(tagIdx), Value: inner,
		}}, int(n) + used, nil

	case KindOpt:
		if len(blob) < 1 {
			return nil, 0, fmt.Errorf("%w: opt tag: short read", ErrDecode)
		}
		if blob[0] == 0 {
			return &Value{Kind: KindOpt, Opt: nil}, 1, nil
		}
		inner, used, err := Decode(blob[1:], t.Elem)
		if err != nil {
			return nil, 0, err
		}
		return &Value{Kind: KindOpt, Opt: inner}, 1 + used, nil

	case KindService, KindFunc:
		// Unsupported for mutation (spec.md §4.3); callers that hit one of
		// these in a method signature fall back to Skipped rather than
		// decode an opaque reference blob this package has no use for.
		return nil, 0, fmt.Errorf("%w: %s is unsupported", ErrDecode, t.Kind)

	default:
		return nil, 0, fmt.Errorf("%w: unknown kind %d", ErrDecode, t.Kind)
	}
}

// Encode serializes v back to bytes in the same shape Decode expects.
func Encode(v *Value) ([]byte, error) {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil

	case KindNull, KindNone, KindReserved:
		return nil, nil

	case KindText, KindNumber:
		return encodeText(v.Text), nil

	case KindInt:
		return encodeBigSigned(v.Big), nil

	case KindNat:
		return encodeBigUnsigned(v.Big), nil

	case KindInt8, KindInt16, KindInt32, KindInt64, KindNat8, KindNat16, KindNat32, KindNat64:
		nbytes := v.SizedBits() / 8
		return writeLE(v.Sized, nbytes), nil

	case KindFloat32:
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(v.F32))
		return buf, nil

	case KindFloat64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.F64))
		return buf, nil

	case KindPrincipal, KindBlob:
		return encodeLenPrefixed(v.Bytes), nil

	case KindVec:
		out := leb128.EncodeUint32(uint32(len(v.Vec)))
		for _, e := range v.Vec {
			b, err := Encode(e)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil

	case KindRecord:
		var out []byte
		for _, f := range v.Record {
			b, err := Encode(f.Value)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
		}
		return out, nil

	case KindVariant:
		out := leb128.EncodeUint32(uint32(v.Variant.TagIndex))
		b, err := Encode(v.Variant.Value)
		if err != nil {
			return nil, err
		}
		return append(out, b...), nil

	case KindOpt:
		if v.Opt == nil {
			return []byte{0}, nil
		}
		b, err := Encode(v.Opt)
		if err != nil {
			return nil, err
		}
		return append([]byte{1}, b...), nil

	case KindService, KindFunc:
		return nil, fmt.Errorf("idl: encode: %s is unsupported", v.Kind)

	default:
		return nil, fmt.Errorf("idl: encode: unknown kind %d", v.Kind)
	}
}

func sizeOf(k Kind) int {
	if n, ok := sizedIntKinds[k]; ok {
		return n
	}
	return sizedNatKinds[k]
}

func readLE(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func writeLE(v uint64, nbytes int) []byte {
	out := make([]byte, nbytes)
	for i := 0; i < nbytes; i++ {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}

func decodeText(blob []byte) (string, int, error) {
	n, consumed, err := leb128.LoadUint32(blob)
	if err != nil {
		return "", 0, fmt.Errorf("%w: text length: %v", ErrDecode, err)
	}
	pos := int(consumed)
	if pos+int(n) > len(blob) {
		return "", 0, fmt.Errorf("%w: text: short read", ErrDecode)
	}
	return string(blob[pos : pos+int(n)]), pos + int(n), nil
}

func encodeText(s string) []byte {
	out := leb128.EncodeUint32(uint32(len(s)))
	return append(out, s...)
}

func decodeLenPrefixed(blob []byte, maxLen int) ([]byte, int, error) {
	n, consumed, err := leb128.LoadUint32(blob)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: length prefix: %v", ErrDecode, err)
	}
	if maxLen >= 0 && int(n) > maxLen {
		return nil, 0, fmt.Errorf("%w: length %d exceeds max %d", ErrDecode, n, maxLen)
	}
	pos := int(consumed)
	if pos+int(n) > len(blob) {
		return nil, 0, fmt.Errorf("%w: short read", ErrDecode)
	}
	out := make([]byte, n)
	copy(out, blob[pos:pos+int(n)])
	return out, pos + int(n), nil
}

func encodeLenPrefixed(b []byte) []byte {
	out := leb128.EncodeUint32(uint32(len(b)))
	return append(out, b...)
}

// decodeBigUnsigned/decodeBigSigned implement arbitrary-precision LEB128,
// the same 7-bits-per-byte scheme as internal/leb128's fixed-width
// variants, generalized to math/big since Nat/Int have no width limit.

func decodeBigUnsigned(blob []byte) (*big.Int, int, error) {
	result := new(big.Int)
	shift := uint(0)
	pos := 0
	for {
		if pos >= len(blob) {
			return nil, 0, fmt.Errorf("%w: big nat: short read", ErrDecode)
		}
		b := blob[pos]
		pos++
		chunk := new(big.Int).Lsh(big.NewInt(int64(b&0x7f)), shift)
		result.Or(result, chunk)
		if b&0x80 == 0 {
			return result, pos, nil
		}
		shift += 7
	}
}

func encodeBigUnsigned(n *big.Int) []byte {
	if n == nil {
		n = big.NewInt(0)
	}
	v := new(big.Int).Set(n)
	if v.Sign() < 0 {
		v.SetInt64(0) // Nat is non-negative by construction; callers clamp before encoding
	}
	var out []byte
	mask := big.NewInt(0x7f)
	for {
		chunk := new(big.Int).And(v, mask)
		v.Rsh(v, 7)
		b := byte(chunk.Int64())
		if v.Sign() == 0 {
			out = append(out, b)
			break
		}
		out = append(out, b|0x80)
	}
	return out
}

func decodeBigSigned(blob []byte) (*big.Int, int, error) {
	result := new(big.Int)
	shift := uint(0)
	pos := 0
	var last byte
	for {
		if pos >= len(blob) {
			return nil, 0, fmt.Errorf("%w: big int: short read", ErrDecode)
		}
		b := blob[pos]
		pos++
		last = b
		chunk := new(big.Int).Lsh(big.NewInt(int64(b&0x7f)), shift)
		result.Or(result, chunk)
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if last&0x40 != 0 {
		// Sign-extend: subtract 1<<shift.
		full := new(big.Int).Lsh(big.NewInt(1), shift)
		result.Sub(result, full)
	}
	return result, pos, nil
}

func encodeBigSigned(n *big.Int) []byte {
	if n == nil {
		n = big.NewInt(0)
	}
	v := new(big.Int).Set(n)
	var out []byte
	for {
		// low 7 bits of v, accounting for negative values via big.Int's
		// own two's-complement-equivalent Mod-like bit ops on Rsh/And of
		// a shifted copy is awkward; use Bit-by-bit extraction instead.
		b := byte(lowBits(v, 7))
		v = new(big.Int).Rsh(v, 7)
		signBitSet := b&0x40 != 0
		done := (v.Sign() == 0 && !signBitSet) || (v.Sign() == -1 && signBitSet)
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

// lowBits returns the low n bits of v (v may be negative: big.Int's Rsh
// is arithmetic for negative receivers, matching signed LEB128's needs).
func lowBits(v *big.Int, n uint) int64 {
	mask := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), n), big.NewInt(1))
	masked := new(big.Int).And(v, mask)
	// big.Int.And on a negative v already behaves as two's complement per
	// the math/big docs, so masked is in [0, 2^n).
	return masked.Int64()
}
