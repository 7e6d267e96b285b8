package idl

import (
	"math"
	"math/big"
	"math/rand"

	fuzzheaders "github.com/AdaLogics/go-fuzz-headers"
)

// randomValue builds a schema-valid Value for t from scratch. It backs
// both the Disabled-mode 0.05 path and the Enabled-mode 0.20 path of
// spec.md §4.3, and the Variant "switch tag" rule's fresh-payload case.
//
// Bool, Text/Number, sized-integer, float and Blob leaves are drawn
// through an AdaLogics/go-fuzz-headers Consumer seeded from r (Int, Nat,
// Principal and every structural choice draw from r directly): the
// consumer turns whatever entropy r produces
// into raw bytes/ints/strings, so the same "generate primitives from
// entropy" plumbing moby/moby's fuzzers use for their seed corpus is what
// backs this fallback generator rather than a hand-rolled byte reader.
func randomValue(t *Type, r *rand.Rand, depth int) *Value {
	if depth > 20 {
		return zeroValue(t)
	}
	c := fuzzheaders.NewConsumer(randomEntropy(r, 256))

	switch t.Kind {
	case KindBool:
		b, err := c.GetBool()
		if err != nil {
			b = r.Intn(2) == 0
		}
		return &Value{Kind: KindBool, Bool: b}

	case KindNull, KindNone, KindReserved:
		return &Value{Kind: t.Kind}

	case KindText, KindNumber:
		s, err := c.GetString()
		if err != nil {
			s = ""
		}
		return &Value{Kind: t.Kind, Text: s}

	case KindInt:
		return &Value{Kind: KindInt, Big: big.NewInt(r.Int63() - r.Int63())}

	case KindNat:
		return &Value{Kind: KindNat, Big: big.NewInt(r.Int63())}

	case KindInt8, KindInt16, KindInt32, KindInt64, KindNat8, KindNat16, KindNat32, KindNat64:
		v, err := c.GetUint64()
		if err != nil {
			v = r.Uint64()
		}
		return &Value{Kind: t.Kind, Sized: maskToWidth(v, t.Kind)}

	case KindFloat32:
		bits, err := c.GetUint32()
		if err != nil {
			bits = r.Uint32()
		}
		return &Value{Kind: KindFloat32, F32: math.Float32frombits(bits)}

	case KindFloat64:
		bits, err := c.GetUint64()
		if err != nil {
			bits = r.Uint64()
		}
		return &Value{Kind: KindFloat64, F64: math.Float64frombits(bits)}

	case KindPrincipal:
		return &Value{Kind: KindPrincipal, Bytes: randomPrincipal(r)}

	case KindBlob:
		b, err := c.GetBytes()
		if err != nil {
			b = nil
		}
		return &Value{Kind: KindBlob, Bytes: b}

	case KindVec:
		n := r.Intn(4)
		vals := make([]*Value, n)
		for i := range vals {
			vals[i] = randomValue(t.Elem, r, depth+1)
		}
		return &Value{Kind: KindVec, Vec: vals}

	case KindRecord:
		fields := make([]Field, len(t.Fields))
		for i, ft := range t.Fields {
			fields[i] = Field{ID: ft.ID, Value: randomValue(ft.Type, r, depth+1)}
		}
		return &Value{Kind: KindRecord, Record: fields}

	case KindVariant:
		if len(t.Fields) == 0 {
			return zeroValue(t)
		}
		idx := r.Intn(len(t.Fields))
		ft := t.Fields[idx]
		return &Value{Kind: KindVariant, Variant: &Variant{
			FieldID: ft.ID, TagIndex: idx, Value: randomValue(ft.Type, r, depth+1),
		}}

	case KindOpt:
		if r.Intn(2) == 0 {
			return &Value{Kind: KindOpt, Opt: nil}
		}
		return &Value{Kind: KindOpt, Opt: randomValue(t.Elem, r, depth+1)}

	default:
		return zeroValue(t)
	}
}

// zeroValue is the empty-scope fallback: spec.md §9's open question is
// resolved as "leave unchanged," which for fresh generation means the
// smallest valid member of the type rather than recursing further.
func zeroValue(t *Type) *Value {
	switch t.Kind {
	case KindVec:
		return &Value{Kind: KindVec}
	case KindRecord:
		fields := make([]Field, len(t.Fields))
		for i, ft := range t.Fields {
			fields[i] = Field{ID: ft.ID, Value: zeroValue(ft.Type)}
		}
		return &Value{Kind: KindRecord, Record: fields}
	case KindOpt:
		return &Value{Kind: KindOpt, Opt: nil}
	case KindVariant:
		if len(t.Fields) == 0 {
			return &Value{Kind: KindVariant}
		}
		return &Value{Kind: KindVariant, Variant: &Variant{
			FieldID: t.Fields[0].ID, TagIndex: 0, Value: zeroValue(t.Fields[0].Type),
		}}
	default:
		return &Value{Kind: t.Kind}
	}
}

func randomEntropy(r *rand.Rand, n int) []byte {
	buf := make([]byte, n)
	_, _ = r.Read(buf)
	return buf
}

func randomPrincipal(r *rand.Rand) []byte {
	switch r.Intn(3) {
	case 0:
		return []byte{254} // anonymous
	case 1:
		return []byte{255} // management canister
	default:
		n := 1 + r.Intn(28)
		b := make([]byte, n)
		_, _ = r.Read(b)
		b[n-1] = 0x01 // opaque-id tag byte
		return b
	}
}

func maskToWidth(v uint64, k Kind) uint64 {
	bits := sizeOf(k)
	if bits >= 64 {
		return v
	}
	return v & (uint64(1)<<uint(bits) - 1)
}
