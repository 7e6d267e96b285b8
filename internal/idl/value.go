package idl

import "math/big"

// Field is one member of a decoded Record: the declared field id paired
// with its value.
type Field struct {
	ID    uint32
	Value *Value
}

// Variant is a decoded Variant: which alternative was chosen (both by
// field id and by its position in the declared Type.Fields, since the
// mutation rule for "switch to a different tag" needs the latter) and its
// payload.
type Variant struct {
	FieldID   uint32
	TagIndex  int
	Value     *Value
}

// Value is the recursive tagged value tree of spec.md §3. Only the fields
// relevant to Kind are populated; the rest are zero.
type Value struct {
	Kind Kind

	Bool bool

	Text   string // Text, Number (Number is decimal text, mutated as text)
	Big    *big.Int // Int, Nat (arbitrary precision)
	Sized  uint64   // IntN/NatN, stored as the raw N-bit bit pattern
	F32    float32
	F64    float64
	Bytes  []byte // Principal, Blob

	Vec     []*Value
	Record  []Field
	Variant *Variant
	Opt     *Value // nil means None; non-nil is Some(Opt)
}

// SizedBits returns the bit width of a sized Int/Nat Kind, or 0.
func (v *Value) SizedBits() int {
	if n, ok := sizedIntKinds[v.Kind]; ok {
		return n
	}
	if n, ok := sizedNatKinds[v.Kind]; ok {
		return n
	}
	return 0
}
