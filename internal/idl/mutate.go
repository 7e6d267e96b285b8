package idl

import (
	"math"
	"math/big"
	"math/rand"
)

// MutatorContext is the constructed-once-per-campaign state spec.md §3
// describes: the method's argument types and the type-env they reference,
// or Enabled == false when no interface file was supplied for the target
// method.
type MutatorContext struct {
	Enabled    bool
	Env        TypeEnv
	ArgTypes   []*Type
	MethodName string
}

// Disabled returns a MutatorContext with no interface file: only the
// Disabled-mode 0.05 fresh-blob path of spec.md §4.3 is reachable.
func Disabled() *MutatorContext {
	return &MutatorContext{Enabled: false}
}

// NewEnabled builds a MutatorContext for a method whose signature is
// known, enabling in-place structural mutation of decoded args.
func NewEnabled(methodName string, argTypes []*Type, env TypeEnv) *MutatorContext {
	return &MutatorContext{Enabled: true, Env: env, ArgTypes: argTypes, MethodName: methodName}
}

// Result is the outcome of one Mutate call.
type Result struct {
	Skipped bool
	Bytes   []byte
}

// skipped leaves input untouched, matching testable property 7.
func skipped(input []byte) Result { return Result{Skipped: true, Bytes: input} }

// Mutate implements the C3 public contract of spec.md §4.3: given a
// corpus blob and a random source, produce a new blob. When ctx is
// Disabled, only the 0.05-probability fresh-generation path can fire (a
// recordless blob has no declared type to decode against); otherwise a
// 0.20-probability fresh blob is drawn, else one argument is mutated
// in-place and every argument is re-encoded from its decoded value.
func (ctx *MutatorContext) Mutate(input []byte, r *rand.Rand) Result {
	if !ctx.Enabled {
		if r.Float64() < 0.05 {
			return Result{Bytes: ctx.freshArgsBlob(r)}
		}
		return skipped(input)
	}

	if r.Float64() < 0.20 {
		return Result{Bytes: ctx.freshArgsBlob(r)}
	}

	pos := 0
	values := make([]*Value, len(ctx.ArgTypes))
	for i, t := range ctx.ArgTypes {
		v, used, err := Decode(input[pos:], t)
		if err != nil {
			return skipped(input)
		}
		if !isSubtype(v, t) {
			return skipped(input)
		}
		values[i] = v
		pos += used
	}

	if len(values) == 0 {
		return skipped(input)
	}
	chosen := r.Intn(len(values))
	mutateValue(values[chosen], ctx.ArgTypes[chosen], r, 0)

	var out []byte
	for i, v := range values {
		b, err := Encode(v)
		if err != nil {
			return skipped(input)
		}
		if !isSubtype(v, ctx.ArgTypes[i]) {
			return skipped(input)
		}
		out = append(out, b...)
	}
	return Result{Bytes: out}
}

// freshArgsBlob generates a schema-random value for every declared
// argument type and concatenates their encodings; used by both the
// Disabled 0.05 path and the Enabled 0.20 path. When ctx has no declared
// arg types (Disabled with no signature at all), it falls back to a
// single opaque blob of random bytes.
func (ctx *MutatorContext) freshArgsBlob(r *rand.Rand) []byte {
	if len(ctx.ArgTypes) == 0 {
		return randomEntropy(r, 1+r.Intn(64))
	}
	var out []byte
	for _, t := range ctx.ArgTypes {
		v := randomValue(t, r, 0)
		b, err := Encode(v)
		if err != nil {
			continue
		}
		out = append(out, b...)
	}
	return out
}

// isSubtype reports whether v remains assignable to t after mutation
// (spec.md §3's IDL Value Tree invariant and testable property 6). Decode
// already builds v exactly to t's shape, and mutateValue preserves Kind
// and recursive structure at every node, so the check is a shape walk
// rather than a full structural type-checker.
func isSubtype(v *Value, t *Type) bool {
	if v == nil || t == nil || v.Kind != t.Kind {
		return false
	}
	switch t.Kind {
	case KindVec:
		for _, e := range v.Vec {
			if !isSubtype(e, t.Elem) {
				return false
			}
		}
		return true
	case KindRecord:
		if len(v.Record) != len(t.Fields) {
			return false
		}
		for i, f := range v.Record {
			if f.ID != t.Fields[i].ID || !isSubtype(f.Value, t.Fields[i].Type) {
				return false
			}
		}
		return true
	case KindVariant:
		if v.Variant == nil || v.Variant.TagIndex < 0 || v.Variant.TagIndex >= len(t.Fields) {
			return false
		}
		ft := t.Fields[v.Variant.TagIndex]
		return v.Variant.FieldID == ft.ID && isSubtype(v.Variant.Value, ft.Type)
	case KindOpt:
		if v.Opt == nil {
			return true
		}
		return isSubtype(v.Opt, t.Elem)
	default:
		return true
	}
}

// mutateValue applies the per-Kind rule of spec.md §4.3's table in place.
// Depths beyond 20 are a no-op, matching the bound the mutation rules are
// defined under.
func mutateValue(v *Value, t *Type, r *rand.Rand, depth int) {
	if depth > 20 {
		return
	}
	switch v.Kind {
	case KindBool:
		v.Bool = !v.Bool

	case KindNull, KindNone, KindReserved:
		// no-op

	case KindText, KindNumber:
		mutateText(v, r)

	case KindInt:
		mutateBigSigned(v, r)

	case KindNat:
		mutateBigUnsigned(v, r)

	case KindInt8, KindInt16, KindInt32, KindInt64, KindNat8, KindNat16, KindNat32, KindNat64:
		mutateSized(v, r)

	case KindFloat32:
		mutateFloat32(v, r)

	case KindFloat64:
		mutateFloat64(v, r)

	case KindPrincipal:
		v.Bytes = randomPrincipal(r)

	case KindBlob:
		n := 0
		if len(v.Bytes) > 0 {
			n = r.Intn(len(v.Bytes))
		}
		v.Bytes = randomEntropy(r, n)

	case KindVec:
		mutateVec(v, t, r, depth)

	case KindRecord:
		mutateRecord(v, t, r, depth)

	case KindVariant:
		mutateVariant(v, t, r, depth)

	case KindOpt:
		if v.Opt != nil {
			mutateValue(v.Opt, t.Elem, r, depth+1)
		}

	case KindService, KindFunc:
		// unsupported; no-op
	}
}

func mutateText(v *Value, r *rand.Rand) {
	switch r.Intn(4) {
	case 0:
		s := naughtyStrings[r.Intn(len(naughtyStrings))]
		idx := 0
		if len(v.Text) > 0 {
			idx = r.Intn(len(v.Text) + 1)
		}
		v.Text = v.Text[:idx] + s + v.Text[idx:]
	case 1:
		if len(v.Text) > 0 {
			v.Text = v.Text[:len(v.Text)-1]
		}
	case 2:
		v.Text = ""
	case 3:
		if len(v.Text) > 0 {
			b := []byte(v.Text)
			i := r.Intn(len(b))
			b[i]++
			v.Text = string(b)
		}
	}
}

var (
	int64Min = big.NewInt(math.MinInt64)
	int64Max = big.NewInt(math.MaxInt64)
	uint64Max = new(big.Int).SetUint64(math.MaxUint64)
)

func mutateBigSigned(v *Value, r *rand.Rand) {
	if v.Big == nil {
		v.Big = big.NewInt(0)
	}
	switch r.Intn(6) {
	case 0:
		v.Big = new(big.Int).Add(v.Big, big.NewInt(1))
	case 1:
		v.Big = new(big.Int).Sub(v.Big, big.NewInt(1))
	case 2:
		v.Big = big.NewInt(0)
	case 3:
		v.Big = new(big.Int).Set(int64Min)
	case 4:
		v.Big = new(big.Int).Set(int64Max)
	default:
		if r.Intn(2) == 0 {
			delta := big.NewInt(r.Int63() - r.Int63())
			v.Big = new(big.Int).Add(v.Big, delta)
		} else {
			factor := big.NewInt(r.Int63())
			v.Big = new(big.Int).Mul(v.Big, factor)
		}
	}
}

func mutateBigUnsigned(v *Value, r *rand.Rand) {
	if v.Big == nil {
		v.Big = big.NewInt(0)
	}
	switch r.Intn(5) {
	case 0:
		v.Big = new(big.Int).Add(v.Big, big.NewInt(1))
	case 1:
		n := new(big.Int).Sub(v.Big, big.NewInt(1))
		if n.Sign() < 0 {
			n.SetInt64(0)
		}
		v.Big = n
	case 2:
		v.Big = big.NewInt(0)
	case 3:
		v.Big = new(big.Int).Set(uint64Max)
	default:
		var n *big.Int
		if r.Intn(2) == 0 {
			delta := big.NewInt(r.Int63() - r.Int63())
			n = new(big.Int).Add(v.Big, delta)
		} else {
			factor := big.NewInt(r.Int63())
			n = new(big.Int).Mul(v.Big, factor)
		}
		if n.Sign() < 0 {
			n.SetInt64(0)
		}
		v.Big = n
	}
}

// mutateSized implements "bitwise add, sub, mul, or xor against a random
// same-width value" generically over the fixed-width integer capability
// (spec.md §9 design note), masking the result back to the declared
// width so it remains a valid member of the type.
func mutateSized(v *Value, r *rand.Rand) {
	bits := v.SizedBits()
	rv := r.Uint64()
	if bits < 64 {
		rv &= (uint64(1) << uint(bits)) - 1
	}
	var result uint64
	switch r.Intn(4) {
	case 0:
		result = v.Sized + rv
	case 1:
		result = v.Sized - rv
	case 2:
		result = v.Sized * rv
	default:
		result = v.Sized ^ rv
	}
	if bits < 64 {
		result &= (uint64(1) << uint(bits)) - 1
	}
	v.Sized = result
}

func mutateFloat32(v *Value, r *rand.Rand) {
	switch {
	case r.Float64() < 0.05:
		v.F32 = float32(math.NaN())
	case r.Float64() < 0.05:
		v.F32 = float32(math.Inf(1))
	case r.Intn(2) == 0:
		v.F32 = v.F32 + float32(r.NormFloat64())
	default:
		v.F32 = v.F32 * float32(r.NormFloat64())
	}
}

func mutateFloat64(v *Value, r *rand.Rand) {
	switch {
	case r.Float64() < 0.05:
		v.F64 = math.NaN()
	case r.Float64() < 0.05:
		v.F64 = math.Inf(1)
	case r.Intn(2) == 0:
		v.F64 = v.F64 + r.NormFloat64()
	default:
		v.F64 = v.F64 * r.NormFloat64()
	}
}

func mutateVec(v *Value, t *Type, r *rand.Rand, depth int) {
	if len(v.Vec) == 0 {
		v.Vec = []*Value{randomValue(t.Elem, r, depth+1)}
		return
	}
	i := r.Intn(len(v.Vec))
	switch r.Intn(3) {
	case 0:
		v.Vec = append(v.Vec[:i], v.Vec[i+1:]...)
	case 1:
		dup := cloneValue(v.Vec[i])
		mutateValue(dup, t.Elem, r, depth+1)
		v.Vec = append(v.Vec[:i:i], append([]*Value{dup}, v.Vec[i:]...)...)
	default:
		mutateValue(v.Vec[i], t.Elem, r, depth+1)
	}
}

func mutateRecord(v *Value, t *Type, r *rand.Rand, depth int) {
	if len(v.Record) == 0 {
		return
	}
	i := r.Intn(len(v.Record))
	ft := t.FieldByID(v.Record[i].ID)
	if ft == nil {
		return
	}
	mutateValue(v.Record[i].Value, ft.Type, r, depth+1)
}

// mutateVariant implements "with prob 0.20 switch to a different tag and
// fill with a schema-random value for that tag; else mutate the current
// tag's inner value" (spec.md §4.3). When the chosen tag's fresh value
// comes back empty for a recursive type with no base case, spec.md §9's
// resolved open question applies: leave the variant unchanged.
func mutateVariant(v *Value, t *Type, r *rand.Rand, depth int) {
	if v.Variant == nil || len(t.Fields) == 0 {
		return
	}
	if r.Float64() < 0.20 && len(t.Fields) > 1 {
		choices := make([]int, 0, len(t.Fields)-1)
		for i := range t.Fields {
			if i != v.Variant.TagIndex {
				choices = append(choices, i)
			}
		}
		idx := choices[r.Intn(len(choices))]
		ft := t.Fields[idx]
		fresh := randomValue(ft.Type, r, depth+1)
		if fresh == nil {
			return
		}
		v.Variant = &Variant{FieldID: ft.ID, TagIndex: idx, Value: fresh}
		return
	}
	ft := t.Fields[v.Variant.TagIndex]
	mutateValue(v.Variant.Value, ft.Type, r, depth+1)
}

// cloneValue deep-copies v so "duplicate then mutate" leaves the original
// element in the vec untouched by the duplicate's subsequent mutation.
func cloneValue(v *Value) *Value {
	if v == nil {
		return nil
	}
	c := *v
	if v.Big != nil {
		c.Big = new(big.Int).Set(v.Big)
	}
	if v.Bytes != nil {
		c.Bytes = append([]byte(nil), v.Bytes...)
	}
	if v.Vec != nil {
		c.Vec = make([]*Value, len(v.Vec))
		for i, e := range v.Vec {
			c.Vec[i] = cloneValue(e)
		}
	}
	if v.Record != nil {
		c.Record = make([]Field, len(v.Record))
		for i, f := range v.Record {
			c.Record[i] = Field{ID: f.ID, Value: cloneValue(f.Value)}
		}
	}
	if v.Variant != nil {
		c.Variant = &Variant{
			FieldID: v.Variant.FieldID, TagIndex: v.Variant.TagIndex, Value: cloneValue(v.Variant.Value),
		}
	}
	if v.Opt != nil {
		c.Opt = cloneValue(v.Opt)
	}
	return &c
}
