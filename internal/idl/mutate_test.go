package idl

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeArgs(t *testing.T, vals []*Value) []byte {
	t.Helper()
	var out []byte
	for _, v := range vals {
		b, err := Encode(v)
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

// Property 7: mutator non-corruption. A short/garbage blob against a
// declared type must return Skipped with the input untouched.
func TestMutateSkipsOnDecodeFailure(t *testing.T) {
	ctx := NewEnabled("m", []*Type{{Kind: KindNat64}}, nil)
	input := []byte{0x01, 0x02} // too short for a nat64
	r := rand.New(rand.NewSource(1))

	// Force the non-fresh-blob path deterministically by trying many
	// seeds until one skips the 0.20 fresh-generation branch; the
	// decode failure path is what's under test either way since a fresh
	// blob never corrupts and a decode failure always returns Skipped.
	for i := int64(0); i < 100; i++ {
		r = rand.New(rand.NewSource(i))
		result := ctx.Mutate(input, r)
		if result.Skipped {
			assert.Equal(t, input, result.Bytes)
			return
		}
	}
}

// Property 6: mutator type-preservation for a sized integer.
func TestMutateSizedIntegerStaysInType(t *testing.T) {
	v := &Value{Kind: KindNat8, Sized: 10}
	t8 := &Type{Kind: KindNat8}
	input := encodeArgs(t, []*Value{v})

	ctx := NewEnabled("m", []*Type{t8}, nil)
	r := rand.New(rand.NewSource(7355608))

	var out []byte
	for i := 0; i < 50; i++ {
		result := ctx.Mutate(input, r)
		if !result.Skipped {
			out = result.Bytes
			break
		}
	}
	require.NotNil(t, out)

	decoded, n, err := Decode(out, t8)
	require.NoError(t, err)
	assert.Equal(t, len(out), n)
	assert.True(t, decoded.Sized <= 0xff)
}

// E5: naughty-string insertion is byte-for-byte exact when chosen. Seed 60
// draws the insert rule, the first naughty sample, and insertion index 1.
func TestMutateTextInsertsNaughtyString(t *testing.T) {
	v := &Value{Kind: KindText, Text: "hello"}
	mutateText(v, rand.New(rand.NewSource(60)))
	assert.Equal(t, "h\"\\`'><script>\xE3\x80\x80javascript:alert(1)</script>ello", v.Text)
}

func TestMutateBoolNegates(t *testing.T) {
	v := &Value{Kind: KindBool, Bool: true}
	mutateValue(v, &Type{Kind: KindBool}, rand.New(rand.NewSource(1)), 0)
	assert.False(t, v.Bool)
}

func TestMutateNullIsNoOp(t *testing.T) {
	v := &Value{Kind: KindNull}
	mutateValue(v, &Type{Kind: KindNull}, rand.New(rand.NewSource(1)), 0)
	assert.Equal(t, KindNull, v.Kind)
}

func TestMutateDepthBoundIsNoOp(t *testing.T) {
	v := &Value{Kind: KindBool, Bool: true}
	mutateValue(v, &Type{Kind: KindBool}, rand.New(rand.NewSource(1)), 21)
	assert.True(t, v.Bool, "mutation beyond depth 20 must be a no-op")
}

func TestMutateRecordPicksDeclaredFieldType(t *testing.T) {
	rt := &Type{Kind: KindRecord, Fields: []FieldType{
		{ID: 0, Type: &Type{Kind: KindBool}},
		{ID: 1, Type: &Type{Kind: KindNat8}},
	}}
	v := &Value{Kind: KindRecord, Record: []Field{
		{ID: 0, Value: &Value{Kind: KindBool, Bool: false}},
		{ID: 1, Value: &Value{Kind: KindNat8, Sized: 5}},
	}}
	r := rand.New(rand.NewSource(2))
	mutateValue(v, rt, r, 0)
	assert.True(t, isSubtype(v, rt))
}

func TestMutateVariantSwitchOrInnerStaysValid(t *testing.T) {
	vt := &Type{Kind: KindVariant, Fields: []FieldType{
		{ID: 0, Type: &Type{Kind: KindNat8}},
		{ID: 1, Type: &Type{Kind: KindBool}},
	}}
	for seed := int64(0); seed < 30; seed++ {
		v := &Value{Kind: KindVariant, Variant: &Variant{FieldID: 0, TagIndex: 0, Value: &Value{Kind: KindNat8, Sized: 3}}}
		mutateValue(v, vt, rand.New(rand.NewSource(seed)), 0)
		assert.True(t, isSubtype(v, vt), "seed %d", seed)
	}
}

func TestMutateOptLeavesNoneAlone(t *testing.T) {
	ot := &Type{Kind: KindOpt, Elem: &Type{Kind: KindBool}}
	v := &Value{Kind: KindOpt, Opt: nil}
	mutateValue(v, ot, rand.New(rand.NewSource(1)), 0)
	assert.Nil(t, v.Opt)
}

func TestIsSubtypeRejectsKindMismatch(t *testing.T) {
	v := &Value{Kind: KindBool}
	assert.False(t, isSubtype(v, &Type{Kind: KindNat8}))
}

func TestDisabledContextOnlyGeneratesFreshBlob(t *testing.T) {
	ctx := Disabled()
	input := []byte{0xAB, 0xCD}
	sawFresh, sawSkipped := false, false
	for seed := int64(0); seed < 200; seed++ {
		result := ctx.Mutate(input, rand.New(rand.NewSource(seed)))
		if result.Skipped {
			sawSkipped = true
			assert.Equal(t, input, result.Bytes)
		} else {
			sawFresh = true
		}
	}
	assert.True(t, sawFresh)
	assert.True(t, sawSkipped)
}
