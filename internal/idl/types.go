// Package idl implements the schema-aware structural mutator for the
// platform's canonical argument encoding (C3): a typed value tree, a
// codec that decodes/encodes a blob against a declared method signature,
// and a per-Kind mutation rule table. The wire-accurate type-checker
// library spec.md §1 names as an external collaborator is out of scope;
// this package stands in for it with Decode, which only accepts blobs of
// the declared shape, and isSubtype (mutate.go), which re-checks each value
// before and after mutation.
package idl

// Kind tags the recursive IDL value/type tree described in spec.md §3.
type Kind int

const (
	KindBool Kind = iota
	KindNull
	KindNone
	KindReserved
	KindText
	KindNumber
	KindInt  // arbitrary precision
	KindNat  // arbitrary precision
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindNat8
	KindNat16
	KindNat32
	KindNat64
	KindFloat32
	KindFloat64
	KindPrincipal
	KindBlob
	KindVec
	KindRecord
	KindVariant
	KindOpt
	KindService
	KindFunc
)

func (k Kind) String() string {
	names := [...]string{
		"Bool", "Null", "None", "Reserved", "Text", "Number", "Int", "Nat",
		"Int8", "Int16", "Int32", "Int64", "Nat8", "Nat16", "Nat32", "Nat64",
		"Float32", "Float64", "Principal", "Blob", "Vec", "Record", "Variant",
		"Opt", "Service", "Func",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

// sizedIntKinds and sizedNatKinds classify the fixed-width integer Kinds,
// used by the generic "wrapping add/sub/mul/xor" mutation rule (spec.md §9
// design note: "generic primitive mutation").
var sizedIntKinds = map[Kind]int{KindInt8: 8, KindInt16: 16, KindInt32: 32, KindInt64: 64}
var sizedNatKinds = map[Kind]int{KindNat8: 8, KindNat16: 16, KindNat32: 32, KindNat64: 64}

// FieldType is one named, typed member of a Record or one tagged
// alternative of a Variant.
type FieldType struct {
	ID   uint32
	Name string
	Type *Type
}

// Type is the declared shape of a value: the method signature's argument
// types, and recursively the element/field types of compound values.
type Type struct {
	Kind   Kind
	Elem   *Type       // Vec, Opt
	Fields []FieldType // Record, Variant, in declaration order
}

// FieldByID returns the field with the given id, or nil.
func (t *Type) FieldByID(id uint32) *FieldType {
	for i := range t.Fields {
		if t.Fields[i].ID == id {
			return &t.Fields[i]
		}
	}
	return nil
}

// TypeEnv resolves named types referenced from a method signature (the
// "type-env" of spec.md §3's Mutator Context).
type TypeEnv map[string]*Type
