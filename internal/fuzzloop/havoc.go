package fuzzloop

import "math/rand"

// Havoc implements the stacked byte-level mutations spec.md §4.7 calls
// "the engine's standard 'havoc' mutator": the underlying AFL-flavored
// engine primitives are an external collaborator out of scope per
// spec.md §1, so this is this module's own minimal stand-in, applying a
// random number of the classic AFL havoc operators in sequence.
type Havoc struct {
	MaxStack int
}

// NewHavoc builds a Havoc stage stacking up to maxStack operators per
// call; 8 mirrors AFL's typical low end for small inputs.
func NewHavoc(maxStack int) *Havoc {
	if maxStack <= 0 {
		maxStack = 8
	}
	return &Havoc{MaxStack: maxStack}
}

// Mutate returns a mutated copy of input, leaving input itself untouched.
func (h *Havoc) Mutate(input []byte, r *rand.Rand) []byte {
	out := append([]byte(nil), input...)
	if len(out) == 0 {
		out = []byte{0}
	}
	steps := 1 + r.Intn(h.MaxStack)
	for i := 0; i < steps; i++ {
		out = h.step(out, r)
	}
	return out
}

func (h *Havoc) step(b []byte, r *rand.Rand) []byte {
	if len(b) == 0 {
		return []byte{byte(r.Intn(256))}
	}
	switch r.Intn(6) {
	case 0: // flip a single bit
		i := r.Intn(len(b))
		b[i] ^= 1 << uint(r.Intn(8))
	case 1: // set a random byte to a random value
		i := r.Intn(len(b))
		b[i] = byte(r.Intn(256))
	case 2: // add/subtract a small value from a byte (arithmetic mutation)
		i := r.Intn(len(b))
		delta := byte(1 + r.Intn(35))
		if r.Intn(2) == 0 {
			b[i] += delta
		} else {
			b[i] -= delta
		}
	case 3: // insert a random byte at a random position
		i := r.Intn(len(b) + 1)
		nb := make([]byte, 0, len(b)+1)
		nb = append(nb, b[:i]...)
		nb = append(nb, byte(r.Intn(256)))
		nb = append(nb, b[i:]...)
		b = nb
	case 4: // delete a random byte
		if len(b) > 1 {
			i := r.Intn(len(b))
			b = append(b[:i], b[i+1:]...)
		}
	default: // duplicate a random chunk
		if len(b) > 0 {
			i := r.Intn(len(b))
			n := 1 + r.Intn(len(b)-i)
			chunk := append([]byte(nil), b[i:i+n]...)
			j := r.Intn(len(b) + 1)
			nb := make([]byte, 0, len(b)+len(chunk))
			nb = append(nb, b[:j]...)
			nb = append(nb, chunk...)
			nb = append(nb, b[j:]...)
			b = nb
		}
	}
	return b
}
