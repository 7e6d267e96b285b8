package rewrite

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand"
)

// SeedPolicy chooses how the rewriter's per-edge curr_loc constants are
// derived, matching the two policies named in spec.md §4.2 step 5a.
type SeedPolicy struct {
	static   bool
	seed     uint32
	hasValue bool
}

// RandomSeed seeds the edge-constant stream from OS entropy: two
// invocations of Instrument on the same module will not produce identical
// output.
func RandomSeed() SeedPolicy { return SeedPolicy{static: false} }

// StaticSeed seeds the edge-constant stream deterministically from s:
// Instrument(m, history, StaticSeed(s)) is byte-identical across runs
// (testable property 4).
func StaticSeed(s uint32) SeedPolicy { return SeedPolicy{static: true, seed: s, hasValue: true} }

// newRand builds the single sequential generator the rewriter draws every
// curr_loc from, in function-then-instruction order.
func (p SeedPolicy) newRand() *rand.Rand {
	if p.static && p.hasValue {
		return rand.New(rand.NewSource(int64(p.seed)))
	}
	var buf [8]byte
	_, _ = cryptorand.Read(buf[:])
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(buf[:]))))
}

// nextCurrLoc draws the next edge id, uniform in [0, mapSize*historySize).
func nextCurrLoc(r *rand.Rand, mapSize, historySize int) uint32 {
	return uint32(r.Intn(mapSize * historySize))
}
