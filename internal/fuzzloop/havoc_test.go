package fuzzloop

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHavocMutateLeavesInputUntouched(t *testing.T) {
	h := NewHavoc(8)
	input := []byte("the quick brown fox")
	orig := append([]byte(nil), input...)
	r := rand.New(rand.NewSource(1))

	_ = h.Mutate(input, r)
	assert.Equal(t, orig, input)
}

func TestHavocMutateNeverReturnsEmpty(t *testing.T) {
	h := NewHavoc(8)
	for seed := int64(0); seed < 50; seed++ {
		r := rand.New(rand.NewSource(seed))
		out := h.Mutate(nil, r)
		assert.NotEmpty(t, out)
	}
}

func TestNewHavocDefaultsNonPositiveStack(t *testing.T) {
	h := NewHavoc(0)
	assert.Equal(t, 8, h.MaxStack)
	h2 := NewHavoc(-3)
	assert.Equal(t, 8, h2.MaxStack)
}

func TestHavocMutateProducesVariedOutputAcrossSeeds(t *testing.T) {
	h := NewHavoc(8)
	input := []byte("stable seed corpus entry")
	seen := make(map[string]bool)
	for seed := int64(0); seed < 20; seed++ {
		r := rand.New(rand.NewSource(seed))
		out := h.Mutate(input, r)
		seen[string(out)] = true
	}
	assert.Greater(t, len(seen), 1, "havoc should not collapse to a single deterministic output across seeds")
}
