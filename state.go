// Package canfuzz is the root package of the fuzzing orchestrator (C7's
// owner): it builds a FuzzerState from a CampaignConfig and a set of
// declared canisters, wiring together the registry, rewriter, harness,
// feedback plane, and fuzz loop described in spec.md §4, and drives the
// campaign to completion or a fatal error.
package canfuzz

import (
	"context"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/feedback"
	"github.com/dfinity-labs/canfuzz/internal/fuzzloop"
	"github.com/dfinity-labs/canfuzz/internal/harness"
	"github.com/dfinity-labs/canfuzz/internal/registry"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

// FuzzerState is spec.md §3's built, ready-to-run campaign: the
// simulator, the canister registry, the coverage map, the harness runner,
// and the fuzz loop that drives them.
type FuzzerState struct {
	Name      string
	Sim       simulator.Simulator
	Registry  *registry.Registry
	CovMap    *coverage.Map
	Runner    *harness.Runner
	Objective *feedback.ObjectiveFeedback
	Loop      *fuzzloop.Loop
}

// Run drives the campaign's main phase until ctx is cancelled or, when
// configured, the first objective hit (spec.md §4.7).
func (s *FuzzerState) Run(ctx context.Context) error {
	if err := s.Loop.SeedCorpus(ctx); err != nil {
		return err
	}
	return s.Loop.Run(ctx)
}
