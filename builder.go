package canfuzz

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/feedback"
	"github.com/dfinity-labs/canfuzz/internal/fuzzerr"
	"github.com/dfinity-labs/canfuzz/internal/fuzzloop"
	"github.com/dfinity-labs/canfuzz/internal/harness"
	"github.com/dfinity-labs/canfuzz/internal/registry"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

// FuzzerStateBuilder assembles a FuzzerState, enforcing the "exactly one
// Coverage canister" invariant at Build() time (spec.md §3) the same way
// wazero's compiledModule/hostModuleBuilder validate at Compile()/
// Instantiate() rather than letting an invalid state leak into running
// code.
type FuzzerStateBuilder struct {
	name       string
	sim        simulator.Simulator
	entries    []*registry.Entry
	cfg        *CampaignConfig
	log        *logrus.Entry
	extraObjs  []feedback.ObjectivePredicate
	rngSeed    int64
}

// NewFuzzerStateBuilder starts building a named campaign against sim.
func NewFuzzerStateBuilder(name string, sim simulator.Simulator) *FuzzerStateBuilder {
	return &FuzzerStateBuilder{
		name: name,
		sim:  sim,
		cfg:  NewCampaignConfig(),
		log:  logrus.NewEntry(logrus.StandardLogger()),
	}
}

// WithCanister declares one canister entry. Call once per canister;
// Build fails unless exactly one has registry.Coverage role.
func (b *FuzzerStateBuilder) WithCanister(e *registry.Entry) *FuzzerStateBuilder {
	b.entries = append(b.entries, e)
	return b
}

// WithConfig replaces the campaign configuration.
func (b *FuzzerStateBuilder) WithConfig(cfg *CampaignConfig) *FuzzerStateBuilder {
	b.cfg = cfg
	return b
}

// WithLogger sets the structured logging entry threaded through the fuzz
// loop; fields "canister", "iteration", "disposition" are added as the
// campaign runs (SPEC_FULL.md §6).
func (b *FuzzerStateBuilder) WithLogger(log *logrus.Entry) *FuzzerStateBuilder {
	b.log = log
	return b
}

// WithObjectivePredicate adds a campaign-specific crash condition ORed
// into the objective feedback stream (spec.md §4.6).
func (b *FuzzerStateBuilder) WithObjectivePredicate(p feedback.ObjectivePredicate) *FuzzerStateBuilder {
	b.extraObjs = append(b.extraObjs, p)
	return b
}

// WithRNGSeed fixes the fuzz loop's havoc/IDL-mutation RNG seed, for
// reproducible tests; campaigns normally leave this at its zero value,
// which Build derives from OS-time entropy.
func (b *FuzzerStateBuilder) WithRNGSeed(seed int64) *FuzzerStateBuilder {
	b.rngSeed = seed
	return b
}

// Build constructs every component in the control-flow order spec.md §2
// describes: the registry installs and instruments each canister, the
// runner takes a baseline snapshot, and the fuzz loop is wired up ready
// to seed and run.
func (b *FuzzerStateBuilder) Build(ctx context.Context) (*FuzzerState, error) {
	reg, err := registry.New(b.entries)
	if err != nil {
		return nil, fuzzerr.New(fuzzerr.SimulatorSetupFailed, fmt.Errorf("%s: %w", b.name, err))
	}

	covMap, err := coverage.New(b.cfg.historySize)
	if err != nil {
		return nil, fuzzerr.New(fuzzerr.InvalidHistory, err)
	}

	if err := registry.Setup(ctx, b.sim, reg, b.cfg.cycles, registry.RewriteParams{
		HistorySize: b.cfg.historySize,
		SeedPolicy:  b.cfg.seedPolicy,
	}); err != nil {
		return nil, err
	}

	coverageEntry := reg.CoverageEntry()
	runner := harness.NewRunner(b.sim, coverageEntry.AssignedID, covMap, b.cfg.execTimeout)
	if err := runner.Baseline(ctx); err != nil {
		return nil, err
	}

	objective := feedback.NewObjectiveFeedback(b.extraObjs...)

	loopCfg := fuzzloop.Config{
		SeedDir:          b.cfg.corpusDir,
		InputDir:         b.cfg.inputDir,
		CrashesDir:       b.cfg.crashesDir,
		StopOnFirstCrash: b.cfg.stopOnFirstCrash,
		EnableIDLMutator: b.cfg.idlMutator != nil && b.cfg.idlMutator.Enabled,
	}
	log := b.log.WithField("canister", coverageEntry.Name)
	loop, err := fuzzloop.New(loopCfg, log, runner, covMap, objective, b.cfg.idlMutator, b.rngSeed)
	if err != nil {
		return nil, err
	}

	return &FuzzerState{
		Name:      b.name,
		Sim:       b.sim,
		Registry:  reg,
		CovMap:    covMap,
		Runner:    runner,
		Objective: objective,
		Loop:      loop,
	}, nil
}
