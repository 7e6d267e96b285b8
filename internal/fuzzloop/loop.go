package fuzzloop

import (
	"context"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/feedback"
	"github.com/dfinity-labs/canfuzz/internal/harness"
	"github.com/dfinity-labs/canfuzz/internal/idl"
)

// Config is the subset of campaign configuration the loop itself
// consumes (spec.md §6's Campaign configuration inputs).
type Config struct {
	SeedDir          string
	InputDir         string
	CrashesDir       string
	StopOnFirstCrash bool
	EnableIDLMutator bool
}

// Loop is C7: it owns the corpus, scheduler, feedback streams, and
// mutation stages, and drives the feedback-directed evaluation loop
// described in spec.md §2's control-flow summary. Construction order
// mirrors spec.md §4.7: RNG, corpora, feedback/objective, scheduler,
// havoc stage, map observer.
type Loop struct {
	cfg Config
	log *logrus.Entry

	rng       *rand.Rand
	corpus    *Corpus
	scheduler *Scheduler
	runner    *harness.Runner
	covMap    *coverage.Map
	novelty   *feedback.NoveltyFeedback
	objective *feedback.ObjectiveFeedback
	stats     *feedback.Stats
	havoc     *Havoc
	idlMut    *idl.MutatorContext
}

// New builds a Loop. runner must already have had Baseline taken.
// idlMut may be idl.Disabled() when the campaign has no interface file
// configured (spec.md §6's enable_idl_mutator: false).
func New(cfg Config, log *logrus.Entry, runner *harness.Runner, covMap *coverage.Map,
	objective *feedback.ObjectiveFeedback, idlMut *idl.MutatorContext, seed int64) (*Loop, error) {
	corpus, err := NewCorpus(cfg.InputDir, cfg.CrashesDir)
	if err != nil {
		return nil, err
	}
	return &Loop{
		cfg:       cfg,
		log:       log,
		rng:       rand.New(rand.NewSource(seed)),
		corpus:    corpus,
		scheduler: NewScheduler(corpus),
		runner:    runner,
		covMap:    covMap,
		novelty:   feedback.NewNoveltyFeedback(covMap),
		objective: objective,
		stats:     feedback.NewStats(time.Now()),
		havoc:     NewHavoc(8),
		idlMut:    idlMut,
	}, nil
}

// Stats returns a snapshot of the campaign counters.
func (l *Loop) Stats() feedback.Stats { return l.stats.Snapshot() }

// SeedCorpus implements spec.md §4.7's seed phase: read every file under
// cfg.SeedDir and feed it through evaluate.
func (l *Loop) SeedCorpus(ctx context.Context) error {
	if l.cfg.SeedDir == "" {
		return nil
	}
	entries, err := l.corpus.Seed(l.cfg.SeedDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := l.evaluate(ctx, e.Data); err != nil {
			return err
		}
	}
	return nil
}

// evaluateOutcome is what one iteration of the loop produced, returned so
// Run can decide whether to keep going under stop_on_first_crash.
type evaluateOutcome struct {
	Disposition harness.Disposition
	Interesting bool
	Objective   bool
}

// evaluate runs the per-iteration contract in the exact order spec.md §5
// requires: setup → execute → coverage-readback → feedback evaluation.
func (l *Loop) evaluate(ctx context.Context, input []byte) (evaluateOutcome, error) {
	if err := l.runner.Setup(ctx); err != nil {
		return evaluateOutcome{}, err
	}

	disposition, instructions, err := l.runner.Execute(ctx, input)
	if err != nil {
		l.log.WithError(err).Warn("execution error")
	}

	if err := l.runner.ReadCoverage(ctx); err != nil {
		// Recovered per spec.md §7: CoverageReadFailed keeps the campaign
		// running with no-coverage for this iteration.
		l.log.WithError(err).Debug("coverage read failed")
	}

	interesting := l.novelty.Observe(l.covMap)
	obs := feedback.Observation{Disposition: disposition, InputLen: len(input), InstructionsConsumed: instructions}
	isObjective := l.objective.IsObjective(obs)

	l.stats.RecordIteration(disposition, interesting)

	if isObjective {
		if path, err := l.corpus.AddCrash(input); err != nil {
			l.log.WithError(err).Warn("failed to persist crash")
		} else if path != "" {
			l.log.WithFields(logrus.Fields{"disposition": disposition.String(), "path": path}).Warn("objective hit")
		}
	} else if interesting {
		if _, err := l.corpus.Add(input); err != nil {
			l.log.WithError(err).Warn("failed to persist interesting input")
		}
	}

	return evaluateOutcome{Disposition: disposition, Interesting: interesting, Objective: isObjective}, nil
}

// mutate applies the optional schema-aware IDL mutation ahead of the
// havoc stage, matching spec.md §4.7's "mutational stage (the engine's
// standard 'havoc' mutator, optionally prefixed by C3)".
func (l *Loop) mutate(input []byte) []byte {
	staged := input
	if l.idlMut != nil {
		result := l.idlMut.Mutate(input, l.rng)
		if !result.Skipped {
			staged = result.Bytes
		}
	}
	return l.havoc.Mutate(staged, l.rng)
}

// Run repeats schedule → mutate → evaluate until ctx is
// cancelled or, when configured, the first objective hit (spec.md §4.7,
// §6's stop_on_first_crash).
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entry := l.scheduler.Next()
		if entry == nil {
			// Nothing seeded yet; fuzz from an empty baseline input.
			entry = &Entry{Data: nil}
		}

		mutated := l.mutate(entry.Data)
		outcome, err := l.evaluate(ctx, mutated)
		if err != nil {
			return err
		}

		if outcome.Disposition != harness.Ok {
			l.log.WithFields(logrus.Fields{
				"iteration":   l.stats.Snapshot().Executions,
				"disposition": outcome.Disposition.String(),
			}).Info("non-ok disposition")
		}

		if l.cfg.StopOnFirstCrash && outcome.Objective {
			return nil
		}
	}
}
