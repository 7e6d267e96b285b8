package fuzzloop

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/feedback"
	"github.com/dfinity-labs/canfuzz/internal/harness"
	"github.com/dfinity-labs/canfuzz/internal/idl"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

func silentLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestLoop(t *testing.T, behavior simulator.FakeCallFunc) (*Loop, *coverage.Map) {
	return newTestLoopWithObjective(t, behavior, feedback.NewObjectiveFeedback())
}

func newTestLoopWithObjective(t *testing.T, behavior simulator.FakeCallFunc, objective *feedback.ObjectiveFeedback) (*Loop, *coverage.Map) {
	t.Helper()
	ctx := context.Background()
	sim := simulator.NewFake()
	id, err := sim.CreateCanister(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, sim.InstallCode(ctx, id, []byte("wasm"), nil))
	sim.SetBehavior(id, behavior)

	m, err := coverage.New(1)
	require.NoError(t, err)
	runner := harness.NewRunner(sim, id, m, time.Second)
	require.NoError(t, runner.Baseline(ctx))

	cfg := Config{InputDir: t.TempDir(), CrashesDir: t.TempDir(), StopOnFirstCrash: true}
	l, err := New(cfg, silentLogger(), runner, m, objective, idl.Disabled(), 42)
	require.NoError(t, err)
	return l, m
}

func TestLoopEvaluateRecordsNoveltyAndPersistsInterestingInput(t *testing.T) {
	call := 0
	l, _ := newTestLoop(t, func(c int, args []byte) (simulator.CallResult, []byte) {
		call++
		payload := make([]byte, coverage.MapSize)
		payload[call] = 1 // a new edge every call
		return simulator.CallResult{Outcome: simulator.OutcomeReply}, payload
	})

	outcome, err := l.evaluate(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, harness.Ok, outcome.Disposition)
	assert.True(t, outcome.Interesting)
	assert.False(t, outcome.Objective)
	assert.Equal(t, 1, l.corpus.Len())
}

func TestLoopEvaluatePersistsCrashNotLiveCorpus(t *testing.T) {
	l, _ := newTestLoop(t, func(c int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeTrapped}, nil
	})

	outcome, err := l.evaluate(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, harness.Crash, outcome.Disposition)
	assert.True(t, outcome.Objective)
	assert.Equal(t, 0, l.corpus.Len(), "a crashing input is not added to the live scheduling set")
}

func TestLoopEvaluatePromotesHighInstructionRatioViaObjectivePredicate(t *testing.T) {
	l, _ := newTestLoopWithObjective(t,
		func(c int, args []byte) (simulator.CallResult, []byte) {
			return simulator.CallResult{Outcome: simulator.OutcomeReply, InstructionsConsumed: 1_000_000}, nil
		},
		feedback.NewObjectiveFeedback(feedback.RatioThreshold(1000)),
	)

	outcome, err := l.evaluate(context.Background(), []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, harness.Ok, outcome.Disposition, "the base disposition never crashes here")
	assert.True(t, outcome.Objective, "RatioThreshold must fire off the real instructions-consumed count Execute reports")
}

func TestLoopRunStopsOnFirstCrashWhenConfigured(t *testing.T) {
	l, _ := newTestLoop(t, func(c int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeTrapped}, nil
	})

	err := l.Run(context.Background())
	require.NoError(t, err)
	snap := l.Stats()
	assert.EqualValues(t, 1, snap.Executions)
	assert.EqualValues(t, 1, snap.Crashes)
}

func TestLoopRunRespectsContextCancellation(t *testing.T) {
	l, _ := newTestLoop(t, func(c int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeReply}, nil
	})
	l.cfg.StopOnFirstCrash = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoopMutateAppliesHavocAndIsNonEmpty(t *testing.T) {
	l, _ := newTestLoop(t, func(c int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeReply}, nil
	})
	out := l.mutate(nil)
	assert.NotEmpty(t, out)
}
