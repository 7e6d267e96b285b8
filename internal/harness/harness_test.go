package harness

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

func newTestRunner(t *testing.T, behavior simulator.FakeCallFunc, timeout time.Duration) (*Runner, *simulator.Fake, simulator.CanisterID) {
	t.Helper()
	ctx := context.Background()
	sim := simulator.NewFake()
	id, err := sim.CreateCanister(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, sim.InstallCode(ctx, id, []byte("wasm"), nil))
	sim.SetBehavior(id, behavior)

	m, err := coverage.New(1)
	require.NoError(t, err)

	r := NewRunner(sim, id, m, timeout)
	require.NoError(t, r.Baseline(ctx))
	return r, sim, id
}

func TestExecuteWithoutBaselineFails(t *testing.T) {
	sim := simulator.NewFake()
	id, err := sim.CreateCanister(context.Background(), 0)
	require.NoError(t, err)
	m, err := coverage.New(1)
	require.NoError(t, err)
	r := NewRunner(sim, id, m, time.Second)
	assert.Error(t, r.Setup(context.Background()))
}

func TestExecuteClassifiesReply(t *testing.T) {
	r, sim, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeReply}, nil
	}, time.Second)

	require.NoError(t, r.Setup(context.Background()))
	d, _, err := r.Execute(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, Ok, d)
	assert.Equal(t, elapsedPerIteration, sim.Elapsed())
}

func TestExecuteReportsInstructionsConsumed(t *testing.T) {
	r, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeReply, InstructionsConsumed: 4242}, nil
	}, time.Second)

	require.NoError(t, r.Setup(context.Background()))
	d, instructions, err := r.Execute(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, Ok, d)
	assert.Equal(t, uint64(4242), instructions)
}

func TestExecuteClassifiesTrap(t *testing.T) {
	r, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeTrapped}, nil
	}, time.Second)

	require.NoError(t, r.Setup(context.Background()))
	d, _, err := r.Execute(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, Crash, d)
}

func TestExecuteClassifiesOomAndInstructionLimit(t *testing.T) {
	r, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeOutOfMemory}, nil
	}, time.Second)
	require.NoError(t, r.Setup(context.Background()))
	d, _, err := r.Execute(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, Oom, d)

	r2, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeInstructionLimit}, nil
	}, time.Second)
	require.NoError(t, r2.Setup(context.Background()))
	d2, _, err := r2.Execute(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, Timeout, d2)
}

func TestExecuteClassifiesRejectMessages(t *testing.T) {
	cases := []struct {
		msg  string
		want Disposition
	}{
		{"canister trapped explicitly", Crash},
		{"called trap with message", Crash},
		{"canister exceeded wasm-memory-limit", Oom},
		{"out-of-memory while growing", Oom},
		{"instruction-limit exceeded", Timeout},
		{"some unrelated rejection", Ok},
	}
	for _, c := range cases {
		r, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
			return simulator.CallResult{Outcome: simulator.OutcomeReject, RejectMessage: c.msg}, nil
		}, time.Second)
		require.NoError(t, r.Setup(context.Background()))
		d, _, err := r.Execute(context.Background(), []byte("x"))
		require.NoError(t, err)
		assert.Equal(t, c.want, d, "message %q", c.msg)
	}
}

func TestExecuteTimesOutOnSlowCall(t *testing.T) {
	r, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		time.Sleep(50 * time.Millisecond)
		return simulator.CallResult{Outcome: simulator.OutcomeReply}, nil
	}, 5*time.Millisecond)

	require.NoError(t, r.Setup(context.Background()))
	d, _, err := r.Execute(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, Timeout, d)
}

func TestReadCoverageLoadsPayload(t *testing.T) {
	r, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		payload := make([]byte, coverage.MapSize)
		payload[3] = 7
		return simulator.CallResult{Outcome: simulator.OutcomeReply}, payload
	}, time.Second)

	require.NoError(t, r.Setup(context.Background()))
	_, _, err := r.Execute(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.NoError(t, r.ReadCoverage(context.Background()))
	assert.Equal(t, byte(7), r.covMap.Bytes()[3])
}

func TestReadCoverageToleratesNilReply(t *testing.T) {
	r, _, _ := newTestRunner(t, func(call int, args []byte) (simulator.CallResult, []byte) {
		return simulator.CallResult{Outcome: simulator.OutcomeReply}, nil
	}, time.Second)
	require.NoError(t, r.Setup(context.Background()))
	assert.NoError(t, r.ReadCoverage(context.Background()))
}
