package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeCreateInstallCallRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewFake()

	id, err := f.CreateCanister(ctx, 1_000_000)
	require.NoError(t, err)

	require.NoError(t, f.InstallCode(ctx, id, []byte{0x00, 0x61, 0x73, 0x6d}, []byte("init")))

	f.SetBehavior(id, func(call int, args []byte) (CallResult, []byte) {
		return CallResult{Outcome: OutcomeReply, Reply: []byte("ok")}, []byte{1, 2, 3}
	})

	res, err := f.Call(ctx, id, FuzzEntryPoint, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReply, res.Outcome)
	assert.Equal(t, []byte("ok"), res.Reply)
}

func TestFakeCoverageExportDrainsPendingPayload(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	id, err := f.CreateCanister(ctx, 0)
	require.NoError(t, err)

	f.SetBehavior(id, func(call int, args []byte) (CallResult, []byte) {
		return CallResult{Outcome: OutcomeReply}, []byte{9, 9}
	})

	_, err = f.Call(ctx, id, FuzzEntryPoint, nil)
	require.NoError(t, err)

	res, err := f.Call(ctx, id, coverageExportMethod, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, res.Reply)

	// Second export call with nothing pending returns a nil reply.
	res2, err := f.Call(ctx, id, coverageExportMethod, nil)
	require.NoError(t, err)
	assert.Nil(t, res2.Reply)
}

func TestFakeUnknownCanisterErrors(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	_, err := f.Call(ctx, CanisterID("nope"), FuzzEntryPoint, nil)
	assert.Error(t, err)
}

func TestFakeSnapshotRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	id, err := f.CreateCanister(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, f.InstallCode(ctx, id, []byte("wasm"), nil))
	f.AdvanceTime(5 * time.Second)

	snap, err := f.Snapshot(ctx)
	require.NoError(t, err)

	// Mutate state after the snapshot.
	f.AdvanceTime(55 * time.Second)
	require.NoError(t, f.InstallCode(ctx, id, []byte("mutated"), nil))
	assert.Equal(t, 60*time.Second, f.Elapsed())

	require.NoError(t, f.Restore(ctx, snap))
	assert.Equal(t, 5*time.Second, f.Elapsed())
	assert.Equal(t, []byte("wasm"), f.canisters[id].wasm)
}

func TestFakeRestoreRejectsForeignSnapshot(t *testing.T) {
	ctx := context.Background()
	f := NewFake()
	err := f.Restore(ctx, fakeForeignSnapshot{})
	assert.Error(t, err)
}

type fakeForeignSnapshot struct{}

func (fakeForeignSnapshot) simulatorSnapshot() {}
