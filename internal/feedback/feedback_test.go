package feedback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/harness"
)

func TestNoveltyFeedbackNewEdgeIsInteresting(t *testing.T) {
	m, err := coverage.New(1)
	require.NoError(t, err)
	n := NewNoveltyFeedback(m)

	assert.False(t, n.Observe(m), "all-zero map is never interesting")

	m.Bytes()[5] = 1
	assert.True(t, n.Observe(m))
	assert.Equal(t, 1, n.EdgeCount())

	// Same state again: no longer interesting.
	assert.False(t, n.Observe(m))
}

func TestNoveltyFeedbackBucketPromotion(t *testing.T) {
	m, err := coverage.New(1)
	require.NoError(t, err)
	n := NewNoveltyFeedback(m)

	m.Bytes()[0] = 1
	require.True(t, n.Observe(m))

	// Same bucket (still 1): not interesting.
	assert.False(t, n.Observe(m))

	// Promote into a new bucket (4-7 range): interesting again.
	m.Bytes()[0] = 5
	assert.True(t, n.Observe(m))
}

func TestObjectiveFeedbackBaseDispositions(t *testing.T) {
	of := NewObjectiveFeedback()
	assert.True(t, of.IsObjective(Observation{Disposition: harness.Crash}))
	assert.True(t, of.IsObjective(Observation{Disposition: harness.Timeout}))
	assert.True(t, of.IsObjective(Observation{Disposition: harness.Oom}))
	assert.False(t, of.IsObjective(Observation{Disposition: harness.Ok}))
}

func TestObjectiveFeedbackCampaignSpecificPredicate(t *testing.T) {
	of := NewObjectiveFeedback(RatioThreshold(2.0))
	assert.False(t, of.IsObjective(Observation{Disposition: harness.Ok, InputLen: 10, InstructionsConsumed: 5}))
	assert.True(t, of.IsObjective(Observation{Disposition: harness.Ok, InputLen: 10, InstructionsConsumed: 100}))
	assert.False(t, of.IsObjective(Observation{Disposition: harness.Ok, InputLen: 0, InstructionsConsumed: 100}))
}

func TestStatsRecordIteration(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewStats(start)
	s.RecordIteration(harness.Crash, true)
	s.RecordIteration(harness.Ok, false)
	snap := s.Snapshot()
	assert.EqualValues(t, 2, snap.Executions)
	assert.EqualValues(t, 1, snap.Interesting)
	assert.EqualValues(t, 1, snap.Crashes)
	assert.Equal(t, start, snap.StartTime)
}
