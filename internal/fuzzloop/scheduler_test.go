package fuzzloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerNextIsNilOnEmptyCorpus(t *testing.T) {
	c, err := NewCorpus(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	s := NewScheduler(c)
	assert.Nil(t, s.Next())
}

func TestSchedulerCyclesFIFO(t *testing.T) {
	c, err := NewCorpus(t.TempDir(), t.TempDir())
	require.NoError(t, err)
	first, err := c.Add([]byte("a"))
	require.NoError(t, err)
	second, err := c.Add([]byte("b"))
	require.NoError(t, err)

	s := NewScheduler(c)
	assert.Same(t, first, s.Next())
	assert.Same(t, second, s.Next())
	assert.Same(t, first, s.Next(), "cursor wraps back to the start")
}
