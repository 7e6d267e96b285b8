package canfuzz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCampaignConfigWithMethodsDoNotMutateReceiver(t *testing.T) {
	base := NewCampaignConfig()
	derived := base.WithHistorySize(8).WithStopOnFirstCrash(true).WithExecTimeout(9 * time.Second)

	assert.Equal(t, 2, base.historySize)
	assert.False(t, base.stopOnFirstCrash)
	assert.Equal(t, 5*time.Second, base.execTimeout)

	assert.Equal(t, 8, derived.historySize)
	assert.True(t, derived.stopOnFirstCrash)
	assert.Equal(t, 9*time.Second, derived.execTimeout)
}

func TestCampaignConfigDefaults(t *testing.T) {
	cfg := NewCampaignConfig()
	assert.Equal(t, 2, cfg.historySize)
	assert.False(t, cfg.idlMutator.Enabled)
	assert.EqualValues(t, 1_000_000_000_000, cfg.cycles)
}
