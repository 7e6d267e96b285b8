package canfuzz

import (
	"time"

	"github.com/dfinity-labs/canfuzz/internal/idl"
	"github.com/dfinity-labs/canfuzz/internal/rewrite"
)

// CampaignConfig is the functional-options configuration object spec.md
// §6 enumerates, modeled on wazero's RuntimeConfig: each With* method
// clones the receiver and returns the modified copy, so a base config can
// be shared and specialized without aliasing bugs.
type CampaignConfig struct {
	historySize      int
	seedPolicy       rewrite.SeedPolicy
	idlMutator       *idl.MutatorContext
	corpusDir        string
	inputDir         string
	crashesDir       string
	stopOnFirstCrash bool
	cycles           uint64
	execTimeout      time.Duration
}

// NewCampaignConfig returns the default configuration: history size 2,
// a random seed policy, the IDL mutator disabled, a 5s per-iteration
// execution timeout, and 10^12 initial cycles (the IC-style default
// canister endowment).
func NewCampaignConfig() *CampaignConfig {
	return &CampaignConfig{
		historySize: 2,
		seedPolicy:  rewrite.RandomSeed(),
		idlMutator:  idl.Disabled(),
		cycles:      1_000_000_000_000,
		execTimeout: 5 * time.Second,
	}
}

func (c *CampaignConfig) clone() *CampaignConfig {
	cp := *c
	return &cp
}

// WithHistorySize sets history_size ∈ {1,2,4,8} (spec.md §6). An invalid
// value is not rejected here; Build reports it as InvalidHistory when it
// allocates the coverage map, before the rewriter runs.
func (c *CampaignConfig) WithHistorySize(n int) *CampaignConfig {
	cp := c.clone()
	cp.historySize = n
	return cp
}

// WithSeedPolicy sets the rewriter's seed_policy (spec.md §6).
func (c *CampaignConfig) WithSeedPolicy(p rewrite.SeedPolicy) *CampaignConfig {
	cp := c.clone()
	cp.seedPolicy = p
	return cp
}

// WithIDLMutator sets enable_idl_mutator and the parsed method signature
// together, since spec.md §6 treats them as one logical option: a
// MutatorContext is already either Disabled() or built from an interface
// file's parsed signature.
func (c *CampaignConfig) WithIDLMutator(ctx *idl.MutatorContext) *CampaignConfig {
	cp := c.clone()
	cp.idlMutator = ctx
	return cp
}

// WithCorpusDir sets the seed directory.
func (c *CampaignConfig) WithCorpusDir(dir string) *CampaignConfig {
	cp := c.clone()
	cp.corpusDir = dir
	return cp
}

// WithInputDir sets the directory new interesting inputs are persisted
// under.
func (c *CampaignConfig) WithInputDir(dir string) *CampaignConfig {
	cp := c.clone()
	cp.inputDir = dir
	return cp
}

// WithCrashesDir sets the directory objective hits are persisted under.
func (c *CampaignConfig) WithCrashesDir(dir string) *CampaignConfig {
	cp := c.clone()
	cp.crashesDir = dir
	return cp
}

// WithStopOnFirstCrash sets stop_on_first_crash (spec.md §6).
func (c *CampaignConfig) WithStopOnFirstCrash(stop bool) *CampaignConfig {
	cp := c.clone()
	cp.stopOnFirstCrash = stop
	return cp
}

// WithCycles sets the cycle endowment every created canister receives.
func (c *CampaignConfig) WithCycles(cycles uint64) *CampaignConfig {
	cp := c.clone()
	cp.cycles = cycles
	return cp
}

// WithExecTimeout sets the per-iteration wall-clock timeout spec.md §5
// describes.
func (c *CampaignConfig) WithExecTimeout(d time.Duration) *CampaignConfig {
	cp := c.clone()
	cp.execTimeout = d
	return cp
}
