package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dfinity-labs/canfuzz/internal/registry"
	"github.com/dfinity-labs/canfuzz/internal/rewrite"
)

// canisterFile is one entry of the campaign config file's canisters list,
// mapping 1:1 to registry.Entry (SPEC_FULL.md §6).
type canisterFile struct {
	Name       string `yaml:"name"`
	Role       string `yaml:"role"` // "coverage" or "support"
	ImagePath  string `yaml:"image_path"`
	ImageEnv   string `yaml:"image_env"`
	Instrument *bool  `yaml:"instrument"` // Support only; Coverage is always instrumented
}

// campaignFile is the on-disk YAML shape of a campaign configuration
// (SPEC_FULL.md §6), loaded with gopkg.in/yaml.v3 and translated into a
// canfuzz.CampaignConfig plus registry.Entry list.
type campaignFile struct {
	Name               string         `yaml:"name"`
	HistorySize        int            `yaml:"history_size"`
	SeedPolicy         string         `yaml:"seed_policy"` // "random" or "static:<seed>"
	EnableIDLMutator   bool           `yaml:"enable_idl_mutator"`
	IDLInterfaceFile   string         `yaml:"idl_interface_file"`
	IDLMethodName      string         `yaml:"idl_method_name"`
	CorpusDir          string         `yaml:"corpus_dir"`
	InputDir           string         `yaml:"input_dir"`
	CrashesDir         string         `yaml:"crashes_dir"`
	StopOnFirstCrash   bool           `yaml:"stop_on_first_crash"`
	Cycles             uint64         `yaml:"cycles"`
	ExecTimeoutSeconds int            `yaml:"exec_timeout_seconds"`
	Canisters          []canisterFile `yaml:"canisters"`
}

func loadCampaignFile(path string) (*campaignFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading campaign config: %w", err)
	}
	var cf campaignFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("parsing campaign config: %w", err)
	}
	if cf.HistorySize == 0 {
		cf.HistorySize = 2
	}
	if cf.ExecTimeoutSeconds == 0 {
		cf.ExecTimeoutSeconds = 5
	}
	if cf.Cycles == 0 {
		cf.Cycles = 1_000_000_000_000
	}
	return &cf, nil
}

func (cf *campaignFile) execTimeout() time.Duration {
	return time.Duration(cf.ExecTimeoutSeconds) * time.Second
}

func (cf *campaignFile) seedPolicy() (rewrite.SeedPolicy, error) {
	if cf.SeedPolicy == "" || cf.SeedPolicy == "random" {
		return rewrite.RandomSeed(), nil
	}
	var seed uint32
	if _, err := fmt.Sscanf(cf.SeedPolicy, "static:%d", &seed); err != nil {
		return rewrite.SeedPolicy{}, fmt.Errorf("seed_policy: expected \"random\" or \"static:<uint32>\", got %q", cf.SeedPolicy)
	}
	return rewrite.StaticSeed(seed), nil
}

func (cf *campaignFile) entries() ([]*registry.Entry, error) {
	entries := make([]*registry.Entry, 0, len(cf.Canisters))
	for _, c := range cf.Canisters {
		var role registry.Role
		switch c.Role {
		case "coverage":
			role = registry.Coverage
		case "support":
			role = registry.Support
		default:
			return nil, fmt.Errorf("canister %q: role must be \"coverage\" or \"support\", got %q", c.Name, c.Role)
		}
		instrument := role == registry.Coverage
		if c.Instrument != nil {
			instrument = *c.Instrument
		}
		entries = append(entries, &registry.Entry{
			Name:       c.Name,
			Role:       role,
			Image:      registry.ImageSource{Path: c.ImagePath, EnvVar: c.ImageEnv},
			Instrument: instrument,
		})
	}
	return entries, nil
}
