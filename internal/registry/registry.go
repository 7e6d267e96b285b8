// Package registry holds the ordered table of canister entries a campaign
// declares and their lifecycle in the simulator (C4): exactly one entry
// carries the Coverage role, and each gets an assigned identity exactly
// once, at setup time. The name-indexed lookup here mirrors wazero's own
// Store.module(name) idiom (an O(n) scan over a small slice is the right
// tool at this scale), generalized from Wasm modules to canisters.
package registry

import (
	"context"
	"fmt"
	"os"

	"github.com/dfinity-labs/canfuzz/internal/fuzzerr"
	"github.com/dfinity-labs/canfuzz/internal/rewrite"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

// Role classifies a canister entry: exactly one per campaign is Coverage
// (spec.md §3's Canister Entry invariant).
type Role int

const (
	Coverage Role = iota
	Support
)

func (r Role) String() string {
	if r == Coverage {
		return "Coverage"
	}
	return "Support"
}

// ImageSource names where a canister's Wasm bytes live: either a literal
// filesystem path, or the name of an environment variable holding one
// (spec.md §6).
type ImageSource struct {
	Path    string
	EnvVar  string
}

// Resolve returns the filesystem path this source names, reading the
// environment variable indirection if configured.
func (s ImageSource) Resolve() (string, error) {
	if s.EnvVar != "" {
		v := os.Getenv(s.EnvVar)
		if v == "" {
			return "", fmt.Errorf("environment variable %q is unset or empty", s.EnvVar)
		}
		return v, nil
	}
	if s.Path == "" {
		return "", fmt.Errorf("no path or environment variable configured")
	}
	return s.Path, nil
}

// Entry is one declared canister: its name, role, where to load its Wasm
// image from, its init args, and (once assigned) its simulator identity.
type Entry struct {
	Name        string
	Role        Role
	Image       ImageSource
	InitArgs    []byte
	Instrument  bool // always true for Role==Coverage; optional for Support
	AssignedID  simulator.CanisterID
	assigned    bool
}

// Registry holds the ordered canister entries declared for a campaign.
type Registry struct {
	entries []*Entry
}

// New builds a Registry from entries, enforcing "exactly one Coverage
// canister" (spec.md §3). Construction fails fast rather than deferring
// the check to Setup, mirroring how wazero's hostModuleBuilder validates
// at Compile/Instantiate time rather than at call time.
func New(entries []*Entry) (*Registry, error) {
	coverageCount := 0
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Role == Coverage {
			coverageCount++
			e.Instrument = true
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("registry: duplicate canister name %q", e.Name)
		}
		seen[e.Name] = true
	}
	if coverageCount != 1 {
		return nil, fmt.Errorf("registry: exactly one Coverage canister is required, got %d", coverageCount)
	}
	return &Registry{entries: entries}, nil
}

// Entries returns the ordered canister entries.
func (r *Registry) Entries() []*Entry { return r.entries }

// CoverageEntry returns the single Coverage-role entry.
func (r *Registry) CoverageEntry() *Entry {
	for _, e := range r.entries {
		if e.Role == Coverage {
			return e
		}
	}
	return nil // unreachable after New's invariant check
}

// ByName looks up a declared entry by its friendly name.
func (r *Registry) ByName(name string) *Entry {
	for _, e := range r.entries {
		if e.Name == name {
			return e
		}
	}
	return nil
}

// RewriteParams bundles the C2 instrumentation inputs every Coverage (and
// opted-in Support) entry is rewritten with.
type RewriteParams struct {
	HistorySize int
	SeedPolicy  rewrite.SeedPolicy
}

// Setup creates, instruments (where applicable), installs, and endows
// every declared entry in order, recording each assigned identity.
// Re-running Setup on a Registry whose entries already carry an
// AssignedID is a programming error the caller must avoid — the
// assigned-id invariant in spec.md §3 is "set exactly once."
func Setup(ctx context.Context, sim simulator.Simulator, r *Registry, cycles uint64, p RewriteParams) error {
	for _, e := range r.entries {
		if e.assigned {
			return fmt.Errorf("registry: canister %q already installed", e.Name)
		}

		path, err := e.Image.Resolve()
		if err != nil {
			return fuzzerr.NewFor(fuzzerr.MissingWasm, e.Name, err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return fuzzerr.NewFor(fuzzerr.MissingWasm, e.Name, err)
		}

		wasmBytes := raw
		if e.Instrument {
			wasmBytes, err = rewrite.Instrument(raw, p.HistorySize, p.SeedPolicy)
			if err != nil {
				return err // already a *fuzzerr.Error naming InvalidModule/ValidationFailed/InvalidHistory
			}
		}

		id, err := sim.CreateCanister(ctx, cycles)
		if err != nil {
			return fuzzerr.NewFor(fuzzerr.SimulatorSetupFailed, e.Name, err)
		}
		if err := sim.InstallCode(ctx, id, wasmBytes, e.InitArgs); err != nil {
			return fuzzerr.NewFor(fuzzerr.SimulatorSetupFailed, e.Name, err)
		}

		e.AssignedID = id
		e.assigned = true
	}
	return nil
}
