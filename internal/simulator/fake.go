package simulator

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeCallFunc is the behavior one installed canister exposes to Fake's
// Call: given the current call counter and the submitted bytes, it
// returns the CallResult and the coverage payload that a subsequent
// coverage-export call would stream back (spec.md §4.2 step 4), or nil if
// this canister doesn't implement the coverage export.
type FakeCallFunc func(call int, args []byte) (CallResult, []byte)

type fakeCanister struct {
	wasm      []byte
	initArgs  []byte
	behavior  FakeCallFunc
	callCount int
	coverage  []byte // pending payload for the coverage-export method
}

// Fake is a deterministic in-memory Simulator used by this module's own
// tests: no real Wasm execution, just caller-supplied behavior per
// canister. It exists so internal/harness and internal/fuzzloop can be
// exercised without the real IC-style runtime spec.md §1 excludes.
type Fake struct {
	mu         sync.Mutex
	nextID     int
	canisters  map[CanisterID]*fakeCanister
	elapsed    time.Duration
	behaviors  map[CanisterID]FakeCallFunc
}

// NewFake constructs an empty Fake simulator.
func NewFake() *Fake {
	return &Fake{canisters: make(map[CanisterID]*fakeCanister)}
}

// SetBehavior registers how Call resolves for id, callable even before
// InstallCode (tests construct the id first via CreateCanister).
func (f *Fake) SetBehavior(id CanisterID, fn FakeCallFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.behaviors == nil {
		f.behaviors = make(map[CanisterID]FakeCallFunc)
	}
	f.behaviors[id] = fn
	if c, ok := f.canisters[id]; ok {
		c.behavior = fn
	}
}

func (f *Fake) CreateCanister(ctx context.Context, cycles uint64) (CanisterID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := CanisterID(fmt.Sprintf("fake-canister-%d", f.nextID))
	c := &fakeCanister{}
	if f.behaviors != nil {
		c.behavior = f.behaviors[id]
	}
	f.canisters[id] = c
	return id, nil
}

func (f *Fake) InstallCode(ctx context.Context, id CanisterID, wasmBytes, initArgs []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.canisters[id]
	if !ok {
		return fmt.Errorf("simulator: unknown canister %q", id)
	}
	c.wasm = wasmBytes
	c.initArgs = initArgs
	return nil
}

func (f *Fake) Call(ctx context.Context, id CanisterID, method string, args []byte) (CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.canisters[id]
	if !ok {
		return CallResult{}, fmt.Errorf("simulator: unknown canister %q", id)
	}

	if method == coverageExportMethod {
		if c.coverage == nil {
			return CallResult{Outcome: OutcomeReply, Reply: nil}, nil
		}
		payload := c.coverage
		c.coverage = nil
		return CallResult{Outcome: OutcomeReply, Reply: payload}, nil
	}

	if c.behavior == nil {
		return CallResult{Outcome: OutcomeReply}, nil
	}
	c.callCount++
	result, coverage := c.behavior(c.callCount, args)
	if coverage != nil {
		c.coverage = coverage
	}
	return result, nil
}

// coverageExportMethod is the simulator-side call name corresponding to
// invoking the Wasm export named in the constants of spec.md §6. The real
// runtime dispatches "canister_update __export_coverage_for_afl" the same
// way it dispatches any other update call; the fake models that as a
// plain method name.
const coverageExportMethod = "__export_coverage_for_afl"

type fakeSnapshot struct {
	canisters map[CanisterID]fakeCanister
	elapsed   time.Duration
}

func (*fakeSnapshot) simulatorSnapshot() {}

func (f *Fake) Snapshot(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := &fakeSnapshot{canisters: make(map[CanisterID]fakeCanister, len(f.canisters)), elapsed: f.elapsed}
	for id, c := range f.canisters {
		snap.canisters[id] = *c
	}
	return snap, nil
}

func (f *Fake) Restore(ctx context.Context, snap Snapshot) error {
	s, ok := snap.(*fakeSnapshot)
	if !ok {
		return fmt.Errorf("simulator: snapshot from a different Simulator implementation")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canisters = make(map[CanisterID]*fakeCanister, len(s.canisters))
	for id, c := range s.canisters {
		cp := c
		f.canisters[id] = &cp
	}
	f.elapsed = s.elapsed
	return nil
}

func (f *Fake) AdvanceTime(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elapsed += d
}

// Elapsed returns total simulated time advanced so far, for tests.
func (f *Fake) Elapsed() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.elapsed
}
