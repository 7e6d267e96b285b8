// Package simulator defines the boundary this fuzzer consumes from the
// Internet-Computer-style simulator runtime spec.md §1 names as an
// external collaborator: creating canisters, installing code, calling
// into them, and snapshotting/restoring their state. The real runtime is
// out of scope for this module; only the interface it must satisfy lives
// here, grounded on wazero's own api.Module / sys.ExitError boundary — a
// small surface the rest of the package calls through, with the concrete
// engine supplied at wiring time.
package simulator

import (
	"context"
	"time"
)

// CanisterID identifies an installed canister within one Simulator
// instance. The simulator assigns it at CreateCanister time.
type CanisterID string

// Outcome classifies how a Call into a canister concluded, mirroring the
// shape of wazero's sys.ExitError: a call either replies, or exits via one
// of a small closed set of abnormal conditions.
type Outcome int

const (
	OutcomeReply Outcome = iota
	OutcomeReject
	OutcomeTrapped
	OutcomeOutOfMemory
	OutcomeInstructionLimit
)

// CallResult is what a Simulator reports after a Call returns.
type CallResult struct {
	Outcome       Outcome
	Reply         []byte
	RejectMessage string

	// InstructionsConsumed is how many Wasm instructions the call executed
	// before concluding, the metering figure real IC-style runtimes report
	// alongside every call outcome. The harness forwards it into the
	// objective feedback stream's Observation so a campaign-specific
	// predicate (e.g. feedback.RatioThreshold) can act on it.
	InstructionsConsumed uint64
}

// Snapshot is an opaque, restorable checkpoint of simulator state (spec.md
// §3's "baseline_snapshot"). Only the Simulator implementation that
// produced one may interpret it.
type Snapshot interface {
	simulatorSnapshot()
}

// Simulator is the external collaborator this fuzzer drives. A concrete
// implementation wraps the real IC-style runtime; Fake (fake.go) is a
// deterministic in-memory stand-in used by this module's own tests.
type Simulator interface {
	// CreateCanister allocates a fresh canister identity and endows it
	// with the given number of cycles.
	CreateCanister(ctx context.Context, cycles uint64) (CanisterID, error)

	// InstallCode installs wasmBytes (already instrumented, for the
	// coverage canister) under id, running its init with initArgs.
	InstallCode(ctx context.Context, id CanisterID, wasmBytes, initArgs []byte) error

	// Call invokes method on id with the given argument bytes and returns
	// how the call concluded.
	Call(ctx context.Context, id CanisterID, method string, args []byte) (CallResult, error)

	// Snapshot captures the full simulator state so it can later be
	// restored verbatim (testable property 8).
	Snapshot(ctx context.Context) (Snapshot, error)

	// Restore replaces the simulator's current state with snap.
	Restore(ctx context.Context, snap Snapshot) error

	// AdvanceTime moves the simulator's notion of wall-clock time forward,
	// used by the harness after every execute (spec.md §4.5 step 2: "60s").
	AdvanceTime(d time.Duration)
}

// FuzzEntryPoint is the canister method name the harness submits mutated
// bytes to. It is not one of the ic0 constants in §6 because it is a
// campaign-chosen update method on the coverage canister, not part of the
// instrumented ABI.
const FuzzEntryPoint = "fuzz_target"
