// Package harness implements the per-iteration contract the fuzz loop
// drives (C5): setup (restore baseline), execute (submit mutated bytes to
// the coverage canister and classify the result), and the coverage
// read-back that follows every execute. The Runner type plays the role
// wazero's RuntimeConfig/builder chaining does for an engine: a small,
// immutable-after-construction object the rest of the program calls
// through, with the per-call timeout enforced via golang.org/x/sync/errgroup
// the way moby/moby bounds a single long-running operation.
package harness

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dfinity-labs/canfuzz/internal/coverage"
	"github.com/dfinity-labs/canfuzz/internal/fuzzerr"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

// Disposition is the exit classification of one Execute call (spec.md
// §4.5's exhaustive table).
type Disposition int

const (
	Ok Disposition = iota
	Crash
	Oom
	Timeout
)

func (d Disposition) String() string {
	switch d {
	case Crash:
		return "Crash"
	case Oom:
		return "Oom"
	case Timeout:
		return "Timeout"
	default:
		return "Ok"
	}
}

// elapsedPerIteration is the simulated-time advance spec.md §4.5 step 2
// prescribes after every execute.
const elapsedPerIteration = 60 * time.Second

// Runner drives one coverage canister through the setup/execute/teardown
// contract of spec.md §4.5. One Runner exists per campaign.
type Runner struct {
	sim         simulator.Simulator
	coverageID  simulator.CanisterID
	covMap      *coverage.Map
	baseline    simulator.Snapshot
	execTimeout time.Duration
}

// NewRunner builds a Runner. Baseline must be called once, after the
// registry has installed every canister, before the fuzz loop starts.
func NewRunner(sim simulator.Simulator, coverageID simulator.CanisterID, covMap *coverage.Map, execTimeout time.Duration) *Runner {
	return &Runner{sim: sim, coverageID: coverageID, covMap: covMap, execTimeout: execTimeout}
}

// Baseline takes the post-installation snapshot every iteration restores
// before running (spec.md §2's "baseline snapshot").
func (r *Runner) Baseline(ctx context.Context) error {
	snap, err := r.sim.Snapshot(ctx)
	if err != nil {
		return fuzzerr.New(fuzzerr.SimulatorSetupFailed, err)
	}
	r.baseline = snap
	return nil
}

// Setup restores the baseline snapshot so every input sees the same
// pre-state (spec.md §4.5 step 1).
func (r *Runner) Setup(ctx context.Context) error {
	if r.baseline == nil {
		return fuzzerr.New(fuzzerr.SimulatorSetupFailed, errNoBaseline)
	}
	if err := r.sim.Restore(ctx, r.baseline); err != nil {
		return fuzzerr.New(fuzzerr.SimulatorSetupFailed, err)
	}
	return nil
}

var errNoBaseline = errNoBaselineErr("harness: Baseline was never taken")

type errNoBaselineErr string

func (e errNoBaselineErr) Error() string { return string(e) }

// Execute submits input to the coverage canister's fuzz entry point,
// bounds the call by the runner's configured timeout, advances simulated
// time by elapsedPerIteration, and returns the exit disposition together
// with the instructions-consumed metering figure the simulator reported
// (spec.md §4.5 step 2). A context deadline or cancellation maps to
// Timeout with zero instructions reported, matching "per-iteration
// wall-clock timeout ... yields a Timeout disposition" (spec.md §5).
func (r *Runner) Execute(ctx context.Context, input []byte) (Disposition, uint64, error) {
	callCtx := ctx
	cancel := func() {}
	if r.execTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.execTimeout)
	}
	defer cancel()

	g, gctx := errgroup.WithContext(callCtx)
	var result simulator.CallResult
	g.Go(func() error {
		res, err := r.sim.Call(gctx, r.coverageID, simulator.FuzzEntryPoint, input)
		result = res
		return err
	})

	err := g.Wait()
	r.sim.AdvanceTime(elapsedPerIteration)

	if callCtx.Err() != nil {
		return Timeout, 0, nil
	}
	if err != nil {
		return Ok, 0, err
	}
	return classify(result), result.InstructionsConsumed, nil
}

// classify maps a simulator outcome to a Disposition per spec.md §4.5's
// exhaustive table; any reject that doesn't match a known crash/OOM
// phrase defaults to Ok.
func classify(result simulator.CallResult) Disposition {
	switch result.Outcome {
	case simulator.OutcomeReply:
		return Ok
	case simulator.OutcomeTrapped:
		return Crash
	case simulator.OutcomeOutOfMemory:
		return Oom
	case simulator.OutcomeInstructionLimit:
		return Timeout
	case simulator.OutcomeReject:
		msg := strings.ToLower(result.RejectMessage)
		switch {
		case strings.Contains(msg, "trapped"), strings.Contains(msg, "called trap"):
			return Crash
		case strings.Contains(msg, "memory-limit"), strings.Contains(msg, "out-of-memory"), strings.Contains(msg, "wasm-memory-limit"):
			return Oom
		case strings.Contains(msg, "instruction-limit"):
			return Timeout
		default:
			return Ok
		}
	default:
		return Ok
	}
}

// ReadCoverage invokes the canister's injected coverage-export entry
// point and loads the returned bytes into the shared coverage map
// (spec.md §4.5 step 3). The export zeros the canister-side map in the
// same invocation, so no separate reset call is needed here.
func (r *Runner) ReadCoverage(ctx context.Context) error {
	result, err := r.sim.Call(ctx, r.coverageID, "__export_coverage_for_afl", nil)
	if err != nil {
		return fuzzerr.New(fuzzerr.CoverageReadFailed, err)
	}
	if result.Reply == nil {
		return nil // no fresh payload; treat as no-coverage this iteration (recovered)
	}
	if err := r.covMap.LoadFrom(result.Reply); err != nil {
		return fuzzerr.New(fuzzerr.CoverageReadFailed, err)
	}
	return nil
}
