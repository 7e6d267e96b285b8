package canfuzz

import "github.com/dfinity-labs/canfuzz/internal/fuzzerr"

// Kind is the closed set of error classifications a campaign can produce
// (spec.md §7). It is a re-export of internal/fuzzerr.Kind so that
// callers outside this module can use errors.As against canfuzz.Error
// without importing an internal package.
type Kind = fuzzerr.Kind

const (
	InvalidModule        = fuzzerr.InvalidModule
	ValidationFailed      = fuzzerr.ValidationFailed
	InvalidHistory       = fuzzerr.InvalidHistory
	MissingWasm          = fuzzerr.MissingWasm
	SimulatorSetupFailed = fuzzerr.SimulatorSetupFailed
	MutationSkipped      = fuzzerr.MutationSkipped
	ExecutionTrapped     = fuzzerr.ExecutionTrapped
	ExecutionOom         = fuzzerr.ExecutionOom
	ExecutionTimeout     = fuzzerr.ExecutionTimeout
	CoverageReadFailed   = fuzzerr.CoverageReadFailed
)

// Error is a Kind paired with the offending canister name, re-exported so
// the CLI can print the single diagnostic line spec.md §7 requires
// without reaching into internal/fuzzerr directly.
type Error = fuzzerr.Error
