// Command canfuzz drives a coverage-guided fuzzing campaign against an
// Internet-Computer-style canister, per spec.md and SPEC_FULL.md §6's CLI
// surface: run starts a campaign from a config file, replay re-executes a
// single corpus/crash file for triage, and version prints the build
// version.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dfinity-labs/canfuzz/internal/fuzzerr"
)

// version is set at release time via -ldflags; "dev" otherwise, mirroring
// wazero's own version.go convention.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var fe *fuzzerr.Error
		if as(err, &fe) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", fe.Kind, fe.Error())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// as is a thin errors.As wrapper kept local to avoid importing "errors"
// twice across this small command tree's files for one call site.
func as(err error, target **fuzzerr.Error) bool {
	for err != nil {
		if fe, ok := err.(*fuzzerr.Error); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "canfuzz",
		Short:         "Coverage-guided fuzzer for sandboxed WebAssembly canisters",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newInstrumentCmd())
	root.AddCommand(newMutateCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the canfuzz version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
