package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/dfinity-labs/canfuzz/internal/rewrite"
)

func newInstrumentCmd() *cobra.Command {
	var historySize int
	var seed uint32
	var useRandomSeed bool
	var output string

	cmd := &cobra.Command{
		Use:   "instrument <wasm-file>",
		Short: "Inject AFL-style edge-coverage instrumentation into a canister Wasm module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			policy := rewrite.StaticSeed(seed)
			if useRandomSeed {
				policy = rewrite.RandomSeed()
			}
			out, err := rewrite.Instrument(in, historySize, policy)
			if err != nil {
				return err
			}
			if output == "" {
				output = args[0] + ".instrumented.wasm"
			}
			return os.WriteFile(output, out, 0o644)
		},
	}

	cmd.Flags().IntVar(&historySize, "history", 2, "history_size ∈ {1,2,4,8}")
	cmd.Flags().Uint32Var(&seed, "seed", 0, "static seed for the rewriter's per-edge constants")
	cmd.Flags().BoolVar(&useRandomSeed, "random-seed", false, "seed the rewriter from OS entropy instead of --seed")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: <input>.instrumented.wasm)")
	return cmd
}
