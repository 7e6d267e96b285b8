package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dfinity-labs/canfuzz/internal/idl"
)

// scalarKind maps the handful of scalar type names this command accepts
// to their idl.Kind. Parsing a full interface file is the IDL type-
// checker library's job (spec.md §1's external collaborator); this
// command's --type flag is a minimal stand-in for exercising the mutator
// directly from the CLI against a single declared argument type.
var scalarKind = map[string]idl.Kind{
	"bool": idl.KindBool, "text": idl.KindText,
	"int": idl.KindInt, "nat": idl.KindNat,
	"int8": idl.KindInt8, "int16": idl.KindInt16, "int32": idl.KindInt32, "int64": idl.KindInt64,
	"nat8": idl.KindNat8, "nat16": idl.KindNat16, "nat32": idl.KindNat32, "nat64": idl.KindNat64,
	"float32": idl.KindFloat32, "float64": idl.KindFloat64,
	"principal": idl.KindPrincipal, "blob": idl.KindBlob,
}

func newMutateCmd() *cobra.Command {
	var typeName string
	var output string
	var seed int64

	cmd := &cobra.Command{
		Use:   "mutate <blob-file>",
		Short: "Apply one schema-aware structural mutation to an IDL argument blob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, ok := scalarKind[typeName]
			if !ok {
				return fmt.Errorf("unknown --type %q", typeName)
			}
			in, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			t := &idl.Type{Kind: kind}
			ctx := idl.NewEnabled("cli", []*idl.Type{t}, nil)
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			result := ctx.Mutate(in, rand.New(rand.NewSource(seed)))
			if result.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "skipped: mutation did not apply")
				return nil
			}
			if output == "" {
				output = args[0] + ".mutated"
			}
			return os.WriteFile(output, result.Bytes, 0o644)
		},
	}

	cmd.Flags().StringVar(&typeName, "type", "nat8", "declared scalar IDL type to mutate against")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: <input>.mutated)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "RNG seed (default: current time)")
	return cmd
}
