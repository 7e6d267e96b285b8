package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	canfuzz "github.com/dfinity-labs/canfuzz"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

func newReplayCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "replay <input-file>",
		Short: "Re-run a single corpus/crash file against a fresh baseline snapshot, without mutation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(logLevel)
			cf, err := loadCampaignFile(configPath)
			if err != nil {
				return err
			}

			input, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			entries, err := cf.entries()
			if err != nil {
				return err
			}
			policy, err := cf.seedPolicy()
			if err != nil {
				return err
			}

			sim := simulator.NewFake()
			cfg := canfuzz.NewCampaignConfig().
				WithHistorySize(cf.HistorySize).
				WithSeedPolicy(policy).
				WithCycles(cf.Cycles).
				WithExecTimeout(cf.execTimeout())

			builder := canfuzz.NewFuzzerStateBuilder(cf.Name, sim).WithConfig(cfg).WithLogger(log)
			for _, e := range entries {
				builder = builder.WithCanister(e)
			}
			state, err := builder.Build(cmd.Context())
			if err != nil {
				return err
			}

			if err := state.Runner.Setup(cmd.Context()); err != nil {
				return err
			}
			disposition, _, err := state.Runner.Execute(cmd.Context(), input)
			if err != nil {
				return err
			}
			if err := state.Runner.ReadCoverage(cmd.Context()); err != nil {
				log.WithError(err).Warn("coverage read failed during replay")
			}

			fmt.Fprintf(cmd.OutOrStdout(), "disposition: %s\nedges covered: %d\n",
				disposition, state.CovMap.EdgeCount())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "canfuzz.yaml", "campaign config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: trace|debug|info|warn|error")
	return cmd
}
