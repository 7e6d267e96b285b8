package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	canfuzz "github.com/dfinity-labs/canfuzz"
	"github.com/dfinity-labs/canfuzz/internal/idl"
	"github.com/dfinity-labs/canfuzz/internal/simulator"
)

func newRunCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a fuzzing campaign from a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(logLevel)
			cf, err := loadCampaignFile(configPath)
			if err != nil {
				return err
			}
			return runCampaign(cmd.Context(), cf, log)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "canfuzz.yaml", "campaign config file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: trace|debug|info|warn|error")
	return cmd
}

func newLogger(level string) *logrus.Entry {
	l := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	return logrus.NewEntry(l)
}

// runCampaign wires a campaign config file into a FuzzerState and runs it
// until SIGINT/SIGTERM. No real IC-style simulator is vendored (spec.md
// §1 treats it as an external collaborator this module only consumes an
// interface from); canfuzz run drives internal/simulator.Fake, the same
// deterministic stand-in this module's own tests use, so the CLI is a
// self-contained demonstration of the wiring rather than a production
// execution backend. A real deployment links a concrete
// simulator.Simulator into canfuzz.NewFuzzerStateBuilder directly.
func runCampaign(ctx context.Context, cf *campaignFile, log *logrus.Entry) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sim := simulator.NewFake()

	entries, err := cf.entries()
	if err != nil {
		return err
	}
	policy, err := cf.seedPolicy()
	if err != nil {
		return err
	}

	cfg := canfuzz.NewCampaignConfig().
		WithHistorySize(cf.HistorySize).
		WithSeedPolicy(policy).
		WithCorpusDir(cf.CorpusDir).
		WithInputDir(cf.InputDir).
		WithCrashesDir(cf.CrashesDir).
		WithStopOnFirstCrash(cf.StopOnFirstCrash).
		WithCycles(cf.Cycles).
		WithExecTimeout(cf.execTimeout())

	if cf.EnableIDLMutator {
		cfg = cfg.WithIDLMutator(idl.NewEnabled(cf.IDLMethodName, nil, nil))
	}

	builder := canfuzz.NewFuzzerStateBuilder(cf.Name, sim).WithConfig(cfg).WithLogger(log)
	for _, e := range entries {
		builder = builder.WithCanister(e)
	}

	state, err := builder.Build(ctx)
	if err != nil {
		return err
	}

	log.WithField("campaign", state.Name).Info("campaign starting")
	err = state.Run(ctx)
	stats := state.Loop.Stats()
	log.WithFields(logrus.Fields{
		"executions":  stats.Executions,
		"interesting": stats.Interesting,
		"crashes":     stats.Crashes,
		"timeouts":    stats.Timeouts,
		"ooms":        stats.Ooms,
	}).Info("campaign stopped")

	if err == context.Canceled {
		return nil
	}
	return err
}
