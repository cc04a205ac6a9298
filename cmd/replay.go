package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/cardano-indexer/pkg/config"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/server"
	"github.com/ethpandaops/cardano-indexer/pkg/sink"
	"github.com/ethpandaops/cardano-indexer/pkg/source"
	"github.com/ethpandaops/cardano-indexer/pkg/store/memory"
)

var (
	replayFrom uint64
	replayTo   uint64
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-runs the execution plan in readonly mode over blocks already in the store.",
	Long: `Re-runs the execution plan in readonly mode over blocks already in the store.
Every task looks its rows up instead of inserting them, so a replay fails on the
first row a task would have written but cannot find.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return runReplay(ctx, cfg, replayFrom, replayTo)
	},
}

func init() {
	replayCmd.Flags().Uint64Var(&replayFrom, "from", 0, "first block height to replay")
	replayCmd.Flags().Uint64Var(&replayTo, "to", 0, "last block height to replay, 0 replays to the tip")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(ctx context.Context, cfg *config.Config, from, to uint64) (err error) {
	if to != 0 && to < from {
		return fmt.Errorf("--to %d is before --from %d", to, from)
	}

	if err := cfg.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage configuration: %w", err)
	}

	s, err := server.OpenStore(ctx, log, cfg.Storage)
	if err != nil {
		return err
	}

	defer func() {
		err = errors.Join(err, s.Close())
	}()

	pipeline, err := server.NewPipeline(ctx, log, s, cfg.ExecutionPlan, server.PipelineOptions{
		Network:        cfg.Network,
		Readonly:       true,
		MaxParallelism: cfg.Dispatcher.MaxParallelism,
	})
	if err != nil {
		return err
	}

	snk, err := sink.New(log, sink.Config{
		Network:          cfg.Network,
		Readonly:         true,
		StopWhenDrained:  true,
		ProgressInterval: cfg.ProgressInterval,
	}, pipeline.SinkDependencies(s, source.NewReplay(log, s, from, to), perf.NewLogReporter(log)))
	if err != nil {
		return err
	}

	var writesBefore int64

	mem, isMemory := s.(*memory.Store)
	if isMemory {
		writesBefore = mem.Writes()
	}

	if err := snk.Run(ctx); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	if isMemory && mem.Writes() != writesBefore {
		return fmt.Errorf("readonly replay wrote %d rows", mem.Writes()-writesBefore)
	}

	status := snk.Status()

	log.WithFields(logrus.Fields{
		"from":        from,
		"to":          to,
		"blocks":      status.Blocks,
		"last_height": status.TipHeight,
	}).Info("Replay complete")

	return nil
}
