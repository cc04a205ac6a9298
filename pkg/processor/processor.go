// Package processor indexes one block of a given era inside a single store transaction.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/common"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// Phases recorded in Options.Phases.
const (
	PhaseDecode   = "decode"
	PhaseDispatch = "dispatch"
	PhaseCommit   = "commit"
)

// Runner executes the run graph of a block. It is implemented by *dispatcher.Dispatcher.
type Runner interface {
	Run(ctx context.Context, block *task.BlockInfo, tx store.Tx) error
}

// Options configures every processor.
type Options struct {
	Network string
	// Phases receives decode, dispatch and commit durations.
	Phases *perf.Aggregator
}

type base struct {
	log    logrus.FieldLogger
	store  store.Store
	runner Runner
	opts   Options
}

func newBase(log logrus.FieldLogger, s store.Store, runner Runner, opts Options) base {
	if opts.Phases == nil {
		opts.Phases = perf.NewAggregator()
	}

	return base{log: log, store: s, runner: runner, opts: opts}
}

// index runs the block's tasks in one transaction. Nothing is committed unless every task
// succeeded.
func (b *base) index(ctx context.Context, info *task.BlockInfo) error {
	start := time.Now()

	tx, err := b.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false

	defer func() {
		if committed {
			return
		}

		if rbErr := tx.Rollback(); rbErr != nil {
			b.log.WithError(rbErr).Warn("Failed to roll back block transaction")
		}
	}()

	dispatchStart := time.Now()

	if err := b.runner.Run(ctx, info, tx); err != nil {
		return fmt.Errorf("index %s block %s at slot %d: %w", info.Era, info.HashHex(), info.Slot, err)
	}

	b.opts.Phases.Add(PhaseDispatch, time.Since(dispatchStart))

	commitStart := time.Now()

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit block %s: %w", info.HashHex(), err)
	}

	committed = true

	b.opts.Phases.Add(PhaseCommit, time.Since(commitStart))

	common.BlocksProcessed.WithLabelValues(b.opts.Network, info.Era.String()).Inc()
	common.BlockProcessingDuration.WithLabelValues(b.opts.Network, info.Era.String()).Observe(time.Since(start).Seconds())

	b.log.WithFields(logrus.Fields{
		"slot":     info.Slot,
		"height":   info.Height,
		"epoch":    info.Epoch,
		"hash":     info.HashHex(),
		"txs":      info.TxCount(),
		"duration": time.Since(start),
	}).Debug("Indexed block")

	return nil
}
