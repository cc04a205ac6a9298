// Package sink consumes source events in order, indexing blocks and applying rollbacks.
package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/common"
	"github.com/ethpandaops/cardano-indexer/pkg/genesis"
	"github.com/ethpandaops/cardano-indexer/pkg/leaderelection"
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/processor"
	"github.com/ethpandaops/cardano-indexer/pkg/source"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

var (
	// ErrRollbackTargetNotFound is returned when a rollback names a block the store does not
	// hold while the store holds more than the genesis block.
	ErrRollbackTargetNotFound = errors.New("rollback target not found")
	// ErrReadonlyRollback is returned when a rollback arrives while running readonly.
	ErrReadonlyRollback = errors.New("rollback received in readonly mode")
)

// BlockProcessor indexes one raw block. Implemented by *processor.Byron and *processor.MultiEra.
type BlockProcessor interface {
	Process(ctx context.Context, raw processor.RawBlock) (*task.BlockInfo, error)
}

// GenesisProcessor indexes the genesis distribution. Implemented by *processor.Genesis.
type GenesisProcessor interface {
	Process(ctx context.Context, file *genesis.File) (*task.BlockInfo, error)
}

// Config controls the sink loop.
type Config struct {
	Network  string
	Readonly bool
	// StopWhenDrained ends Run once the source has no more events instead of polling.
	StopWhenDrained bool
	// PollInterval is the wait after the source returned no event.
	PollInterval time.Duration
	// ProgressInterval is how often progress is logged. Zero disables the progress job.
	ProgressInterval time.Duration
}

// Dependencies are the components the sink drives.
type Dependencies struct {
	Store    store.Store
	Source   source.Source
	Byron    BlockProcessor
	MultiEra BlockProcessor

	// Genesis and GenesisFile are optional. When both are set an empty store is seeded with the
	// genesis block before the first event.
	Genesis     GenesisProcessor
	GenesisFile *genesis.File

	// Tasks and Phases are reported and reset at every epoch boundary.
	Tasks    *perf.Aggregator
	Phases   *perf.Aggregator
	Reporter perf.Reporter

	// Elector gates the sink when set; only the leader follows the source.
	Elector leaderelection.Elector
}

// Status is a point-in-time view of the sink.
type Status struct {
	Running   bool   `json:"running"`
	Leader    bool   `json:"leader"`
	TipSlot   uint64 `json:"tip_slot"`
	TipHeight uint64 `json:"tip_height"`
	TipHash   string `json:"tip_hash"`
	Epoch     uint64 `json:"epoch"`
	Blocks    uint64 `json:"blocks_processed"`
	Rollbacks uint64 `json:"rollbacks"`
}

// Sink applies source events to the store, one at a time.
type Sink struct {
	log  logrus.FieldLogger
	cfg  Config
	deps Dependencies

	// Owned by the goroutine running follow.
	startPoint     []byte
	expectRollback bool
	lastEpoch      uint64
	epochSeen      bool

	mu     sync.RWMutex
	status Status

	blocks    atomic.Uint64
	rollbacks atomic.Uint64
}

// New validates deps and returns a sink. Run starts it.
func New(log logrus.FieldLogger, cfg Config, deps Dependencies) (*Sink, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("store is required")
	case deps.Source == nil:
		return nil, errors.New("source is required")
	case deps.Byron == nil || deps.MultiEra == nil:
		return nil, errors.New("byron and multi-era processors are required")
	case deps.GenesisFile != nil && deps.Genesis == nil:
		return nil, errors.New("genesis file configured without a genesis processor")
	}

	if deps.Tasks == nil {
		deps.Tasks = perf.NewAggregator()
	}

	if deps.Phases == nil {
		deps.Phases = perf.NewAggregator()
	}

	if deps.Reporter == nil {
		deps.Reporter = perf.NewLogReporter(log)
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Sink{
		log:  log.WithField("component", "sink"),
		cfg:  cfg,
		deps: deps,
	}, nil
}

// Status returns the current tip and counters.
func (s *Sink) Status() Status {
	s.mu.RLock()
	st := s.status
	s.mu.RUnlock()

	st.Blocks = s.blocks.Load()
	st.Rollbacks = s.rollbacks.Load()

	if s.deps.Elector != nil {
		st.Leader = s.deps.Elector.IsLeader()
	} else {
		st.Leader = true
	}

	return st
}

// Run follows the source until ctx is cancelled, an event fails, or the source is drained with
// StopWhenDrained set. With an elector, the source is only followed while this node leads.
func (s *Sink) Run(ctx context.Context) error {
	if s.deps.Elector == nil {
		s.log.Info("Leader election disabled - following source as standalone indexer")

		return s.follow(ctx)
	}

	return s.runAsLeader(ctx)
}

func (s *Sink) runAsLeader(ctx context.Context) error {
	changes := make(chan bool, 1)

	notify := func(isLeader bool) {
		// Only the latest state matters.
		select {
		case <-changes:
		default:
		}

		select {
		case changes <- isLeader:
		default:
		}
	}

	s.deps.Elector.OnLeadershipChange(func(_ context.Context, isLeader bool) {
		notify(isLeader)
	})

	if s.deps.Elector.IsLeader() {
		notify(true)
	}

	var current *following

	defer func() {
		current.stop()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case isLeader := <-changes:
			switch {
			case isLeader && current == nil:
				s.log.Info("Gained leadership - following source")

				current = s.startFollowing(ctx)
			case !isLeader && current != nil:
				s.log.Info("Lost leadership - stopping")

				current.stop()
				current = nil
			}
		case err := <-current.result():
			current.cancel()
			current = nil

			return err
		}
	}
}

// following is a follow loop started on leadership gain.
type following struct {
	cancel context.CancelFunc
	done   chan error
}

func (s *Sink) startFollowing(ctx context.Context) *following {
	followCtx, cancel := context.WithCancel(ctx)
	f := &following{cancel: cancel, done: make(chan error, 1)}

	go func() {
		f.done <- s.follow(followCtx)
	}()

	return f
}

// result is nil, and blocks forever in a select, when nothing is following.
func (f *following) result() <-chan error {
	if f == nil {
		return nil
	}

	return f.done
}

// stop cancels the loop and waits for it to return.
func (f *following) stop() {
	if f == nil {
		return
	}

	f.cancel()
	<-f.done
}

func (s *Sink) follow(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.log.WithField("panic", recovered).Error("Sink panic recovered")

			err = fmt.Errorf("sink panic: %v", recovered)
		}

		s.setRunning(false)
	}()

	s.setRunning(true)

	if r, ok := s.deps.Source.(interface{ Reset() }); ok {
		r.Reset()
	}

	if err := s.start(ctx); err != nil {
		return err
	}

	if s.cfg.ProgressInterval > 0 {
		scheduler, err := s.startProgress()
		if err != nil {
			return err
		}

		defer scheduler.Stop()
	}

	// Whatever the current epoch gathered is reported on exit.
	defer func() {
		s.report(context.WithoutCancel(ctx), s.lastEpoch)
	}()

	for {
		ev, err := s.deps.Source.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("pull event: %w", err)
		}

		if ev == nil {
			if s.cfg.StopWhenDrained {
				s.log.Info("Source drained")

				return nil
			}

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(s.cfg.PollInterval):
			}

			continue
		}

		if err := s.HandleEvent(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}
	}
}

// start seeds genesis into an empty store and records the point the sink starts from.
func (s *Sink) start(ctx context.Context) error {
	latest, err := s.latestBlock(ctx)
	if err != nil {
		return err
	}

	if latest == nil && s.deps.GenesisFile != nil && !s.cfg.Readonly {
		s.log.Info("Store is empty - indexing genesis")

		info, err := s.deps.Genesis.Process(ctx, s.deps.GenesisFile)
		if err != nil {
			return fmt.Errorf("index genesis: %w", err)
		}

		s.blocks.Add(1)

		latest = &model.Block{Hash: info.Hash}
	}

	s.expectRollback = true
	s.startPoint = nil
	s.epochSeen = false

	if latest != nil {
		s.startPoint = latest.Hash
		s.lastEpoch = latest.Epoch
		s.epochSeen = true

		s.setTip(latest.Slot, latest.Height, latest.Epoch, latest.Hash)
	}

	s.log.WithFields(logrus.Fields{
		"start_point": fmt.Sprintf("%x", s.startPoint),
		"epoch":       s.lastEpoch,
		"readonly":    s.cfg.Readonly,
	}).Info("Sink started")

	return nil
}

// HandleEvent applies one event and acknowledges it to the source.
func (s *Sink) HandleEvent(ctx context.Context, ev *source.Event) error {
	var err error

	switch ev.Kind {
	case source.KindBlock:
		err = s.handleBlock(ctx, ev)
	case source.KindRollback:
		err = s.handleRollback(ctx, ev)
	default:
		return fmt.Errorf("%w: kind %s", source.ErrInvalidEvent, ev.Kind)
	}

	if err != nil {
		return err
	}

	if err := s.deps.Source.Ack(ctx, ev); err != nil {
		return fmt.Errorf("ack %s event %s: %w", ev.Kind, ev.ID, err)
	}

	return nil
}

func (s *Sink) handleBlock(ctx context.Context, ev *source.Event) error {
	// Readonly replays blocks that are already stored.
	if !s.cfg.Readonly {
		stored, err := s.findBlock(ctx, ev.Hash)
		if err != nil {
			return err
		}

		if stored != nil {
			common.BlocksSkipped.WithLabelValues(s.cfg.Network).Inc()

			s.log.WithFields(logrus.Fields{
				"hash": ev.HashHex(),
				"slot": ev.Slot,
			}).Debug("Block already stored, skipping")

			return nil
		}
	}

	s.enterEpoch(ctx, ev.Epoch)

	proc := s.deps.MultiEra
	if cardano.IsByron(ev.BlockType) {
		proc = s.deps.Byron
	}

	info, err := proc.Process(ctx, processor.RawBlock{
		Type:    ev.BlockType,
		Payload: ev.Payload,
		Epoch:   ev.Epoch,
	})
	if err != nil {
		return fmt.Errorf("process block %s at slot %d: %w", ev.HashHex(), ev.Slot, err)
	}

	s.blocks.Add(1)
	s.setTip(info.Slot, info.Height, ev.Epoch, info.Hash)

	return nil
}

// enterEpoch reports and resets both aggregators when epoch is past the last one seen.
func (s *Sink) enterEpoch(ctx context.Context, epoch uint64) {
	if s.epochSeen && epoch <= s.lastEpoch {
		return
	}

	if s.epochSeen {
		s.report(ctx, s.lastEpoch)
	}

	s.lastEpoch = epoch
	s.epochSeen = true
}

func (s *Sink) report(ctx context.Context, epoch uint64) {
	at := time.Now()

	for _, r := range []perf.Report{
		{Network: s.cfg.Network, Epoch: epoch, Kind: perf.KindTask, Stats: s.deps.Tasks.Flush(), At: at},
		{Network: s.cfg.Network, Epoch: epoch, Kind: perf.KindPhase, Stats: s.deps.Phases.Flush(), At: at},
	} {
		if len(r.Stats) == 0 {
			continue
		}

		if err := s.deps.Reporter.Report(ctx, r); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"epoch": epoch,
				"kind":  r.Kind,
			}).Warn("Failed to report epoch performance")
		}
	}
}

func (s *Sink) handleRollback(ctx context.Context, ev *source.Event) error {
	if s.expectRollback {
		s.expectRollback = false

		if bytes.Equal(ev.Hash, s.startPoint) {
			common.Rollbacks.WithLabelValues(s.cfg.Network, "suppressed").Inc()

			s.log.WithFields(logrus.Fields{
				"hash": ev.HashHex(),
				"slot": ev.Slot,
			}).Warn("Ignoring rollback to the start point")

			return nil
		}
	}

	if s.cfg.Readonly {
		return fmt.Errorf("%w: %s", ErrReadonlyRollback, ev.HashHex())
	}

	var (
		target  *model.Block
		deleted int64
	)

	err := store.WithTransaction(ctx, s.deps.Store, func(tx store.Tx) error {
		b, err := tx.FindBlockByHash(ctx, ev.Hash)
		if errors.Is(err, store.ErrNotFound) {
			n, err := tx.Count(ctx, model.EntityBlock)
			if err != nil {
				return fmt.Errorf("count blocks: %w", err)
			}

			if n > 1 {
				return fmt.Errorf("%w: %s at slot %d with %d blocks stored", ErrRollbackTargetNotFound, ev.HashHex(), ev.Slot, n)
			}

			return nil
		}

		if err != nil {
			return fmt.Errorf("find rollback target: %w", err)
		}

		target = b

		deleted, err = tx.DeleteBlocksAfter(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("delete blocks after %d: %w", b.ID, err)
		}

		return nil
	})
	if err != nil {
		common.Rollbacks.WithLabelValues(s.cfg.Network, "failed").Inc()

		return err
	}

	if target == nil {
		common.Rollbacks.WithLabelValues(s.cfg.Network, "ignored").Inc()

		s.log.WithField("hash", ev.HashHex()).Warn("Rollback target not stored, store is near empty - ignoring")

		return nil
	}

	s.rollbacks.Add(1)

	common.Rollbacks.WithLabelValues(s.cfg.Network, "applied").Inc()
	common.RollbackDepth.WithLabelValues(s.cfg.Network).Observe(float64(deleted))

	s.setTip(target.Slot, target.Height, target.Epoch, target.Hash)

	s.log.WithFields(logrus.Fields{
		"hash":    ev.HashHex(),
		"slot":    target.Slot,
		"deleted": deleted,
	}).Info("Rolled back")

	return nil
}

func (s *Sink) latestBlock(ctx context.Context) (*model.Block, error) {
	var latest *model.Block

	err := store.WithTransaction(ctx, s.deps.Store, func(tx store.Tx) error {
		b, err := tx.LatestBlock(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}

		latest = b

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("load latest block: %w", err)
	}

	return latest, nil
}

func (s *Sink) findBlock(ctx context.Context, hash []byte) (*model.Block, error) {
	var found *model.Block

	err := store.WithTransaction(ctx, s.deps.Store, func(tx store.Tx) error {
		b, err := tx.FindBlockByHash(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}

		found = b

		return err
	})
	if err != nil {
		return nil, fmt.Errorf("look up block: %w", err)
	}

	return found, nil
}

func (s *Sink) setTip(slot, height, epoch uint64, hash []byte) {
	s.mu.Lock()
	s.status.TipSlot = slot
	s.status.TipHeight = height
	s.status.TipHash = fmt.Sprintf("%x", hash)
	s.status.Epoch = epoch
	s.mu.Unlock()

	common.ChainTipSlot.WithLabelValues(s.cfg.Network).Set(float64(slot))
	common.ChainTipHeight.WithLabelValues(s.cfg.Network).Set(float64(height))
	common.ChainTipEpoch.WithLabelValues(s.cfg.Network).Set(float64(epoch))
}

func (s *Sink) setRunning(running bool) {
	s.mu.Lock()
	s.status.Running = running
	s.mu.Unlock()
}

func (s *Sink) startProgress() (*gocron.Scheduler, error) {
	scheduler := gocron.NewScheduler(time.Local)

	var (
		lastBlocks = s.blocks.Load()
		lastAt     = time.Now()
	)

	_, err := scheduler.SingletonMode().Every(s.cfg.ProgressInterval).WaitForSchedule().Do(func() {
		now := time.Now()
		blocks := s.blocks.Load()
		rate := float64(blocks-lastBlocks) / now.Sub(lastAt).Seconds()

		lastBlocks, lastAt = blocks, now

		st := s.Status()

		s.log.WithFields(logrus.Fields{
			"blocks_per_sec": fmt.Sprintf("%.2f", rate),
			"tip_slot":       st.TipSlot,
			"tip_height":     st.TipHeight,
			"epoch":          st.Epoch,
		}).Info("Progress")
	})
	if err != nil {
		return nil, fmt.Errorf("schedule progress job: %w", err)
	}

	scheduler.StartAsync()

	return scheduler, nil
}
