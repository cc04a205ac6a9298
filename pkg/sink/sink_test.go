package sink_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/cardano-indexer/internal/testutil"
	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/dispatcher"
	"github.com/ethpandaops/cardano-indexer/pkg/genesis"
	"github.com/ethpandaops/cardano-indexer/pkg/leaderelection"
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/processor"
	"github.com/ethpandaops/cardano-indexer/pkg/sink"
	"github.com/ethpandaops/cardano-indexer/pkg/source"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/store/memory"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks"
)

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// pipeline wires the real processors against a memory store.
type pipeline struct {
	store   *memory.Store
	decoder *testutil.FakeDecoder
	tasks   *perf.Aggregator
	phases  *perf.Aggregator
	genesis *processor.Genesis
	deps    sink.Dependencies
}

func newPipeline(t *testing.T, readonly bool) *pipeline {
	t.Helper()

	return newPipelineOn(t, memory.New(), testutil.NewFakeDecoder(), readonly)
}

func newPipelineOn(t *testing.T, s *memory.Store, decoder *testutil.FakeDecoder, readonly bool) *pipeline {
	t.Helper()

	reg, err := tasks.NewRegistry()
	require.NoError(t, err)

	log := newTestLogger()
	taskPerf := perf.NewAggregator()
	phases := perf.NewAggregator()

	d := dispatcher.New(log, reg, testutil.FullPlan(reg), dispatcher.Options{Readonly: readonly, Perf: taskPerf})
	opts := processor.Options{Phases: phases}

	p := &pipeline{
		store:   s,
		decoder: decoder,
		tasks:   taskPerf,
		phases:  phases,
		genesis: processor.NewGenesis(log, s, d, opts),
	}

	p.deps = sink.Dependencies{
		Store:    s,
		Byron:    processor.NewByron(log, s, decoder, d, opts),
		MultiEra: processor.NewMultiEra(log, s, decoder, d, opts),
		Tasks:    taskPerf,
		Phases:   phases,
		Reporter: perf.NewLogReporter(log),
	}

	return p
}

func (p *pipeline) run(t *testing.T, cfg sink.Config, events ...*source.Event) (*sink.Sink, *source.Slice, error) {
	t.Helper()

	src := source.NewSlice(events...)
	deps := p.deps
	deps.Source = src

	cfg.StopWhenDrained = true

	s, err := sink.New(newTestLogger(), cfg, deps)
	require.NoError(t, err)

	return s, src, s.Run(context.Background())
}

func (p *pipeline) blockEvent(b *cardano.Block, epoch uint64) *source.Event {
	return &source.Event{
		Kind:      source.KindBlock,
		ID:        fmt.Sprintf("block-%x", b.Hash[:4]),
		Slot:      b.Slot,
		Hash:      b.Hash,
		BlockType: b.Type,
		Payload:   p.decoder.Add(b),
		Epoch:     epoch,
		Height:    b.Height,
	}
}

func rollbackTo(hash []byte) *source.Event {
	return &source.Event{Kind: source.KindRollback, ID: fmt.Sprintf("rollback-%x", hash[:4]), Hash: hash}
}

func count(t *testing.T, s store.Store, entity model.Entity) int64 {
	t.Helper()

	var n int64

	require.NoError(t, store.WithTransaction(context.Background(), s, func(tx store.Tx) error {
		var err error

		n, err = tx.Count(context.Background(), entity)

		return err
	}))

	return n
}

// chain builds n Shelley blocks; block k carries one transaction spending the previous block's
// output.
func chain(n int) []*cardano.Block {
	blocks := make([]*cardano.Block, 0, n)

	for k := 1; k <= n; k++ {
		tx := &cardano.Transaction{
			Hash:    testutil.Hash(fmt.Sprintf("chain-tx-%d", k)),
			Valid:   true,
			Outputs: []cardano.Output{{Index: 0, Address: testutil.BaseAddress(byte(k), 0xee), Amount: uint64(1000 - k)}},
		}

		if k > 1 {
			tx.Inputs = []cardano.Input{{TxHash: testutil.Hash(fmt.Sprintf("chain-tx-%d", k-1)), Index: 0}}
		}

		blocks = append(blocks, &cardano.Block{
			Type:         cardano.BlockTypeShelley,
			Era:          "shelley",
			Hash:         testutil.Hash(fmt.Sprintf("chain-block-%d", k)),
			Slot:         uint64(k * 20),
			Height:       uint64(k),
			Transactions: []*cardano.Transaction{tx},
		})
	}

	return blocks
}

func TestSink_IndexesAndAcknowledges(t *testing.T) {
	p := newPipeline(t, false)

	var events []*source.Event
	for _, b := range chain(3) {
		events = append(events, p.blockEvent(b, 208))
	}

	s, src, err := p.run(t, sink.Config{Network: "test"}, events...)
	require.NoError(t, err)

	assert.Equal(t, int64(3), count(t, p.store, model.EntityBlock))
	assert.Equal(t, int64(2), count(t, p.store, model.EntityInput))
	assert.Equal(t, events, src.Acked())

	st := s.Status()
	assert.Equal(t, uint64(3), st.Blocks)
	assert.Equal(t, uint64(60), st.TipSlot)
	assert.Equal(t, uint64(3), st.TipHeight)
	assert.True(t, st.Leader)
	assert.False(t, st.Running)
}

func TestSink_RollbackRemovesLaterBlocks(t *testing.T) {
	p := newPipeline(t, false)
	blocks := chain(5)

	var events []*source.Event
	for _, b := range blocks {
		events = append(events, p.blockEvent(b, 208))
	}

	events = append(events, rollbackTo(blocks[1].Hash))

	s, _, err := p.run(t, sink.Config{Network: "test"}, events...)
	require.NoError(t, err)

	assert.Equal(t, int64(2), count(t, p.store, model.EntityBlock))
	assert.Equal(t, int64(2), count(t, p.store, model.EntityTransaction))
	assert.Equal(t, int64(2), count(t, p.store, model.EntityOutput))
	assert.Equal(t, int64(1), count(t, p.store, model.EntityInput))

	require.NoError(t, store.WithTransaction(context.Background(), p.store, func(tx store.Tx) error {
		latest, err := tx.LatestBlock(context.Background())
		require.NoError(t, err)
		assert.Equal(t, blocks[1].Hash, latest.Hash)

		_, err = tx.FindBlockByHash(context.Background(), blocks[2].Hash)
		assert.ErrorIs(t, err, store.ErrNotFound)

		return nil
	}))

	st := s.Status()
	assert.Equal(t, uint64(1), st.Rollbacks)
	assert.Equal(t, blocks[1].Slot, st.TipSlot)

	// The chain continues on the new fork.
	fork := &cardano.Block{
		Type:   cardano.BlockTypeShelley,
		Era:    "shelley",
		Hash:   testutil.Hash("fork-3"),
		Slot:   61,
		Height: 3,
		Transactions: []*cardano.Transaction{{
			Hash:    testutil.Hash("fork-tx-3"),
			Valid:   true,
			Inputs:  []cardano.Input{{TxHash: testutil.Hash("chain-tx-2"), Index: 0}},
			Outputs: []cardano.Output{{Index: 0, Address: testutil.EnterpriseAddress(0x33), Amount: 1}},
		}},
	}

	_, _, err = p.run(t, sink.Config{Network: "test"}, p.blockEvent(fork, 208))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count(t, p.store, model.EntityBlock))
	assert.Equal(t, int64(2), count(t, p.store, model.EntityInput))
}

func TestSink_SuppressesFirstRollbackToStartPoint(t *testing.T) {
	p := newPipeline(t, false)
	blocks := chain(3)

	var events []*source.Event
	for _, b := range blocks {
		events = append(events, p.blockEvent(b, 208))
	}

	_, _, err := p.run(t, sink.Config{Network: "test"}, events...)
	require.NoError(t, err)

	// A restarted sink starts from block 3. The node confirms that point first.
	s, src, err := p.run(t, sink.Config{Network: "test"},
		rollbackTo(blocks[2].Hash),
		rollbackTo(blocks[0].Hash),
	)
	require.NoError(t, err)

	assert.Len(t, src.Acked(), 2)
	assert.Equal(t, uint64(1), s.Status().Rollbacks)
	assert.Equal(t, int64(1), count(t, p.store, model.EntityBlock))
}

func TestSink_SuppressionOnlyAppliesToFirstRollback(t *testing.T) {
	p := newPipeline(t, false)
	blocks := chain(3)

	var events []*source.Event
	for _, b := range blocks {
		events = append(events, p.blockEvent(b, 208))
	}

	_, _, err := p.run(t, sink.Config{Network: "test"}, events...)
	require.NoError(t, err)

	s, _, err := p.run(t, sink.Config{Network: "test"},
		rollbackTo(blocks[0].Hash),
		rollbackTo(blocks[0].Hash),
	)
	require.NoError(t, err)

	// The first rollback does not match the start point, so neither is suppressed.
	assert.Equal(t, uint64(2), s.Status().Rollbacks)
	assert.Equal(t, int64(1), count(t, p.store, model.EntityBlock))
}

func TestSink_RollbackTargetNotFound(t *testing.T) {
	t.Run("fatal with data stored", func(t *testing.T) {
		p := newPipeline(t, false)
		blocks := chain(2)

		_, src, err := p.run(t, sink.Config{Network: "test"},
			p.blockEvent(blocks[0], 1),
			p.blockEvent(blocks[1], 1),
			rollbackTo(testutil.Hash("unknown")),
		)
		require.ErrorIs(t, err, sink.ErrRollbackTargetNotFound)

		assert.Len(t, src.Acked(), 2)
		assert.Equal(t, int64(2), count(t, p.store, model.EntityBlock))
	})

	t.Run("ignored on empty store", func(t *testing.T) {
		p := newPipeline(t, false)

		_, src, err := p.run(t, sink.Config{Network: "test"}, rollbackTo(testutil.Hash("unknown")))
		require.NoError(t, err)
		assert.Len(t, src.Acked(), 1)
	})
}

func TestSink_SkipsStoredBlocks(t *testing.T) {
	p := newPipeline(t, false)
	b := chain(1)[0]

	ev := p.blockEvent(b, 208)

	s, src, err := p.run(t, sink.Config{Network: "test"}, ev, ev)
	require.NoError(t, err)

	assert.Equal(t, int64(1), count(t, p.store, model.EntityBlock))
	assert.Len(t, src.Acked(), 2)
	assert.Equal(t, uint64(1), s.Status().Blocks)
}

func TestSink_ReadonlyReplayWritesNothing(t *testing.T) {
	p := newPipeline(t, false)

	var events []*source.Event
	for _, b := range chain(4) {
		events = append(events, p.blockEvent(b, 208))
	}

	_, _, err := p.run(t, sink.Config{Network: "test"}, events...)
	require.NoError(t, err)

	writes := p.store.Writes()

	replay := newPipelineOn(t, p.store, p.decoder, true)

	s, _, err := replay.run(t, sink.Config{Network: "test", Readonly: true}, events...)
	require.NoError(t, err)

	assert.Equal(t, writes, p.store.Writes())
	assert.Equal(t, uint64(4), s.Status().Blocks)

	_, _, err = replay.run(t, sink.Config{Network: "test", Readonly: true}, rollbackTo(testutil.Hash("x")), rollbackTo(testutil.Hash("y")))
	require.ErrorIs(t, err, sink.ErrReadonlyRollback)
}

func TestSink_IndexesGenesisOnEmptyStore(t *testing.T) {
	p := newPipeline(t, false)

	file := &genesis.File{
		Hash: testutil.Hash("genesis"),
		Balances: []genesis.Balance{
			{Address: testutil.ByronAddress(0x01, 40), Amount: 10, TxHash: testutil.Hash("g-1")},
			{Address: testutil.ByronAddress(0x02, 40), Amount: 20, TxHash: testutil.Hash("g-2")},
		},
	}

	p.deps.Genesis = p.genesis
	p.deps.GenesisFile = file

	spend := &cardano.Block{
		Type:   cardano.BlockTypeByron,
		Era:    "byron",
		Hash:   testutil.Hash("byron-1"),
		Slot:   1,
		Height: 1,
		Transactions: []*cardano.Transaction{{
			Hash:    testutil.Hash("byron-tx-1"),
			Valid:   true,
			Inputs:  []cardano.Input{{TxHash: testutil.Hash("g-2"), Index: 0}},
			Outputs: []cardano.Output{{Address: testutil.ByronAddress(0x03, 40), Amount: 19}},
		}},
	}

	// The node's first rollback points at the genesis block the sink just wrote.
	_, _, err := p.run(t, sink.Config{Network: "test"}, rollbackTo(file.Hash), p.blockEvent(spend, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(2), count(t, p.store, model.EntityBlock))
	assert.Equal(t, int64(3), count(t, p.store, model.EntityTransaction))
	assert.Equal(t, int64(1), count(t, p.store, model.EntityInput))

	// A non-empty store is not seeded again.
	_, _, err = p.run(t, sink.Config{Network: "test"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), count(t, p.store, model.EntityBlock))
}

func TestSink_ProcessorErrorStopsSink(t *testing.T) {
	p := newPipeline(t, false)

	unknown := &source.Event{
		Kind:      source.KindBlock,
		ID:        "bad",
		Hash:      testutil.Hash("bad"),
		BlockType: cardano.BlockTypeShelley,
		Payload:   []byte("not registered"),
	}
	after := p.blockEvent(chain(1)[0], 1)

	_, src, err := p.run(t, sink.Config{Network: "test"}, unknown, after)
	require.Error(t, err)

	assert.Empty(t, src.Acked())
	assert.Zero(t, count(t, p.store, model.EntityBlock))
}

// recordingProcessor stands in for a block processor. Every block adds one task duration and
// one phase duration.
type recordingProcessor struct {
	name   string
	tasks  *perf.Aggregator
	phases *perf.Aggregator

	mu   sync.Mutex
	seen []seenBlock
	err  error
}

type seenBlock struct {
	processor  string
	blockType  uint
	epoch      uint64
	tasksAtRun int
}

func (r *recordingProcessor) Process(_ context.Context, raw processor.RawBlock) (*task.BlockInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}

	r.seen = append(r.seen, seenBlock{
		processor:  r.name,
		blockType:  raw.Type,
		epoch:      raw.Epoch,
		tasksAtRun: r.tasks.Len(),
	})

	r.tasks.Add("TaskA", 10*time.Millisecond)
	r.phases.Add(processor.PhaseDispatch, 12*time.Millisecond)

	return &task.BlockInfo{Epoch: raw.Epoch, Hash: raw.Payload}, nil
}

type recordingReporter struct {
	mu      sync.Mutex
	reports []perf.Report
}

func (r *recordingReporter) Report(_ context.Context, rep perf.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, rep)

	return nil
}

func fakeDeps(src source.Source) (sink.Dependencies, *recordingProcessor, *recordingProcessor, *recordingReporter) {
	taskPerf := perf.NewAggregator()
	phases := perf.NewAggregator()
	byron := &recordingProcessor{name: "byron", tasks: taskPerf, phases: phases}
	multi := &recordingProcessor{name: "multiera", tasks: taskPerf, phases: phases}
	reporter := &recordingReporter{}

	return sink.Dependencies{
		Store:    memory.New(),
		Source:   src,
		Byron:    byron,
		MultiEra: multi,
		Tasks:    taskPerf,
		Phases:   phases,
		Reporter: reporter,
	}, byron, multi, reporter
}

func rawBlock(label string, blockType uint, epoch uint64) *source.Event {
	return &source.Event{
		Kind:      source.KindBlock,
		ID:        label,
		Hash:      testutil.Hash(label),
		BlockType: blockType,
		Payload:   []byte(label),
		Epoch:     epoch,
	}
}

func TestSink_EpochBoundaryReportsAndResets(t *testing.T) {
	src := source.NewSlice(
		rawBlock("a", cardano.BlockTypeShelley, 210),
		rawBlock("b", cardano.BlockTypeShelley, 210),
		rawBlock("c", cardano.BlockTypeShelley, 211),
	)
	deps, _, multi, reporter := fakeDeps(src)

	s, err := sink.New(newTestLogger(), sink.Config{Network: "test", StopWhenDrained: true}, deps)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, multi.seen, 3)
	assert.Equal(t, 1, multi.seen[1].tasksAtRun)
	// Epoch 210 totals were reported and cleared before the first block of 211 ran.
	assert.Equal(t, 0, multi.seen[2].tasksAtRun)

	require.Len(t, reporter.reports, 4)

	epoch210 := reporter.reports[0]
	assert.Equal(t, uint64(210), epoch210.Epoch)
	assert.Equal(t, perf.KindTask, epoch210.Kind)
	require.Len(t, epoch210.Stats, 1)
	assert.Equal(t, "TaskA", epoch210.Stats[0].Name)
	assert.Equal(t, 20*time.Millisecond, epoch210.Stats[0].Total)
	assert.Equal(t, int64(2), epoch210.Stats[0].Count)

	assert.Equal(t, perf.KindPhase, reporter.reports[1].Kind)
	assert.Equal(t, uint64(210), reporter.reports[1].Epoch)

	// The partial epoch is reported when the sink stops.
	assert.Equal(t, uint64(211), reporter.reports[2].Epoch)
	assert.Equal(t, int64(1), reporter.reports[2].Stats[0].Count)

	assert.Zero(t, deps.Tasks.Len())
	assert.Zero(t, deps.Phases.Len())
}

func TestSink_RoutesByBlockType(t *testing.T) {
	src := source.NewSlice(
		rawBlock("ebb", cardano.BlockTypeByronEBB, 0),
		rawBlock("byron", cardano.BlockTypeByron, 0),
		rawBlock("shelley", cardano.BlockTypeShelley, 208),
		rawBlock("conway", cardano.BlockTypeConway, 507),
	)
	deps, byron, multi, _ := fakeDeps(src)

	s, err := sink.New(newTestLogger(), sink.Config{StopWhenDrained: true}, deps)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	require.Len(t, byron.seen, 2)
	assert.Equal(t, cardano.BlockTypeByronEBB, byron.seen[0].blockType)
	assert.Equal(t, cardano.BlockTypeByron, byron.seen[1].blockType)

	require.Len(t, multi.seen, 2)
	assert.Equal(t, cardano.BlockTypeShelley, multi.seen[0].blockType)
	assert.Equal(t, cardano.BlockTypeConway, multi.seen[1].blockType)
}

func TestSink_NewValidatesDependencies(t *testing.T) {
	deps, _, _, _ := fakeDeps(source.NewSlice())

	missingStore := deps
	missingStore.Store = nil

	_, err := sink.New(newTestLogger(), sink.Config{}, missingStore)
	require.Error(t, err)

	genesisWithoutProcessor := deps
	genesisWithoutProcessor.GenesisFile = &genesis.File{}

	_, err = sink.New(newTestLogger(), sink.Config{}, genesisWithoutProcessor)
	require.Error(t, err)

	_, err = sink.New(newTestLogger(), sink.Config{}, deps)
	require.NoError(t, err)
}

func TestSink_InvalidEventKind(t *testing.T) {
	deps, _, _, _ := fakeDeps(source.NewSlice())

	s, err := sink.New(newTestLogger(), sink.Config{}, deps)
	require.NoError(t, err)

	err = s.HandleEvent(context.Background(), &source.Event{Kind: source.Kind(9)})
	require.ErrorIs(t, err, source.ErrInvalidEvent)
}

// fakeElector hands leadership out on demand.
type fakeElector struct {
	mu        sync.Mutex
	leader    bool
	callbacks []leaderelection.LeadershipCallback
}

var _ leaderelection.Elector = (*fakeElector)(nil)

func (f *fakeElector) Start(context.Context) error { return nil }
func (f *fakeElector) Stop(context.Context) error  { return nil }

func (f *fakeElector) IsLeader() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.leader
}

func (f *fakeElector) OnLeadershipChange(cb leaderelection.LeadershipCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.callbacks = append(f.callbacks, cb)
}

func (f *fakeElector) GetLeaderID() (string, error) { return "fake", nil }

func (f *fakeElector) set(leader bool) {
	f.mu.Lock()
	f.leader = leader
	callbacks := append([]leaderelection.LeadershipCallback(nil), f.callbacks...)
	f.mu.Unlock()

	for _, cb := range callbacks {
		cb(context.Background(), leader)
	}
}

func (f *fakeElector) registered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.callbacks) > 0
}

func TestSink_FollowsOnlyWhileLeader(t *testing.T) {
	src := source.NewSlice(rawBlock("a", cardano.BlockTypeShelley, 1))
	deps, _, multi, _ := fakeDeps(src)

	elector := &fakeElector{}
	deps.Elector = elector

	s, err := sink.New(newTestLogger(), sink.Config{StopWhenDrained: true}, deps)
	require.NoError(t, err)

	done := make(chan error, 1)

	go func() { done <- s.Run(context.Background()) }()

	require.Eventually(t, elector.registered, time.Second, 5*time.Millisecond)

	// Followers do not touch the source.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, src.Acked())
	assert.False(t, s.Status().Leader)

	elector.set(true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not stop after draining the source")
	}

	assert.Len(t, multi.seen, 1)
	assert.Len(t, src.Acked(), 1)
}

func TestSink_StopsOnCancel(t *testing.T) {
	deps, _, _, _ := fakeDeps(source.NewSlice())

	s, err := sink.New(newTestLogger(), sink.Config{PollInterval: 10 * time.Millisecond}, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not stop")
	}
}

func TestSink_ProcessorFailureIsReturned(t *testing.T) {
	src := source.NewSlice(rawBlock("a", cardano.BlockTypeShelley, 1))
	deps, _, multi, _ := fakeDeps(src)

	boom := errors.New("boom")
	multi.err = boom

	s, err := sink.New(newTestLogger(), sink.Config{StopWhenDrained: true}, deps)
	require.NoError(t, err)

	require.ErrorIs(t, s.Run(context.Background()), boom)
	assert.Empty(t, src.Acked())
}

func TestSink_LeadershipLossStopsFollowingUntilRegained(t *testing.T) {
	deps, _, _, _ := fakeDeps(source.NewSlice())

	elector := &fakeElector{}
	deps.Elector = elector

	s, err := sink.New(newTestLogger(), sink.Config{PollInterval: 5 * time.Millisecond}, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, elector.registered, time.Second, 5*time.Millisecond)

	running := func() bool { return s.Status().Running }

	elector.set(true)
	require.Eventually(t, running, time.Second, 5*time.Millisecond)

	elector.set(false)
	require.Eventually(t, func() bool { return !running() }, time.Second, 5*time.Millisecond)

	elector.set(true)
	require.Eventually(t, running, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not stop")
	}

	assert.False(t, running())
}
