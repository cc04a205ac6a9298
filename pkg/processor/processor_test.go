package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/cardano-indexer/internal/testutil"
	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/dispatcher"
	"github.com/ethpandaops/cardano-indexer/pkg/genesis"
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/perf"
	"github.com/ethpandaops/cardano-indexer/pkg/plan"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/store/memory"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/byron"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/shared"
)

func newTestLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

type fixture struct {
	store    *memory.Store
	decoder  *testutil.FakeDecoder
	registry *task.Registry
	phases   *perf.Aggregator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := tasks.NewRegistry()
	require.NoError(t, err)

	return &fixture{
		store:    memory.New(),
		decoder:  testutil.NewFakeDecoder(),
		registry: reg,
		phases:   perf.NewAggregator(),
	}
}

func (f *fixture) dispatcher(readonly bool) *dispatcher.Dispatcher {
	return dispatcher.New(newTestLogger(), f.registry, testutil.FullPlan(f.registry), dispatcher.Options{Readonly: readonly})
}

func (f *fixture) multiEra(readonly bool) *MultiEra {
	return NewMultiEra(newTestLogger(), f.store, f.decoder, f.dispatcher(readonly), Options{Phases: f.phases})
}

func (f *fixture) byron(readonly bool) *Byron {
	return NewByron(newTestLogger(), f.store, f.decoder, f.dispatcher(readonly), Options{Phases: f.phases})
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

var (
	policy = testutil.Hash("policy")[:28]

	maryBlock1 = &cardano.Block{
		Type:   cardano.BlockTypeMary,
		Era:    "mary",
		Hash:   testutil.Hash("mary-1"),
		Slot:   100,
		Height: 10,
		Transactions: []*cardano.Transaction{{
			Hash:  testutil.Hash("tx-1"),
			Valid: true,
			Outputs: []cardano.Output{
				{
					Index:   0,
					Address: testutil.BaseAddress(0xa1, 0xa2),
					Amount:  100,
					Assets:  []cardano.Asset{{PolicyID: policy, Name: []byte("tok"), Amount: 5}},
				},
				{Index: 1, Address: testutil.EnterpriseAddress(0xb1), Amount: 50},
			},
		}},
	}

	maryBlock2 = &cardano.Block{
		Type:   cardano.BlockTypeMary,
		Era:    "mary",
		Hash:   testutil.Hash("mary-2"),
		Slot:   120,
		Height: 11,
		Transactions: []*cardano.Transaction{
			{
				Hash:    testutil.Hash("tx-2"),
				Valid:   true,
				Inputs:  []cardano.Input{{TxHash: testutil.Hash("tx-1"), Index: 0}},
				Outputs: []cardano.Output{{Index: 0, Address: testutil.EnterpriseAddress(0xb1), Amount: 90}},
			},
			{
				// Spends an output produced earlier in the same block.
				Hash:    testutil.Hash("tx-3"),
				Valid:   true,
				Inputs:  []cardano.Input{{TxHash: testutil.Hash("tx-2"), Index: 0}},
				Outputs: []cardano.Output{{Index: 0, Address: testutil.BaseAddress(0xa1, 0xc2), Amount: 80}},
			},
		},
	}
)

func TestMultiEra_IndexesBlocks(t *testing.T) {
	f := newFixture(t)
	p := f.multiEra(false)
	ctx := context.Background()

	for _, b := range []*cardano.Block{maryBlock1, maryBlock2} {
		info, err := p.Process(ctx, RawBlock{Type: b.Type, Payload: f.decoder.Add(b), Epoch: 4})
		require.NoError(t, err)
		assert.Equal(t, b.Slot, info.Slot)
	}

	expected := map[model.Entity]int64{
		model.EntityBlock:       2,
		model.EntityTransaction: 3,
		// a1/a2 base, b1 enterprise, a1/c2 base
		model.EntityAddress: 3,
		// a1 payment, a2 stake, b1 payment, c2 stake
		model.EntityStakeCredential:           4,
		model.EntityAddressCredentialRelation: 5,
		model.EntityOutput:                    4,
		model.EntityInput:                     2,
		model.EntityNativeAsset:               1,
		model.EntityOutputAsset:               1,
	}

	for entity, want := range expected {
		assert.Equal(t, want, count(t, f.store, entity), entity)
	}

	for _, phase := range []string{PhaseDecode, PhaseDispatch, PhaseCommit} {
		s, ok := f.phases.Get(phase)
		require.True(t, ok, phase)
		assert.Equal(t, int64(2), s.Count)
	}
}

func TestMultiEra_RejectsByronBlocks(t *testing.T) {
	f := newFixture(t)

	_, err := f.multiEra(false).Process(context.Background(), RawBlock{Type: cardano.BlockTypeByron})
	require.Error(t, err)

	_, err = f.byron(false).Process(context.Background(), RawBlock{Type: cardano.BlockTypeShelley})
	require.Error(t, err)
}

func TestReadonlyReplayWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, b := range []*cardano.Block{maryBlock1, maryBlock2} {
		_, err := f.multiEra(false).Process(ctx, RawBlock{Type: b.Type, Payload: f.decoder.Add(b)})
		require.NoError(t, err)
	}

	writes := f.store.Writes()
	require.Positive(t, writes)

	replay := f.multiEra(true)
	for _, b := range []*cardano.Block{maryBlock1, maryBlock2} {
		_, err := replay.Process(ctx, RawBlock{Type: b.Type, Payload: b.Payload})
		require.NoError(t, err)
	}

	assert.Equal(t, writes, f.store.Writes())
	assert.Equal(t, int64(2), count(t, f.store, model.EntityBlock))
}

func TestReadonlyOnEmptyStoreFails(t *testing.T) {
	f := newFixture(t)

	_, err := f.multiEra(true).Process(context.Background(), RawBlock{Type: maryBlock1.Type, Payload: f.decoder.Add(maryBlock1)})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrMissingRow)
	assert.Equal(t, int64(0), f.store.Writes())
}

type explodingTask struct{}

func (explodingTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         "ExplodingTask",
		Era:          task.EraByron,
		Dependencies: []string{byron.BlockTaskName},
	}
}

func (explodingTask) ShouldRun(*task.BlockInfo, task.Config) task.Prerun { return task.Run() }

func (explodingTask) Execute(context.Context, *task.Context) (task.Result, error) {
	return nil, errors.New("exploded")
}

func TestFailedTaskRollsBackBlock(t *testing.T) {
	f := newFixture(t)

	reg := task.NewRegistry()
	require.NoError(t, byron.Register(reg))
	require.NoError(t, reg.Register(explodingTask{}))
	reg.Seal()

	p := testutil.FullPlan(reg)
	d := dispatcher.New(newTestLogger(), reg, p, dispatcher.Options{})
	proc := NewByron(newTestLogger(), f.store, f.decoder, d, Options{})

	block := &cardano.Block{
		Type: cardano.BlockTypeByron,
		Era:  "byron",
		Hash: testutil.Hash("byron-1"),
		Slot: 5,
		Transactions: []*cardano.Transaction{{
			Hash:    testutil.Hash("byron-tx"),
			Valid:   true,
			Outputs: []cardano.Output{{Address: testutil.ByronAddress(0x01, 40), Amount: 1}},
		}},
	}

	_, err := proc.Process(context.Background(), RawBlock{Type: block.Type, Payload: f.decoder.Add(block)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ExplodingTask")

	for _, entity := range model.Entities() {
		assert.Zero(t, count(t, f.store, entity), entity)
	}

	assert.Zero(t, f.store.Writes())
}

func TestByronEpochBoundaryBlock(t *testing.T) {
	f := newFixture(t)

	ebb := &cardano.Block{
		Type:   cardano.BlockTypeByronEBB,
		Era:    "byron_ebb",
		Hash:   testutil.Hash("ebb-1"),
		Slot:   21600,
		Height: 1,
	}

	info, err := f.byron(false).Process(context.Background(), RawBlock{Type: ebb.Type, Payload: f.decoder.Add(ebb), Epoch: 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Epoch)

	assert.Equal(t, int64(1), count(t, f.store, model.EntityBlock))
	assert.Zero(t, count(t, f.store, model.EntityTransaction))
}

func TestGenesisThenByronSpend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	addr := testutil.ByronAddress(0x07, 60)
	oversized := testutil.ByronAddress(0x08, cardano.MaxAddressPayload+100)

	file := &genesis.File{
		Hash: testutil.Hash("genesis"),
		Balances: []genesis.Balance{
			{Address: addr, Amount: 1000, TxHash: testutil.Hash("g-tx-1")},
			{Address: oversized, Amount: 5, TxHash: testutil.Hash("g-tx-2")},
		},
	}

	gen := NewGenesis(newTestLogger(), f.store, f.dispatcher(false), Options{})
	_, err := gen.Process(ctx, file)
	require.NoError(t, err)

	assert.Equal(t, int64(1), count(t, f.store, model.EntityBlock))
	assert.Equal(t, int64(2), count(t, f.store, model.EntityTransaction))
	assert.Equal(t, int64(2), count(t, f.store, model.EntityOutput))

	spend := &cardano.Block{
		Type:   cardano.BlockTypeByron,
		Era:    "byron",
		Hash:   testutil.Hash("byron-spend"),
		Slot:   1,
		Height: 1,
		Transactions: []*cardano.Transaction{{
			Hash:    testutil.Hash("byron-spend-tx"),
			Valid:   true,
			Inputs:  []cardano.Input{{TxHash: testutil.Hash("g-tx-1"), Index: 0}},
			Outputs: []cardano.Output{{Address: oversized, Amount: 999}},
		}},
	}

	_, err = f.byron(false).Process(ctx, RawBlock{Type: spend.Type, Payload: f.decoder.Add(spend)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), count(t, f.store, model.EntityInput))
	// The oversized address is stored truncated and reused by the second output.
	assert.Equal(t, int64(2), count(t, f.store, model.EntityAddress))

	require.NoError(t, store.WithTransaction(ctx, f.store, func(tx store.Tx) error {
		truncated, _ := cardano.TruncateAddress(oversized)

		rows, err := tx.FindAddresses(ctx, [][]byte{truncated})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Len(t, rows[0].Payload, cardano.MaxAddressPayload)

		return nil
	}))
}

func TestUnknownSpentOutputFails(t *testing.T) {
	f := newFixture(t)

	b := &cardano.Block{
		Type: cardano.BlockTypeShelley,
		Era:  "shelley",
		Hash: testutil.Hash("orphan"),
		Transactions: []*cardano.Transaction{{
			Hash:    testutil.Hash("orphan-tx"),
			Valid:   true,
			Inputs:  []cardano.Input{{TxHash: testutil.Hash("nowhere"), Index: 3}},
			Outputs: []cardano.Output{{Address: testutil.EnterpriseAddress(0x01), Amount: 1}},
		}},
	}

	_, err := f.multiEra(false).Process(context.Background(), RawBlock{Type: b.Type, Payload: f.decoder.Add(b)})
	require.ErrorIs(t, err, shared.ErrUnknownOutput)
	assert.Zero(t, count(t, f.store, model.EntityBlock))
}

func TestPlanSubset(t *testing.T) {
	f := newFixture(t)

	p := &plan.Plan{Entries: []plan.Entry{
		{Name: "MultieraBlockTask"},
		{Name: "MultieraTransactionTask"},
	}}

	d := dispatcher.New(newTestLogger(), f.registry, p, dispatcher.Options{})
	proc := NewMultiEra(newTestLogger(), f.store, f.decoder, d, Options{})

	_, err := proc.Process(context.Background(), RawBlock{Type: maryBlock2.Type, Payload: f.decoder.Add(maryBlock2)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), count(t, f.store, model.EntityBlock))
	assert.Equal(t, int64(2), count(t, f.store, model.EntityTransaction))
	assert.Zero(t, count(t, f.store, model.EntityOutput))
}
