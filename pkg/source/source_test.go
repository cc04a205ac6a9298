package source_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/cardano-indexer/internal/testutil"
	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/source"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/store/memory"
)

func testConfig() source.RedisConfig {
	return source.RedisConfig{
		Stream:          "test:chainsync",
		BatchSize:       2,
		StartID:         "0",
		MaxRetryElapsed: time.Second,
	}
}

func TestRedisPullDecodesEvents(t *testing.T) {
	ctx := context.Background()
	client, _ := testutil.NewMiniredisClient(t)
	cfg := testConfig()

	block := &source.Event{
		Kind:      source.KindBlock,
		Slot:      4492800,
		Hash:      testutil.Hash("b1"),
		BlockType: cardano.BlockTypeShelley,
		Payload:   []byte{0x82, 0x01, 0x02},
		Epoch:     208,
		Height:    4490511,
	}
	rollback := &source.Event{
		Kind: source.KindRollback,
		Slot: 4492700,
		Hash: testutil.Hash("b0"),
	}

	for _, ev := range []*source.Event{block, rollback, block} {
		_, err := source.Publish(ctx, client, cfg.Stream, ev)
		require.NoError(t, err)
	}

	src := source.NewRedis(logrus.New(), client, "test", "mainnet", cfg)

	got, err := src.Pull(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, source.KindBlock, got.Kind)
	assert.Equal(t, block.Slot, got.Slot)
	assert.Equal(t, block.Hash, got.Hash)
	assert.Equal(t, block.BlockType, got.BlockType)
	assert.Equal(t, block.Payload, got.Payload)
	assert.Equal(t, block.Epoch, got.Epoch)
	assert.Equal(t, block.Height, got.Height)
	assert.NotEmpty(t, got.ID)

	got, err = src.Pull(ctx)
	require.NoError(t, err)
	assert.Equal(t, source.KindRollback, got.Kind)
	assert.Equal(t, rollback.Hash, got.Hash)
	assert.Nil(t, got.Payload)

	// Third entry comes from a second batch.
	got, err = src.Pull(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, source.KindBlock, got.Kind)

	got, err = src.Pull(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisResumesFromAck(t *testing.T) {
	ctx := context.Background()
	client, _ := testutil.NewMiniredisClient(t)
	cfg := testConfig()

	var ids []string

	for i, label := range []string{"a", "b", "c"} {
		id, err := source.Publish(ctx, client, cfg.Stream, &source.Event{
			Kind:      source.KindBlock,
			Slot:      uint64(i + 1),
			Hash:      testutil.Hash(label),
			BlockType: cardano.BlockTypeBabbage,
			Payload:   []byte{byte(i)},
			Height:    uint64(i + 1),
		})
		require.NoError(t, err)

		ids = append(ids, id)
	}

	first := source.NewRedis(logrus.New(), client, "test", "mainnet", cfg)

	ev, err := first.Pull(ctx)
	require.NoError(t, err)
	require.NoError(t, first.Ack(ctx, ev))

	// Pulled but never acknowledged.
	_, err = first.Pull(ctx)
	require.NoError(t, err)

	cursor, err := first.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[0], cursor)

	second := source.NewRedis(logrus.New(), client, "test", "mainnet", cfg)

	ev, err = second.Pull(ctx)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, ids[1], ev.ID)
	assert.Equal(t, testutil.Hash("b"), ev.Hash)
}

func TestRedisRejectsMalformedEntry(t *testing.T) {
	ctx := context.Background()
	client, _ := testutil.NewMiniredisClient(t)
	cfg := testConfig()

	err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: cfg.Stream,
		Values: map[string]any{"type": "block", "slot": "1", "hash": "zz"},
	}).Err()
	require.NoError(t, err)

	src := source.NewRedis(logrus.New(), client, "test", "mainnet", cfg)

	_, err = src.Pull(ctx)
	require.ErrorIs(t, err, source.ErrInvalidEvent)
}

func TestRedisConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	cfg.Stream = ""
	require.Error(t, cfg.Validate())

	cfg = testConfig()
	cfg.BatchSize = 0
	require.Error(t, cfg.Validate())
}

func TestSliceSource(t *testing.T) {
	ctx := context.Background()
	a := &source.Event{Kind: source.KindBlock, Hash: testutil.Hash("a")}
	src := source.NewSlice(a)

	ev, err := src.Pull(ctx)
	require.NoError(t, err)
	require.NoError(t, src.Ack(ctx, ev))

	ev, err = src.Pull(ctx)
	require.NoError(t, err)
	assert.Nil(t, ev)
	assert.Equal(t, []*source.Event{a}, src.Acked())
}

func seedBlocks(t *testing.T, s store.Store, blocks ...*model.Block) {
	t.Helper()

	err := store.WithTransaction(context.Background(), s, func(tx store.Tx) error {
		for _, b := range blocks {
			if err := tx.InsertBlock(context.Background(), b); err != nil {
				return err
			}
		}

		return nil
	})
	require.NoError(t, err)
}

func TestReplayYieldsStoredBlocks(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	seedBlocks(t, s,
		&model.Block{Hash: testutil.Hash("g"), Era: "genesis"},
		&model.Block{Hash: testutil.Hash("ebb"), Era: "byron_ebb", Payload: []byte{0}},
		&model.Block{Hash: testutil.Hash("1"), Era: "byron", Height: 1, Slot: 1, Payload: []byte{1}},
		&model.Block{Hash: testutil.Hash("2"), Era: "shelley", Height: 2, Slot: 2, Epoch: 1, Payload: []byte{2}},
		&model.Block{Hash: testutil.Hash("3"), Era: "babbage", Height: 3, Slot: 3, Epoch: 1, Payload: []byte{3}},
	)

	src := source.NewReplay(logrus.New(), s, 0, 2)

	var got []*source.Event

	for {
		ev, err := src.Pull(ctx)
		require.NoError(t, err)

		if ev == nil {
			break
		}

		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, cardano.BlockTypeByronEBB, got[0].BlockType)
	assert.Equal(t, cardano.BlockTypeByron, got[1].BlockType)
	assert.Equal(t, cardano.BlockTypeShelley, got[2].BlockType)
	assert.Equal(t, []byte{2}, got[2].Payload)
	assert.Equal(t, uint64(1), got[2].Epoch)
}

func TestReplayRequiresPayload(t *testing.T) {
	s := memory.New()

	seedBlocks(t, s, &model.Block{Hash: testutil.Hash("1"), Era: "shelley", Height: 1})

	_, err := source.NewReplay(logrus.New(), s, 1, 0).Pull(context.Background())
	require.ErrorIs(t, err, source.ErrNoPayload)
}

func TestReplayKeepsSharedHeightAcrossBatches(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var blocks []*model.Block

	for h := uint64(1); h <= 100; h++ {
		blocks = append(blocks, &model.Block{
			Hash: testutil.Hash(fmt.Sprintf("main-%d", h)), Era: "byron", Height: h, Slot: h, Payload: []byte{1},
		})
	}

	// The epoch boundary block repeats the height of the block before it and lands first in the
	// second batch.
	blocks = append(blocks,
		&model.Block{Hash: testutil.Hash("ebb"), Era: "byron_ebb", Height: 100, Slot: 100, Epoch: 1, Payload: []byte{0}},
		&model.Block{Hash: testutil.Hash("main-101"), Era: "byron", Height: 101, Slot: 101, Epoch: 1, Payload: []byte{1}},
	)

	seedBlocks(t, s, blocks...)

	src := source.NewReplay(logrus.New(), s, 1, 0)

	var hashes [][]byte

	for {
		ev, err := src.Pull(ctx)
		require.NoError(t, err)

		if ev == nil {
			break
		}

		hashes = append(hashes, ev.Hash)
	}

	require.Len(t, hashes, len(blocks))
	assert.Equal(t, testutil.Hash("ebb"), hashes[100])
	assert.Equal(t, testutil.Hash("main-101"), hashes[101])
}
