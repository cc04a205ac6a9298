package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/genesis"
)

// ErrNoPayload is returned when a stored block was indexed without include_payload.
var ErrNoPayload = errors.New("stored block has no payload")

const replayBatch = 100

// Replay yields blocks already in the store in id order, starting at the first block of height
// from and stopping after the last block of height to. A zero to means up to the latest stored
// block. The genesis block is not replayed.
type Replay struct {
	log   logrus.FieldLogger
	store store.Store
	from  uint64
	to    uint64

	lastID  int64
	pending []*model.Block
	done    bool
}

var _ Source = (*Replay)(nil)

// NewReplay returns a replay source over the blocks of s.
func NewReplay(log logrus.FieldLogger, s store.Store, from, to uint64) *Replay {
	return &Replay{
		log:   log.WithField("component", "replay_source"),
		store: s,
		from:  from,
		to:    to,
	}
}

// Pull returns the next stored block as a block event.
func (r *Replay) Pull(ctx context.Context) (*Event, error) {
	for len(r.pending) == 0 {
		if r.done {
			return nil, nil
		}

		if err := r.load(ctx); err != nil {
			return nil, err
		}
	}

	b := r.pending[0]
	r.pending = r.pending[1:]

	if len(b.Payload) == 0 {
		return nil, fmt.Errorf("%w: block %x at height %d", ErrNoPayload, b.Hash, b.Height)
	}

	typ, err := cardano.BlockTypeOf(b.Era)
	if err != nil {
		return nil, fmt.Errorf("block %x: %w", b.Hash, err)
	}

	return &Event{
		Kind:      KindBlock,
		ID:        fmt.Sprintf("%d", b.ID),
		Slot:      b.Slot,
		Hash:      b.Hash,
		BlockType: typ,
		Payload:   b.Payload,
		Epoch:     b.Epoch,
		Height:    b.Height,
	}, nil
}

func (r *Replay) load(ctx context.Context) error {
	var blocks []*model.Block

	err := store.WithTransaction(ctx, r.store, func(tx store.Tx) error {
		var err error

		blocks, err = tx.BlocksFrom(ctx, r.from, r.lastID, replayBatch)

		return err
	})
	if err != nil {
		return fmt.Errorf("load stored blocks: %w", err)
	}

	if len(blocks) == 0 {
		r.done = true

		return nil
	}

	for _, b := range blocks {
		if r.to > 0 && b.Height > r.to {
			r.done = true

			break
		}

		if b.Era == genesis.EraName {
			continue
		}

		r.pending = append(r.pending, b)
	}

	r.lastID = blocks[len(blocks)-1].ID

	if len(blocks) < replayBatch {
		r.done = true
	}

	r.log.WithFields(logrus.Fields{
		"loaded":  len(blocks),
		"last_id": r.lastID,
	}).Debug("Loaded stored blocks")

	return nil
}

// Ack is a no-op. Replays do not keep a position.
func (r *Replay) Ack(context.Context, *Event) error { return nil }

func (r *Replay) Close() error { return nil }
