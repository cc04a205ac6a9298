package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// RawBlock is an undecoded block as delivered by a source.
type RawBlock struct {
	Type    uint
	Payload []byte
	Epoch   uint64
}

type blockProcessor struct {
	base
	era     task.Era
	decoder cardano.Decoder
	accepts func(blockType uint) bool
}

func (p *blockProcessor) Process(ctx context.Context, raw RawBlock) (*task.BlockInfo, error) {
	if !p.accepts(raw.Type) {
		return nil, fmt.Errorf("%s processor cannot index block type %d", p.era, raw.Type)
	}

	decodeStart := time.Now()

	block, err := p.decoder.DecodeBlock(raw.Type, raw.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}

	p.opts.Phases.Add(PhaseDecode, time.Since(decodeStart))

	info := &task.BlockInfo{
		Era:    p.era,
		Block:  block,
		Epoch:  raw.Epoch,
		Slot:   block.Slot,
		Height: block.Height,
		Hash:   block.Hash,
	}

	return info, p.index(ctx, info)
}

// Byron indexes Byron main and epoch boundary blocks.
type Byron struct {
	blockProcessor
}

// NewByron returns the processor of Byron main and epoch boundary blocks.
func NewByron(log logrus.FieldLogger, s store.Store, decoder cardano.Decoder, runner Runner, opts Options) *Byron {
	return &Byron{blockProcessor{
		base:    newBase(log.WithField("component", "byron_processor"), s, runner, opts),
		era:     task.EraByron,
		decoder: decoder,
		accepts: cardano.IsByron,
	}}
}

// MultiEra indexes Shelley and later blocks.
type MultiEra struct {
	blockProcessor
}

// NewMultiEra returns the processor of Shelley through Conway blocks.
func NewMultiEra(log logrus.FieldLogger, s store.Store, decoder cardano.Decoder, runner Runner, opts Options) *MultiEra {
	return &MultiEra{blockProcessor{
		base:    newBase(log.WithField("component", "multiera_processor"), s, runner, opts),
		era:     task.EraMultiEra,
		decoder: decoder,
		accepts: func(t uint) bool {
			_, err := cardano.EraName(t)

			return err == nil && !cardano.IsByron(t)
		},
	}}
}
