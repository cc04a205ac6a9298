package processor

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/genesis"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// Genesis indexes the genesis distribution as block zero.
type Genesis struct {
	base
}

// NewGenesis returns the processor of the genesis distribution.
func NewGenesis(log logrus.FieldLogger, s store.Store, runner Runner, opts Options) *Genesis {
	return &Genesis{base: newBase(log.WithField("component", "genesis_processor"), s, runner, opts)}
}

// Process indexes the genesis file as the first block.
func (p *Genesis) Process(ctx context.Context, file *genesis.File) (*task.BlockInfo, error) {
	if file == nil {
		return nil, errors.New("genesis file is nil")
	}

	info := &task.BlockInfo{
		Era:     task.EraGenesis,
		Genesis: file,
		Hash:    file.Hash,
	}

	p.log.WithField("balances", len(file.Balances)).Info("Indexing genesis block")

	return info, p.index(ctx, info)
}
