// Package genesis indexes the Byron genesis distribution as the first block of the chain.
package genesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/shared"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/slots"
)

const (
	BlockTaskName       = "GenesisBlockTask"
	TransactionTaskName = "GenesisTransactionTask"

	// EraName is stored in the era column of the genesis block.
	EraName = "genesis"
)

var errNoGenesis = errors.New("genesis file missing from block info")

// Register adds the genesis tasks to r.
func Register(r *task.Registry) error {
	for _, t := range []task.Task{BlockTask{}, TransactionTask{}} {
		if err := r.Register(t); err != nil {
			return err
		}
	}

	return nil
}

// BlockTask stores the genesis block row.
type BlockTask struct{}

func (BlockTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:   BlockTaskName,
		Era:    task.EraGenesis,
		Writes: []task.SlotRef{slots.Block},
	}
}

func (BlockTask) ShouldRun(*task.BlockInfo, task.Config) task.Prerun {
	return task.Run()
}

func (BlockTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	if tc.Block.Genesis == nil {
		return nil, errNoGenesis
	}

	row, err := shared.StoreBlock(ctx, tc, shared.BlockRow(tc.Block, EraName, false))
	if err != nil {
		return nil, err
	}

	return task.Output(slots.Block, row), nil
}

// TransactionTask turns every genesis balance into a transaction with a single output.
type TransactionTask struct{}

func (TransactionTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         TransactionTaskName,
		Era:          task.EraGenesis,
		Dependencies: []string{BlockTaskName},
		Reads:        []task.SlotRef{slots.Block},
		Writes:       []task.SlotRef{slots.Transactions, slots.Addresses, slots.Outputs},
	}
}

func (TransactionTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	return task.When(block.Genesis != nil && len(block.Genesis.Balances) > 0)
}

type genesisRows struct {
	txs     []*model.Transaction
	addrs   map[string]*model.Address
	outputs []*model.TransactionOutput
}

func (r genesisRows) Merge(w *task.Writer) error {
	return errors.Join(
		task.Put(w, slots.Transactions, r.txs),
		task.Put(w, slots.Addresses, r.addrs),
		task.Put(w, slots.Outputs, r.outputs),
	)
}

func (TransactionTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	block, err := task.Get(tc.View, slots.Block)
	if err != nil {
		return nil, err
	}

	if block == nil {
		return nil, fmt.Errorf("%s needs the block row", TransactionTaskName)
	}

	balances := tc.Block.Genesis.Balances

	txs := make([]*model.Transaction, len(balances))
	for i, b := range balances {
		txs[i] = &model.Transaction{
			Hash:    b.TxHash,
			BlockID: block.ID,
			TxIndex: i,
			IsValid: true,
		}
	}

	txs, err = shared.StoreTransactions(ctx, tc, txs)
	if err != nil {
		return nil, err
	}

	uses := make([]shared.AddressUse, len(balances))
	for i, b := range balances {
		uses[i] = shared.AddressUse{
			Payload: shared.OutputAddress(tc.Log, b.TxHash, b.Address),
			TxID:    txs[i].ID,
		}
	}

	addrs, err := shared.EnsureAddresses(ctx, tc, uses)
	if err != nil {
		return nil, err
	}

	outputs := make([]*model.TransactionOutput, len(balances))
	for i, b := range balances {
		outputs[i] = &model.TransactionOutput{
			TxID:        txs[i].ID,
			AddressID:   addrs[model.AddressKey(uses[i].Payload)].ID,
			OutputIndex: 0,
			Amount:      b.Amount,
			TxHash:      b.TxHash,
		}
	}

	outputs, err = shared.StoreOutputs(ctx, tc, outputs)
	if err != nil {
		return nil, err
	}

	tc.Log.WithField("balances", len(balances)).Info("Indexed genesis distribution")

	return genesisRows{txs: txs, addrs: addrs, outputs: outputs}, nil
}
