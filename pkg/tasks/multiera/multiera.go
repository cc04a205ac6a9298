// Package multiera indexes Shelley, Allegra, Mary, Alonzo, Babbage and Conway blocks.
package multiera

import (
	"context"
	"fmt"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/shared"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/slots"
)

const (
	BlockTaskName                     = "MultieraBlockTask"
	TransactionTaskName               = "MultieraTransactionTask"
	AddressTaskName                   = "MultieraAddressTask"
	StakeCredentialTaskName           = "MultieraStakeCredentialTask"
	AddressCredentialRelationTaskName = "MultieraAddressCredentialRelationTask"
	NativeAssetTaskName               = "MultieraNativeAssetTask"
	OutputTaskName                    = "MultieraOutputTask"
	UsedInputTaskName                 = "MultieraUsedInputTask"
)

// Register adds the multi-era tasks to r.
func Register(r *task.Registry) error {
	for _, t := range []task.Task{
		BlockTask{},
		TransactionTask{},
		AddressTask{},
		StakeCredentialTask{},
		AddressCredentialRelationTask{},
		NativeAssetTask{},
		OutputTask{},
		UsedInputTask{},
	} {
		if err := r.Register(t); err != nil {
			return err
		}
	}

	return nil
}

func hasTransactions(block *task.BlockInfo) bool {
	return block.Block != nil && len(block.Block.Transactions) > 0
}

func transactions(tc *task.Context) ([]*model.Transaction, error) {
	rows, err := task.Get(tc.View, slots.Transactions)
	if err != nil {
		return nil, err
	}

	if len(rows) != len(tc.Block.Block.Transactions) {
		return nil, fmt.Errorf("transactions slot holds %d rows for %d transactions", len(rows), len(tc.Block.Block.Transactions))
	}

	return rows, nil
}

// BlockTask inserts the block row.
type BlockTask struct{}

func (BlockTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:   BlockTaskName,
		Era:    task.EraMultiEra,
		Writes: []task.SlotRef{slots.Block},
	}
}

func (BlockTask) ShouldRun(*task.BlockInfo, task.Config) task.Prerun {
	return task.Run()
}

func (BlockTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	row, err := shared.StoreBlock(ctx, tc, shared.BlockRow(tc.Block, tc.Block.Block.Era, tc.Config.IncludePayload()))
	if err != nil {
		return nil, err
	}

	return task.Output(slots.Block, row), nil
}

// TransactionTask inserts the block's transactions.
type TransactionTask struct{}

func (TransactionTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         TransactionTaskName,
		Era:          task.EraMultiEra,
		Dependencies: []string{BlockTaskName},
		Reads:        []task.SlotRef{slots.Block},
		Writes:       []task.SlotRef{slots.Transactions},
	}
}

func (TransactionTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	return task.When(hasTransactions(block))
}

func (TransactionTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	block, err := task.Get(tc.View, slots.Block)
	if err != nil {
		return nil, err
	}

	if block == nil {
		return nil, fmt.Errorf("%s needs the block row", TransactionTaskName)
	}

	rows, err := shared.StoreTransactions(ctx, tc,
		shared.TransactionRows(block.ID, tc.Block.Block.Transactions, tc.Config.IncludePayload()))
	if err != nil {
		return nil, err
	}

	return task.Output(slots.Transactions, rows), nil
}

// AddressTask finds or inserts every address used by outputs and collateral outputs.
type AddressTask struct{}

func (AddressTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         AddressTaskName,
		Era:          task.EraMultiEra,
		Dependencies: []string{TransactionTaskName},
		Reads:        []task.SlotRef{slots.Transactions},
		Writes:       []task.SlotRef{slots.Addresses},
	}
}

func (AddressTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	return task.When(block.OutputCount() > 0)
}

func (AddressTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	txs, err := transactions(tc)
	if err != nil {
		return nil, err
	}

	addrs, err := shared.EnsureAddresses(ctx, tc, shared.CollectAddresses(tc.Log, tc.Block.Block.Transactions, txs))
	if err != nil {
		return nil, err
	}

	return task.Output(slots.Addresses, addrs), nil
}
