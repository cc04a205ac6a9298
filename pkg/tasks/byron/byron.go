// Package byron indexes Byron main blocks and epoch boundary blocks.
package byron

import (
	"context"
	"fmt"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/shared"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/slots"
)

const (
	BlockTaskName       = "ByronBlockTask"
	TransactionTaskName = "ByronTransactionTask"
	AddressTaskName     = "ByronAddressTask"
	OutputTaskName      = "ByronOutputTask"
	InputTaskName       = "ByronInputTask"
)

// Register adds the Byron tasks to r.
func Register(r *task.Registry) error {
	for _, t := range []task.Task{
		BlockTask{},
		TransactionTask{},
		AddressTask{},
		OutputTask{},
		InputTask{},
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

// BlockTask inserts the block row of a main or epoch boundary block.
type BlockTask struct{}

func (BlockTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:   BlockTaskName,
		Era:    task.EraByron,
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
		Era:          task.EraByron,
		Dependencies: []string{BlockTaskName},
		Reads:        []task.SlotRef{slots.Block},
		Writes:       []task.SlotRef{slots.Transactions},
	}
}

// ShouldRun skips epoch boundary blocks, which carry no transactions.
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

	rows := shared.TransactionRows(block.ID, tc.Block.Block.Transactions, tc.Config.IncludePayload())

	rows, err = shared.StoreTransactions(ctx, tc, rows)
	if err != nil {
		return nil, err
	}

	return task.Output(slots.Transactions, rows), nil
}

// AddressTask finds or inserts the bootstrap addresses of the outputs.
type AddressTask struct{}

func (AddressTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         AddressTaskName,
		Era:          task.EraByron,
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

// OutputTask inserts the outputs of every transaction.
type OutputTask struct{}

func (OutputTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         OutputTaskName,
		Era:          task.EraByron,
		Dependencies: []string{TransactionTaskName, AddressTaskName},
		Reads:        []task.SlotRef{slots.Transactions, slots.Addresses},
		Writes:       []task.SlotRef{slots.Outputs},
	}
}

// ShouldRun hands the output count to Execute.
func (OutputTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	n := block.OutputCount()
	if n == 0 {
		return task.Skip()
	}

	return task.RunWith(n)
}

func (OutputTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	txs, err := transactions(tc)
	if err != nil {
		return nil, err
	}

	addrs, err := task.Get(tc.View, slots.Addresses)
	if err != nil {
		return nil, err
	}

	rows, err := shared.OutputRows(tc.Block.Block.Transactions, txs, addrs, tc.Config.IncludePayload())
	if err != nil {
		return nil, err
	}

	if n, ok := task.PrerunData[int](tc); ok && n != len(rows) {
		return nil, fmt.Errorf("built %d outputs, expected %d", len(rows), n)
	}

	rows, err = shared.StoreOutputs(ctx, tc, rows)
	if err != nil {
		return nil, err
	}

	return task.Output(slots.Outputs, rows), nil
}

// InputTask resolves and inserts the spent outputs.
type InputTask struct{}

func (InputTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         InputTaskName,
		Era:          task.EraByron,
		Dependencies: []string{TransactionTaskName, OutputTaskName},
		Reads:        []task.SlotRef{slots.Transactions, slots.Outputs},
		Writes:       []task.SlotRef{slots.Inputs},
	}
}

func (InputTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	return task.When(block.Block != nil && shared.HasInputs(block.Block.Transactions))
}

func (InputTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	txs, err := transactions(tc)
	if err != nil {
		return nil, err
	}

	produced, err := task.Get(tc.View, slots.Outputs)
	if err != nil {
		return nil, err
	}

	rows, err := shared.InputRows(ctx, tc, tc.Block.Block.Transactions, txs, produced)
	if err != nil {
		return nil, err
	}

	rows, err = shared.StoreInputs(ctx, tc, rows)
	if err != nil {
		return nil, err
	}

	return task.Output(slots.Inputs, rows), nil
}
