package multiera

import (
	"context"
	"fmt"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/shared"
	"github.com/ethpandaops/cardano-indexer/pkg/tasks/slots"
)

func hasAssets(block *task.BlockInfo) bool {
	if block.Block == nil {
		return false
	}

	for _, tx := range block.Block.Transactions {
		for _, o := range tx.Outputs {
			if len(o.Assets) > 0 {
				return true
			}
		}
	}

	return false
}

// NativeAssetTask stores the native assets carried by the block's outputs.
type NativeAssetTask struct{}

func (NativeAssetTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         NativeAssetTaskName,
		Era:          task.EraMultiEra,
		Dependencies: []string{TransactionTaskName},
		Reads:        []task.SlotRef{slots.Transactions},
		Writes:       []task.SlotRef{slots.NativeAssets},
	}
}

func (NativeAssetTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	return task.When(hasAssets(block))
}

func (NativeAssetTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
	txs, err := transactions(tc)
	if err != nil {
		return nil, err
	}

	var uses []shared.AssetUse

	for i, tx := range tc.Block.Block.Transactions {
		for _, o := range tx.Outputs {
			for _, a := range o.Assets {
				uses = append(uses, shared.AssetUse{
					Key:  model.AssetKey{PolicyID: a.PolicyID, AssetName: a.Name},
					TxID: txs[i].ID,
				})
			}
		}
	}

	assets, err := shared.EnsureNativeAssets(ctx, tc, uses)
	if err != nil {
		return nil, err
	}

	return task.Output(slots.NativeAssets, assets), nil
}

// OutputTask stores the block's outputs and the asset amounts they carry.
type OutputTask struct{}

func (OutputTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         OutputTaskName,
		Era:          task.EraMultiEra,
		Dependencies: []string{TransactionTaskName, AddressTaskName, NativeAssetTaskName},
		Reads:        []task.SlotRef{slots.Transactions, slots.Addresses, slots.NativeAssets},
		Writes:       []task.SlotRef{slots.Outputs},
	}
}

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

	assets, err := task.Get(tc.View, slots.NativeAssets)
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

	// The asset slot is absent when no output carries an asset or the asset task is not planned.
	if !tc.Config.Readonly() && tc.View.Has(slots.NativeAssets) {
		if err := insertOutputAssets(ctx, tc, rows, assets); err != nil {
			return nil, err
		}
	}

	return task.Output(slots.Outputs, rows), nil
}

// insertOutputAssets relies on rows following transaction then output order.
func insertOutputAssets(ctx context.Context, tc *task.Context, rows []*model.TransactionOutput, assets map[string]*model.NativeAsset) error {
	var out []*model.OutputAsset

	i := 0

	for _, tx := range tc.Block.Block.Transactions {
		for _, o := range tx.Outputs {
			row := rows[i]
			i++

			for _, a := range o.Assets {
				key := model.AssetKey{PolicyID: a.PolicyID, AssetName: a.Name}

				asset, ok := assets[key.Key()]
				if !ok {
					return fmt.Errorf("asset %s of output %x#%d was not indexed", key.Key(), tx.Hash, o.Index)
				}

				out = append(out, &model.OutputAsset{OutputID: row.ID, AssetID: asset.ID, Amount: a.Amount})
			}
		}
	}

	if len(out) == 0 {
		return nil
	}

	if err := tc.Tx.InsertOutputAssets(ctx, out); err != nil {
		return fmt.Errorf("insert output assets: %w", err)
	}

	return nil
}

// UsedInputTask stores the outputs spent by the block's transactions.
type UsedInputTask struct{}

func (UsedInputTask) Descriptor() task.Descriptor {
	return task.Descriptor{
		Name:         UsedInputTaskName,
		Era:          task.EraMultiEra,
		Dependencies: []string{TransactionTaskName, OutputTaskName},
		Reads:        []task.SlotRef{slots.Transactions, slots.Outputs},
		Writes:       []task.SlotRef{slots.Inputs},
	}
}

func (UsedInputTask) ShouldRun(block *task.BlockInfo, _ task.Config) task.Prerun {
	return task.When(block.Block != nil && shared.HasInputs(block.Block.Transactions))
}

func (UsedInputTask) Execute(ctx context.Context, tc *task.Context) (task.Result, error) {
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
