// Package slots declares every blackboard slot used by the indexing tasks. Slot names are global:
// each maps to a single type across all eras.
package slots

import (
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

var (
	// Block is the stored row of the block being indexed.
	Block = task.NewSlot[*model.Block]("block")
	// Transactions holds the block's transactions in block order.
	Transactions = task.NewSlot[[]*model.Transaction]("transactions")
	// Addresses maps hex address payload to its row.
	Addresses = task.NewSlot[map[string]*model.Address]("addresses")
	// StakeCredentials maps hex credential bytes to its row.
	StakeCredentials = task.NewSlot[map[string]*model.StakeCredential]("stake_credentials")
	// Outputs holds the block's outputs in transaction then output order.
	Outputs = task.NewSlot[[]*model.TransactionOutput]("outputs")
	Inputs  = task.NewSlot[[]*model.TransactionInput]("inputs")
	// NativeAssets maps model.AssetKey.Key() to its row.
	NativeAssets = task.NewSlot[map[string]*model.NativeAsset]("native_assets")
)
