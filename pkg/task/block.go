package task

import (
	"encoding/hex"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/genesis"
)

// BlockInfo is the read-only view of the block being indexed. Genesis processing sets Genesis
// and leaves Block nil; Byron and multi-era processing set Block.
type BlockInfo struct {
	Era     Era
	Block   *cardano.Block
	Genesis *genesis.File

	Epoch  uint64
	Slot   uint64
	Height uint64
	Hash   []byte
}

// TxCount returns the number of transactions carried by the block.
func (b *BlockInfo) TxCount() int {
	switch {
	case b.Block != nil:
		return len(b.Block.Transactions)
	case b.Genesis != nil:
		return len(b.Genesis.Balances)
	default:
		return 0
	}
}

// OutputCount returns the number of transaction outputs carried by the block.
func (b *BlockInfo) OutputCount() int {
	if b.Genesis != nil {
		return len(b.Genesis.Balances)
	}

	if b.Block == nil {
		return 0
	}

	n := 0
	for _, tx := range b.Block.Transactions {
		n += len(tx.Outputs)
	}

	return n
}

// HashHex returns the block hash hex encoded.
func (b *BlockInfo) HashHex() string {
	return hex.EncodeToString(b.Hash)
}
