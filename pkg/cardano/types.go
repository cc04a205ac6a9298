// Package cardano holds decoded chain data in the shape indexing tasks consume, independent of
// the CBOR decoding library.
package cardano

import "fmt"

// Block types as numbered by the node-to-client block fetch protocol.
const (
	BlockTypeByronEBB uint = 0
	BlockTypeByron    uint = 1
	BlockTypeShelley  uint = 2
	BlockTypeAllegra  uint = 3
	BlockTypeMary     uint = 4
	BlockTypeAlonzo   uint = 5
	BlockTypeBabbage  uint = 6
	BlockTypeConway   uint = 7
)

var blockEras = map[uint]string{
	BlockTypeByronEBB: "byron_ebb",
	BlockTypeByron:    "byron",
	BlockTypeShelley:  "shelley",
	BlockTypeAllegra:  "allegra",
	BlockTypeMary:     "mary",
	BlockTypeAlonzo:   "alonzo",
	BlockTypeBabbage:  "babbage",
	BlockTypeConway:   "conway",
}

// EraName returns the ledger era name of a block type.
func EraName(blockType uint) (string, error) {
	name, ok := blockEras[blockType]
	if !ok {
		return "", fmt.Errorf("unknown block type %d", blockType)
	}

	return name, nil
}

// BlockTypeOf returns the block type of a ledger era name as returned by EraName.
func BlockTypeOf(era string) (uint, error) {
	for t, name := range blockEras {
		if name == era {
			return t, nil
		}
	}

	return 0, fmt.Errorf("unknown era %q", era)
}

// IsByron reports whether the block type belongs to the Byron era.
func IsByron(blockType uint) bool {
	return blockType == BlockTypeByronEBB || blockType == BlockTypeByron
}

// TxType returns the transaction type matching a block type.
func TxType(blockType uint) uint {
	if IsByron(blockType) {
		return 0
	}

	return blockType - 1
}

type Block struct {
	Type         uint
	Era          string
	Hash         []byte
	PrevHash     []byte
	Slot         uint64
	Height       uint64
	Transactions []*Transaction
	Payload      []byte
}

// IsEpochBoundary reports whether the block is a Byron epoch boundary block.
func (b *Block) IsEpochBoundary() bool {
	return b.Type == BlockTypeByronEBB
}

type Transaction struct {
	Hash  []byte
	Index int
	// Valid is false for transactions whose scripts failed; their inputs and outputs are the
	// collateral ones.
	Valid   bool
	Inputs  []Input
	Outputs []Output
	Payload []byte
}

// Input references the output of an earlier transaction.
type Input struct {
	TxHash []byte
	Index  uint32
}

type Output struct {
	Index   int
	Address []byte
	Amount  uint64
	Assets  []Asset
	Payload []byte
}

// Asset is a native asset amount carried by an output.
type Asset struct {
	PolicyID []byte
	Name     []byte
	Amount   uint64
}

// Decoder turns raw CBOR into decoded chain data.
type Decoder interface {
	DecodeBlock(blockType uint, raw []byte) (*Block, error)
	DecodeTransaction(txType uint, raw []byte) (*Transaction, error)
}
