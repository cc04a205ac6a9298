// Package model holds the relational rows written by indexing tasks.
package model

import (
	"encoding/hex"
	"strconv"
)

// Entity identifies a table.
type Entity string

const (
	EntityBlock                     Entity = "block"
	EntityTransaction               Entity = "tx"
	EntityAddress                   Entity = "address"
	EntityStakeCredential           Entity = "stake_credential"
	EntityAddressCredentialRelation Entity = "address_credential"
	EntityOutput                    Entity = "tx_output"
	EntityInput                     Entity = "tx_input"
	EntityNativeAsset               Entity = "native_asset"
	EntityOutputAsset               Entity = "output_asset"
)

// Entities lists every table in dependency order.
func Entities() []Entity {
	return []Entity{
		EntityBlock,
		EntityTransaction,
		EntityAddress,
		EntityStakeCredential,
		EntityAddressCredentialRelation,
		EntityOutput,
		EntityInput,
		EntityNativeAsset,
		EntityOutputAsset,
	}
}

// Block is one stored block. Payload is kept only with include_payload.
type Block struct {
	ID      int64
	Hash    []byte
	Era     string
	Height  uint64
	Epoch   uint64
	Slot    uint64
	TxCount int
	Payload []byte
}

// Transaction is a transaction of a stored block, at TxIndex within it.
type Transaction struct {
	ID      int64
	Hash    []byte
	BlockID int64
	TxIndex int
	IsValid bool
	Payload []byte
}

// Address is a unique address payload, first seen in FirstTxID.
type Address struct {
	ID        int64
	Payload   []byte
	FirstTxID int64
}

// Key returns the hex form of the address payload, used as a map key.
func (a *Address) Key() string { return AddressKey(a.Payload) }

// AddressKey returns the map key of an address payload.
func AddressKey(payload []byte) string { return hex.EncodeToString(payload) }

// StakeCredential is a payment or staking credential: one kind byte followed by the hash.
type StakeCredential struct {
	ID         int64
	Credential []byte
	FirstTxID  int64
}

// Key returns the hex form of the credential, used as a map key.
func (c *StakeCredential) Key() string { return hex.EncodeToString(c.Credential) }

// Relation describes how a credential appears in an address.
type Relation int

const (
	RelationPayment Relation = 1
	RelationStake   Relation = 2
)

// AddressCredentialRelation links an address to one of its credentials.
type AddressCredentialRelation struct {
	AddressID    int64
	CredentialID int64
	Relation     Relation
}

// TransactionOutput is an output produced by a transaction.
type TransactionOutput struct {
	ID          int64
	TxID        int64
	AddressID   int64
	OutputIndex int
	Amount      uint64
	Payload     []byte

	// TxHash is the hash of the producing transaction. It is not a column; stores fill it on
	// lookups and tasks fill it on inserts.
	TxHash []byte
}

// Ref returns the output's reference.
func (o *TransactionOutput) Ref() OutputRef {
	return OutputRef{TxHash: o.TxHash, Index: o.OutputIndex}
}

// OutputRef points at an output by producing transaction hash and index.
type OutputRef struct {
	TxHash []byte
	Index  int
}

// Key returns "<tx hash hex>#<index>".
func (r OutputRef) Key() string {
	return hex.EncodeToString(r.TxHash) + "#" + strconv.Itoa(r.Index)
}

// TransactionInput records that TxID spends the output UtxoID.
type TransactionInput struct {
	ID         int64
	TxID       int64
	UtxoID     int64
	InputIndex int
}

// NativeAsset is a unique policy ID and asset name pair.
type NativeAsset struct {
	ID        int64
	PolicyID  []byte
	AssetName []byte
	FirstTxID int64
}

// AssetKey returns the policy ID and asset name of the asset.
func (a *NativeAsset) AssetKey() AssetKey {
	return AssetKey{PolicyID: a.PolicyID, AssetName: a.AssetName}
}

// AssetKey identifies a native asset.
type AssetKey struct {
	PolicyID  []byte
	AssetName []byte
}

// Key returns "<policy hex>.<name hex>".
func (k AssetKey) Key() string {
	return hex.EncodeToString(k.PolicyID) + "." + hex.EncodeToString(k.AssetName)
}

// OutputAsset is the amount of a native asset carried by an output.
type OutputAsset struct {
	OutputID int64
	AssetID  int64
	Amount   uint64
}
