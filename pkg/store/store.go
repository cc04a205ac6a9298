// Package store defines the relational storage contract used by indexing tasks.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("duplicate key")
	ErrTxDone   = errors.New("transaction already committed or rolled back")
)

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a single database transaction. Implementations must be safe for concurrent use by the
// tasks of one block; statements are executed one at a time.
type Tx interface {
	Commit() error
	Rollback() error

	InsertBlock(ctx context.Context, block *model.Block) error
	FindBlockByHash(ctx context.Context, hash []byte) (*model.Block, error)
	LatestBlock(ctx context.Context) (*model.Block, error)
	// BlocksFrom returns up to limit blocks with height >= from and id > afterID, ordered by id.
	// Heights repeat around Byron epoch boundary blocks, so callers page by id.
	BlocksFrom(ctx context.Context, from uint64, afterID int64, limit int) ([]*model.Block, error)
	// DeleteBlocksAfter deletes every block with an id greater than id, cascading to all rows
	// that reference them, and returns the number of deleted blocks.
	DeleteBlocksAfter(ctx context.Context, id int64) (int64, error)

	InsertTransactions(ctx context.Context, txs []*model.Transaction) error
	FindTransactions(ctx context.Context, hashes [][]byte) ([]*model.Transaction, error)

	InsertAddresses(ctx context.Context, addrs []*model.Address) error
	FindAddresses(ctx context.Context, payloads [][]byte) ([]*model.Address, error)

	InsertStakeCredentials(ctx context.Context, creds []*model.StakeCredential) error
	FindStakeCredentials(ctx context.Context, creds [][]byte) ([]*model.StakeCredential, error)

	InsertAddressCredentialRelations(ctx context.Context, rels []*model.AddressCredentialRelation) error

	InsertOutputs(ctx context.Context, outputs []*model.TransactionOutput) error
	FindOutputs(ctx context.Context, refs []model.OutputRef) ([]*model.TransactionOutput, error)

	InsertInputs(ctx context.Context, inputs []*model.TransactionInput) error
	FindInputs(ctx context.Context, txIDs []int64) ([]*model.TransactionInput, error)

	InsertNativeAssets(ctx context.Context, assets []*model.NativeAsset) error
	FindNativeAssets(ctx context.Context, keys []model.AssetKey) ([]*model.NativeAsset, error)
	InsertOutputAssets(ctx context.Context, rows []*model.OutputAsset) error

	Count(ctx context.Context, entity model.Entity) (int64, error)
}

// WithTransaction runs fn inside a transaction, committing on success and rolling back on error
// or panic.
func WithTransaction(ctx context.Context, s Store, fn func(tx Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()

			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
