// Package shared holds the find-or-insert logic the era task packages have in common. Every
// helper honours the readonly task config: rows are looked up instead of inserted and a missing
// row is an error.
package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

var (
	// ErrMissingRow is returned in readonly mode when a row the block needs is not stored.
	ErrMissingRow = errors.New("row not found in readonly mode")
	// ErrUnknownOutput is returned when an input spends an output that was never indexed.
	ErrUnknownOutput = errors.New("input spends unknown output")
)

func missingRows(entity model.Entity, n int) error {
	return fmt.Errorf("%w: %d %s row(s)", ErrMissingRow, n, entity)
}

// ordered collects values by key, keeping the first value and first-seen order.
type ordered[V any] struct {
	keys   []string
	values map[string]V
}

func newOrdered[V any]() *ordered[V] {
	return &ordered[V]{values: make(map[string]V)}
}

func (o *ordered[V]) add(key string, v V) {
	if _, ok := o.values[key]; ok {
		return
	}

	o.keys = append(o.keys, key)
	o.values[key] = v
}

func (o *ordered[V]) len() int { return len(o.keys) }

// ensure returns a row per wanted key. Rows already stored are reused; the others are built and
// inserted in first-seen order, or reported missing when readonly.
func ensure[V any, R any](
	wanted *ordered[V],
	found []R,
	keyOf func(R) string,
	build func(V) R,
	insert func([]R) error,
	readonly bool,
	entity model.Entity,
) (map[string]R, error) {
	out := make(map[string]R, wanted.len())
	for _, r := range found {
		out[keyOf(r)] = r
	}

	var missing []R

	for _, k := range wanted.keys {
		if _, ok := out[k]; !ok {
			missing = append(missing, build(wanted.values[k]))
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	if readonly {
		return nil, missingRows(entity, len(missing))
	}

	if err := insert(missing); err != nil {
		return nil, fmt.Errorf("insert %s: %w", entity, err)
	}

	for _, r := range missing {
		out[keyOf(r)] = r
	}

	return out, nil
}

// AddressUse is an address seen in a transaction.
type AddressUse struct {
	Payload []byte
	TxID    int64
}

// EnsureAddresses returns the rows of every used address keyed by hex payload. The first use
// decides FirstTxID of new rows.
func EnsureAddresses(ctx context.Context, tc *task.Context, uses []AddressUse) (map[string]*model.Address, error) {
	wanted := newOrdered[AddressUse]()
	payloads := make([][]byte, 0, len(uses))

	for _, u := range uses {
		key := model.AddressKey(u.Payload)
		if _, ok := wanted.values[key]; !ok {
			payloads = append(payloads, u.Payload)
		}

		wanted.add(key, u)
	}

	if wanted.len() == 0 {
		return map[string]*model.Address{}, nil
	}

	found, err := tc.Tx.FindAddresses(ctx, payloads)
	if err != nil {
		return nil, fmt.Errorf("find addresses: %w", err)
	}

	return ensure(wanted, found,
		(*model.Address).Key,
		func(u AddressUse) *model.Address {
			return &model.Address{Payload: u.Payload, FirstTxID: u.TxID}
		},
		func(rows []*model.Address) error { return tc.Tx.InsertAddresses(ctx, rows) },
		tc.Config.Readonly(),
		model.EntityAddress,
	)
}

// CredentialUse is a credential seen in a transaction.
type CredentialUse struct {
	Credential []byte
	TxID       int64
}

// EnsureStakeCredentials returns the rows of every used credential keyed by hex credential.
func EnsureStakeCredentials(ctx context.Context, tc *task.Context, uses []CredentialUse) (map[string]*model.StakeCredential, error) {
	wanted := newOrdered[CredentialUse]()
	creds := make([][]byte, 0, len(uses))

	for _, u := range uses {
		key := hex.EncodeToString(u.Credential)
		if _, ok := wanted.values[key]; !ok {
			creds = append(creds, u.Credential)
		}

		wanted.add(key, u)
	}

	if wanted.len() == 0 {
		return map[string]*model.StakeCredential{}, nil
	}

	found, err := tc.Tx.FindStakeCredentials(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("find stake credentials: %w", err)
	}

	return ensure(wanted, found,
		(*model.StakeCredential).Key,
		func(u CredentialUse) *model.StakeCredential {
			return &model.StakeCredential{Credential: u.Credential, FirstTxID: u.TxID}
		},
		func(rows []*model.StakeCredential) error { return tc.Tx.InsertStakeCredentials(ctx, rows) },
		tc.Config.Readonly(),
		model.EntityStakeCredential,
	)
}

// AssetUse is a native asset seen in a transaction output.
type AssetUse struct {
	Key  model.AssetKey
	TxID int64
}

// EnsureNativeAssets returns the rows of every used asset keyed by model.AssetKey.Key.
func EnsureNativeAssets(ctx context.Context, tc *task.Context, uses []AssetUse) (map[string]*model.NativeAsset, error) {
	wanted := newOrdered[AssetUse]()
	keys := make([]model.AssetKey, 0, len(uses))

	for _, u := range uses {
		if _, ok := wanted.values[u.Key.Key()]; !ok {
			keys = append(keys, u.Key)
		}

		wanted.add(u.Key.Key(), u)
	}

	if wanted.len() == 0 {
		return map[string]*model.NativeAsset{}, nil
	}

	found, err := tc.Tx.FindNativeAssets(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("find native assets: %w", err)
	}

	return ensure(wanted, found,
		func(a *model.NativeAsset) string { return a.AssetKey().Key() },
		func(u AssetUse) *model.NativeAsset {
			return &model.NativeAsset{PolicyID: u.Key.PolicyID, AssetName: u.Key.AssetName, FirstTxID: u.TxID}
		},
		func(rows []*model.NativeAsset) error { return tc.Tx.InsertNativeAssets(ctx, rows) },
		tc.Config.Readonly(),
		model.EntityNativeAsset,
	)
}
