// Package memory is an in-process implementation of store.Store. Transactions work on a copy of
// the committed state and only one transaction is open at a time.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
)

// Store keeps every table in memory. One transaction may be open at a time.
type Store struct {
	lock chan struct{}

	mu     sync.RWMutex
	state  *state
	writes atomic.Int64
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		lock:  make(chan struct{}, 1),
		state: newState(),
	}
}

// Begin waits until no other transaction is open.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	select {
	case s.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()

	return &Tx{store: s, state: snapshot}, nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Writes returns the number of rows inserted or deleted by committed transactions.
func (s *Store) Writes() int64 {
	return s.writes.Load()
}

type state struct {
	nextID map[model.Entity]int64

	blocks       []*model.Block
	txs          []*model.Transaction
	addresses    []*model.Address
	creds        []*model.StakeCredential
	relations    []*model.AddressCredentialRelation
	outputs      []*model.TransactionOutput
	inputs       []*model.TransactionInput
	assets       []*model.NativeAsset
	outputAssets []*model.OutputAsset
}

func newState() *state {
	return &state{nextID: make(map[model.Entity]int64)}
}

// clone copies the row slices. Stored rows are never mutated after insert so they are shared.
func (s *state) clone() *state {
	out := &state{
		nextID:       make(map[model.Entity]int64, len(s.nextID)),
		blocks:       append([]*model.Block(nil), s.blocks...),
		txs:          append([]*model.Transaction(nil), s.txs...),
		addresses:    append([]*model.Address(nil), s.addresses...),
		creds:        append([]*model.StakeCredential(nil), s.creds...),
		relations:    append([]*model.AddressCredentialRelation(nil), s.relations...),
		outputs:      append([]*model.TransactionOutput(nil), s.outputs...),
		inputs:       append([]*model.TransactionInput(nil), s.inputs...),
		assets:       append([]*model.NativeAsset(nil), s.assets...),
		outputAssets: append([]*model.OutputAsset(nil), s.outputAssets...),
	}

	for k, v := range s.nextID {
		out.nextID[k] = v
	}

	return out
}

func (s *state) id(e model.Entity) int64 {
	s.nextID[e]++

	return s.nextID[e]
}

// Tx is a memory store transaction.
type Tx struct {
	store *Store

	mu     sync.Mutex
	state  *state
	writes int64
	done   bool
}

var _ store.Tx = (*Tx)(nil)

// Commit makes the transaction's writes visible.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return store.ErrTxDone
	}

	t.done = true

	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()

	t.store.writes.Add(t.writes)
	<-t.store.lock

	return nil
}

// Rollback discards the transaction's writes.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return store.ErrTxDone
	}

	t.done = true
	<-t.store.lock

	return nil
}

// begin locks the transaction for one statement.
func (t *Tx) begin() error {
	t.mu.Lock()

	if t.done {
		t.mu.Unlock()

		return store.ErrTxDone
	}

	return nil
}

// InsertBlock stores block and sets its ID.
func (t *Tx) InsertBlock(_ context.Context, block *model.Block) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, b := range t.state.blocks {
		if bytes.Equal(b.Hash, block.Hash) {
			return fmt.Errorf("%w: block %x", store.ErrConflict, block.Hash)
		}
	}

	block.ID = t.state.id(model.EntityBlock)
	row := *block
	t.state.blocks = append(t.state.blocks, &row)
	t.writes++

	return nil
}

// FindBlockByHash returns store.ErrNotFound when no block has hash.
func (t *Tx) FindBlockByHash(_ context.Context, hash []byte) (*model.Block, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	for _, b := range t.state.blocks {
		if bytes.Equal(b.Hash, hash) {
			row := *b

			return &row, nil
		}
	}

	return nil, store.ErrNotFound
}

// LatestBlock returns the block with the highest ID.
func (t *Tx) LatestBlock(_ context.Context) (*model.Block, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	if len(t.state.blocks) == 0 {
		return nil, store.ErrNotFound
	}

	row := *t.state.blocks[len(t.state.blocks)-1]

	return &row, nil
}

func (t *Tx) BlocksFrom(_ context.Context, from uint64, afterID int64, limit int) ([]*model.Block, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	var out []*model.Block

	for _, b := range t.state.blocks {
		if b.Height < from || b.ID <= afterID {
			continue
		}

		row := *b
		out = append(out, &row)

		if limit > 0 && len(out) == limit {
			break
		}
	}

	return out, nil
}

func (t *Tx) DeleteBlocksAfter(_ context.Context, id int64) (int64, error) {
	if err := t.begin(); err != nil {
		return 0, err
	}
	defer t.mu.Unlock()

	s := t.state

	var deleted int64

	s.blocks = filter(s.blocks, func(b *model.Block) bool {
		if b.ID > id {
			deleted++

			return false
		}

		return true
	})

	txs := make(map[int64]struct{})
	s.txs = filter(s.txs, func(tx *model.Transaction) bool {
		if tx.BlockID > id {
			txs[tx.ID] = struct{}{}

			return false
		}

		return true
	})

	outputs := make(map[int64]struct{})
	s.outputs = filter(s.outputs, func(o *model.TransactionOutput) bool {
		if _, ok := txs[o.TxID]; ok {
			outputs[o.ID] = struct{}{}

			return false
		}

		return true
	})

	s.inputs = filter(s.inputs, func(in *model.TransactionInput) bool {
		_, byTx := txs[in.TxID]
		_, byUtxo := outputs[in.UtxoID]

		return !byTx && !byUtxo
	})

	addresses := make(map[int64]struct{})
	s.addresses = filter(s.addresses, func(a *model.Address) bool {
		if _, ok := txs[a.FirstTxID]; ok {
			addresses[a.ID] = struct{}{}

			return false
		}

		return true
	})

	creds := make(map[int64]struct{})
	s.creds = filter(s.creds, func(c *model.StakeCredential) bool {
		if _, ok := txs[c.FirstTxID]; ok {
			creds[c.ID] = struct{}{}

			return false
		}

		return true
	})

	s.relations = filter(s.relations, func(r *model.AddressCredentialRelation) bool {
		_, byAddr := addresses[r.AddressID]
		_, byCred := creds[r.CredentialID]

		return !byAddr && !byCred
	})

	assets := make(map[int64]struct{})
	s.assets = filter(s.assets, func(a *model.NativeAsset) bool {
		if _, ok := txs[a.FirstTxID]; ok {
			assets[a.ID] = struct{}{}

			return false
		}

		return true
	})

	s.outputAssets = filter(s.outputAssets, func(oa *model.OutputAsset) bool {
		_, byOutput := outputs[oa.OutputID]
		_, byAsset := assets[oa.AssetID]

		return !byOutput && !byAsset
	})

	if deleted > 0 {
		t.writes += deleted
	}

	return deleted, nil
}

// InsertTransactions stores txs and sets their IDs.
func (t *Tx) InsertTransactions(_ context.Context, txs []*model.Transaction) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, tx := range txs {
		for _, existing := range t.state.txs {
			if bytes.Equal(existing.Hash, tx.Hash) {
				return fmt.Errorf("%w: transaction %x", store.ErrConflict, tx.Hash)
			}
		}

		tx.ID = t.state.id(model.EntityTransaction)
		row := *tx
		t.state.txs = append(t.state.txs, &row)
		t.writes++
	}

	return nil
}

// FindTransactions returns the stored transactions among hashes.
func (t *Tx) FindTransactions(_ context.Context, hashes [][]byte) ([]*model.Transaction, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	want := byteSet(hashes)

	var out []*model.Transaction

	for _, tx := range t.state.txs {
		if _, ok := want[string(tx.Hash)]; ok {
			row := *tx
			out = append(out, &row)
		}
	}

	return out, nil
}

// InsertAddresses stores addrs and sets their IDs.
func (t *Tx) InsertAddresses(_ context.Context, addrs []*model.Address) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, a := range addrs {
		for _, existing := range t.state.addresses {
			if bytes.Equal(existing.Payload, a.Payload) {
				return fmt.Errorf("%w: address %x", store.ErrConflict, a.Payload)
			}
		}

		a.ID = t.state.id(model.EntityAddress)
		row := *a
		t.state.addresses = append(t.state.addresses, &row)
		t.writes++
	}

	return nil
}

// FindAddresses returns the stored addresses among payloads.
func (t *Tx) FindAddresses(_ context.Context, payloads [][]byte) ([]*model.Address, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	want := byteSet(payloads)

	var out []*model.Address

	for _, a := range t.state.addresses {
		if _, ok := want[string(a.Payload)]; ok {
			row := *a
			out = append(out, &row)
		}
	}

	return out, nil
}

// InsertStakeCredentials stores creds and sets their IDs.
func (t *Tx) InsertStakeCredentials(_ context.Context, creds []*model.StakeCredential) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, c := range creds {
		for _, existing := range t.state.creds {
			if bytes.Equal(existing.Credential, c.Credential) {
				return fmt.Errorf("%w: stake credential %x", store.ErrConflict, c.Credential)
			}
		}

		c.ID = t.state.id(model.EntityStakeCredential)
		row := *c
		t.state.creds = append(t.state.creds, &row)
		t.writes++
	}

	return nil
}

// FindStakeCredentials returns the stored credentials among creds.
func (t *Tx) FindStakeCredentials(_ context.Context, creds [][]byte) ([]*model.StakeCredential, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	want := byteSet(creds)

	var out []*model.StakeCredential

	for _, c := range t.state.creds {
		if _, ok := want[string(c.Credential)]; ok {
			row := *c
			out = append(out, &row)
		}
	}

	return out, nil
}

// InsertAddressCredentialRelations stores rels, ignoring pairs already linked.
func (t *Tx) InsertAddressCredentialRelations(_ context.Context, rels []*model.AddressCredentialRelation) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, r := range rels {
		exists := false

		for _, existing := range t.state.relations {
			if *existing == *r {
				exists = true

				break
			}
		}

		if exists {
			continue
		}

		row := *r
		t.state.relations = append(t.state.relations, &row)
		t.writes++
	}

	return nil
}

// InsertOutputs stores outputs and sets their IDs.
func (t *Tx) InsertOutputs(_ context.Context, outputs []*model.TransactionOutput) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, o := range outputs {
		for _, existing := range t.state.outputs {
			if existing.TxID == o.TxID && existing.OutputIndex == o.OutputIndex {
				return fmt.Errorf("%w: output %d#%d", store.ErrConflict, o.TxID, o.OutputIndex)
			}
		}

		o.ID = t.state.id(model.EntityOutput)
		row := *o
		t.state.outputs = append(t.state.outputs, &row)
		t.writes++
	}

	return nil
}

// FindOutputs returns the stored outputs among refs, with TxHash filled.
func (t *Tx) FindOutputs(_ context.Context, refs []model.OutputRef) ([]*model.TransactionOutput, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	txHashes := make(map[int64][]byte)
	for _, tx := range t.state.txs {
		txHashes[tx.ID] = tx.Hash
	}

	want := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		want[r.Key()] = struct{}{}
	}

	var out []*model.TransactionOutput

	for _, o := range t.state.outputs {
		row := *o
		row.TxHash = txHashes[o.TxID]

		if _, ok := want[row.Ref().Key()]; ok {
			out = append(out, &row)
		}
	}

	return out, nil
}

// InsertInputs stores inputs and sets their IDs.
func (t *Tx) InsertInputs(_ context.Context, inputs []*model.TransactionInput) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, in := range inputs {
		in.ID = t.state.id(model.EntityInput)
		row := *in
		t.state.inputs = append(t.state.inputs, &row)
		t.writes++
	}

	return nil
}

// FindInputs returns the inputs of the given transactions.
func (t *Tx) FindInputs(_ context.Context, txIDs []int64) ([]*model.TransactionInput, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	want := make(map[int64]struct{}, len(txIDs))
	for _, id := range txIDs {
		want[id] = struct{}{}
	}

	var out []*model.TransactionInput

	for _, in := range t.state.inputs {
		if _, ok := want[in.TxID]; ok {
			row := *in
			out = append(out, &row)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// InsertNativeAssets stores assets and sets their IDs.
func (t *Tx) InsertNativeAssets(_ context.Context, assets []*model.NativeAsset) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, a := range assets {
		for _, existing := range t.state.assets {
			if bytes.Equal(existing.PolicyID, a.PolicyID) && bytes.Equal(existing.AssetName, a.AssetName) {
				return fmt.Errorf("%w: asset %s", store.ErrConflict, a.AssetKey().Key())
			}
		}

		a.ID = t.state.id(model.EntityNativeAsset)
		row := *a
		t.state.assets = append(t.state.assets, &row)
		t.writes++
	}

	return nil
}

// FindNativeAssets returns the stored assets among keys.
func (t *Tx) FindNativeAssets(_ context.Context, keys []model.AssetKey) ([]*model.NativeAsset, error) {
	if err := t.begin(); err != nil {
		return nil, err
	}
	defer t.mu.Unlock()

	want := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		want[k.Key()] = struct{}{}
	}

	var out []*model.NativeAsset

	for _, a := range t.state.assets {
		if _, ok := want[a.AssetKey().Key()]; ok {
			row := *a
			out = append(out, &row)
		}
	}

	return out, nil
}

// InsertOutputAssets stores rows.
func (t *Tx) InsertOutputAssets(_ context.Context, rows []*model.OutputAsset) error {
	if err := t.begin(); err != nil {
		return err
	}
	defer t.mu.Unlock()

	for _, r := range rows {
		row := *r
		t.state.outputAssets = append(t.state.outputAssets, &row)
		t.writes++
	}

	return nil
}

// Count returns the number of rows of entity.
func (t *Tx) Count(_ context.Context, entity model.Entity) (int64, error) {
	if err := t.begin(); err != nil {
		return 0, err
	}
	defer t.mu.Unlock()

	s := t.state

	switch entity {
	case model.EntityBlock:
		return int64(len(s.blocks)), nil
	case model.EntityTransaction:
		return int64(len(s.txs)), nil
	case model.EntityAddress:
		return int64(len(s.addresses)), nil
	case model.EntityStakeCredential:
		return int64(len(s.creds)), nil
	case model.EntityAddressCredentialRelation:
		return int64(len(s.relations)), nil
	case model.EntityOutput:
		return int64(len(s.outputs)), nil
	case model.EntityInput:
		return int64(len(s.inputs)), nil
	case model.EntityNativeAsset:
		return int64(len(s.assets)), nil
	case model.EntityOutputAsset:
		return int64(len(s.outputAssets)), nil
	default:
		return 0, fmt.Errorf("unknown entity %q", entity)
	}
}

func filter[T any](rows []T, keep func(T) bool) []T {
	out := rows[:0:0]

	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}

	return out
}

func byteSet(values [][]byte) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[string(v)] = struct{}{}
	}

	return out
}
