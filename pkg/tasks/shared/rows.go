package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// BlockRow builds the block row for the block being indexed.
func BlockRow(info *task.BlockInfo, era string, includePayload bool) *model.Block {
	row := &model.Block{
		Hash:    info.Hash,
		Era:     era,
		Height:  info.Height,
		Epoch:   info.Epoch,
		Slot:    info.Slot,
		TxCount: info.TxCount(),
	}

	if includePayload && info.Block != nil {
		row.Payload = info.Block.Payload
	}

	return row
}

// StoreBlock inserts the block row, or looks it up when readonly.
func StoreBlock(ctx context.Context, tc *task.Context, row *model.Block) (*model.Block, error) {
	if tc.Config.Readonly() {
		found, err := tc.Tx.FindBlockByHash(ctx, row.Hash)
		if errors.Is(err, store.ErrNotFound) {
			return nil, missingRows(model.EntityBlock, 1)
		}

		if err != nil {
			return nil, fmt.Errorf("find block: %w", err)
		}

		return found, nil
	}

	if err := tc.Tx.InsertBlock(ctx, row); err != nil {
		return nil, fmt.Errorf("insert block: %w", err)
	}

	return row, nil
}

// TransactionRows builds the rows of a decoded block's transactions.
func TransactionRows(blockID int64, txs []*cardano.Transaction, includePayload bool) []*model.Transaction {
	rows := make([]*model.Transaction, 0, len(txs))

	for i, tx := range txs {
		row := &model.Transaction{
			Hash:    tx.Hash,
			BlockID: blockID,
			TxIndex: i,
			IsValid: tx.Valid,
		}

		if includePayload {
			row.Payload = tx.Payload
		}

		rows = append(rows, row)
	}

	return rows
}

// StoreTransactions inserts the rows, or resolves them by hash when readonly. The result keeps
// the order of rows.
func StoreTransactions(ctx context.Context, tc *task.Context, rows []*model.Transaction) ([]*model.Transaction, error) {
	if len(rows) == 0 {
		return rows, nil
	}

	if !tc.Config.Readonly() {
		if err := tc.Tx.InsertTransactions(ctx, rows); err != nil {
			return nil, fmt.Errorf("insert transactions: %w", err)
		}

		return rows, nil
	}

	hashes := make([][]byte, len(rows))
	for i, r := range rows {
		hashes[i] = r.Hash
	}

	found, err := tc.Tx.FindTransactions(ctx, hashes)
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}

	byHash := make(map[string]*model.Transaction, len(found))
	for _, f := range found {
		byHash[string(f.Hash)] = f
	}

	out := make([]*model.Transaction, len(rows))

	for i, r := range rows {
		f, ok := byHash[string(r.Hash)]
		if !ok {
			return nil, missingRows(model.EntityTransaction, len(rows)-len(found))
		}

		out[i] = f
	}

	return out, nil
}

// OutputAddress returns the address payload stored for an output. Oversized legacy payloads are
// truncated; log is told when that happens, or nil to stay quiet.
func OutputAddress(log logrus.FieldLogger, txHash []byte, raw []byte) []byte {
	payload, truncated := cardano.TruncateAddress(raw)
	if truncated && log != nil {
		log.WithFields(logrus.Fields{
			"tx":     hex.EncodeToString(txHash),
			"length": len(raw),
		}).Warn("Truncating oversized address payload")
	}

	return payload
}

// CollectAddresses lists the output addresses of txs in block order.
func CollectAddresses(log logrus.FieldLogger, txs []*cardano.Transaction, rows []*model.Transaction) []AddressUse {
	var uses []AddressUse

	for i, tx := range txs {
		for _, o := range tx.Outputs {
			uses = append(uses, AddressUse{
				Payload: OutputAddress(log, tx.Hash, o.Address),
				TxID:    rows[i].ID,
			})
		}
	}

	return uses
}

// OutputRows builds the output rows of txs. Every output address must be in addrs.
func OutputRows(txs []*cardano.Transaction, rows []*model.Transaction, addrs map[string]*model.Address, includePayload bool) ([]*model.TransactionOutput, error) {
	var out []*model.TransactionOutput

	for i, tx := range txs {
		for _, o := range tx.Outputs {
			payload := OutputAddress(nil, tx.Hash, o.Address)

			addr, ok := addrs[model.AddressKey(payload)]
			if !ok {
				return nil, fmt.Errorf("address of output %x#%d was not indexed", tx.Hash, o.Index)
			}

			row := &model.TransactionOutput{
				TxID:        rows[i].ID,
				AddressID:   addr.ID,
				OutputIndex: o.Index,
				Amount:      o.Amount,
				TxHash:      rows[i].Hash,
			}

			if includePayload {
				row.Payload = o.Payload
			}

			out = append(out, row)
		}
	}

	return out, nil
}

// StoreOutputs inserts the rows, or resolves them by reference when readonly.
func StoreOutputs(ctx context.Context, tc *task.Context, rows []*model.TransactionOutput) ([]*model.TransactionOutput, error) {
	if len(rows) == 0 {
		return rows, nil
	}

	if !tc.Config.Readonly() {
		if err := tc.Tx.InsertOutputs(ctx, rows); err != nil {
			return nil, fmt.Errorf("insert outputs: %w", err)
		}

		return rows, nil
	}

	refs := make([]model.OutputRef, len(rows))
	for i, r := range rows {
		refs[i] = r.Ref()
	}

	found, err := tc.Tx.FindOutputs(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("find outputs: %w", err)
	}

	byRef := make(map[string]*model.TransactionOutput, len(found))
	for _, f := range found {
		byRef[f.Ref().Key()] = f
	}

	out := make([]*model.TransactionOutput, len(rows))

	for i, r := range rows {
		f, ok := byRef[r.Ref().Key()]
		if !ok {
			return nil, missingRows(model.EntityOutput, len(rows)-len(found))
		}

		out[i] = f
	}

	return out, nil
}

// InputRows resolves the outputs spent by txs. Outputs produced earlier in the same block come
// from produced; the rest are looked up.
func InputRows(ctx context.Context, tc *task.Context, txs []*cardano.Transaction, rows []*model.Transaction, produced []*model.TransactionOutput) ([]*model.TransactionInput, error) {
	known := make(map[string]int64, len(produced))
	for _, o := range produced {
		known[o.Ref().Key()] = o.ID
	}

	var lookup []model.OutputRef

	seen := make(map[string]struct{})

	for _, tx := range txs {
		for _, in := range tx.Inputs {
			ref := model.OutputRef{TxHash: in.TxHash, Index: int(in.Index)}
			key := ref.Key()

			if _, ok := known[key]; ok {
				continue
			}

			if _, ok := seen[key]; ok {
				continue
			}

			seen[key] = struct{}{}
			lookup = append(lookup, ref)
		}
	}

	if len(lookup) > 0 {
		found, err := tc.Tx.FindOutputs(ctx, lookup)
		if err != nil {
			return nil, fmt.Errorf("find spent outputs: %w", err)
		}

		for _, o := range found {
			known[o.Ref().Key()] = o.ID
		}
	}

	var out []*model.TransactionInput

	for i, tx := range txs {
		for j, in := range tx.Inputs {
			ref := model.OutputRef{TxHash: in.TxHash, Index: int(in.Index)}

			utxoID, ok := known[ref.Key()]
			if !ok {
				return nil, fmt.Errorf("%w: %s spent by %x", ErrUnknownOutput, ref.Key(), tx.Hash)
			}

			out = append(out, &model.TransactionInput{
				TxID:       rows[i].ID,
				UtxoID:     utxoID,
				InputIndex: j,
			})
		}
	}

	return out, nil
}

// StoreInputs inserts the rows, or resolves them by transaction and index when readonly.
func StoreInputs(ctx context.Context, tc *task.Context, rows []*model.TransactionInput) ([]*model.TransactionInput, error) {
	if len(rows) == 0 {
		return rows, nil
	}

	if !tc.Config.Readonly() {
		if err := tc.Tx.InsertInputs(ctx, rows); err != nil {
			return nil, fmt.Errorf("insert inputs: %w", err)
		}

		return rows, nil
	}

	var txIDs []int64

	for _, r := range rows {
		if len(txIDs) == 0 || txIDs[len(txIDs)-1] != r.TxID {
			txIDs = append(txIDs, r.TxID)
		}
	}

	found, err := tc.Tx.FindInputs(ctx, txIDs)
	if err != nil {
		return nil, fmt.Errorf("find inputs: %w", err)
	}

	type inputKey struct {
		tx    int64
		index int
	}

	byKey := make(map[inputKey]*model.TransactionInput, len(found))
	for _, f := range found {
		byKey[inputKey{f.TxID, f.InputIndex}] = f
	}

	out := make([]*model.TransactionInput, len(rows))

	for i, r := range rows {
		f, ok := byKey[inputKey{r.TxID, r.InputIndex}]
		if !ok || f.UtxoID != r.UtxoID {
			return nil, missingRows(model.EntityInput, 1)
		}

		out[i] = f
	}

	return out, nil
}

// HasInputs reports whether any transaction spends an output.
func HasInputs(txs []*cardano.Transaction) bool {
	for _, tx := range txs {
		if len(tx.Inputs) > 0 {
			return true
		}
	}

	return false
}
