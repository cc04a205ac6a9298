package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/lib/pq"

	"github.com/ethpandaops/cardano-indexer/pkg/model"
	"github.com/ethpandaops/cardano-indexer/pkg/store"
)

// maxParams is the PostgreSQL limit on bind parameters per statement.
const maxParams = 65535

// Tx serialises statements: tasks of one block share it from several goroutines while the
// underlying connection handles one statement at a time.
type Tx struct {
	mu sync.Mutex
	tx *sql.Tx
}

var _ store.Tx = (*Tx)(nil)

// Commit makes the transaction's writes visible.
func (t *Tx) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return mapError("commit", t.tx.Commit())
}

// Rollback discards the transaction's writes.
func (t *Tx) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return mapError("rollback", t.tx.Rollback())
}

const blockColumns = "id, hash, era, height, epoch, slot, tx_count, payload"

func scanBlock(row interface{ Scan(...any) error }) (*model.Block, error) {
	b := &model.Block{}

	err := row.Scan(&b.ID, &b.Hash, &b.Era, &b.Height, &b.Epoch, &b.Slot, &b.TxCount, &b.Payload)
	if err != nil {
		return nil, err
	}

	return b, nil
}

// InsertBlock stores block and sets its ID.
func (t *Tx) InsertBlock(ctx context.Context, block *model.Block) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.tx.QueryRowContext(ctx,
		`INSERT INTO block (hash, era, height, epoch, slot, tx_count, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		block.Hash, block.Era, int64(block.Height), int64(block.Epoch), int64(block.Slot), block.TxCount, block.Payload,
	).Scan(&block.ID)

	return mapError("insert block", err)
}

// FindBlockByHash returns store.ErrNotFound when no block has hash.
func (t *Tx) FindBlockByHash(ctx context.Context, hash []byte) (*model.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, err := scanBlock(t.tx.QueryRowContext(ctx, "SELECT "+blockColumns+" FROM block WHERE hash = $1", hash))
	if err != nil {
		return nil, mapError("find block", err)
	}

	return b, nil
}

// LatestBlock returns the block with the highest ID.
func (t *Tx) LatestBlock(ctx context.Context) (*model.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, err := scanBlock(t.tx.QueryRowContext(ctx, "SELECT "+blockColumns+" FROM block ORDER BY id DESC LIMIT 1"))
	if err != nil {
		return nil, mapError("latest block", err)
	}

	return b, nil
}

func (t *Tx) BlocksFrom(ctx context.Context, from uint64, afterID int64, limit int) ([]*model.Block, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}

	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+blockColumns+" FROM block WHERE height >= $1 AND id > $2 ORDER BY id LIMIT $3",
		int64(from), afterID, lim)
	if err != nil {
		return nil, mapError("blocks from", err)
	}
	defer rows.Close()

	var out []*model.Block

	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, mapError("scan block", err)
		}

		out = append(out, b)
	}

	return out, mapError("blocks from", rows.Err())
}

func (t *Tx) DeleteBlocksAfter(ctx context.Context, id int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	res, err := t.tx.ExecContext(ctx, "DELETE FROM block WHERE id > $1", id)
	if err != nil {
		return 0, mapError("delete blocks", err)
	}

	n, err := res.RowsAffected()

	return n, mapError("delete blocks", err)
}

// InsertTransactions stores txs and sets their IDs.
func (t *Tx) InsertTransactions(ctx context.Context, txs []*model.Transaction) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "tx", []string{"hash", "block_id", "tx_index", "is_valid", "payload"}, "", len(txs),
		func(i int) []any {
			tx := txs[i]

			return []any{tx.Hash, tx.BlockID, tx.TxIndex, tx.IsValid, tx.Payload}
		},
		func(i int, id int64) { txs[i].ID = id },
	)
}

// FindTransactions returns the stored transactions among hashes.
func (t *Tx) FindTransactions(ctx context.Context, hashes [][]byte) ([]*model.Transaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*model.Transaction

	err := t.query(ctx, "find transactions",
		"SELECT id, hash, block_id, tx_index, is_valid, payload FROM tx WHERE hash = ANY($1)",
		[]any{pq.ByteaArray(hashes)},
		func(rows *sql.Rows) error {
			tx := &model.Transaction{}
			if err := rows.Scan(&tx.ID, &tx.Hash, &tx.BlockID, &tx.TxIndex, &tx.IsValid, &tx.Payload); err != nil {
				return err
			}

			out = append(out, tx)

			return nil
		})

	return out, err
}

// InsertAddresses stores addrs and sets their IDs.
func (t *Tx) InsertAddresses(ctx context.Context, addrs []*model.Address) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "address", []string{"payload", "first_tx"}, "", len(addrs),
		func(i int) []any { return []any{addrs[i].Payload, addrs[i].FirstTxID} },
		func(i int, id int64) { addrs[i].ID = id },
	)
}

// FindAddresses returns the stored addresses among payloads.
func (t *Tx) FindAddresses(ctx context.Context, payloads [][]byte) ([]*model.Address, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*model.Address

	err := t.query(ctx, "find addresses",
		"SELECT id, payload, first_tx FROM address WHERE payload = ANY($1)",
		[]any{pq.ByteaArray(payloads)},
		func(rows *sql.Rows) error {
			a := &model.Address{}
			if err := rows.Scan(&a.ID, &a.Payload, &a.FirstTxID); err != nil {
				return err
			}

			out = append(out, a)

			return nil
		})

	return out, err
}

// InsertStakeCredentials stores creds and sets their IDs.
func (t *Tx) InsertStakeCredentials(ctx context.Context, creds []*model.StakeCredential) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "stake_credential", []string{"credential", "first_tx"}, "", len(creds),
		func(i int) []any { return []any{creds[i].Credential, creds[i].FirstTxID} },
		func(i int, id int64) { creds[i].ID = id },
	)
}

// FindStakeCredentials returns the stored credentials among creds.
func (t *Tx) FindStakeCredentials(ctx context.Context, creds [][]byte) ([]*model.StakeCredential, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*model.StakeCredential

	err := t.query(ctx, "find stake credentials",
		"SELECT id, credential, first_tx FROM stake_credential WHERE credential = ANY($1)",
		[]any{pq.ByteaArray(creds)},
		func(rows *sql.Rows) error {
			c := &model.StakeCredential{}
			if err := rows.Scan(&c.ID, &c.Credential, &c.FirstTxID); err != nil {
				return err
			}

			out = append(out, c)

			return nil
		})

	return out, err
}

// InsertAddressCredentialRelations stores rels, ignoring pairs already linked.
func (t *Tx) InsertAddressCredentialRelations(ctx context.Context, rels []*model.AddressCredentialRelation) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "address_credential", []string{"address_id", "credential_id", "relation"},
		" ON CONFLICT DO NOTHING", len(rels),
		func(i int) []any { return []any{rels[i].AddressID, rels[i].CredentialID, int(rels[i].Relation)} },
		nil,
	)
}

// InsertOutputs stores outputs and sets their IDs.
func (t *Tx) InsertOutputs(ctx context.Context, outputs []*model.TransactionOutput) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "tx_output", []string{"tx_id", "address_id", "output_index", "amount", "payload"}, "", len(outputs),
		func(i int) []any {
			o := outputs[i]

			return []any{o.TxID, o.AddressID, o.OutputIndex, strconv.FormatUint(o.Amount, 10), o.Payload}
		},
		func(i int, id int64) { outputs[i].ID = id },
	)
}

// FindOutputs returns the stored outputs among refs, with TxHash filled.
func (t *Tx) FindOutputs(ctx context.Context, refs []model.OutputRef) ([]*model.TransactionOutput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hashes := make(pq.ByteaArray, len(refs))
	indexes := make(pq.Int64Array, len(refs))

	for i, r := range refs {
		hashes[i] = r.TxHash
		indexes[i] = int64(r.Index)
	}

	var out []*model.TransactionOutput

	err := t.query(ctx, "find outputs",
		`SELECT o.id, o.tx_id, o.address_id, o.output_index, o.amount, o.payload, t.hash
		 FROM tx_output o
		 JOIN tx t ON t.id = o.tx_id
		 JOIN unnest($1::bytea[], $2::int[]) AS r(hash, idx) ON t.hash = r.hash AND o.output_index = r.idx`,
		[]any{hashes, indexes},
		func(rows *sql.Rows) error {
			o := &model.TransactionOutput{}

			var amount string
			if err := rows.Scan(&o.ID, &o.TxID, &o.AddressID, &o.OutputIndex, &amount, &o.Payload, &o.TxHash); err != nil {
				return err
			}

			v, err := strconv.ParseUint(amount, 10, 64)
			if err != nil {
				return fmt.Errorf("parse amount %q: %w", amount, err)
			}

			o.Amount = v
			out = append(out, o)

			return nil
		})

	return out, err
}

// InsertInputs stores inputs and sets their IDs.
func (t *Tx) InsertInputs(ctx context.Context, inputs []*model.TransactionInput) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "tx_input", []string{"tx_id", "utxo_id", "input_index"}, "", len(inputs),
		func(i int) []any { return []any{inputs[i].TxID, inputs[i].UtxoID, inputs[i].InputIndex} },
		func(i int, id int64) { inputs[i].ID = id },
	)
}

// FindInputs returns the inputs of the given transactions.
func (t *Tx) FindInputs(ctx context.Context, txIDs []int64) ([]*model.TransactionInput, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*model.TransactionInput

	err := t.query(ctx, "find inputs",
		"SELECT id, tx_id, utxo_id, input_index FROM tx_input WHERE tx_id = ANY($1) ORDER BY id",
		[]any{pq.Int64Array(txIDs)},
		func(rows *sql.Rows) error {
			in := &model.TransactionInput{}
			if err := rows.Scan(&in.ID, &in.TxID, &in.UtxoID, &in.InputIndex); err != nil {
				return err
			}

			out = append(out, in)

			return nil
		})

	return out, err
}

// InsertNativeAssets stores assets and sets their IDs.
func (t *Tx) InsertNativeAssets(ctx context.Context, assets []*model.NativeAsset) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "native_asset", []string{"policy_id", "asset_name", "first_tx"}, "", len(assets),
		func(i int) []any { return []any{assets[i].PolicyID, assets[i].AssetName, assets[i].FirstTxID} },
		func(i int, id int64) { assets[i].ID = id },
	)
}

// FindNativeAssets returns the stored assets among keys.
func (t *Tx) FindNativeAssets(ctx context.Context, keys []model.AssetKey) ([]*model.NativeAsset, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	policies := make(pq.ByteaArray, len(keys))
	names := make(pq.ByteaArray, len(keys))

	for i, k := range keys {
		policies[i] = k.PolicyID
		names[i] = k.AssetName
	}

	var out []*model.NativeAsset

	err := t.query(ctx, "find native assets",
		`SELECT a.id, a.policy_id, a.asset_name, a.first_tx
		 FROM native_asset a
		 JOIN unnest($1::bytea[], $2::bytea[]) AS k(policy_id, asset_name)
		   ON a.policy_id = k.policy_id AND a.asset_name = k.asset_name`,
		[]any{policies, names},
		func(rows *sql.Rows) error {
			a := &model.NativeAsset{}
			if err := rows.Scan(&a.ID, &a.PolicyID, &a.AssetName, &a.FirstTxID); err != nil {
				return err
			}

			out = append(out, a)

			return nil
		})

	return out, err
}

// InsertOutputAssets stores rows.
func (t *Tx) InsertOutputAssets(ctx context.Context, rows []*model.OutputAsset) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.insert(ctx, "output_asset", []string{"output_id", "asset_id", "amount"}, "", len(rows),
		func(i int) []any {
			return []any{rows[i].OutputID, rows[i].AssetID, strconv.FormatUint(rows[i].Amount, 10)}
		},
		nil,
	)
}

// Count returns the number of rows of entity.
func (t *Tx) Count(ctx context.Context, entity model.Entity) (int64, error) {
	known := false

	for _, e := range model.Entities() {
		if e == entity {
			known = true

			break
		}
	}

	if !known {
		return 0, fmt.Errorf("unknown entity %q", entity)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var n int64

	err := t.tx.QueryRowContext(ctx, "SELECT count(*) FROM "+string(entity)).Scan(&n)

	return n, mapError("count "+string(entity), err)
}

// insert writes n rows in as few statements as the bind parameter limit allows. When setID is
// set, generated ids are assigned back in row order.
func (t *Tx) insert(
	ctx context.Context,
	table string,
	cols []string,
	suffix string,
	n int,
	args func(i int) []any,
	setID func(i int, id int64),
) error {
	if n == 0 {
		return nil
	}

	perStatement := maxParams / len(cols)

	for start := 0; start < n; start += perStatement {
		end := min(start+perStatement, n)

		var sb strings.Builder

		fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))

		params := make([]any, 0, (end-start)*len(cols))

		for i := start; i < end; i++ {
			if i > start {
				sb.WriteString(", ")
			}

			sb.WriteByte('(')

			for j := range cols {
				if j > 0 {
					sb.WriteString(", ")
				}

				fmt.Fprintf(&sb, "$%d", len(params)+j+1)
			}

			sb.WriteByte(')')

			params = append(params, args(i)...)
		}

		sb.WriteString(suffix)

		if setID == nil {
			if _, err := t.tx.ExecContext(ctx, sb.String(), params...); err != nil {
				return mapError("insert "+table, err)
			}

			continue
		}

		sb.WriteString(" RETURNING id")

		rows, err := t.tx.QueryContext(ctx, sb.String(), params...)
		if err != nil {
			return mapError("insert "+table, err)
		}

		i := start
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()

				return mapError("insert "+table, err)
			}

			setID(i, id)
			i++
		}

		err = rows.Err()
		rows.Close()

		if err != nil {
			return mapError("insert "+table, err)
		}

		if i != end {
			return fmt.Errorf("insert %s: expected %d ids, got %d", table, end-start, i-start)
		}
	}

	return nil
}

func (t *Tx) query(ctx context.Context, op, query string, args []any, scan func(*sql.Rows) error) error {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return mapError(op, err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return mapError(op, err)
		}
	}

	return mapError(op, rows.Err())
}
