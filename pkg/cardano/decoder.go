package cardano

import (
	"fmt"
	"math/big"

	"github.com/blinklabs-io/gouroboros/ledger"
	lcommon "github.com/blinklabs-io/gouroboros/ledger/common"
)

// OuroborosDecoder decodes blocks with gouroboros.
type OuroborosDecoder struct{}

var _ Decoder = (*OuroborosDecoder)(nil)

func NewDecoder() *OuroborosDecoder {
	return &OuroborosDecoder{}
}

func (d *OuroborosDecoder) DecodeBlock(blockType uint, raw []byte) (*Block, error) {
	era, err := EraName(blockType)
	if err != nil {
		return nil, err
	}

	blk, err := ledger.NewBlockFromCbor(blockType, raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s block: %w", era, err)
	}

	out := &Block{
		Type:     blockType,
		Era:      era,
		Hash:     blk.Hash().Bytes(),
		PrevHash: blk.PrevHash().Bytes(),
		Slot:     blk.SlotNumber(),
		Height:   blk.BlockNumber(),
		Payload:  raw,
	}

	txs := blk.Transactions()
	out.Transactions = make([]*Transaction, 0, len(txs))

	for i, tx := range txs {
		decoded, err := convertTransaction(tx)
		if err != nil {
			return nil, fmt.Errorf("block %x tx %d: %w", out.Hash, i, err)
		}

		decoded.Index = i
		out.Transactions = append(out.Transactions, decoded)
	}

	return out, nil
}

func (d *OuroborosDecoder) DecodeTransaction(txType uint, raw []byte) (*Transaction, error) {
	tx, err := ledger.NewTransactionFromCbor(txType, raw)
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}

	return convertTransaction(tx)
}

func convertTransaction(tx lcommon.Transaction) (*Transaction, error) {
	out := &Transaction{
		Hash:    tx.Hash().Bytes(),
		Valid:   tx.IsValid(),
		Payload: tx.Cbor(),
	}

	for _, in := range tx.Consumed() {
		out.Inputs = append(out.Inputs, Input{
			TxHash: in.Id().Bytes(),
			Index:  in.Index(),
		})
	}

	for _, utxo := range tx.Produced() {
		o, err := convertOutput(utxo.Output)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", utxo.Id.Index(), err)
		}

		o.Index = int(utxo.Id.Index())
		out.Outputs = append(out.Outputs, o)
	}

	return out, nil
}

func convertOutput(o lcommon.TransactionOutput) (Output, error) {
	addr := o.Address()

	raw, err := addressBytes(&addr)
	if err != nil {
		return Output{}, err
	}

	amount, err := toUint64(o.Amount())
	if err != nil {
		return Output{}, fmt.Errorf("amount: %w", err)
	}

	out := Output{
		Address: raw,
		Amount:  amount,
		Payload: o.Cbor(),
	}

	ma := o.Assets()
	if ma == nil {
		return out, nil
	}

	for _, policy := range ma.Policies() {
		for _, name := range ma.Assets(policy) {
			qty, err := toUint64(ma.Asset(policy, name))
			if err != nil {
				return Output{}, fmt.Errorf("asset %x.%x: %w", policy.Bytes(), name, err)
			}

			out.Assets = append(out.Assets, Asset{
				PolicyID: policy.Bytes(),
				Name:     append([]byte(nil), name...),
				Amount:   qty,
			})
		}
	}

	return out, nil
}

// addressBytes returns the raw address. gouroboros releases differ on whether Bytes reports an
// error.
func addressBytes(addr *lcommon.Address) ([]byte, error) {
	switch a := any(addr).(type) {
	case interface{ Bytes() ([]byte, error) }:
		b, err := a.Bytes()
		if err != nil {
			return nil, fmt.Errorf("address bytes: %w", err)
		}

		return b, nil
	case interface{ Bytes() []byte }:
		return a.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported address type %T", addr)
	}
}

// toUint64 normalises quantities, which gouroboros exposes as uint64 or *big.Int depending on
// the release.
func toUint64(v any) (uint64, error) {
	switch q := v.(type) {
	case uint64:
		return q, nil
	case int64:
		if q < 0 {
			return 0, fmt.Errorf("negative quantity %d", q)
		}

		return uint64(q), nil
	case *big.Int:
		if q == nil {
			return 0, nil
		}

		if q.Sign() < 0 || !q.IsUint64() {
			return 0, fmt.Errorf("quantity %s out of range", q)
		}

		return q.Uint64(), nil
	default:
		return 0, fmt.Errorf("unsupported quantity type %T", v)
	}
}

// AddressFromString decodes a bech32 or base58 address to its raw bytes.
func AddressFromString(s string) ([]byte, error) {
	addr, err := lcommon.NewAddress(s)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", s, err)
	}

	return addressBytes(&addr)
}
