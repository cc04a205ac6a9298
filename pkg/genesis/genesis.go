// Package genesis loads the Byron genesis distribution.
package genesis

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
)

// MainnetProtocolMagic is the protocol magic of mainnet. Addresses on other networks carry the
// magic as an attribute.
const MainnetProtocolMagic = 764824073

// File is a parsed Byron genesis file.
type File struct {
	// Hash is the blake2b-256 of the file bytes, used as the genesis block hash.
	Hash          []byte
	ProtocolMagic uint32
	StartTime     int64
	Balances      []Balance
}

// Balance is one initial UTxO. Each is modelled as a transaction with a single output.
type Balance struct {
	Address []byte
	Amount  uint64
	// TxHash is the blake2b-256 of the address bytes.
	TxHash []byte
	// Redeem marks balances from the AVVM distribution.
	Redeem bool
}

type byronGenesis struct {
	AvvmDistr       map[string]string `json:"avvmDistr"`
	NonAvvmBalances map[string]string `json:"nonAvvmBalances"`
	StartTime       int64             `json:"startTime"`
	ProtocolConsts  struct {
		ProtocolMagic uint32 `json:"protocolMagic"`
	} `json:"protocolConsts"`
}

// Load reads and parses a Byron genesis file.
func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}

	return Parse(raw)
}

// Parse parses a Byron genesis file.
func Parse(raw []byte) (*File, error) {
	var g byronGenesis
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode genesis file: %w", err)
	}

	hash := blake2b.Sum256(raw)

	f := &File{
		Hash:          hash[:],
		ProtocolMagic: g.ProtocolConsts.ProtocolMagic,
		StartTime:     g.StartTime,
	}

	for encoded, amount := range g.NonAvvmBalances {
		address, err := cardano.AddressFromString(encoded)
		if err != nil {
			return nil, fmt.Errorf("non-avvm balance: %w", err)
		}

		b, err := newBalance(address, amount, false)
		if err != nil {
			return nil, err
		}

		f.Balances = append(f.Balances, b)
	}

	for key, amount := range g.AvvmDistr {
		pub, err := decodeRedeemKey(key)
		if err != nil {
			return nil, err
		}

		address, err := RedeemAddress(pub, f.ProtocolMagic)
		if err != nil {
			return nil, err
		}

		b, err := newBalance(address, amount, true)
		if err != nil {
			return nil, err
		}

		f.Balances = append(f.Balances, b)
	}

	sort.Slice(f.Balances, func(i, j int) bool {
		return bytes.Compare(f.Balances[i].TxHash, f.Balances[j].TxHash) < 0
	})

	return f, nil
}

func newBalance(address []byte, amount string, redeem bool) (Balance, error) {
	v, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return Balance{}, fmt.Errorf("parse genesis amount %q: %w", amount, err)
	}

	txHash := blake2b.Sum256(address)

	return Balance{
		Address: address,
		Amount:  v,
		TxHash:  txHash[:],
		Redeem:  redeem,
	}, nil
}

func decodeRedeemKey(key string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.URLEncoding, base64.RawURLEncoding, base64.StdEncoding} {
		if pub, err := enc.DecodeString(key); err == nil && len(pub) == 32 {
			return pub, nil
		}
	}

	return nil, fmt.Errorf("invalid avvm redeem key %q", key)
}
