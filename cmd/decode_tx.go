package cmd

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
)

var decodeTxEra string

type decodedOutput struct {
	Index   int    `json:"index"`
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
	Assets  int    `json:"assets"`
}

type decodedTx struct {
	Hash    string          `json:"hash"`
	Valid   bool            `json:"valid"`
	Inputs  []string        `json:"inputs"`
	Outputs []decodedOutput `json:"outputs"`
}

var decodeTxCmd = &cobra.Command{
	Use:   "decode-tx <cbor-hex>",
	Short: "Decodes a transaction from CBOR hex and prints its inputs and outputs.",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		blockType, err := cardano.BlockTypeOf(decodeTxEra)
		if err != nil {
			return err
		}

		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(args[0]), "0x"))
		if err != nil {
			return fmt.Errorf("invalid hex: %w", err)
		}

		tx, err := cardano.NewDecoder().DecodeTransaction(cardano.TxType(blockType), raw)
		if err != nil {
			return err
		}

		out := decodedTx{
			Hash:  hex.EncodeToString(tx.Hash),
			Valid: tx.Valid,
		}

		for _, in := range tx.Inputs {
			out.Inputs = append(out.Inputs, fmt.Sprintf("%x#%d", in.TxHash, in.Index))
		}

		for _, o := range tx.Outputs {
			out.Outputs = append(out.Outputs, decodedOutput{
				Index:   o.Index,
				Address: hex.EncodeToString(o.Address),
				Amount:  o.Amount,
				Assets:  len(o.Assets),
			})
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	},
}

func init() {
	decodeTxCmd.Flags().StringVar(&decodeTxEra, "era", "conway", "era of the transaction (byron, shelley, allegra, mary, alonzo, babbage or conway)")
	rootCmd.AddCommand(decodeTxCmd)
}
