package genesis

import (
	"fmt"
	"hash/crc32"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

const (
	byronAddrTypeRedeem = 2
	attrProtocolMagic   = 2
	tagEmbeddedCBOR     = 24
)

// RedeemAddress builds the Byron redeem address of an AVVM public key.
func RedeemAddress(pub []byte, protocolMagic uint32) ([]byte, error) {
	attrs := map[uint64][]byte{}

	if protocolMagic != MainnetProtocolMagic {
		magic, err := cbor.Marshal(protocolMagic)
		if err != nil {
			return nil, fmt.Errorf("encode protocol magic: %w", err)
		}

		attrs[attrProtocolMagic] = magic
	}

	spending := []any{uint64(byronAddrTypeRedeem), pub}

	preimage, err := cbor.Marshal([]any{uint64(byronAddrTypeRedeem), spending, attrs})
	if err != nil {
		return nil, fmt.Errorf("encode address root: %w", err)
	}

	sha := sha3.Sum256(preimage)

	h, err := blake2b.New(28, nil)
	if err != nil {
		return nil, err
	}

	h.Write(sha[:])
	root := h.Sum(nil)

	payload, err := cbor.Marshal([]any{root, attrs, uint64(byronAddrTypeRedeem)})
	if err != nil {
		return nil, fmt.Errorf("encode address payload: %w", err)
	}

	address, err := cbor.Marshal([]any{
		cbor.Tag{Number: tagEmbeddedCBOR, Content: payload},
		uint64(crc32.ChecksumIEEE(payload)),
	})
	if err != nil {
		return nil, fmt.Errorf("encode address: %w", err)
	}

	return address, nil
}
