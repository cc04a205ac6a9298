package cardano

import (
	"errors"
	"fmt"
)

// MaxAddressPayload is the largest address payload stored as is. A handful of legacy Byron
// addresses carry attribute blobs far beyond any real address and are truncated.
const MaxAddressPayload = 500

// CredentialSize is the length of a payment or stake credential hash.
const CredentialSize = 28

type AddressKind int

const (
	AddressUnknown AddressKind = iota
	AddressBase
	AddressPointer
	AddressEnterprise
	AddressByron
	AddressReward
)

func (k AddressKind) String() string {
	switch k {
	case AddressBase:
		return "base"
	case AddressPointer:
		return "pointer"
	case AddressEnterprise:
		return "enterprise"
	case AddressByron:
		return "byron"
	case AddressReward:
		return "reward"
	default:
		return "unknown"
	}
}

// Credential is a key hash or script hash.
type Credential struct {
	Script bool
	Hash   []byte
}

// Bytes encodes the credential as one kind byte (0 key, 1 script) followed by the hash.
func (c Credential) Bytes() []byte {
	out := make([]byte, 0, 1+len(c.Hash))
	if c.Script {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}

	return append(out, c.Hash...)
}

type Address struct {
	Kind    AddressKind
	Network byte
	Payment *Credential
	Stake   *Credential
}

var ErrShortAddress = errors.New("address too short")

// ParseAddress reads the header and credentials of a raw address.
func ParseAddress(raw []byte) (*Address, error) {
	if len(raw) == 0 {
		return nil, ErrShortAddress
	}

	header := raw[0]
	typ := header >> 4
	addr := &Address{Network: header & 0x0f}

	switch typ {
	case 0, 1, 2, 3:
		if len(raw) < 1+2*CredentialSize {
			return nil, fmt.Errorf("%w: base address of %d bytes", ErrShortAddress, len(raw))
		}

		addr.Kind = AddressBase
		addr.Payment = credential(raw[1:1+CredentialSize], typ&0x1 != 0)
		addr.Stake = credential(raw[1+CredentialSize:1+2*CredentialSize], typ&0x2 != 0)
	case 4, 5:
		if len(raw) < 1+CredentialSize {
			return nil, fmt.Errorf("%w: pointer address of %d bytes", ErrShortAddress, len(raw))
		}

		addr.Kind = AddressPointer
		addr.Payment = credential(raw[1:1+CredentialSize], typ == 5)
	case 6, 7:
		if len(raw) < 1+CredentialSize {
			return nil, fmt.Errorf("%w: enterprise address of %d bytes", ErrShortAddress, len(raw))
		}

		addr.Kind = AddressEnterprise
		addr.Payment = credential(raw[1:1+CredentialSize], typ == 7)
	case 8:
		addr.Kind = AddressByron
		addr.Network = 0
	case 14, 15:
		if len(raw) < 1+CredentialSize {
			return nil, fmt.Errorf("%w: reward address of %d bytes", ErrShortAddress, len(raw))
		}

		addr.Kind = AddressReward
		addr.Stake = credential(raw[1:1+CredentialSize], typ == 15)
	default:
		addr.Kind = AddressUnknown
	}

	return addr, nil
}

func credential(hash []byte, script bool) *Credential {
	return &Credential{Script: script, Hash: append([]byte(nil), hash...)}
}

// TruncateAddress caps an address payload at MaxAddressPayload bytes.
func TruncateAddress(raw []byte) ([]byte, bool) {
	if len(raw) <= MaxAddressPayload {
		return raw, false
	}

	return raw[:MaxAddressPayload], true
}
