package testutil

import (
	"bytes"
	"fmt"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/ethpandaops/cardano-indexer/pkg/cardano"
	"github.com/ethpandaops/cardano-indexer/pkg/plan"
	"github.com/ethpandaops/cardano-indexer/pkg/task"
)

// FakeDecoder returns pre-built blocks keyed by their payload.
type FakeDecoder struct {
	mu     sync.Mutex
	blocks map[string]*cardano.Block
}

var _ cardano.Decoder = (*FakeDecoder)(nil)

func NewFakeDecoder() *FakeDecoder {
	return &FakeDecoder{blocks: make(map[string]*cardano.Block)}
}

// Add registers a block and returns the payload that decodes to it.
func (f *FakeDecoder) Add(b *cardano.Block) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b.Payload == nil {
		b.Payload = append([]byte("block:"), b.Hash...)
	}

	f.blocks[string(b.Payload)] = b

	return b.Payload
}

func (f *FakeDecoder) DecodeBlock(blockType uint, raw []byte) (*cardano.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := f.blocks[string(raw)]
	if !ok {
		return nil, fmt.Errorf("no block registered for payload %x", raw)
	}

	if b.Type != blockType {
		return nil, fmt.Errorf("block registered as type %d, decoded as %d", b.Type, blockType)
	}

	return b, nil
}

func (f *FakeDecoder) DecodeTransaction(uint, []byte) (*cardano.Transaction, error) {
	return nil, fmt.Errorf("fake decoder does not decode transactions")
}

// Hash returns a deterministic 32 byte hash for a label.
func Hash(label string) []byte {
	h := blake2b.Sum256([]byte(label))

	return h[:]
}

// BaseAddress builds a key/key base address on network 1 from two filler bytes.
func BaseAddress(payment, stake byte) []byte {
	out := []byte{0x01}
	out = append(out, bytes.Repeat([]byte{payment}, cardano.CredentialSize)...)

	return append(out, bytes.Repeat([]byte{stake}, cardano.CredentialSize)...)
}

// EnterpriseAddress builds a key enterprise address on network 1.
func EnterpriseAddress(payment byte) []byte {
	return append([]byte{0x61}, bytes.Repeat([]byte{payment}, cardano.CredentialSize)...)
}

// ByronAddress builds an opaque Byron bootstrap address payload of n bytes.
func ByronAddress(fill byte, n int) []byte {
	out := []byte{0x82}

	return append(out, bytes.Repeat([]byte{fill}, n-1)...)
}

// FullPlan plans every registered task with an empty config.
func FullPlan(r *task.Registry) *plan.Plan {
	p := &plan.Plan{Location: "test"}
	seen := make(map[string]bool)

	for _, era := range task.Eras() {
		for _, t := range r.Tasks(era) {
			name := t.Descriptor().Name
			if seen[name] {
				continue
			}

			seen[name] = true
			p.Entries = append(p.Entries, plan.Entry{Name: name, Config: task.Config{}})
		}
	}

	return p
}
