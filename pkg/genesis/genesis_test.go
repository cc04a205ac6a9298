package genesis

import (
	"bytes"
	"encoding/base64"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redeemKey(b byte) string {
	return base64.URLEncoding.EncodeToString(bytes.Repeat([]byte{b}, 32))
}

func TestParseAvvmDistribution(t *testing.T) {
	raw := []byte(`{
		"startTime": 1506203091,
		"protocolConsts": {"protocolMagic": 764824073},
		"avvmDistr": {
			"` + redeemKey(1) + `": "1000",
			"` + redeemKey(2) + `": "2500"
		},
		"nonAvvmBalances": {}
	}`)

	f, err := Parse(raw)
	require.NoError(t, err)

	assert.Len(t, f.Hash, 32)
	assert.Equal(t, uint32(MainnetProtocolMagic), f.ProtocolMagic)
	assert.Equal(t, int64(1506203091), f.StartTime)
	require.Len(t, f.Balances, 2)

	var total uint64
	for i, b := range f.Balances {
		assert.True(t, b.Redeem)
		assert.Len(t, b.TxHash, 32)
		total += b.Amount

		if i > 0 {
			assert.Negative(t, bytes.Compare(f.Balances[i-1].TxHash, b.TxHash))
		}
	}

	assert.Equal(t, uint64(3500), total)

	again, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, f, again)
}

func TestParseErrors(t *testing.T) {
	tests := map[string]string{
		"bad json":      `{`,
		"bad amount":    `{"avvmDistr": {"` + redeemKey(1) + `": "lots"}}`,
		"bad redeem":    `{"avvmDistr": {"!!": "1"}}`,
		"bad byron key": `{"nonAvvmBalances": {"not-an-address": "1"}}`,
	}

	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "byron-genesis.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"avvmDistr": {}, "nonAvvmBalances": {}}`), 0o600))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, f.Balances)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestRedeemAddressStructure(t *testing.T) {
	pub := bytes.Repeat([]byte{7}, 32)

	for _, magic := range []uint32{MainnetProtocolMagic, 1097911063} {
		address, err := RedeemAddress(pub, magic)
		require.NoError(t, err)

		var outer []cbor.RawMessage
		require.NoError(t, cbor.Unmarshal(address, &outer))
		require.Len(t, outer, 2)

		var tag cbor.Tag
		require.NoError(t, cbor.Unmarshal(outer[0], &tag))
		assert.Equal(t, uint64(24), tag.Number)

		payload, ok := tag.Content.([]byte)
		require.True(t, ok)

		var crc uint64
		require.NoError(t, cbor.Unmarshal(outer[1], &crc))
		assert.Equal(t, uint64(crc32.ChecksumIEEE(payload)), crc)

		var inner []cbor.RawMessage
		require.NoError(t, cbor.Unmarshal(payload, &inner))
		require.Len(t, inner, 3)

		var root []byte
		require.NoError(t, cbor.Unmarshal(inner[0], &root))
		assert.Len(t, root, 28)

		var attrs map[uint64][]byte
		require.NoError(t, cbor.Unmarshal(inner[1], &attrs))

		if magic == MainnetProtocolMagic {
			assert.Empty(t, attrs)
		} else {
			assert.Contains(t, attrs, uint64(2))
		}

		// Starts with a CBOR array header, so it parses as a Byron address.
		assert.Equal(t, byte(0x82), address[0])
	}

	a, err := RedeemAddress(pub, MainnetProtocolMagic)
	require.NoError(t, err)
	b, err := RedeemAddress(bytes.Repeat([]byte{8}, 32), MainnetProtocolMagic)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
