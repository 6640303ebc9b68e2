package adapter

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// well-known development account
const (
	alicePubkeyHex = "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	aliceSS58      = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

func TestTwox128(t *testing.T) {
	tests := []struct {
		input  string
		expect string
	}{
		{"System", "26aa394eea5630e07c48ae0c9558cef7"},
		{"SubtensorModule", "658faa385070e074c85bf6b568cf0555"},
		{"TaoDividendsPerSubnet", "161711b56e44201be00565e057c65c77"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expect, hex.EncodeToString(Twox128([]byte(tt.input))))
		})
	}
}

func TestBlake2_128(t *testing.T) {
	digest := Blake2_128(mustHex(t, alicePubkeyHex))
	assert.Equal(t, "de1e86a9a8c739864cf3cc5ec2bea59f", hex.EncodeToString(digest))
}

func TestSubnetMapPrefix(t *testing.T) {
	prefix, err := SubnetMapPrefix(DividendModule, DividendStorageItem, 18)
	require.NoError(t, err)
	assert.Equal(t,
		"658faa385070e074c85bf6b568cf0555"+"161711b56e44201be00565e057c65c77"+"1200",
		hex.EncodeToString(prefix))

	_, err = SubnetMapPrefix(DividendModule, DividendStorageItem, 70000)
	assert.Error(t, err)
	_, err = SubnetMapPrefix(DividendModule, DividendStorageItem, -1)
	assert.Error(t, err)
}

func TestDecodeAccountID(t *testing.T) {
	key, err := DividendStorageKey(3, mustHex(t, alicePubkeyHex))
	require.NoError(t, err)
	assert.Len(t, key, 32+2+16+32)

	address, err := DecodeAccountID(key)
	require.NoError(t, err)
	assert.Equal(t, aliceSS58, address)
}

func TestDecodeAccountID_Invalid(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		_, err := DecodeAccountID(make([]byte, 40))
		assert.ErrorIs(t, err, ErrInvalidStorageKey)
	})

	t.Run("digest mismatch", func(t *testing.T) {
		key, err := DividendStorageKey(3, mustHex(t, alicePubkeyHex))
		require.NoError(t, err)
		key[len(key)-33] ^= 0xFF
		_, err = DecodeAccountID(key)
		assert.ErrorIs(t, err, ErrInvalidStorageKey)
	})
}

func TestDecodeDividend(t *testing.T) {
	v, err := DecodeDividend(EncodeDividend(123456789))
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), v)

	v, err = DecodeDividend([]byte{0x01, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	_, err = DecodeDividend([]byte{0x01})
	assert.ErrorIs(t, err, ErrInvalidStorageValue)
}

func TestSS58RoundTrip(t *testing.T) {
	pub := mustHex(t, alicePubkeyHex)

	address, err := EncodeSS58(pub, SS58PrefixSubstrate)
	require.NoError(t, err)
	assert.Equal(t, aliceSS58, address)

	decoded, prefix, err := DecodeSS58(address)
	require.NoError(t, err)
	assert.Equal(t, pub, decoded)
	assert.Equal(t, uint8(SS58PrefixSubstrate), prefix)
}

func TestDecodeSS58_BadChecksum(t *testing.T) {
	tampered := aliceSS58[:len(aliceSS58)-1] + "Z"
	_, _, err := DecodeSS58(tampered)
	assert.Error(t, err)
}

func TestEncodeSS58_Invalid(t *testing.T) {
	_, err := EncodeSS58(make([]byte, 31), SS58PrefixSubstrate)
	assert.Error(t, err)
	_, err = EncodeSS58(make([]byte, 32), 64)
	assert.Error(t, err)
}
