package adapter

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

const (
	accountIDLen     = 32
	blake2_128Len    = 16
	prefixLen        = 32
	netuidKeyLen     = 2
	dividendValueLen = 8
)

// Twox128 is the twox 128-bit hash used for pallet and storage item prefixes:
// two xxhash64 digests with seeds 0 and 1, little-endian, concatenated.
func Twox128(data []byte) []byte {
	out := make([]byte, 0, 16)
	for seed := uint64(0); seed < 2; seed++ {
		d := xxhash.NewWithSeed(seed)
		_, _ = d.Write(data)
		out = binary.LittleEndian.AppendUint64(out, d.Sum64())
	}
	return out
}

// Blake2_128 returns the 16-byte blake2b digest of data
func Blake2_128(data []byte) []byte {
	h, err := blake2b.New(blake2_128Len, nil)
	if err != nil {
		// only fails for an invalid size or key
		panic(err)
	}
	_, _ = h.Write(data)
	return h.Sum(nil)
}

// StoragePrefix returns twox128(module) ++ twox128(item)
func StoragePrefix(module, item string) []byte {
	prefix := make([]byte, 0, prefixLen)
	prefix = append(prefix, Twox128([]byte(module))...)
	prefix = append(prefix, Twox128([]byte(item))...)
	return prefix
}

// SubnetMapPrefix returns the key prefix of a double map whose first key is a
// netuid stored with the identity hasher
func SubnetMapPrefix(module, item string, netuid int) ([]byte, error) {
	if netuid < 0 || netuid > 0xFFFF {
		return nil, fmt.Errorf("netuid %d out of u16 range", netuid)
	}
	prefix := StoragePrefix(module, item)
	return binary.LittleEndian.AppendUint16(prefix, uint16(netuid)), nil
}

// DividendStorageKey builds the full key for one hotkey under a subnet
func DividendStorageKey(netuid int, accountID []byte) ([]byte, error) {
	if len(accountID) != accountIDLen {
		return nil, fmt.Errorf("%w: account id must be %d bytes", ErrInvalidStorageKey, accountIDLen)
	}
	key, err := SubnetMapPrefix(DividendModule, DividendStorageItem, netuid)
	if err != nil {
		return nil, err
	}
	key = append(key, Blake2_128(accountID)...)
	return append(key, accountID...), nil
}

// AccountIDFromKey extracts the raw account id from a Blake2_128Concat-keyed storage key.
// The 16 bytes preceding the account id must be its blake2b-128 digest.
func AccountIDFromKey(key []byte) ([]byte, error) {
	if len(key) < blake2_128Len+accountIDLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidStorageKey, len(key))
	}
	account := key[len(key)-accountIDLen:]
	digest := key[len(key)-accountIDLen-blake2_128Len : len(key)-accountIDLen]

	expected := Blake2_128(account)
	for i := range expected {
		if expected[i] != digest[i] {
			return nil, fmt.Errorf("%w: hasher digest mismatch", ErrInvalidStorageKey)
		}
	}

	out := make([]byte, accountIDLen)
	copy(out, account)
	return out, nil
}

// DecodeAccountID renders the account id carried by a storage key as an SS58 address
func DecodeAccountID(key []byte) (string, error) {
	account, err := AccountIDFromKey(key)
	if err != nil {
		return "", err
	}
	return EncodeSS58(account, SS58PrefixSubstrate)
}

// DecodeDividend decodes a SCALE-encoded little-endian u64 storage value
func DecodeDividend(value []byte) (uint64, error) {
	if len(value) < dividendValueLen {
		return 0, fmt.Errorf("%w: length %d", ErrInvalidStorageValue, len(value))
	}
	return binary.LittleEndian.Uint64(value[:dividendValueLen]), nil
}

// EncodeDividend encodes a u64 as a SCALE little-endian storage value
func EncodeDividend(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}
