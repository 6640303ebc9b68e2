package adapter

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// SS58PrefixSubstrate is the generic substrate network prefix used by the dividend ledger
const SS58PrefixSubstrate = 42

const ss58ChecksumLen = 2

var ss58Context = []byte("SS58PRE")

// EncodeSS58 renders a 32-byte public key as an SS58 address.
// Only simple (single byte, < 64) prefixes are supported.
func EncodeSS58(pubkey []byte, prefix uint8) (string, error) {
	if len(pubkey) != accountIDLen {
		return "", fmt.Errorf("public key must be %d bytes, got %d", accountIDLen, len(pubkey))
	}
	if prefix >= 64 {
		return "", fmt.Errorf("ss58 prefix %d requires two-byte encoding", prefix)
	}

	payload := make([]byte, 0, 1+accountIDLen+ss58ChecksumLen)
	payload = append(payload, prefix)
	payload = append(payload, pubkey...)
	payload = append(payload, ss58Checksum(payload)...)

	return base58.Encode(payload), nil
}

// DecodeSS58 parses an SS58 address and returns the public key and network prefix
func DecodeSS58(address string) ([]byte, uint8, error) {
	raw, err := base58.Decode(address)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid base58: %w", err)
	}
	if len(raw) != 1+accountIDLen+ss58ChecksumLen {
		return nil, 0, fmt.Errorf("unexpected ss58 length %d", len(raw))
	}
	if raw[0] >= 64 {
		return nil, 0, fmt.Errorf("unsupported ss58 prefix byte %d", raw[0])
	}

	body := raw[:len(raw)-ss58ChecksumLen]
	if !bytes.Equal(ss58Checksum(body), raw[len(raw)-ss58ChecksumLen:]) {
		return nil, 0, fmt.Errorf("ss58 checksum mismatch")
	}

	pubkey := make([]byte, accountIDLen)
	copy(pubkey, body[1:])
	return pubkey, body[0], nil
}

func ss58Checksum(payload []byte) []byte {
	h := blake2b.Sum512(append(append([]byte{}, ss58Context...), payload...))
	return h[:ss58ChecksumLen]
}
