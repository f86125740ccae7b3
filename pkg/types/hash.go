// Package types defines core primitive types for the klingnet ledger:
// content-addressed hashes and canonical JSON encoding.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of a hash in bytes (SHA-256 digest size).
const HashSize = 32

// Hash represents a 256-bit SHA-256 digest, the identifier of every
// content-addressable object (Output, Input, Transaction, Block).
type Hash [HashSize]byte

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the lowercase hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(decoded) != HashSize {
		return fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HexToHash converts a hex string to a Hash.
// Returns an error if the string is not exactly 64 hex characters.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// SortHashes sorts a slice of hashes lexicographically in place and
// returns it. Used wherever hashing operates over a sorted set of hashes
// (output-set and input-set merkle roots).
func SortHashes(hashes []Hash) []Hash {
	for i := 1; i < len(hashes); i++ {
		for j := i; j > 0 && lessHash(hashes[j], hashes[j-1]); j-- {
			hashes[j], hashes[j-1] = hashes[j-1], hashes[j]
		}
	}
	return hashes
}

func lessHash(a, b Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
