// Package crypto provides cryptographic primitives for the klingnet ledger:
// SHA-256 content hashing, ECDSA and Schnorr signatures over secp256k1
// (including Schnorr aggregate verification), and AES-256 at-rest
// encryption for key material.
package crypto

import (
	"crypto/sha256"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Hash computes a SHA-256 hash of the input data. Every content-addressable
// object in the ledger (Output, Input, Transaction, Block) is identified by
// a Hash computed this way over its canonical encoding.
func Hash(data []byte) types.Hash {
	return sha256.Sum256(data)
}

// DoubleHash computes Hash(Hash(data)).
func DoubleHash(data []byte) types.Hash {
	first := Hash(data)
	return Hash(first[:])
}

// AddressFromPubKey derives a wallet-facing address from a compressed
// public key. Address = SHA-256(compressed_pubkey)[:20].
func AddressFromPubKey(pubKey []byte) types.Address {
	h := Hash(pubKey)
	var addr types.Address
	copy(addr[:], h[:types.AddressSize])
	return addr
}

// HashConcat hashes the concatenation of two hashes. Used by the merkle
// tree for non-leaf nodes: H(left || right).
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash(buf[:])
}
