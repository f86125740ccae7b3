package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// SignECDSA produces a DER-encoded ECDSA signature over a 32-byte hash.
// Used for inputs spending outputs carrying a plain output.data.publicKey.
func (pk *PrivateKey) SignECDSA(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig := ecdsa.Sign(pk.key, hash)
	return sig.Serialize(), nil
}

// VerifyECDSA checks a DER-encoded ECDSA signature against a 32-byte hash
// and a compressed public key. Returns false on any malformed input —
// callers treat that as verification failure, never a crash.
func VerifyECDSA(hash, signature, publicKey []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}
