package crypto

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// SchnorrSignatureSize is the serialized size of a Schnorr signature in
// bytes. Unlike DER-encoded ECDSA, Schnorr signatures are fixed-width,
// which lets fee estimation size an input's data before signing.
const SchnorrSignatureSize = 64

// Sign produces a BIP-340-style Schnorr signature over a 32-byte hash.
// Used for inputs spending outputs carrying output.data.schnorrKey, and
// as the primitive aggregate signatures are built from.
func (pk *PrivateKey) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("hash must be 32 bytes, got %d", len(hash))
	}
	sig, err := schnorr.Sign(pk.key, hash)
	if err != nil {
		return nil, fmt.Errorf("schnorr sign: %w", err)
	}
	return sig.Serialize(), nil
}

// VerifySignature checks a Schnorr signature against a 32-byte hash and a
// compressed public key. Returns false on any error.
func VerifySignature(hash, signature, publicKey []byte) bool {
	pubKey, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return false
	}
	sig, err := schnorr.ParseSignature(signature)
	if err != nil {
		return false
	}
	return sig.Verify(hash, pubKey)
}

// SchnorrVerifier implements a Verifier-shaped adapter for VerifySignature,
// used where callers want an interface value rather than a bare function.
type SchnorrVerifier struct{}

// Verify checks a Schnorr signature against a hash and compressed public key.
func (v SchnorrVerifier) Verify(hash, signature, publicKey []byte) bool {
	return VerifySignature(hash, signature, publicKey)
}

// AggregatePublicKey sums a set of compressed secp256k1 public keys into a
// single compressed public key: the verification key for an aggregate
// signature is the pubkey-sum of the selected outputs' keys.
func AggregatePublicKey(compressedPubKeys [][]byte) ([]byte, error) {
	if len(compressedPubKeys) == 0 {
		return nil, fmt.Errorf("aggregate pubkey: no keys supplied")
	}
	var sum secp256k1.JacobianPoint
	for i, pk := range compressedPubKeys {
		parsed, err := secp256k1.ParsePubKey(pk)
		if err != nil {
			return nil, fmt.Errorf("aggregate pubkey: key %d: %w", i, err)
		}
		var point, next secp256k1.JacobianPoint
		parsed.AsJacobian(&point)
		secp256k1.AddNonConst(&sum, &point, &next)
		sum = next
	}
	if (sum.X.IsZero() && sum.Y.IsZero()) || sum.Z.IsZero() {
		return nil, fmt.Errorf("aggregate pubkey: keys sum to the point at infinity")
	}
	sum.ToAffine()
	combined := secp256k1.NewPublicKey(&sum.X, &sum.Y)
	return combined.SerializeCompressed(), nil
}

// VerifyAggregate checks a Schnorr signature over hash against the
// pubkey-sum of compressedPubKeys.
func VerifyAggregate(hash, signature []byte, compressedPubKeys [][]byte) bool {
	agg, err := AggregatePublicKey(compressedPubKeys)
	if err != nil {
		return false
	}
	return VerifySignature(hash, signature, agg)
}

// CombinePrivateKeys sums private scalars mod n, yielding the key that
// signs for the pubkey-sum of the participants. This is the wallet-side
// counterpart of AggregatePublicKey: a signature by the combined key
// passes VerifyAggregate over the participants' public keys.
func CombinePrivateKeys(keys []*PrivateKey) (*PrivateKey, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("combine private keys: no keys supplied")
	}
	var sum secp256k1.ModNScalar
	for _, k := range keys {
		sum.Add(&k.key.Key)
	}
	if sum.IsZero() {
		return nil, fmt.Errorf("combine private keys: scalars sum to zero")
	}
	return &PrivateKey{key: secp256k1.NewPrivateKey(&sum)}, nil
}
