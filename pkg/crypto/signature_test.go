package crypto

import (
	"bytes"
	"testing"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	pub := key.PublicKey()
	if len(pub) != 33 {
		t.Errorf("PublicKey() length = %d, want 33", len(pub))
	}

	ser := key.Serialize()
	if len(ser) != 32 {
		t.Errorf("Serialize() length = %d, want 32", len(ser))
	}
}

func TestGenerateKey_Unique(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}
	k2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	if bytes.Equal(k1.Serialize(), k2.Serialize()) {
		t.Error("two generated keys should not be identical")
	}
}

func TestPrivateKeyFromBytes(t *testing.T) {
	original, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error: %v", err)
	}

	restored, err := PrivateKeyFromBytes(original.Serialize())
	if err != nil {
		t.Fatalf("PrivateKeyFromBytes() error: %v", err)
	}

	if !bytes.Equal(original.PublicKey(), restored.PublicKey()) {
		t.Error("restored key should have same public key")
	}
}

func TestPrivateKeyFromBytes_InvalidLength(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", make([]byte, 16)},
		{"too long", make([]byte, 64)},
		{"empty", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := PrivateKeyFromBytes(tt.data); err == nil {
				t.Errorf("expected error for %d-byte input", len(tt.data))
			}
		})
	}
}

func TestSchnorrSignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hash := Hash([]byte("sign me"))
	sig, err := key.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !VerifySignature(hash[:], sig, key.PublicKey()) {
		t.Error("valid schnorr signature failed to verify")
	}

	other, _ := GenerateKey()
	if VerifySignature(hash[:], sig, other.PublicKey()) {
		t.Error("signature verified against wrong key")
	}
}

func TestECDSASignVerify(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hash := Hash([]byte("ecdsa message"))
	sig, err := key.SignECDSA(hash[:])
	if err != nil {
		t.Fatalf("SignECDSA: %v", err)
	}
	if !VerifyECDSA(hash[:], sig, key.PublicKey()) {
		t.Error("valid ecdsa signature failed to verify")
	}

	tampered := Hash([]byte("different message"))
	if VerifyECDSA(tampered[:], sig, key.PublicKey()) {
		t.Error("ecdsa signature verified against wrong hash")
	}
}

func TestAggregateSignature(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	k3, _ := GenerateKey()

	agg, err := AggregatePublicKey([][]byte{k1.PublicKey(), k2.PublicKey(), k3.PublicKey()})
	if err != nil {
		t.Fatalf("AggregatePublicKey: %v", err)
	}
	if len(agg) != 33 {
		t.Fatalf("aggregate pubkey length = %d, want 33", len(agg))
	}

	// Aggregate key must differ from any individual participant's key.
	if bytes.Equal(agg, k1.PublicKey()) {
		t.Error("aggregate key equals a single participant's key")
	}

	// Order must not matter for summation (point addition is commutative).
	agg2, err := AggregatePublicKey([][]byte{k3.PublicKey(), k1.PublicKey(), k2.PublicKey()})
	if err != nil {
		t.Fatalf("AggregatePublicKey (reordered): %v", err)
	}
	if !bytes.Equal(agg, agg2) {
		t.Error("aggregate pubkey should be order-independent")
	}
}

func TestVerifyAggregate(t *testing.T) {
	k1, _ := GenerateKey()
	k2, _ := GenerateKey()
	hash := Hash([]byte("aggregate me"))

	combined, err := CombinePrivateKeys([]*PrivateKey{k1, k2})
	if err != nil {
		t.Fatalf("CombinePrivateKeys: %v", err)
	}
	sig, err := combined.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !VerifyAggregate(hash[:], sig, [][]byte{k1.PublicKey(), k2.PublicKey()}) {
		t.Error("combined-key signature should verify against the aggregate of both keys")
	}
	if !VerifyAggregate(hash[:], sig, [][]byte{k2.PublicKey(), k1.PublicKey()}) {
		t.Error("aggregate verification should be order-independent")
	}

	soloSig, err := k1.Sign(hash[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if VerifyAggregate(hash[:], soloSig, [][]byte{k1.PublicKey(), k2.PublicKey()}) {
		t.Error("single-key signature should not verify against an aggregate of two keys")
	}
}

func TestAESRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("seed phrase material")

	ciphertext, err := EncryptAES256GCM(key, plaintext)
	if err != nil {
		t.Fatalf("EncryptAES256GCM: %v", err)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Error("ciphertext should not contain the plaintext")
	}

	decrypted, err := DecryptAES256GCM(key, ciphertext)
	if err != nil {
		t.Fatalf("DecryptAES256GCM: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("decrypted = %q, want %q", decrypted, plaintext)
	}
}

func TestAESWrongKeyFails(t *testing.T) {
	key1 := bytes.Repeat([]byte{0x01}, 32)
	key2 := bytes.Repeat([]byte{0x02}, 32)

	ciphertext, err := EncryptAES256GCM(key1, []byte("secret"))
	if err != nil {
		t.Fatalf("EncryptAES256GCM: %v", err)
	}
	if _, err := DecryptAES256GCM(key2, ciphertext); err == nil {
		t.Error("decrypting with the wrong key should fail")
	}
}
