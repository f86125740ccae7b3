package wallet

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func fundingUTXO(t *testing.T, id byte, value uint64, data tx.OutputData) UTXO {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal utxo data: %v", err)
	}
	var outID types.Hash
	outID[0] = id
	return UTXO{OutputID: outID, Value: value, Data: raw}
}

func TestBuildTransaction_MinimumFeeCoversFloor(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	recipient, _ := crypto.GenerateKey()

	utxos := []UTXO{
		fundingUTXO(t, 1, 1_000_000, tx.OutputData{
			SchnorrKey: base64.StdEncoding.EncodeToString(key.PublicKey()),
		}),
	}
	outData, _ := json.Marshal(tx.OutputData{
		SchnorrKey: base64.StdEncoding.EncodeToString(recipient.PublicKey()),
	})
	outputs := []tx.Output{{Value: 100_000, Data: outData}}

	built, err := BuildTransaction(utxos, outputs, 0, key.PublicKey(), key)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}

	if built.Timestamp == 0 {
		t.Error("built transaction has no timestamp")
	}
	if len(built.Inputs) != 1 {
		t.Fatalf("got %d inputs, want 1", len(built.Inputs))
	}

	var totalOut uint64
	for _, out := range built.Outputs {
		totalOut += out.Value
	}
	fee := utxos[0].Value - totalOut
	minFee, err := built.MinFee()
	if err != nil {
		t.Fatalf("MinFee: %v", err)
	}
	if fee < minFee {
		t.Errorf("fee %d is below the floor %d", fee, minFee)
	}

	// The schnorr-keyed funding output gets a Schnorr signature over
	// SHA256(outputId || outputSetId).
	outputSetID, err := built.OutputSetID()
	if err != nil {
		t.Fatalf("output set id: %v", err)
	}
	data, err := built.Inputs[0].Decode()
	if err != nil {
		t.Fatalf("decode input data: %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(data.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !crypto.VerifySignature(SigningMessage(utxos[0].OutputID, outputSetID), sig, key.PublicKey()) {
		t.Error("schnorr signature does not verify against the funding key")
	}
}

func TestBuildTransaction_SignsECDSAKeyedFunding(t *testing.T) {
	key, _ := crypto.GenerateKey()
	recipient, _ := crypto.GenerateKey()

	utxos := []UTXO{
		fundingUTXO(t, 2, 1_000_000, tx.OutputData{
			PublicKey: base64.StdEncoding.EncodeToString(key.PublicKey()),
		}),
	}
	outData, _ := json.Marshal(tx.OutputData{
		SchnorrKey: base64.StdEncoding.EncodeToString(recipient.PublicKey()),
	})

	built, err := BuildTransaction(utxos, []tx.Output{{Value: 50_000, Data: outData}}, 0, key.PublicKey(), key)
	if err != nil {
		t.Fatalf("BuildTransaction: %v", err)
	}

	outputSetID, err := built.OutputSetID()
	if err != nil {
		t.Fatalf("output set id: %v", err)
	}
	data, err := built.Inputs[0].Decode()
	if err != nil {
		t.Fatalf("decode input data: %v", err)
	}
	sig, err := base64.StdEncoding.DecodeString(data.Signature)
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if !crypto.VerifyECDSA(SigningMessage(utxos[0].OutputID, outputSetID), sig, key.PublicKey()) {
		t.Error("ecdsa signature does not verify against the funding key")
	}
}

func TestBuildTransaction_InsufficientFunds(t *testing.T) {
	key, _ := crypto.GenerateKey()
	utxos := []UTXO{
		fundingUTXO(t, 3, 1_000, tx.OutputData{
			SchnorrKey: base64.StdEncoding.EncodeToString(key.PublicKey()),
		}),
	}
	outData, _ := json.Marshal(tx.OutputData{
		SchnorrKey: base64.StdEncoding.EncodeToString(key.PublicKey()),
	})

	if _, err := BuildTransaction(utxos, []tx.Output{{Value: 999_999, Data: outData}}, 0, key.PublicKey(), key); err == nil {
		t.Fatal("expected insufficient-funds error")
	}
}
