package tx

import (
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func TestTransaction_BaseFee_EmptyData(t *testing.T) {
	txn := coinbaseTx(50)
	fee, err := txn.BaseFee()
	if err != nil {
		t.Fatalf("BaseFee: %v", err)
	}
	if fee != 0 {
		t.Errorf("BaseFee with null data = %d, want 0", fee)
	}
}

func TestTransaction_BaseFee_ScalesWithDataSize(t *testing.T) {
	small := Transaction{
		Outputs: []Output{{Value: 1, Nonce: 1, Data: json.RawMessage(`{"publicKey":"ab"}`)}},
	}
	large := Transaction{
		Outputs: []Output{{Value: 1, Nonce: 1, Data: json.RawMessage(`{"publicKey":"abcdefghijklmnopqrstuvwxyz"}`)}},
	}

	smallFee, err := small.BaseFee()
	if err != nil {
		t.Fatalf("BaseFee: %v", err)
	}
	largeFee, err := large.BaseFee()
	if err != nil {
		t.Fatalf("BaseFee: %v", err)
	}
	if largeFee <= smallFee {
		t.Errorf("larger data should yield a larger base fee: small=%d large=%d", smallFee, largeFee)
	}
}

func TestTransaction_MinFee_IsHalfBaseFee(t *testing.T) {
	txn := Transaction{
		Inputs:  []Input{{OutputID: types.Hash{1}, Data: json.RawMessage(`{"signature":"deadbeef"}`)}},
		Outputs: []Output{plainOutput(10)},
	}
	base, err := txn.BaseFee()
	if err != nil {
		t.Fatalf("BaseFee: %v", err)
	}
	min, err := txn.MinFee()
	if err != nil {
		t.Fatalf("MinFee: %v", err)
	}
	if min != base/2 {
		t.Errorf("MinFee = %d, want %d", min, base/2)
	}
}
