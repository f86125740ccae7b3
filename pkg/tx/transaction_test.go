package tx

import (
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

func plainOutput(value uint64) Output {
	return Output{Value: value, Nonce: 1, Data: json.RawMessage("null")}
}

func coinbaseTx(value uint64) Transaction {
	return Transaction{
		Outputs:   []Output{plainOutput(value)},
		Timestamp: 1000,
	}
}

func TestTransaction_IsCoinbase(t *testing.T) {
	txn := coinbaseTx(50)
	if !txn.IsCoinbase() {
		t.Error("transaction with no inputs should be coinbase")
	}

	txn.Inputs = []Input{{OutputID: types.Hash{1}, Data: json.RawMessage("null")}}
	if txn.IsCoinbase() {
		t.Error("transaction with an input should not be coinbase")
	}
}

func TestTransaction_ID_Deterministic(t *testing.T) {
	txn := coinbaseTx(50)
	id1, err := txn.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	id2, err := txn.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	if id1 != id2 {
		t.Error("transaction ID is not deterministic")
	}
}

func TestTransaction_ID_DiffersByTimestamp(t *testing.T) {
	txn1 := coinbaseTx(50)
	txn2 := coinbaseTx(50)
	txn2.Timestamp = 2000

	id1, _ := txn1.ID()
	id2, _ := txn2.ID()
	if id1 == id2 {
		t.Error("transactions with different timestamps should have different ids")
	}
}

func TestTransaction_OutputSetID_OrderIndependent(t *testing.T) {
	a := Transaction{Outputs: []Output{plainOutput(10), plainOutput(20)}}
	b := Transaction{Outputs: []Output{plainOutput(20), plainOutput(10)}}

	idA, err := a.OutputSetID()
	if err != nil {
		t.Fatalf("OutputSetID: %v", err)
	}
	idB, err := b.OutputSetID()
	if err != nil {
		t.Fatalf("OutputSetID: %v", err)
	}
	if idA != idB {
		t.Error("output set id should not depend on output order")
	}
}

func TestTransaction_InputSetRoot_ZeroForCoinbase(t *testing.T) {
	txn := coinbaseTx(50)
	root, err := txn.InputSetRoot()
	if err != nil {
		t.Fatalf("InputSetRoot: %v", err)
	}
	if !root.IsZero() {
		t.Error("coinbase input set root should be zero")
	}
}

func TestTransaction_Validate_NoOutputs(t *testing.T) {
	txn := Transaction{Timestamp: 1}
	if err := txn.Validate(); err != ErrNoOutputs {
		t.Errorf("Validate() = %v, want ErrNoOutputs", err)
	}
}

func TestTransaction_Validate_CoinbaseOK(t *testing.T) {
	txn := coinbaseTx(50)
	if err := txn.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestTransaction_Validate_DuplicateOutputs(t *testing.T) {
	out := plainOutput(10)
	txn := Transaction{Outputs: []Output{out, out}, Timestamp: 1}
	if err := txn.Validate(); err == nil {
		t.Error("Validate() should reject duplicate outputs")
	}
}

func TestTransaction_Validate_DuplicateInputs(t *testing.T) {
	in := Input{OutputID: types.Hash{7}, Data: json.RawMessage("null")}
	txn := Transaction{
		Inputs:    []Input{in, in},
		Outputs:   []Output{plainOutput(10)},
		Timestamp: 1,
	}
	if err := txn.Validate(); err == nil {
		t.Error("Validate() should reject duplicate inputs")
	}
}

func TestTransaction_Validate_RejectsZeroValueOutput(t *testing.T) {
	txn := Transaction{Outputs: []Output{plainOutput(0)}, Timestamp: 1}
	if err := txn.Validate(); err == nil {
		t.Error("Validate() should reject a zero-value output")
	}
}

func TestTransaction_Validate_RejectsOversizedOutputData(t *testing.T) {
	big := make(map[string]string, 2000)
	for i := 0; i < 2000; i++ {
		big[string(rune('a'+(i%26)))+string(rune(i))] = "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"
	}
	raw, err := json.Marshal(big)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	txn := Transaction{
		Outputs:   []Output{{Value: 1, Nonce: 1, Data: raw}},
		Timestamp: 1,
	}
	if err := txn.Validate(); err == nil {
		t.Error("Validate() should reject an output whose data exceeds the size ceiling")
	}
}
