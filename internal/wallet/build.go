package wallet

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// SigningMessage is the message every plain/schnorr-keyed input signs:
// SHA256(outputId || outputSetId). Mirrors the ledger engine's own
// verification formula.
func SigningMessage(outputID, outputSetID types.Hash) []byte {
	buf := make([]byte, 0, types.HashSize*2)
	buf = append(buf, outputID[:]...)
	buf = append(buf, outputSetID[:]...)
	h := crypto.Hash(buf)
	return h[:]
}

// maxSignatureSize is the worst-case serialized signature an input can
// carry: a DER-encoded ECDSA signature (72 bytes) outgrows a fixed-width
// Schnorr one (crypto.SchnorrSignatureSize), so sizing fee estimates to it
// keeps the estimate an upper bound for either scheme.
const maxSignatureSize = 72

// minFeeFor computes the ledger's fee floor for a spend of outputs plus a
// change output shaped like changeData, funded by numInputs signed inputs.
// Signature sizes are bounded, so the floor never undershoots the fee the
// finished transaction actually needs.
func minFeeFor(outputs []tx.Output, changeData json.RawMessage, numInputs int) (uint64, error) {
	proto := &tx.Transaction{Outputs: append([]tx.Output{}, outputs...)}
	proto.Outputs = append(proto.Outputs, tx.Output{Value: 1, Data: changeData})

	dummySig := base64.StdEncoding.EncodeToString(make([]byte, maxSignatureSize))
	inData, err := json.Marshal(tx.InputData{Signature: dummySig})
	if err != nil {
		return 0, err
	}
	for i := 0; i < numInputs; i++ {
		proto.Inputs = append(proto.Inputs, tx.Input{Data: inData})
	}
	return proto.MinFee()
}

// BuildTransaction selects coins from utxos to cover outputs plus fee,
// appends a change output back to changePubKey when the selection
// overshoots, and signs every spent input with key (ECDSA for
// publicKey-keyed outputs, Schnorr otherwise; see signUTXO). A zero fee
// means "pay the minimum": the floor depends on how many inputs the
// selection needs, and the selection on the fee, so the two are iterated
// to a fixed point. It only builds spends of single-key-owned outputs;
// merkle-root and contract-guarded outputs need a caller that assembles
// their own Input.Data.
func BuildTransaction(utxos []UTXO, outputs []tx.Output, fee uint64, changePubKey []byte, key *crypto.PrivateKey) (*tx.Transaction, error) {
	changeData, err := json.Marshal(tx.OutputData{SchnorrKey: base64.StdEncoding.EncodeToString(changePubKey)})
	if err != nil {
		return nil, fmt.Errorf("encode change output: %w", err)
	}

	var total uint64
	for _, o := range outputs {
		total += o.Value
	}

	if fee == 0 {
		numInputs := 1
		for {
			est, ferr := minFeeFor(outputs, changeData, numInputs)
			if ferr != nil {
				return nil, ferr
			}
			sel, serr := SelectCoins(utxos, total+est)
			if serr != nil {
				return nil, serr
			}
			if len(sel.Inputs) == numInputs {
				fee = est
				break
			}
			numInputs = len(sel.Inputs)
		}
	}

	sel, err := SelectCoins(utxos, total+fee)
	if err != nil {
		return nil, err
	}

	t := &tx.Transaction{
		Outputs:   append([]tx.Output{}, outputs...),
		Timestamp: uint64(time.Now().Unix()),
	}
	if sel.Change > 0 {
		t.Outputs = append(t.Outputs, tx.Output{Value: sel.Change, Data: changeData})
	}

	outputSetID, err := t.OutputSetID()
	if err != nil {
		return nil, fmt.Errorf("output set id: %w", err)
	}

	t.Inputs = make([]tx.Input, len(sel.Inputs))
	for i, u := range sel.Inputs {
		sig, err := signUTXO(key, u, outputSetID)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		inputData, err := json.Marshal(tx.InputData{Signature: base64.StdEncoding.EncodeToString(sig)})
		if err != nil {
			return nil, fmt.Errorf("encode input %d: %w", i, err)
		}
		t.Inputs[i] = tx.Input{OutputID: u.OutputID, Data: inputData}
	}

	return t, nil
}

// signUTXO signs the spend of u in whichever scheme its data demands:
// ECDSA when the output is keyed by data.publicKey, Schnorr when by
// data.schnorrKey. Schnorr is the default for keyless data shapes, which
// the ledger rejects anyway.
func signUTXO(key *crypto.PrivateKey, u UTXO, outputSetID types.Hash) ([]byte, error) {
	msg := SigningMessage(u.OutputID, outputSetID)

	var data tx.OutputData
	if len(u.Data) > 0 {
		if err := json.Unmarshal(u.Data, &data); err != nil {
			return nil, fmt.Errorf("decode funding output data: %w", err)
		}
	}
	if data.PublicKey != "" {
		return key.SignECDSA(msg)
	}
	return key.Sign(msg)
}
