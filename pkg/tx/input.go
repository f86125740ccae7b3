package tx

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/merkle"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Input validation errors.
var ErrInputDataTooBig = errors.New("input data exceeds size limit")

// AggregateSignature covers multiple inputs whose output public keys are
// summed into a single Schnorr verification key.
type AggregateSignature struct {
	Signs     []uint64 `json:"signs"`
	Signature string   `json:"signature"`
}

// InputData is the decoded shape of Input.Data fields the ledger engine
// inspects directly. Signature and AggregateSignature are mutually
// exclusive with SpendType/PubKeyOrScript/MerkleProof in practice, but all
// are represented so a single Decode covers every spend shape.
type InputData struct {
	Signature          string              `json:"signature,omitempty"`
	AggregateSignature *AggregateSignature `json:"aggregateSignature,omitempty"`
	SpendType          string              `json:"spendType,omitempty"`
	PubKeyOrScript     string              `json:"pubKeyOrScript,omitempty"`
	MerkleProof        *merkle.Proof       `json:"merkleProof,omitempty"`
}

// Input spends a prior output.
type Input struct {
	OutputID types.Hash      `json:"outputId"`
	Data     json.RawMessage `json:"data"`
}

// Decode parses Input.Data into its known fields.
func (in *Input) Decode() (InputData, error) {
	var d InputData
	if len(in.Data) == 0 || string(in.Data) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(in.Data, &d); err != nil {
		return InputData{}, fmt.Errorf("input data: %w", err)
	}
	return d, nil
}

// RawSignature reports whether Data.signature is present as a bare JSON
// string (as opposed to some other, malformed, JSON value). A malformed
// signature field — e.g. a JSON object where a string is required — is a
// protocol violation the caller must reject.
func (in *Input) RawSignature() (sig string, present bool, malformed bool) {
	var probe struct {
		Signature json.RawMessage `json:"signature"`
	}
	if len(in.Data) == 0 {
		return "", false, false
	}
	if err := json.Unmarshal(in.Data, &probe); err != nil {
		return "", false, true
	}
	if len(probe.Signature) == 0 || string(probe.Signature) == "null" {
		return "", false, false
	}
	var s string
	if err := json.Unmarshal(probe.Signature, &s); err != nil {
		return "", true, true
	}
	return s, true, false
}

// ID computes the input's content address: SHA256(outputId || canonical_json(data)).
func (in *Input) ID() (types.Hash, error) {
	canon, err := types.CanonicalJSON(in.Data)
	if err != nil {
		return types.Hash{}, fmt.Errorf("input id: %w", err)
	}
	buf := make([]byte, 0, types.HashSize+len(canon))
	buf = append(buf, in.OutputID[:]...)
	buf = append(buf, canon...)
	return crypto.Hash(buf), nil
}

// dataSize returns the canonical-JSON size of the input's data object.
func (in *Input) dataSize() (int, error) {
	return types.CanonicalJSONSize(in.Data)
}

// Validate checks the input's own invariants (data size and shape).
func (in *Input) Validate() error {
	size, err := types.CanonicalJSONSize(in.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if size > MaxDataSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrInputDataTooBig, size, MaxDataSize)
	}
	if len(in.Data) > 0 && string(in.Data) != "null" {
		var v interface{}
		if err := json.Unmarshal(in.Data, &v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		if _, ok := v.(map[string]interface{}); !ok {
			return ErrInvalidData
		}
	}
	return nil
}
