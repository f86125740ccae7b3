// Package tx defines the transaction data model: outputs, inputs,
// transactions, and their canonical hashing and structural validation.
package tx

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Output-level validation errors.
var (
	ErrZeroValue   = errors.New("output value must be >= 1")
	ErrDataTooBig  = errors.New("output data exceeds size limit")
	ErrInvalidData = errors.New("output data must be a JSON object or null")
)

// MaxDataSize bounds the canonical-JSON size of an Output's or Input's data
// object, required so a single
// pathological output/input can't alone exceed the block size ceiling;
// generous relative to the 100 KiB per-transaction cap.
const MaxDataSize = 16 * 1024

// Output is an unspent/spent transfer target. Its Data object may carry
// publicKey (ECDSA), schnorrKey (Schnorr), merkleRoot (pay-to-merkle-root),
// or contract (sandboxed predicate) — combinations are explicit: a
// contract field suppresses keyed checks on the same output.
type Output struct {
	Value uint64          `json:"value"`
	Nonce uint64          `json:"nonce"`
	Data  json.RawMessage `json:"data"`
}

// OutputData is the decoded shape of Output.Data fields the ledger engine
// and contract evaluator inspect directly.
type OutputData struct {
	PublicKey  string `json:"publicKey,omitempty"`
	SchnorrKey string `json:"schnorrKey,omitempty"`
	MerkleRoot string `json:"merkleRoot,omitempty"`
	Contract   string `json:"contract,omitempty"`
}

// Decode parses Output.Data into its known fields. An empty/null Data is a
// valid, keyless output (spendable by a contract-free input only if the
// chain's consensus rules otherwise permit it).
func (o *Output) Decode() (OutputData, error) {
	var d OutputData
	if len(o.Data) == 0 || string(o.Data) == "null" {
		return d, nil
	}
	if err := json.Unmarshal(o.Data, &d); err != nil {
		return OutputData{}, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return d, nil
}

// ID computes the output's content address:
// SHA256(value || nonce || canonical_json(data)).
func (o *Output) ID() (types.Hash, error) {
	canon, err := types.CanonicalJSON(o.Data)
	if err != nil {
		return types.Hash{}, fmt.Errorf("output id: %w", err)
	}
	buf := make([]byte, 0, 16+len(canon))
	buf = binary.BigEndian.AppendUint64(buf, o.Value)
	buf = binary.BigEndian.AppendUint64(buf, o.Nonce)
	buf = append(buf, canon...)
	return crypto.Hash(buf), nil
}

// dataSize returns the canonical-JSON size of the output's data object.
func (o *Output) dataSize() (int, error) {
	return types.CanonicalJSONSize(o.Data)
}

// Validate checks the output's own invariants (value and data size).
// Uniqueness of the resulting ID within a transaction/block is checked by
// the containing Transaction/Block, since it requires sibling context.
func (o *Output) Validate() error {
	if o.Value == 0 {
		return ErrZeroValue
	}
	size, err := types.CanonicalJSONSize(o.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if size > MaxDataSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrDataTooBig, size, MaxDataSize)
	}
	if len(o.Data) > 0 && string(o.Data) != "null" {
		var v interface{}
		if err := json.Unmarshal(o.Data, &v); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		if _, ok := v.(map[string]interface{}); !ok {
			return ErrInvalidData
		}
	}
	return nil
}
