package tx

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/merkle"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Transaction-level validation errors.
var (
	ErrNoOutputs           = errors.New("transaction has no outputs")
	ErrCoinbaseHasInputs   = errors.New("coinbase transaction must have zero inputs")
	ErrValueOverflow       = errors.New("transaction output value overflows u64")
	ErrTransactionTooLarge = errors.New("transaction exceeds size limit")
	ErrDuplicateOutput     = errors.New("duplicate output id within transaction")
	ErrDuplicateInput      = errors.New("duplicate input outputId within transaction")
)

// MaxTransactionSize is the serialized (canonical-JSON) size ceiling for a
// single transaction.
const MaxTransactionSize = 100 * 1024

// Transaction moves value from a set of spent outputs to a set of new
// outputs.
type Transaction struct {
	Inputs    []Input  `json:"inputs"`
	Outputs   []Output `json:"outputs"`
	Timestamp uint64   `json:"timestamp"`
}

// IsCoinbase reports whether this transaction has no inputs, the
// structural marker of a coinbase transaction.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 0
}

// outputIDs returns every output's id, in the order the outputs appear.
func (t *Transaction) outputIDs() ([]types.Hash, error) {
	ids := make([]types.Hash, len(t.Outputs))
	for i := range t.Outputs {
		id, err := t.Outputs[i].ID()
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// inputIDs returns every input's id, in the order the inputs appear.
func (t *Transaction) inputIDs() ([]types.Hash, error) {
	ids := make([]types.Hash, len(t.Inputs))
	for i := range t.Inputs {
		id, err := t.Inputs[i].ID()
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// OutputIDs exposes outputIDs: the ids of every output this transaction
// creates, used by the mempool's conflict index.
func (t *Transaction) OutputIDs() ([]types.Hash, error) { return t.outputIDs() }

// ReferencedOutputIDs returns the outputId every input spends — the UTXOs
// this transaction consumes, used by the mempool's conflict index. Empty
// for a coinbase transaction.
func (t *Transaction) ReferencedOutputIDs() []types.Hash {
	ids := make([]types.Hash, len(t.Inputs))
	for i, in := range t.Inputs {
		ids[i] = in.OutputID
	}
	return ids
}

// OutputSetID is the merkle root over the sorted set of output ids.
func (t *Transaction) OutputSetID() (types.Hash, error) {
	ids, err := t.outputIDs()
	if err != nil {
		return types.Hash{}, err
	}
	return merkle.MerkleRoot(ids), nil
}

// InputSetRoot is the merkle root over the sorted set of input ids, or the
// zero hash for a coinbase transaction (no inputs).
func (t *Transaction) InputSetRoot() (types.Hash, error) {
	if t.IsCoinbase() {
		return types.Hash{}, nil
	}
	ids, err := t.inputIDs()
	if err != nil {
		return types.Hash{}, err
	}
	return merkle.MerkleRoot(ids), nil
}

// ID computes the transaction's content address:
// SHA256(inputSetRoot || outputSetId || timestamp).
func (t *Transaction) ID() (types.Hash, error) {
	inputRoot, err := t.InputSetRoot()
	if err != nil {
		return types.Hash{}, err
	}
	outputRoot, err := t.OutputSetID()
	if err != nil {
		return types.Hash{}, err
	}
	buf := make([]byte, 0, types.HashSize*2+8)
	buf = append(buf, inputRoot[:]...)
	buf = append(buf, outputRoot[:]...)
	buf = binary.BigEndian.AppendUint64(buf, t.Timestamp)
	return crypto.Hash(buf), nil
}

// Size returns the canonical-JSON serialized size of the transaction, the
// quantity bounded at 100 KiB.
func (t *Transaction) Size() (int, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return 0, fmt.Errorf("marshal transaction: %w", err)
	}
	canon, err := types.CanonicalJSON(raw)
	if err != nil {
		return 0, fmt.Errorf("canonicalize transaction: %w", err)
	}
	return len(canon), nil
}

// Validate checks the transaction's structural invariants: non-empty
// outputs, no value overflow, size ceiling, coinbase shape, and pairwise
// uniqueness of output ids and input outputIds within the transaction.
// It does NOT check signatures, UTXO existence, or fees — those require
// chain state and are the ledger engine's verifyTransaction.
func (t *Transaction) Validate() error {
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}

	var total uint64
	for i, out := range t.Outputs {
		if err := out.Validate(); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		if total > math.MaxUint64-out.Value {
			return ErrValueOverflow
		}
		total += out.Value
	}

	for i, in := range t.Inputs {
		if err := in.Validate(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}

	if t.IsCoinbase() && len(t.Inputs) != 0 {
		return ErrCoinbaseHasInputs
	}

	size, err := t.Size()
	if err != nil {
		return err
	}
	if size > MaxTransactionSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrTransactionTooLarge, size, MaxTransactionSize)
	}

	if err := t.checkUniqueIDs(); err != nil {
		return err
	}

	return nil
}

// checkUniqueIDs verifies every output id and every input outputId is
// unique within the transaction.
func (t *Transaction) checkUniqueIDs() error {
	seenOutputs := make(map[types.Hash]struct{}, len(t.Outputs))
	for i, out := range t.Outputs {
		id, err := out.ID()
		if err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
		if _, exists := seenOutputs[id]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateOutput, id)
		}
		seenOutputs[id] = struct{}{}
	}

	seenInputs := make(map[types.Hash]struct{}, len(t.Inputs))
	for _, in := range t.Inputs {
		if _, exists := seenInputs[in.OutputID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateInput, in.OutputID)
		}
		seenInputs[in.OutputID] = struct{}{}
	}
	return nil
}
