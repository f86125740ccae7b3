package block

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Validation errors.
var (
	ErrNilCoinbase         = errors.New("block has nil coinbase transaction")
	ErrCoinbaseNotCoinbase = errors.New("block's coinbaseTx is not a coinbase transaction")
	ErrNoOutputs           = errors.New("block has no transactions and no coinbase outputs")
	ErrBlockTooLarge       = errors.New("block exceeds size limit")
	ErrBlockDataTooBig     = errors.New("block data exceeds size limit")
	ErrBlockDataInvalid    = errors.New("block data must be a JSON object or null")
	ErrDuplicateOutput     = errors.New("duplicate output id across transactions in block")
	ErrDuplicateInput      = errors.New("duplicate input outputId across transactions in block")
)

// MaxBlockSize is the canonical-JSON serialized size ceiling for a whole
// block.
const MaxBlockSize = 4 * 1024 * 1024

// MaxBlockDataSize is the canonical-JSON size ceiling for Block.Data.
const MaxBlockDataSize = 100 * 1024

// Validate checks the block's own structural invariants: coinbase shape,
// size ceilings, and pairwise-unique output/input ids across every
// contained transaction including the coinbase. It does not check
// consensus rules (target, fork-choice) or ledger state (UTXO existence) —
// those belong to the consensus engine and the ledger engine respectively.
func (b *Block) Validate() error {
	if b.CoinbaseTx == nil {
		return ErrNilCoinbase
	}
	if !b.CoinbaseTx.IsCoinbase() {
		return ErrCoinbaseNotCoinbase
	}
	if err := b.CoinbaseTx.Validate(); err != nil {
		return fmt.Errorf("coinbase: %w", err)
	}
	if len(b.CoinbaseTx.Outputs) == 0 {
		return ErrNoOutputs
	}

	for i, t := range b.Transactions {
		if t.IsCoinbase() {
			return fmt.Errorf("tx %d: %w", i, ErrCoinbaseNotCoinbase)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tx %d: %w", i, err)
		}
	}

	if err := b.validateData(); err != nil {
		return err
	}

	if err := b.checkUniqueIDs(); err != nil {
		return err
	}

	size, err := b.Size()
	if err != nil {
		return err
	}
	if size > MaxBlockSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockTooLarge, size, MaxBlockSize)
	}

	return nil
}

func (b *Block) validateData() error {
	size, err := types.CanonicalJSONSize(b.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockDataInvalid, err)
	}
	if size > MaxBlockDataSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrBlockDataTooBig, size, MaxBlockDataSize)
	}
	if len(b.Data) == 0 || string(b.Data) == "null" {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(b.Data, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrBlockDataInvalid, err)
	}
	if _, ok := v.(map[string]interface{}); !ok {
		return ErrBlockDataInvalid
	}
	return nil
}

// checkUniqueIDs verifies every output id and every input outputId is
// unique across all transactions in the block, coinbase included.
func (b *Block) checkUniqueIDs() error {
	seenOutputs := make(map[types.Hash]struct{})
	seenInputs := make(map[types.Hash]struct{})

	for _, t := range b.AllTransactions() {
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
		for _, in := range t.Inputs {
			if _, exists := seenInputs[in.OutputID]; exists {
				return fmt.Errorf("%w: %s", ErrDuplicateInput, in.OutputID)
			}
			seenInputs[in.OutputID] = struct{}{}
		}
	}
	return nil
}
