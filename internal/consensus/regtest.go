package consensus

import (
	"encoding/json"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Regtest is a deterministic, workless Engine for tests: fork choice reads
// a plain "isBetter" boolean out of the candidate's consensus data instead
// of computing real work, CheckConsensusRules never rejects a block, and
// GenerateConsensusData emits an empty object. It exercises the exact
// full Engine contract the pluggable interface promises, without
// the nondeterminism of real mining or voting.
type Regtest struct{}

// regtestConsensusData is the consensus-data shape a Regtest candidate
// carries: an explicit verdict for fork choice, set by whoever builds the
// test block, rather than derived from accumulated work.
type regtestConsensusData struct {
	IsBetter bool `json:"isBetter"`
}

// NewRegtest builds a Regtest engine.
func NewRegtest() *Regtest { return &Regtest{} }

// IsBlockBetter defers entirely to candidate.ConsensusData.isBetter. A
// candidate with no consensus data, or one that fails to decode, is never
// better than an existing tip.
func (Regtest) IsBlockBetter(_ *storage.WriteTxn, candidate, tip *block.Block) (bool, error) {
	if tip == nil {
		return true, nil
	}
	var data regtestConsensusData
	if len(candidate.ConsensusData) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(candidate.ConsensusData, &data); err != nil {
		return false, nil
	}
	return data.IsBetter, nil
}

// CheckConsensusRules never rejects a block: regtest carries no
// header-level consensus rule beyond what pkg/block.Validate already
// checks.
func (Regtest) CheckConsensusRules(_ *storage.WriteTxn, _, _ *block.Block) error {
	return nil
}

// GenerateConsensusData returns an empty JSON object; regtest blocks carry
// no consensus payload.
func (Regtest) GenerateConsensusData(_ *storage.WriteTxn, _ types.Hash, _ []byte) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (Regtest) VerifyTransaction(*storage.WriteTxn, *tx.Transaction) error  { return nil }
func (Regtest) ConfirmTransaction(*storage.WriteTxn, *tx.Transaction) error { return nil }
func (Regtest) SubmitTransaction(*storage.WriteTxn, *tx.Transaction) error  { return nil }
func (Regtest) SubmitBlock(*storage.WriteTxn, *block.Block) error          { return nil }

// Start is a no-op: regtest has no background worker.
func (Regtest) Start() error { return nil }
