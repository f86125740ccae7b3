// Package consensus defines the pluggable consensus interface the ledger
// engine drives fork choice and per-block/per-tx rule checks through
// plus the reference PoW/KGW implementation.
package consensus

import (
	"encoding/json"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Engine is a trait-like consensus interface. The ledger engine owns
// exactly one Engine value and calls these fixed operations; everything
// protocol-specific (difficulty, voting, staking) lives behind it.
type Engine interface {
	// IsBlockBetter gives a deterministic total order between candidate
	// and the current tip for fork-choice purposes.
	IsBlockBetter(txn *storage.WriteTxn, candidate, tip *block.Block) (bool, error)

	// CheckConsensusRules verifies blk's header-level rules against prev
	// (prev is nil only for genesis). It may mutate blk.ConsensusData in
	// place (e.g. to fill in a recomputed target/total work); that
	// mutation never changes blk.ID() since ConsensusData is excluded
	// from the block hash.
	CheckConsensusRules(txn *storage.WriteTxn, blk, prev *block.Block) error

	// GenerateConsensusData produces the initial consensus data for a
	// candidate block extending prevID.
	GenerateConsensusData(txn *storage.WriteTxn, prevID types.Hash, pubKey []byte) (json.RawMessage, error)

	// VerifyTransaction is consensus's last word on a transaction, called
	// after the ledger's own verifyTransaction steps succeed.
	VerifyTransaction(txn *storage.WriteTxn, t *tx.Transaction) error

	// ConfirmTransaction runs on confirmation; failures are logged but do
	// not abort the commit; the chain rule has already accepted it.
	ConfirmTransaction(txn *storage.WriteTxn, t *tx.Transaction) error

	// SubmitTransaction is a last-chance hook before a transaction enters
	// the mempool.
	SubmitTransaction(txn *storage.WriteTxn, t *tx.Transaction) error

	// SubmitBlock is the last chance to reject a block immediately before
	// commit.
	SubmitBlock(txn *storage.WriteTxn, blk *block.Block) error

	// Start launches any background worker (mining, voting). A no-op
	// engine may return immediately.
	Start() error
}
