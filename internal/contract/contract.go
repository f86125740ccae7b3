// Package contract implements the sandboxed bytecode evaluator that backs
// pay-to-contract outputs. Contract source, wherever it's authored, is
// compiled once to the Op stream defined here and stored base64-encoded
// under an output's data.contract field; this package only ever sees the
// decoded bytecode.
package contract

import (
	"encoding/json"

	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Resource ceilings enforced by the sandbox.
const (
	MaxMemoryBytes  = 10 * 1024 * 1024
	MaxInstructions = 100_000_000
)

// ChainReader is the read-only, snapshot-consistent view of chain state a
// contract's Blockchain global exposes. The ledger engine implements this
// over the same storage transaction that is validating the spending
// transaction, so a contract never observes state outside that snapshot.
type ChainReader interface {
	GetBlock(id types.Hash) (json.RawMessage, bool)
	GetTransaction(id types.Hash) (json.RawMessage, bool)
	GetOutput(id types.Hash) (json.RawMessage, bool)
	GetInput(id types.Hash) (json.RawMessage, bool)
}

// Context supplies a contract run's read-only globals: txJson, thisInputJson,
// outputSetId, and a Blockchain reader. Crypto operations (sha256, sign
// verification) are built into the evaluator itself rather than threaded
// through Context, since they require no external state.
type Context struct {
	TxJSON        json.RawMessage
	ThisInputJSON json.RawMessage
	OutputSetID   types.Hash
	Chain         ChainReader
}
