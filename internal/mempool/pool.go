// Package mempool holds the in-memory set of validated-but-unconfirmed
// transactions eligible for inclusion in the next block.
package mempool

import (
	"errors"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Mempool errors.
var (
	ErrAlreadyExists = errors.New("mempool: transaction already present")
	ErrConflict      = errors.New("mempool: transaction conflicts with a pending transaction")
)

// MaxBytes is the byte budget GetTransactions selects up to: the set an
// honest miner composes a candidate block from, kept under the block
// size ceiling with room for the coinbase.
const MaxBytes = 3900 * 1024

// Verifier is implemented by the ledger engine: Rescan re-runs
// verifyTransaction against a fresh snapshot to decide which pending
// transactions are still valid.
type Verifier interface {
	VerifyPending(txn *storage.WriteTxn, t *tx.Transaction) bool
}

// Pool is the mempool: a map keyed by tx.id plus two conflict indexes —
// inputs[inputId → txId] and outputs[outputId → txId], the latter also
// covering outputIds referenced by inputs so two pending transactions can
// never spend the same UTXO. All three maps share one mutex.
type Pool struct {
	mu      sync.Mutex
	txs     map[types.Hash]*tx.Transaction
	order   []types.Hash // insertion order, for GetTransactions' budget walk
	inputs  map[types.Hash]types.Hash
	outputs map[types.Hash]types.Hash
}

// New builds an empty mempool.
func New() *Pool {
	return &Pool{
		txs:     make(map[types.Hash]*tx.Transaction),
		inputs:  make(map[types.Hash]types.Hash),
		outputs: make(map[types.Hash]types.Hash),
	}
}

// Insert adds t to the pool. Rejects a duplicate id, any input-id clash
// with an already-indexed input, or any referenced/created output-id
// clash. Two concurrently-pending transactions never share an input-id
// or output-id.
func (p *Pool) Insert(t *tx.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := t.ID()
	if err != nil {
		return err
	}
	if _, exists := p.txs[id]; exists {
		return ErrAlreadyExists
	}

	inputIDs := make([]types.Hash, len(t.Inputs))
	for i, in := range t.Inputs {
		inputID, err := in.ID()
		if err != nil {
			return err
		}
		inputIDs[i] = inputID
	}
	referencedOutputIDs := t.ReferencedOutputIDs()
	outputIDs, err := t.OutputIDs()
	if err != nil {
		return err
	}

	for _, in := range inputIDs {
		if _, exists := p.inputs[in]; exists {
			return ErrConflict
		}
	}
	// The outputs index also covers every outputId an input resolves
	// against, so a second transaction spending the same UTXO collides
	// here even though that outputId is not one of its own new outputs.
	for _, ref := range referencedOutputIDs {
		if _, exists := p.outputs[ref]; exists {
			return ErrConflict
		}
	}
	for _, out := range outputIDs {
		if _, exists := p.outputs[out]; exists {
			return ErrConflict
		}
	}

	p.txs[id] = t
	p.order = append(p.order, id)
	for _, in := range inputIDs {
		p.inputs[in] = id
	}
	for _, ref := range referencedOutputIDs {
		p.outputs[ref] = id
	}
	for _, out := range outputIDs {
		p.outputs[out] = id
	}
	return nil
}

// Remove deletes a transaction and unwinds its index entries. A no-op if
// the id is not present.
func (p *Pool) Remove(id types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(id)
}

func (p *Pool) removeLocked(id types.Hash) {
	t, exists := p.txs[id]
	if !exists {
		return
	}
	for _, in := range t.Inputs {
		inputID, err := in.ID()
		if err == nil {
			delete(p.inputs, inputID)
		}
		delete(p.outputs, in.OutputID)
	}
	if outputIDs, err := t.OutputIDs(); err == nil {
		for _, out := range outputIDs {
			delete(p.outputs, out)
		}
	}
	delete(p.txs, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Has reports whether id is pending.
func (p *Pool) Has(id types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.txs[id]
	return exists
}

// Get returns the pending transaction for id, if any.
func (p *Pool) Get(id types.Hash) (*tx.Transaction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, exists := p.txs[id]
	return t, exists
}

// Count returns the number of pending transactions.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// Size returns the total canonical-JSON size of every pending transaction.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, t := range p.txs {
		n, err := t.Size()
		if err != nil {
			continue
		}
		total += n
	}
	return total
}

// GetTransactions returns pending transactions in insertion order, up to
// MaxBytes of total canonical-JSON size — the set generateVerifyingBlock
// draws a candidate from.
func (p *Pool) GetTransactions() []*tx.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]*tx.Transaction, 0, len(p.order))
	budget := MaxBytes
	for _, id := range p.order {
		t, exists := p.txs[id]
		if !exists {
			continue
		}
		n, err := t.Size()
		if err != nil || n > budget {
			continue
		}
		out = append(out, t)
		budget -= n
	}
	return out
}

// Rescan re-verifies every pending transaction against a fresh storage
// transaction and drops those that no longer pass. Run
// after every committed block and after every reorg.
func (p *Pool) Rescan(txn *storage.WriteTxn, verifier Verifier) {
	p.mu.Lock()
	ids := make([]types.Hash, len(p.order))
	copy(ids, p.order)
	snapshot := make(map[types.Hash]*tx.Transaction, len(p.txs))
	for id, t := range p.txs {
		snapshot[id] = t
	}
	p.mu.Unlock()

	var stale []types.Hash
	for _, id := range ids {
		t, ok := snapshot[id]
		if !ok {
			continue
		}
		if !verifier.VerifyPending(txn, t) {
			stale = append(stale, id)
		}
	}

	if len(stale) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range stale {
		p.removeLocked(id)
	}
}
