package chain

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// SubmitTransaction validates t and, if it passes, admits it to the
// mempool. accepted is false whenever t did not enter
// the mempool; wasMalformed distinguishes a protocol-violating input from
// a merely-stale one (e.g. an input already spent by a concurrent
// transaction).
func (c *Chain) SubmitTransaction(t *tx.Transaction) (accepted bool, wasMalformed bool, err error) {
	if verr := t.Validate(); verr != nil {
		return false, true, nil
	}

	id, err := t.ID()
	if err != nil {
		return false, true, nil
	}
	if c.mempool.Has(id) {
		return false, false, nil
	}

	txn := c.store.Begin()
	ok, malformed, verr := c.verifyTransaction(txn, t, t.IsCoinbase())
	if verr != nil {
		txn.Abort()
		return false, false, verr
	}
	if !ok {
		txn.Abort()
		return false, malformed, nil
	}

	if serr := c.consensus.SubmitTransaction(txn, t); serr != nil {
		txn.Abort()
		return false, true, nil
	}

	if ierr := c.mempool.Insert(t); ierr != nil {
		txn.Abort()
		return false, false, nil
	}

	if cerr := txn.Commit(); cerr != nil {
		c.mempool.Remove(id)
		return false, false, cerr
	}
	return true, false, nil
}

// VerifyPending implements mempool.Verifier: it re-runs the same
// validation a pending transaction passed on insertion, against the
// current chain state, so Rescan can prune what a new block or reorg
// invalidated.
func (c *Chain) VerifyPending(txn *storage.WriteTxn, t *tx.Transaction) bool {
	ok, _, err := c.verifyTransaction(txn, t, t.IsCoinbase())
	return err == nil && ok
}

// rescanMempool re-verifies every pending transaction against the latest
// committed state. Run after every successful SubmitBlock.
func (c *Chain) rescanMempool() {
	txn := c.store.Begin()
	defer txn.Abort()
	c.mempool.Rescan(txn, c)
}

// calculateTransactionFee resolves the actual value surplus t pays,
// looking up each input's referenced output from the UTXO set visible
// through txn. Coinbase transactions pay no fee.
func (c *Chain) calculateTransactionFee(txn *storage.WriteTxn, t *tx.Transaction) (uint64, error) {
	if t.IsCoinbase() {
		return 0, nil
	}
	var totalIn, totalOut uint64
	for _, in := range t.Inputs {
		raw, ok, err := txn.Get(c.utxos, -1, in.OutputID.String())
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("%w: output %s", ErrNotFound, in.OutputID)
		}
		out, err := decodeDBOutput(raw)
		if err != nil {
			return 0, err
		}
		totalIn += out.Value
	}
	for _, out := range t.Outputs {
		totalOut += out.Value
	}
	if totalOut > totalIn {
		return 0, fmt.Errorf("chain: transaction outputs exceed inputs")
	}
	return totalIn - totalOut, nil
}

// SubmitBlock validates and, if accepted, commits blk — extending the main
// chain directly, or triggering a reorg if blk's chain is judged better by
// consensus.IsBlockBetter. isGenesis skips the
// previous-block lookup for the height-1 bootstrap block.
func (c *Chain) SubmitBlock(blk *block.Block, isGenesis bool) (accepted bool, wasMalformed bool, err error) {
	txn := c.store.Begin()
	accepted, wasMalformed, err = c.submitBlockLocked(txn, blk, isGenesis)
	if err != nil || !accepted {
		txn.Abort()
		// A failed reorg attempt rolls the store back, but any reversed
		// transactions it pushed into the mempool stay there; the rescan
		// prunes them against the (unchanged) committed state.
		c.rescanMempool()
		return accepted, wasMalformed, err
	}
	if cerr := txn.Commit(); cerr != nil {
		return false, false, cerr
	}

	if blk.Height == 1 {
		if id, ierr := blk.ID(); ierr == nil {
			c.setGenesisID(id)
		}
	}
	c.rescanMempool()
	return true, false, nil
}

// submitBlockLocked runs the full submitBlock algorithm against an
// already-open txn without managing its lifecycle, so reorgChain can reuse
// it to replay blocks being restored to the main chain.
func (c *Chain) submitBlockLocked(txn *storage.WriteTxn, blk *block.Block, isGenesis bool) (accepted bool, wasMalformed bool, err error) {
	if verr := blk.Validate(); verr != nil {
		return false, true, nil
	}

	id, err := blk.ID()
	if err != nil {
		return false, true, nil
	}

	// Idempotency is checked against the committed blocks table only: a
	// block legitimately starts life in candidates during replay and must
	// still be processed here.
	if has, herr := txn.Has(c.blocks, -1, id.String()); herr != nil {
		return false, false, herr
	} else if has {
		return false, false, nil
	}

	var prev *block.Block
	if !isGenesis {
		prev, err = c.getBlock(txn, blk.PreviousBlockID)
		if err != nil {
			return false, true, nil
		}
		if blk.Height != prev.Height+1 {
			return false, true, nil
		}
	} else if !blk.PreviousBlockID.IsZero() {
		return false, true, nil
	}

	if cerr := c.consensus.CheckConsensusRules(txn, blk, prev); cerr != nil {
		return false, true, nil
	}

	if !isGenesis {
		tip, terr := c.tip(txn)
		if terr != nil {
			return false, false, fmt.Errorf("%w: chain has no tip", ErrGenesisMissing)
		}
		tipID, terr := tip.ID()
		if terr != nil {
			return false, false, terr
		}

		if blk.PreviousBlockID != tipID {
			better, berr := c.consensus.IsBlockBetter(txn, blk, tip)
			if berr != nil {
				return false, false, berr
			}
			if !better {
				if serr := c.saveCandidate(txn, blk, id); serr != nil {
					return false, false, serr
				}
				return true, false, nil
			}
			if rerr := c.reorgChain(txn, blk.PreviousBlockID); rerr != nil {
				return false, false, rerr
			}
		}
	}

	return c.commitBlockPath(txn, blk, id)
}

// saveCandidate stores a valid-but-not-better block off the main chain, so
// it can later become a reorg target if a descendant proves better.
func (c *Chain) saveCandidate(txn *storage.WriteTxn, blk *block.Block, id types.Hash) error {
	raw, err := encodeBlock(blk)
	if err != nil {
		return err
	}
	txn.Put(c.candidates, -1, id.String(), raw)
	return nil
}

// verifyResult pairs a transaction with its verification outcome, produced
// concurrently by commitBlockPath's fan-out.
type verifyResult struct {
	t         *tx.Transaction
	accepted  bool
	malformed bool
	err       error
}

// commitBlockPath verifies and confirms every transaction in blk and
// writes the block itself as the new tip. It assumes blk has already
// passed header-level and fork-choice checks.
func (c *Chain) commitBlockPath(txn *storage.WriteTxn, blk *block.Block, id types.Hash) (accepted bool, wasMalformed bool, err error) {
	all := blk.AllTransactions()

	// Verification only reads txn's buffer, so it is safe to fan the
	// per-transaction checks out across goroutines; confirmation below,
	// which writes, stays strictly sequential.
	results := make([]verifyResult, len(all))
	var wg sync.WaitGroup
	for i, t := range all {
		wg.Add(1)
		go func(i int, t *tx.Transaction) {
			defer wg.Done()
			ok, malformed, verr := c.verifyTransaction(txn, t, t.IsCoinbase())
			results[i] = verifyResult{t: t, accepted: ok, malformed: malformed, err: verr}
		}(i, t)
	}
	wg.Wait()

	var totalFees uint64
	for _, r := range results {
		if r.err != nil {
			return false, false, r.err
		}
		if !r.accepted {
			return false, r.malformed, nil
		}
		if !r.t.IsCoinbase() {
			fee, ferr := c.calculateTransactionFee(txn, r.t)
			if ferr != nil {
				return false, false, ferr
			}
			totalFees += fee
		}
	}

	var coinbaseValue uint64
	for _, out := range blk.CoinbaseTx.Outputs {
		coinbaseValue += out.Value
	}
	if coinbaseValue > totalFees+c.reward(blk.Height) {
		return false, true, nil
	}

	if serr := c.consensus.SubmitBlock(txn, blk); serr != nil {
		return false, true, nil
	}

	for _, t := range all {
		if cerr := c.confirmTransaction(txn, t, id, t.IsCoinbase()); cerr != nil {
			return false, false, cerr
		}
	}

	raw, err := encodeBlock(blk)
	if err != nil {
		return false, false, err
	}
	txn.Put(c.blocks, -1, id.String(), raw)
	txn.Put(c.blocks, -1, tipKey, []byte(id.String()))
	txn.Put(c.blocks, 0, heightKey(blk.Height), []byte(id.String()))
	txn.Erase(c.candidates, -1, id.String())

	return true, false, nil
}
