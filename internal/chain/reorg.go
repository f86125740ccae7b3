package chain

import (
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// reorgChain rewinds the main chain down to the fork point shared with
// newTipParent's ancestry, then replays the candidate chain back onto the
// main chain in order. newTipParent is the
// previousBlockId of the block triggering the reorg, so it is itself part
// of the chain being promoted.
func (c *Chain) reorgChain(txn *storage.WriteTxn, newTipParent types.Hash) error {
	var stack []*block.Block

	cursor := newTipParent
	forkPoint := types.Hash{}
	forkFound := false
	for {
		if has, err := txn.Has(c.blocks, -1, cursor.String()); err != nil {
			return err
		} else if has {
			forkPoint = cursor
			forkFound = true
			break
		}
		blk, err := c.getBlock(txn, cursor)
		if err != nil {
			return fmt.Errorf("reorg: ancestor %s not found: %w", cursor, err)
		}
		stack = append(stack, blk)
		cursor = blk.PreviousBlockID
	}
	if !forkFound {
		return fmt.Errorf("reorg: no fork point found")
	}

	tip, err := c.tip(txn)
	if err != nil {
		return fmt.Errorf("reorg: %w", err)
	}
	for {
		tipID, err := tip.ID()
		if err != nil {
			return err
		}
		if tipID == forkPoint {
			break
		}
		if err := c.reverseBlock(txn, tip); err != nil {
			return err
		}
		tip, err = c.tip(txn)
		if err != nil {
			return fmt.Errorf("reorg: %w", err)
		}
	}

	for i := len(stack) - 1; i >= 0; i-- {
		blk := stack[i]
		accepted, _, err := c.submitBlockLocked(txn, blk, false)
		if err != nil {
			return fmt.Errorf("reorg: replay: %w", err)
		}
		if !accepted {
			return fmt.Errorf("reorg: replayed block %d rejected on replay", blk.Height)
		}
	}
	return nil
}

// reverseBlock undoes blk's effects and demotes it from the blocks table
// to candidates, rewinding the tip pointer to its parent.
func (c *Chain) reverseBlock(txn *storage.WriteTxn, blk *block.Block) error {
	id, err := blk.ID()
	if err != nil {
		return err
	}

	all := blk.AllTransactions()
	for i := len(all) - 1; i >= 0; i-- {
		if err := c.reverseTransaction(txn, all[i]); err != nil {
			return err
		}
	}

	raw, err := encodeBlock(blk)
	if err != nil {
		return err
	}
	txn.Erase(c.blocks, -1, id.String())
	txn.Put(c.candidates, -1, id.String(), raw)
	txn.Erase(c.blocks, 0, heightKey(blk.Height))
	txn.Put(c.blocks, -1, tipKey, []byte(blk.PreviousBlockID.String()))
	return nil
}

// reverseTransaction undoes t's confirmation effects: its created outputs
// disappear from the UTXO set, its spent inputs' outputs move back from
// STXO to UTXO, and — for a non-coinbase transaction — it is pushed back
// into the mempool unconditionally, relying on the reorg's subsequent
// rescanMempool to prune whatever no longer verifies under the new tip.
func (c *Chain) reverseTransaction(txn *storage.WriteTxn, t *tx.Transaction) error {
	id, err := t.ID()
	if err != nil {
		return err
	}

	outputIDs, err := t.OutputIDs()
	if err != nil {
		return err
	}
	for _, outID := range outputIDs {
		out, _, err := c.getOutput(txn, outID)
		if err != nil {
			return fmt.Errorf("reverse: output %s: %w", outID, err)
		}
		txn.Erase(c.utxos, -1, outID.String())
		if pubKey, ok := ownerPubKey(&out.Output); ok {
			txn.Erase(c.utxos, 0, pubkeyIndexKey(pubKey, outID))
		}
	}

	for _, in := range t.Inputs {
		out, _, err := c.getOutput(txn, in.OutputID)
		if err != nil {
			return fmt.Errorf("reverse: input %s: %w", in.OutputID, err)
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		txn.Erase(c.stxos, -1, in.OutputID.String())
		txn.Put(c.utxos, -1, in.OutputID.String(), raw)

		if pubKey, ok := ownerPubKey(&out.Output); ok {
			txn.Erase(c.stxos, 0, pubkeyIndexKey(pubKey, in.OutputID))
			txn.Put(c.utxos, 0, pubkeyIndexKey(pubKey, in.OutputID), nil)
		}

		inputID, ierr := in.ID()
		if ierr == nil {
			txn.Erase(c.inputs, -1, inputID.String())
		}
	}

	txn.Erase(c.transactions, -1, id.String())

	if !t.IsCoinbase() {
		_ = c.mempool.Insert(t)
	}
	return nil
}
