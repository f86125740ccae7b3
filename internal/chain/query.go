package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// GetBlock returns the committed or candidate block identified by id.
func (c *Chain) GetBlock(id types.Hash) (*block.Block, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return c.getBlock(r, id)
}

func (c *Chain) getBlock(r reader, id types.Hash) (*block.Block, error) {
	raw, ok, err := r.Get(c.blocks, -1, id.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		raw, ok, err = r.Get(c.candidates, -1, id.String())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: block %s", ErrNotFound, id)
		}
	}
	return decodeBlock(raw)
}

// GetBlockByHeight returns the main-chain block at height h.
func (c *Chain) GetBlockByHeight(h uint64) (*block.Block, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	idHex, ok, err := r.Get(c.blocks, 0, heightKey(h))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: height %d", ErrNotFound, h)
	}
	id, err := types.HexToHash(string(idHex))
	if err != nil {
		return nil, fmt.Errorf("height index: %w", err)
	}
	return c.getBlock(r, id)
}

// Tip returns the current main-chain tip block, or ErrNotFound if the
// chain has not been bootstrapped yet.
func (c *Chain) Tip() (*block.Block, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return c.tip(r)
}

func (c *Chain) tip(r reader) (*block.Block, error) {
	idHex, ok, err := r.Get(c.blocks, -1, tipKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no tip", ErrNotFound)
	}
	id, err := types.HexToHash(string(idHex))
	if err != nil {
		return nil, fmt.Errorf("tip: %w", err)
	}
	return c.getBlock(r, id)
}

// GetTransaction returns the confirmed-transaction projection for id.
func (c *Chain) GetTransaction(id types.Hash) (*dbTransaction, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return c.getTransaction(r, id)
}

func (c *Chain) getTransaction(r reader, id types.Hash) (*dbTransaction, error) {
	raw, ok, err := r.Get(c.transactions, -1, id.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	var dt dbTransaction
	if err := json.Unmarshal(raw, &dt); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return &dt, nil
}

// GetOutput returns the output identified by id, from either the UTXO or
// STXO table.
func (c *Chain) GetOutput(id types.Hash) (*dbOutput, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, _, err := c.getOutput(r, id)
	return out, err
}

// getOutput looks up id in UTXO first, then STXO, returning which table it
// was found in (spent=true means STXO).
func (c *Chain) getOutput(r reader, id types.Hash) (*dbOutput, bool, error) {
	raw, ok, err := r.Get(c.utxos, -1, id.String())
	if err != nil {
		return nil, false, err
	}
	if ok {
		out, err := decodeDBOutput(raw)
		return out, false, err
	}
	raw, ok, err = r.Get(c.stxos, -1, id.String())
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, fmt.Errorf("%w: output %s", ErrNotFound, id)
	}
	out, err := decodeDBOutput(raw)
	return out, true, err
}

func decodeDBOutput(raw []byte) (*dbOutput, error) {
	var out dbOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return &out, nil
}

// GetInput returns the confirmed input identified by id.
func (c *Chain) GetInput(id types.Hash) (*tx.Input, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	raw, ok, err := r.Get(c.inputs, -1, id.String())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: input %s", ErrNotFound, id)
	}
	var in tx.Input
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	return &in, nil
}

// pubkeyIndexKey builds the secondary-index userKey "pubKey||outputId"
// the utxos/stxos tables keep for wallet ownership lookups.
func pubkeyIndexKey(pubKey []byte, outputID types.Hash) string {
	return base64.StdEncoding.EncodeToString(pubKey) + outputID.String()
}

// GetUnspentOutputs returns every UTXO owned by pubKey (i.e. whose
// output.data carries it as publicKey or schnorrKey).
func (c *Chain) GetUnspentOutputs(pubKey []byte) ([]*dbOutput, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return c.outputsByOwner(r, c.utxos, pubKey)
}

// GetSpentOutputs returns every STXO owned by pubKey.
func (c *Chain) GetSpentOutputs(pubKey []byte) ([]*dbOutput, error) {
	r, err := c.store.BeginReadOnly()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return c.outputsByOwner(r, c.stxos, pubKey)
}

func (c *Chain) outputsByOwner(r reader, table storage.Table, pubKey []byte) ([]*dbOutput, error) {
	prefix := base64.StdEncoding.EncodeToString(pubKey)
	entries, err := r.Iterator(table, 0, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*dbOutput, 0, len(entries))
	for _, kv := range entries {
		id := kv.Key[len(prefix):]
		outputID, err := types.HexToHash(id)
		if err != nil {
			continue
		}
		raw, ok, err := r.Get(table, -1, outputID.String())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		dbOut, err := decodeDBOutput(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, dbOut)
	}
	return out, nil
}

// reader is the subset of storage.WriteTxn/storage.ReadTxn the query
// helpers need, so one implementation serves both a committed-state read
// and an in-progress write transaction's buffered view.
type reader interface {
	Get(table storage.Table, index int, userKey string) ([]byte, bool, error)
	Has(table storage.Table, index int, userKey string) (bool, error)
	Iterator(table storage.Table, index int, userKeyPrefix string) ([]storage.KV, error)
}

// BlockByID implements consensus.BlockSource: KGW's backward scan must
// follow candidate blocks too, since the block under validation may not
// yet be on the main chain.
func (c *Chain) BlockByID(txn *storage.WriteTxn, id types.Hash) (*block.Block, error) {
	return c.getBlock(txn, id)
}

// chainReader adapts a Chain plus an open transaction into the
// contract.ChainReader a running contract's Blockchain global sees.
type chainReader struct {
	c   *Chain
	r   reader
}

func (cr chainReader) GetBlock(id types.Hash) (json.RawMessage, bool) {
	blk, err := cr.c.getBlock(cr.r, id)
	if err != nil {
		return nil, false
	}
	raw, err := encodeBlock(blk)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (cr chainReader) GetTransaction(id types.Hash) (json.RawMessage, bool) {
	dt, err := cr.c.getTransaction(cr.r, id)
	if err != nil {
		return nil, false
	}
	raw, err := json.Marshal(dt)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (cr chainReader) GetOutput(id types.Hash) (json.RawMessage, bool) {
	out, _, err := cr.c.getOutput(cr.r, id)
	if err != nil {
		return nil, false
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (cr chainReader) GetInput(id types.Hash) (json.RawMessage, bool) {
	raw, ok, err := cr.r.Get(cr.c.inputs, -1, id.String())
	if err != nil || !ok {
		return nil, false
	}
	return raw, true
}
