// Package block defines the Block type: the unit of chain commitment
// wrapping a coinbase transaction, a set of ordinary transactions, and
// the consensus engine's opaque consensus data.
package block

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/merkle"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// Block is a committed or candidate unit of the chain. ConsensusData is
// deliberately excluded from ID: a consensus engine may rewrite it in
// place (e.g. to record totalWork) without renaming the block.
type Block struct {
	Transactions    []*tx.Transaction `json:"transactions"`
	CoinbaseTx      *tx.Transaction   `json:"coinbaseTx"`
	PreviousBlockID types.Hash        `json:"previousBlockId"`
	Timestamp       uint64            `json:"timestamp"`
	ConsensusData   json.RawMessage   `json:"consensusData"`
	Height          uint64            `json:"height"`
	Data            json.RawMessage   `json:"data"`
}

// NewBlock builds a block from a coinbase transaction and the rest of its
// transactions.
func NewBlock(coinbase *tx.Transaction, txs []*tx.Transaction, previousBlockID types.Hash, height uint64, timestamp uint64) *Block {
	return &Block{
		Transactions:    txs,
		CoinbaseTx:      coinbase,
		PreviousBlockID: previousBlockID,
		Timestamp:       timestamp,
		Height:          height,
	}
}

// TransactionMerkleRoot is the merkle root over every non-coinbase
// transaction's id (zero hash if the block carries only a coinbase).
func (b *Block) TransactionMerkleRoot() (types.Hash, error) {
	ids := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		id, err := t.ID()
		if err != nil {
			return types.Hash{}, fmt.Errorf("tx %d: %w", i, err)
		}
		ids[i] = id
	}
	return merkle.MerkleRoot(ids), nil
}

// ID computes the block's content address:
// SHA256(transactionMerkleRoot || coinbaseTx.id || previousBlockId || timestamp || canonical_json(data)).
func (b *Block) ID() (types.Hash, error) {
	if b.CoinbaseTx == nil {
		return types.Hash{}, ErrNilCoinbase
	}
	txRoot, err := b.TransactionMerkleRoot()
	if err != nil {
		return types.Hash{}, err
	}
	coinbaseID, err := b.CoinbaseTx.ID()
	if err != nil {
		return types.Hash{}, fmt.Errorf("coinbase: %w", err)
	}
	dataCanon, err := types.CanonicalJSON(b.Data)
	if err != nil {
		return types.Hash{}, fmt.Errorf("data: %w", err)
	}

	buf := make([]byte, 0, types.HashSize*3+8+len(dataCanon))
	buf = append(buf, txRoot[:]...)
	buf = append(buf, coinbaseID[:]...)
	buf = append(buf, b.PreviousBlockID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, b.Timestamp)
	buf = append(buf, dataCanon...)
	return crypto.Hash(buf), nil
}

// AllTransactions returns the coinbase transaction followed by the rest,
// the order the ledger engine confirms transactions in.
func (b *Block) AllTransactions() []*tx.Transaction {
	all := make([]*tx.Transaction, 0, len(b.Transactions)+1)
	if b.CoinbaseTx != nil {
		all = append(all, b.CoinbaseTx)
	}
	all = append(all, b.Transactions...)
	return all
}

// Size returns the canonical-JSON serialized size of the block.
func (b *Block) Size() (int, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return 0, fmt.Errorf("marshal block: %w", err)
	}
	canon, err := types.CanonicalJSON(raw)
	if err != nil {
		return 0, fmt.Errorf("canonicalize block: %w", err)
	}
	return len(canon), nil
}
