package chain

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// GenerateVerifyingBlock assembles a candidate block extending the current
// tip, paying pubKey the height's reward plus the fees of every mempool
// transaction it draws in. The caller still has to run
// the block through a consensus engine to fill in proof-of-work (or
// whatever else CheckConsensusRules demands) before submitting it.
func (c *Chain) GenerateVerifyingBlock(pubKey []byte) (*block.Block, error) {
	txn := c.store.Begin()
	defer txn.Abort()

	var height uint64 = 1
	prevID := types.Hash{}
	if tip, err := c.tip(txn); err == nil {
		height = tip.Height + 1
		if id, ierr := tip.ID(); ierr == nil {
			prevID = id
		}
	}

	pending := c.mempool.GetTransactions()
	var totalFees uint64
	included := make([]*tx.Transaction, 0, len(pending))
	for _, t := range pending {
		fee, ferr := c.calculateTransactionFee(txn, t)
		if ferr != nil {
			continue
		}
		totalFees += fee
		included = append(included, t)
	}

	ownerKey := c.owner(pubKey)
	outData, err := json.Marshal(tx.OutputData{PublicKey: base64.StdEncoding.EncodeToString(ownerKey)})
	if err != nil {
		return nil, err
	}
	coinbase := &tx.Transaction{
		Outputs:   []tx.Output{{Value: c.reward(height) + totalFees, Data: outData}},
		Timestamp: uint64(time.Now().Unix()),
	}

	consensusData, err := c.consensus.GenerateConsensusData(txn, prevID, ownerKey)
	if err != nil {
		return nil, err
	}

	blk := block.NewBlock(coinbase, included, prevID, height, coinbase.Timestamp)
	blk.ConsensusData = consensusData
	return blk, nil
}
