package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// LoadChain bootstraps the chain from genesisPath: the
// genesis file is a JSON document shaped like a Block, at height 1, with
// no previousBlockId parent. If the chain already has a height-1 block
// committed, genesisPath is read only to confirm it still matches; if the
// file is absent, a fresh genesis block is generated and written there.
func (c *Chain) LoadChain(genesisPath string) error {
	if _, ok := c.GenesisID(); ok {
		return nil
	}

	if existing, err := c.GetBlockByHeight(1); err == nil {
		id, err := existing.ID()
		if err != nil {
			return err
		}
		c.setGenesisID(id)

		if raw, rerr := os.ReadFile(genesisPath); rerr == nil {
			var fromFile block.Block
			if uerr := json.Unmarshal(raw, &fromFile); uerr == nil {
				fileID, ferr := fromFile.ID()
				if ferr == nil && fileID != id {
					return ErrGenesisMismatch
				}
			}
		}
		return nil
	}

	genesisBlk, generated, err := c.loadOrGenerateGenesisBlock(genesisPath)
	if err != nil {
		return err
	}

	accepted, malformed, err := c.SubmitBlock(genesisBlk, true)
	if err != nil {
		return fmt.Errorf("chain: submit genesis: %w", err)
	}
	if !accepted {
		if malformed {
			return fmt.Errorf("chain: genesis block is malformed")
		}
		return fmt.Errorf("chain: genesis block rejected")
	}

	if generated {
		raw, err := json.MarshalIndent(genesisBlk, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(genesisPath, raw, 0o644); err != nil {
			return fmt.Errorf("chain: write generated genesis: %w", err)
		}
	}
	return nil
}

func (c *Chain) loadOrGenerateGenesisBlock(genesisPath string) (*block.Block, bool, error) {
	raw, err := os.ReadFile(genesisPath)
	if err == nil {
		var blk block.Block
		if uerr := json.Unmarshal(raw, &blk); uerr == nil {
			if blk.Height == 1 && blk.PreviousBlockID.IsZero() && blk.CoinbaseTx != nil {
				return &blk, false, nil
			}
		}
	}

	blk, err := c.generateGenesis()
	if err != nil {
		return nil, false, err
	}
	return blk, true, nil
}

// generateGenesis builds a fresh height-1 block paying the height-1 reward
// to a newly-minted keypair's public key, for bootstrapping a chain with
// no genesis file on disk.
func (c *Chain) generateGenesis() (*block.Block, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	ownerKey := c.owner(key.PublicKey())

	outData, err := json.Marshal(tx.OutputData{PublicKey: base64.StdEncoding.EncodeToString(ownerKey)})
	if err != nil {
		return nil, err
	}
	coinbase := &tx.Transaction{
		Outputs:   []tx.Output{{Value: c.reward(1), Data: outData}},
		Timestamp: uint64(time.Now().Unix()),
	}

	txn := c.store.Begin()
	consensusData, err := c.consensus.GenerateConsensusData(txn, types.Hash{}, ownerKey)
	txn.Abort()
	if err != nil {
		return nil, err
	}

	blk := block.NewBlock(coinbase, nil, types.Hash{}, 1, coinbase.Timestamp)
	blk.ConsensusData = consensusData
	return blk, nil
}
