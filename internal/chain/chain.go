// Package chain implements the ledger engine: the component owning the
// blocks/candidates/transactions/utxos/stxos/inputs tables,
// transaction and block validation, confirmation, and reorganisation.
//
// The engine exposes a narrow public contract. Every
// exported operation acquires exactly one storage transaction on entry
// and either commits it on success or aborts it on failure; no partial
// state ever escapes to a caller.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
	"github.com/rs/zerolog"
)

// Table names. Each is a disjoint namespace within the
// underlying storage.Store; the secondary-index numbers below document
// what index 0 (and, for utxos/stxos, the pubkey index) means for that
// table.
const (
	tableBlocks       = "blocks"       // primary: id -> block json. "tip" is a reserved primary key. index 0: height (zero-padded decimal) -> id.
	tableCandidates   = "candidates"   // primary: id -> block json (off-main-chain blocks).
	tableTransactions = "transactions" // primary: id -> dbTransaction json.
	tableUTXOs        = "utxos"        // primary: id -> dbOutput json. index 0: pubKey||outputId -> nil.
	tableSTXOs        = "stxos"        // primary: id -> dbOutput json. index 0: pubKey||outputId -> nil.
	tableInputs       = "inputs"       // primary: id -> input json.
)

// tipKey is the reserved primary key under tableBlocks holding the current
// main-chain tip's id.
const tipKey = "tip"

// heightKey zero-pads h into the height secondary index's sort order.
func heightKey(h uint64) string {
	return fmt.Sprintf("%020d", h)
}

// Ledger engine errors. Callers that need the accepted/wasMalformed
// distinction use the boolean returns instead of inspecting these
// directly.
var (
	ErrNotFound       = errors.New("chain: not found")
	ErrGenesisMissing = errors.New("chain: no genesis block loaded")
	ErrGenesisMismatch = errors.New("chain: stored genesis does not match the supplied genesis file")
)

// BlockRewardFunc computes the coinbase subsidy for a block at height h,
// exclusive of fees. Pluggable so hosts control the emission schedule.
type BlockRewardFunc func(height uint64) uint64

// CoinbaseOwnerFunc maps the miner's public key to the public key that
// should actually own the coinbase output. Identity by default; hookable
// for contract-wrapped coinbases.
type CoinbaseOwnerFunc func(pubKey []byte) []byte

// dbOutput is an Output plus the id of the transaction that created it,
// the shape stored in the utxos/stxos tables.
type dbOutput struct {
	tx.Output
	CreationTx types.Hash `json:"creationTx"`
	OutputID   types.Hash `json:"outputId"`
}

// dbTransaction is the projection of a confirmed transaction stored in the
// transactions table: enough to answer getTransaction without
// re-walking the owning block.
type dbTransaction struct {
	InputIDs        []types.Hash `json:"inputIds"`
	OutputIDs       []types.Hash `json:"outputIds"`
	ConfirmingBlock types.Hash   `json:"confirmingBlock"`
	Coinbase        bool         `json:"coinbase"`
	Timestamp       uint64       `json:"timestamp"`
}

// Chain is the ledger engine. It is safe for concurrent use: storage
// writes are serialised by the underlying Store's exclusive write lock,
// and the mempool guards its own maps with its own mutex.
type Chain struct {
	store     *storage.Store
	consensus consensus.Engine
	mempool   *mempool.Pool
	reward    BlockRewardFunc
	owner     CoinbaseOwnerFunc
	log       zerolog.Logger

	blocks       storage.Table
	candidates   storage.Table
	transactions storage.Table
	utxos        storage.Table
	stxos        storage.Table
	inputs       storage.Table

	// genesisMu guards genesisID, set once by LoadChain and read
	// thereafter by every operation that needs to special-case the
	// genesis block (it has no previousBlockId parent to resolve).
	genesisMu sync.RWMutex
	genesisID types.Hash
}

// New wires a Chain over store using engine for consensus decisions and
// pool as its mempool. reward and owner are the pluggable adapters
// the engine requires of the host; callers may pass nil for owner to get
// the identity default.
func New(store *storage.Store, engine consensus.Engine, pool *mempool.Pool, reward BlockRewardFunc, owner CoinbaseOwnerFunc) *Chain {
	if owner == nil {
		owner = func(pubKey []byte) []byte { return pubKey }
	}
	return &Chain{
		store:        store,
		consensus:    engine,
		mempool:      pool,
		reward:       reward,
		owner:        owner,
		log:          log.Chain,
		blocks:       store.Table(tableBlocks),
		candidates:   store.Table(tableCandidates),
		transactions: store.Table(tableTransactions),
		utxos:        store.Table(tableUTXOs),
		stxos:        store.Table(tableSTXOs),
		inputs:       store.Table(tableInputs),
	}
}

// MempoolCount returns the number of pending transactions.
func (c *Chain) MempoolCount() int { return c.mempool.Count() }

// MempoolSize returns the total canonical-JSON size of pending transactions.
func (c *Chain) MempoolSize() int { return c.mempool.Size() }

// GetUnconfirmedTransactions returns a snapshot of the mempool.
func (c *Chain) GetUnconfirmedTransactions() []*tx.Transaction {
	return c.mempool.GetTransactions()
}

func (c *Chain) setGenesisID(id types.Hash) {
	c.genesisMu.Lock()
	c.genesisID = id
	c.genesisMu.Unlock()
}

// GenesisID returns the cached id of the genesis block (height 1).
func (c *Chain) GenesisID() (types.Hash, bool) {
	c.genesisMu.RLock()
	defer c.genesisMu.RUnlock()
	return c.genesisID, !c.genesisID.IsZero()
}

// decodeBlock unmarshals a stored block and its coinbase/ordinary
// transactions from raw table bytes.
func decodeBlock(raw []byte) (*block.Block, error) {
	var blk block.Block
	if err := json.Unmarshal(raw, &blk); err != nil {
		return nil, fmt.Errorf("decode block: %w", err)
	}
	return &blk, nil
}

func encodeBlock(blk *block.Block) ([]byte, error) {
	return json.Marshal(blk)
}
