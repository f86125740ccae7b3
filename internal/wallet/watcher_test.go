package wallet

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// watcherTestReward is large relative to the data-size fee floor so the
// spend scenario can pay the minimum fee out of a single coinbase.
const watcherTestReward = 1_000_000

func newWatcherChain(t *testing.T) *chain.Chain {
	t.Helper()
	store := storage.NewStore(storage.NewMemory())
	reward := func(uint64) uint64 { return uint64(watcherTestReward) }
	return chain.New(store, consensus.NewRegtest(), mempool.New(), reward, nil)
}

func coinbaseTo(t *testing.T, pubKey []byte, value uint64, timestamp uint64) *tx.Transaction {
	t.Helper()
	data, err := json.Marshal(tx.OutputData{PublicKey: base64.StdEncoding.EncodeToString(pubKey)})
	if err != nil {
		t.Fatalf("marshal output data: %v", err)
	}
	return &tx.Transaction{
		Outputs:   []tx.Output{{Value: value, Data: data}},
		Timestamp: timestamp,
	}
}

// appendBlock builds and submits a block extending parent, paying pubKey.
func appendBlock(t *testing.T, c *chain.Chain, parent *block.Block, pubKey []byte, txs []*tx.Transaction, isBetter bool) *block.Block {
	t.Helper()

	var (
		prevID types.Hash
		height uint64 = 1
		ts     uint64 = 1
	)
	if parent != nil {
		var err error
		prevID, err = parent.ID()
		if err != nil {
			t.Fatalf("parent id: %v", err)
		}
		height = parent.Height + 1
		ts = parent.Timestamp + 1
	}

	blk := block.NewBlock(coinbaseTo(t, pubKey, watcherTestReward, ts), txs, prevID, height, ts)
	if isBetter {
		blk.ConsensusData = json.RawMessage(`{"isBetter":true}`)
	}
	accepted, malformed, err := c.SubmitBlock(blk, parent == nil)
	if err != nil || !accepted || malformed {
		t.Fatalf("submit block at height %d: accepted=%v malformed=%v err=%v", height, accepted, malformed, err)
	}
	return blk
}

func TestWatcherDigestsForward(t *testing.T) {
	c := newWatcherChain(t)
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	other, _ := crypto.GenerateKey()

	genesis := appendBlock(t, c, nil, key.PublicKey(), nil, false)
	b2 := appendBlock(t, c, genesis, key.PublicKey(), nil, false)
	appendBlock(t, c, b2, other.PublicKey(), nil, false)

	w := NewWatcher(c, klog.Wallet, key.PublicKey())
	if err := w.Poll(); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if got := w.Height(); got != 3 {
		t.Fatalf("watcher height = %d, want 3", got)
	}
	if got := w.Balance(key.PublicKey()).Confirmed; got != 2*watcherTestReward {
		t.Fatalf("balance = %d, want %d", got, 2*watcherTestReward)
	}
	if got := w.Balance(other.PublicKey()).Confirmed; got != 0 {
		t.Fatalf("unwatched key balance = %d, want 0", got)
	}
}

func TestWatcherSeesSpends(t *testing.T) {
	c := newWatcherChain(t)
	key, _ := crypto.GenerateKey()
	recipient, _ := crypto.GenerateKey()

	genesis := appendBlock(t, c, nil, key.PublicKey(), nil, false)
	coinbaseOut := genesis.CoinbaseTx.Outputs[0]
	coinbaseOutID, err := coinbaseOut.ID()
	if err != nil {
		t.Fatalf("coinbase output id: %v", err)
	}

	// Spend half the coinbase to recipient; the surplus comfortably covers
	// the data-size fee floor.
	recipData, _ := json.Marshal(tx.OutputData{PublicKey: base64.StdEncoding.EncodeToString(recipient.PublicKey())})
	spend := &tx.Transaction{
		Outputs:   []tx.Output{{Value: watcherTestReward / 2, Data: recipData}},
		Timestamp: genesis.Timestamp + 1,
	}
	outSetID, err := spend.OutputSetID()
	if err != nil {
		t.Fatalf("output set id: %v", err)
	}
	sig, err := key.SignECDSA(SigningMessage(coinbaseOutID, outSetID))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	inData, _ := json.Marshal(tx.InputData{Signature: base64.StdEncoding.EncodeToString(sig)})
	spend.Inputs = []tx.Input{{OutputID: coinbaseOutID, Data: inData}}

	appendBlock(t, c, genesis, key.PublicKey(), []*tx.Transaction{spend}, false)

	w := NewWatcher(c, klog.Wallet, key.PublicKey())
	if err := w.Poll(); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// The genesis coinbase is spent; only the height-2 coinbase remains.
	if got := w.Balance(key.PublicKey()).Confirmed; got != watcherTestReward {
		t.Fatalf("balance after spend = %d, want %d", got, watcherTestReward)
	}
}

func TestWatcherRewindsOnReorg(t *testing.T) {
	c := newWatcherChain(t)
	key, _ := crypto.GenerateKey()
	rival, _ := crypto.GenerateKey()

	genesis := appendBlock(t, c, nil, key.PublicKey(), nil, false)
	appendBlock(t, c, genesis, key.PublicKey(), nil, false)

	w := NewWatcher(c, klog.Wallet, key.PublicKey())
	if err := w.Poll(); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if got := w.Balance(key.PublicKey()).Confirmed; got != 2*watcherTestReward {
		t.Fatalf("pre-reorg balance = %d, want %d", got, 2*watcherTestReward)
	}

	// Competing branch paying rival: genesis -> b2' -> b3', declared
	// better so the engine reorgs onto it.
	b2p := appendBlock(t, c, genesis, rival.PublicKey(), nil, true)
	appendBlock(t, c, b2p, rival.PublicKey(), nil, true)

	if err := w.Poll(); err != nil {
		t.Fatalf("poll after reorg: %v", err)
	}
	if got := w.Height(); got != 3 {
		t.Fatalf("watcher height after reorg = %d, want 3", got)
	}
	// Only the genesis coinbase still pays the watched key.
	if got := w.Balance(key.PublicKey()).Confirmed; got != watcherTestReward {
		t.Fatalf("post-reorg balance = %d, want %d", got, watcherTestReward)
	}
}
