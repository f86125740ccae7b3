package rpcclient

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

const clientTestReward = 1_000_000

type testEnv struct {
	client *Client
	chain  *chain.Chain
	miner  *crypto.PrivateKey
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	klog.Init("error", false, "")

	store := storage.NewStore(storage.NewMemory())
	ch := chain.New(store, consensus.NewRegtest(), mempool.New(),
		func(uint64) uint64 { return uint64(clientTestReward) }, nil)

	minerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	outData, err := json.Marshal(tx.OutputData{
		PublicKey: base64.StdEncoding.EncodeToString(minerKey.PublicKey()),
	})
	if err != nil {
		t.Fatalf("marshal output data: %v", err)
	}
	genesis := block.NewBlock(&tx.Transaction{
		Outputs:   []tx.Output{{Value: clientTestReward, Data: outData}},
		Timestamp: 1,
	}, nil, types.Hash{}, 1, 1)
	if accepted, malformed, err := ch.SubmitBlock(genesis, true); err != nil || !accepted || malformed {
		t.Fatalf("submit genesis: accepted=%v malformed=%v err=%v", accepted, malformed, err)
	}

	srv := rpc.New("127.0.0.1:0", ch, nil)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	client := New("http://" + srv.Addr() + "/")
	return &testEnv{client: client, chain: ch, miner: minerKey}
}

func TestClient_ChainGetInfo(t *testing.T) {
	env := setupTestEnv(t)

	var result rpc.ChainInfoResult
	if err := env.client.Call("chain_getInfo", nil, &result); err != nil {
		t.Fatalf("Call error: %v", err)
	}

	if result.Height != 1 {
		t.Errorf("height = %d, want 1", result.Height)
	}
	if result.TipHash == "" {
		t.Error("tipHash is empty")
	}
	if result.GenesisHash != result.TipHash {
		t.Errorf("genesisHash %q should equal tipHash %q on a one-block chain", result.GenesisHash, result.TipHash)
	}
}

func TestClient_GetBlockByHeight(t *testing.T) {
	env := setupTestEnv(t)

	var raw json.RawMessage
	if err := env.client.Call("chain_getBlockByHeight", rpc.HeightParam{Height: 1}, &raw); err != nil {
		t.Fatalf("Call error: %v", err)
	}

	var blk block.Block
	if err := json.Unmarshal(raw, &blk); err != nil {
		t.Fatalf("unmarshal block: %v", err)
	}
	if blk.Height != 1 {
		t.Errorf("height = %d, want 1", blk.Height)
	}
	if blk.CoinbaseTx == nil || len(blk.CoinbaseTx.Outputs) == 0 {
		t.Error("genesis block has no coinbase outputs")
	}
}

func TestClient_GetUnspentOutputs(t *testing.T) {
	env := setupTestEnv(t)

	pubKey := base64.StdEncoding.EncodeToString(env.miner.PublicKey())
	var results []rpc.OutputResult
	if err := env.client.Call("chain_getUnspentOutputs", rpc.PubKeyParam{PublicKey: pubKey}, &results); err != nil {
		t.Fatalf("Call error: %v", err)
	}

	if len(results) != 1 {
		t.Fatalf("got %d unspent outputs, want 1", len(results))
	}
	if results[0].Value != clientTestReward {
		t.Errorf("value = %d, want %d", results[0].Value, clientTestReward)
	}
}

func TestClient_GetBlock_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	fakeHash := types.Hash{}.String()
	var raw json.RawMessage
	err := env.client.Call("chain_getBlock", rpc.HashParam{Hash: fakeHash}, &raw)
	if err == nil {
		t.Fatal("expected error for non-existent block")
	}

	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != rpc.CodeNotFound {
		t.Errorf("error code = %d, want %d", rpcErr.Code, rpc.CodeNotFound)
	}
}

func TestClient_Call_InvalidEndpoint(t *testing.T) {
	client := New("http://127.0.0.1:1/") // port 1 — should refuse

	var result rpc.ChainInfoResult
	err := client.Call("chain_getInfo", nil, &result)
	if err == nil {
		t.Fatal("expected connection error")
	}
}

func TestClient_Call_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	var raw json.RawMessage
	err := env.client.Call("nonexistent_method", nil, &raw)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}

	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != rpc.CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", rpcErr.Code, rpc.CodeMethodNotFound)
	}
}
