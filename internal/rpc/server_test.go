package rpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// newTestServer wires a Chain over an in-memory store with a freshly mined
// genesis block, started on an ephemeral port.
func newTestServer(t *testing.T) (*Server, *crypto.PrivateKey) {
	t.Helper()
	store := storage.NewStore(storage.NewMemory())
	reward := func(height uint64) uint64 { return 50 }
	c := chain.New(store, consensus.NewRegtest(), mempool.New(), reward, nil)

	minerKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	outData, _ := json.Marshal(tx.OutputData{PublicKey: base64.StdEncoding.EncodeToString(minerKey.PublicKey())})
	genesis := block.NewBlock(&tx.Transaction{
		Outputs:   []tx.Output{{Value: 50, Data: outData}},
		Timestamp: 1,
	}, nil, [32]byte{}, 1, 1)
	if accepted, _, err := c.SubmitBlock(genesis, true); err != nil || !accepted {
		t.Fatalf("submit genesis: accepted=%v err=%v", accepted, err)
	}

	s := New("127.0.0.1:0", c, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return s, minerKey
}

func call(t *testing.T, s *Server, method string, params interface{}) Response {
	t.Helper()
	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post("http://"+s.Addr()+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestChainGetInfoReportsGenesisTip(t *testing.T) {
	s, _ := newTestServer(t)
	resp := call(t, s, "chain_getInfo", nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var info ChainInfoResult
	if err := json.Unmarshal(raw, &info); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if info.Height != 1 {
		t.Fatalf("expected height 1, got %d", info.Height)
	}
	if info.TipHash == "" || info.TipHash != info.GenesisHash {
		t.Fatalf("expected tip to equal genesis hash, got tip=%s genesis=%s", info.TipHash, info.GenesisHash)
	}
}

func TestMethodNotFoundReturnsRPCError(t *testing.T) {
	s, _ := newTestServer(t)
	resp := call(t, s, "no_such_method", nil)
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("expected CodeMethodNotFound, got %+v", resp.Error)
	}
}

func TestChainGetUnspentOutputsFindsMinerCoinbase(t *testing.T) {
	s, minerKey := newTestServer(t)
	resp := call(t, s, "chain_getUnspentOutputs", PubKeyParam{
		PublicKey: base64.StdEncoding.EncodeToString(minerKey.PublicKey()),
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp.Result)
	var outs []OutputResult
	if err := json.Unmarshal(raw, &outs); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(outs) != 1 || outs[0].Value != 50 {
		t.Fatalf("expected one 50-value output, got %+v", outs)
	}
}

func TestTxSubmitRejectsInvalidParams(t *testing.T) {
	s, _ := newTestServer(t)
	resp := call(t, s, "tx_submit", map[string]interface{}{})
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Fatalf("expected CodeInvalidParams, got %+v", resp.Error)
	}
}

func TestWalletEndpointsDisabledWithoutKeystore(t *testing.T) {
	s, _ := newTestServer(t)
	resp := call(t, s, "wallet_list", nil)
	if resp.Error == nil || resp.Error.Code != CodeNotFound {
		t.Fatalf("expected CodeNotFound when keystore is unset, got %+v", resp.Error)
	}
}

func TestWalletCreateAndNewAddressRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	ks, err := wallet.NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	s.SetKeystore(ks)

	createResp := call(t, s, "wallet_create", WalletCreateParam{Name: "primary", Password: "correct horse"})
	if createResp.Error != nil {
		t.Fatalf("wallet_create: %+v", createResp.Error)
	}

	addrResp := call(t, s, "wallet_newAddress", WalletParam{Name: "primary", Password: "correct horse"})
	if addrResp.Error != nil {
		t.Fatalf("wallet_newAddress: %+v", addrResp.Error)
	}
	raw, _ := json.Marshal(addrResp.Result)
	var addr WalletNewAddressResult
	if err := json.Unmarshal(raw, &addr); err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if addr.Index != 0 || addr.PublicKey == "" {
		t.Fatalf("unexpected address result: %+v", addr)
	}

	listResp := call(t, s, "wallet_listAddresses", WalletParam{Name: "primary"})
	if listResp.Error != nil {
		t.Fatalf("wallet_listAddresses: %+v", listResp.Error)
	}
}
