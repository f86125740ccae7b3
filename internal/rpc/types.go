package rpc

import (
	"encoding/json"

	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HashParam is used by endpoints that take a single content hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// HeightParam is used by chain_getBlockByHeight.
type HeightParam struct {
	Height uint64 `json:"height"`
}

// PubKeyParam is used by endpoints keyed off a base64-encoded public key.
type PubKeyParam struct {
	PublicKey string `json:"publicKey"`
}

// TxSubmitParam is used by tx_submit.
type TxSubmitParam struct {
	Transaction *tx.Transaction `json:"transaction"`
}

// BlockSubmitParam is used by block_submit.
type BlockSubmitParam struct {
	Block *block.Block `json:"block"`
}

// ── Result types ────────────────────────────────────────────────────────

// ChainInfoResult answers chain_getInfo.
type ChainInfoResult struct {
	Height        uint64 `json:"height"`
	TipHash       string `json:"tipHash"`
	GenesisHash   string `json:"genesisHash,omitempty"`
	MempoolCount  int    `json:"mempoolCount"`
	MempoolBytes  int    `json:"mempoolBytes"`
	PeerCount     int    `json:"peerCount"`
}

// SubmitResult answers tx_submit/block_submit.
type SubmitResult struct {
	Accepted     bool   `json:"accepted"`
	WasMalformed bool   `json:"wasMalformed"`
	ID           string `json:"id,omitempty"`
}

// OutputResult wraps a ledger output with its resolved id and spent state.
type OutputResult struct {
	OutputID   string          `json:"outputId"`
	Value      uint64          `json:"value"`
	Nonce      uint64          `json:"nonce"`
	Data       json.RawMessage `json:"data"`
	CreationTx string          `json:"creationTx"`
	Spent      bool            `json:"spent"`
}

// TransactionResult answers chain_getTransaction.
type TransactionResult struct {
	InputIDs        []string `json:"inputIds"`
	OutputIDs       []string `json:"outputIds"`
	ConfirmingBlock string   `json:"confirmingBlock"`
	Coinbase        bool     `json:"coinbase"`
	Timestamp       uint64   `json:"timestamp"`
}

// PeerInfoResult answers net_getPeerInfo.
type PeerInfoResult struct {
	PeerCount int      `json:"peerCount"`
	PeerIDs   []string `json:"peerIds"`
}

// NodeInfoResult answers net_getNodeInfo.
type NodeInfoResult struct {
	PeerID string   `json:"peerId"`
	Addrs  []string `json:"addrs"`
}

// MempoolInfoResult answers mempool_getInfo.
type MempoolInfoResult struct {
	Count int `json:"count"`
	Bytes int `json:"bytes"`
}

// ── Wallet param/result types ───────────────────────────────────────────

// WalletCreateParam is used by wallet_create.
type WalletCreateParam struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// WalletParam names a wallet and supplies its password for unlock-scoped
// endpoints.
type WalletParam struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// WalletNewAddressResult answers wallet_newAddress.
type WalletNewAddressResult struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
	Index     uint32 `json:"index"`
}

// WalletBalanceResult answers wallet_getBalance.
type WalletBalanceResult struct {
	Confirmed uint64 `json:"confirmed"`
}

// WalletSendParam is used by wallet_send.
type WalletSendParam struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	ToPubKey string `json:"toPublicKey"`
	Amount   uint64 `json:"amount"`
	Fee      uint64 `json:"fee"`
}

// WalletSendResult answers wallet_send.
type WalletSendResult struct {
	TransactionID string `json:"transactionId"`
	Accepted      bool   `json:"accepted"`
}
