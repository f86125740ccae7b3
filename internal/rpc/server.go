// Package rpc implements the JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/p2p"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Server is the JSON-RPC 2.0 HTTP server fronting a single Chain.
type Server struct {
	addr     string
	chain    *chain.Chain
	p2pNode  *p2p.Node
	keystore *wallet.Keystore // nil disables wallet_* endpoints.

	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// New creates a new RPC server over ch. p2pNode may be nil (net_*
// endpoints then report zero peers). rpcCfg controls IP filtering and
// CORS; a zero-value RPCConfig allows all IPs and disables CORS.
func New(addr string, ch *chain.Chain, p2pNode *p2p.Node, rpcCfg ...config.RPCConfig) *Server {
	s := &Server{
		addr:    addr,
		chain:   ch,
		p2pNode: p2pNode,
		logger:  klog.RPC,
	}

	if len(rpcCfg) > 0 {
		s.allowedNets = parseAllowedIPs(rpcCfg[0].AllowedIPs)
		s.corsOrigins = rpcCfg[0].CORSOrigins
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
	}

	return s
}

// SetKeystore enables wallet_* endpoints against ks.
func (s *Server) SetKeystore(ks *wallet.Keystore) {
	s.keystore = ks
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine. It
// returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("rpc server error")
		}
	}()

	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	s.setCORSHeaders(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`)
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}

	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (interface{}, *Error) {
	switch req.Method {
	case "chain_getInfo":
		return s.handleChainGetInfo(req)
	case "chain_getBlock":
		return s.handleChainGetBlock(req)
	case "chain_getBlockByHeight":
		return s.handleChainGetBlockByHeight(req)
	case "chain_getTransaction":
		return s.handleChainGetTransaction(req)
	case "chain_getOutput":
		return s.handleChainGetOutput(req)
	case "chain_getInput":
		return s.handleChainGetInput(req)
	case "chain_getUnspentOutputs":
		return s.handleChainGetUnspentOutputs(req)
	case "chain_getSpentOutputs":
		return s.handleChainGetSpentOutputs(req)
	case "chain_getUnconfirmedTransactions":
		return s.handleChainGetUnconfirmedTransactions(req)
	case "tx_submit":
		return s.handleTxSubmit(req)
	case "block_submit":
		return s.handleBlockSubmit(req)
	case "mining_getBlockTemplate":
		return s.handleMiningGetBlockTemplate(req)
	case "mempool_getInfo":
		return s.handleMempoolGetInfo(req)
	case "net_getPeerInfo":
		return s.handleNetGetPeerInfo(req)
	case "net_getNodeInfo":
		return s.handleNetGetNodeInfo(req)
	case "wallet_create":
		return s.handleWalletCreate(req)
	case "wallet_list":
		return s.handleWalletList(req)
	case "wallet_newAddress":
		return s.handleWalletNewAddress(req)
	case "wallet_listAddresses":
		return s.handleWalletListAddresses(req)
	case "wallet_getBalance":
		return s.handleWalletGetBalance(req)
	case "wallet_send":
		return s.handleWalletSend(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, Response{JSONRPC: "2.0", Error: &Error{Code: code, Message: message}, ID: id})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.corsOrigins) == 0 {
		return
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	allowed := false
	for _, o := range s.corsOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}
	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
