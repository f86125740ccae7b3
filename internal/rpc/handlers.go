package rpc

import (
	"encoding/base64"
	"errors"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// handleChainGetInfo reports the main-chain tip, genesis hash, and
// mempool/peer summary.
func (s *Server) handleChainGetInfo(req *Request) (interface{}, *Error) {
	res := ChainInfoResult{
		MempoolCount: s.chain.MempoolCount(),
		MempoolBytes: s.chain.MempoolSize(),
	}
	if s.p2pNode != nil {
		res.PeerCount = s.p2pNode.PeerCount()
	}
	if genesisID, ok := s.chain.GenesisID(); ok {
		res.GenesisHash = genesisID.String()
	}
	tip, err := s.chain.Tip()
	if err != nil {
		if errors.Is(err, chain.ErrNotFound) {
			return res, nil
		}
		return nil, internalError(err)
	}
	tipID, err := tip.ID()
	if err != nil {
		return nil, internalError(err)
	}
	res.Height = tip.Height
	res.TipHash = tipID.String()
	return res, nil
}

func (s *Server) handleChainGetBlock(req *Request) (interface{}, *Error) {
	var p HashParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	id, herr := types.HexToHash(p.Hash)
	if herr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: herr.Error()}
	}
	blk, err := s.chain.GetBlock(id)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	return blk, nil
}

func (s *Server) handleChainGetBlockByHeight(req *Request) (interface{}, *Error) {
	var p HeightParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	blk, err := s.chain.GetBlockByHeight(p.Height)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	return blk, nil
}

func (s *Server) handleChainGetTransaction(req *Request) (interface{}, *Error) {
	var p HashParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	id, herr := types.HexToHash(p.Hash)
	if herr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: herr.Error()}
	}
	dt, err := s.chain.GetTransaction(id)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	res := TransactionResult{
		ConfirmingBlock: dt.ConfirmingBlock.String(),
		Coinbase:        dt.Coinbase,
		Timestamp:       dt.Timestamp,
	}
	for _, h := range dt.InputIDs {
		res.InputIDs = append(res.InputIDs, h.String())
	}
	for _, h := range dt.OutputIDs {
		res.OutputIDs = append(res.OutputIDs, h.String())
	}
	return res, nil
}

func (s *Server) handleChainGetOutput(req *Request) (interface{}, *Error) {
	var p HashParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	id, herr := types.HexToHash(p.Hash)
	if herr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: herr.Error()}
	}
	out, err := s.chain.GetOutput(id)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	return OutputResult{
		OutputID:   out.OutputID.String(),
		Value:      out.Value,
		Nonce:      out.Nonce,
		Data:       out.Data,
		CreationTx: out.CreationTx.String(),
	}, nil
}

func (s *Server) handleChainGetInput(req *Request) (interface{}, *Error) {
	var p HashParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	id, herr := types.HexToHash(p.Hash)
	if herr != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: herr.Error()}
	}
	in, err := s.chain.GetInput(id)
	if err != nil {
		return nil, notFoundOrInternal(err)
	}
	return in, nil
}

func (s *Server) handleChainGetUnspentOutputs(req *Request) (interface{}, *Error) {
	pubKey, perr := decodePubKeyParam(req)
	if perr != nil {
		return nil, perr
	}
	outs, err := s.chain.GetUnspentOutputs(pubKey)
	if err != nil {
		return nil, internalError(err)
	}
	res := make([]OutputResult, len(outs))
	for i, out := range outs {
		res[i] = OutputResult{
			OutputID:   out.OutputID.String(),
			Value:      out.Value,
			Nonce:      out.Nonce,
			Data:       out.Data,
			CreationTx: out.CreationTx.String(),
		}
	}
	return res, nil
}

func (s *Server) handleChainGetSpentOutputs(req *Request) (interface{}, *Error) {
	pubKey, perr := decodePubKeyParam(req)
	if perr != nil {
		return nil, perr
	}
	outs, err := s.chain.GetSpentOutputs(pubKey)
	if err != nil {
		return nil, internalError(err)
	}
	res := make([]OutputResult, len(outs))
	for i, out := range outs {
		res[i] = OutputResult{
			OutputID:   out.OutputID.String(),
			Value:      out.Value,
			Nonce:      out.Nonce,
			Data:       out.Data,
			CreationTx: out.CreationTx.String(),
			Spent:      true,
		}
	}
	return res, nil
}

func (s *Server) handleChainGetUnconfirmedTransactions(req *Request) (interface{}, *Error) {
	return s.chain.GetUnconfirmedTransactions(), nil
}

func (s *Server) handleTxSubmit(req *Request) (interface{}, *Error) {
	var p TxSubmitParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	if p.Transaction == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "transaction required"}
	}
	accepted, malformed, err := s.chain.SubmitTransaction(p.Transaction)
	if err != nil {
		return nil, internalError(err)
	}
	res := SubmitResult{Accepted: accepted, WasMalformed: malformed}
	if id, ierr := p.Transaction.ID(); ierr == nil {
		res.ID = id.String()
	}
	return res, nil
}

func (s *Server) handleBlockSubmit(req *Request) (interface{}, *Error) {
	var p BlockSubmitParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	if p.Block == nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "block required"}
	}
	_, haveGenesis := s.chain.GenesisID()
	accepted, malformed, err := s.chain.SubmitBlock(p.Block, !haveGenesis && p.Block.Height == 1)
	if err != nil {
		return nil, internalError(err)
	}
	res := SubmitResult{Accepted: accepted, WasMalformed: malformed}
	if id, ierr := p.Block.ID(); ierr == nil {
		res.ID = id.String()
	}
	return res, nil
}

func (s *Server) handleMiningGetBlockTemplate(req *Request) (interface{}, *Error) {
	pubKey, perr := decodePubKeyParam(req)
	if perr != nil {
		return nil, perr
	}
	blk, err := s.chain.GenerateVerifyingBlock(pubKey)
	if err != nil {
		return nil, internalError(err)
	}
	return blk, nil
}

func (s *Server) handleMempoolGetInfo(req *Request) (interface{}, *Error) {
	return MempoolInfoResult{Count: s.chain.MempoolCount(), Bytes: s.chain.MempoolSize()}, nil
}

func (s *Server) handleNetGetPeerInfo(req *Request) (interface{}, *Error) {
	res := PeerInfoResult{}
	if s.p2pNode != nil {
		res.PeerCount = s.p2pNode.PeerCount()
		for _, p := range s.p2pNode.PeerList() {
			res.PeerIDs = append(res.PeerIDs, p.ID.String())
		}
	}
	return res, nil
}

func (s *Server) handleNetGetNodeInfo(req *Request) (interface{}, *Error) {
	res := NodeInfoResult{}
	if s.p2pNode != nil {
		res.PeerID = s.p2pNode.ID().String()
		res.Addrs = s.p2pNode.Addrs()
	}
	return res, nil
}

// decodePubKeyParam pulls a base64-encoded public key out of request
// params; every endpoint addressed by ownership shares this shape.
func decodePubKeyParam(req *Request) ([]byte, *Error) {
	var p PubKeyParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	pubKey, err := base64.StdEncoding.DecodeString(p.PublicKey)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "publicKey must be base64"}
	}
	return pubKey, nil
}

func internalError(err error) *Error {
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

func notFoundOrInternal(err error) *Error {
	if errors.Is(err, chain.ErrNotFound) {
		return &Error{Code: CodeNotFound, Message: err.Error()}
	}
	return internalError(err)
}
