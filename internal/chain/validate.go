package chain

import (
	"encoding/base64"
	"encoding/json"
	"math"

	"github.com/Klingon-tech/klingnet-chain/internal/contract"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/merkle"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// schnorrCandidate is one "maybe-aggregated" Schnorr-keyed output
// discovered while scanning a transaction's inputs in order. Its index
// in the slice is what an aggregateSignature.signs
// entry addresses.
type schnorrCandidate struct {
	outputID types.Hash
	pubKey   []byte
	used     bool
}

// signingMessage is the 32-byte hash every plain/schnorr/merkle-root
// signature verifies over: SHA256(outputId || outputSetId).
func signingMessage(outputID, outputSetID types.Hash) []byte {
	buf := make([]byte, 0, types.HashSize*2)
	buf = append(buf, outputID[:]...)
	buf = append(buf, outputSetID[:]...)
	h := crypto.Hash(buf)
	return h[:]
}

func canonicalTxJSON(t *tx.Transaction) (json.RawMessage, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return types.CanonicalJSON(raw)
}

type resolvedInput struct {
	input  tx.Input
	output *dbOutput
	data   tx.InputData
}

// verifyTransaction runs the full validation algorithm against txn's
// snapshot-plus-buffer view. It never mutates storage —
// confirmTransaction does that, once a transaction is known to pass — so
// the commit path is free to run many of these concurrently over the same
// write transaction.
func (c *Chain) verifyTransaction(txn *storage.WriteTxn, t *tx.Transaction, isCoinbase bool) (accepted bool, malformed bool, err error) {
	id, err := t.ID()
	if err != nil {
		return false, true, nil
	}

	// Step 1: idempotency against already-confirmed transactions.
	if _, ferr := c.getTransaction(txn, id); ferr == nil {
		return false, false, nil
	}

	outputIDs, err := t.OutputIDs()
	if err != nil {
		return false, true, nil
	}

	// Step 2: every output id must be fresh.
	for _, outID := range outputIDs {
		if has, herr := txn.Has(c.utxos, -1, outID.String()); herr != nil {
			return false, false, herr
		} else if has {
			return false, true, nil
		}
		if has, herr := txn.Has(c.stxos, -1, outID.String()); herr != nil {
			return false, false, herr
		} else if has {
			return false, true, nil
		}
	}

	outputSetID, err := t.OutputSetID()
	if err != nil {
		return false, true, nil
	}

	// Step 3: resolve every input's referenced output from UTXO only.
	resolved := make([]resolvedInput, len(t.Inputs))
	var totalIn uint64
	for i, in := range t.Inputs {
		raw, ok, gerr := txn.Get(c.utxos, -1, in.OutputID.String())
		if gerr != nil {
			return false, false, gerr
		}
		if !ok {
			return false, true, nil
		}
		out, derr := decodeDBOutput(raw)
		if derr != nil {
			return false, true, nil
		}
		if totalIn > math.MaxUint64-out.Value {
			return false, true, nil
		}
		totalIn += out.Value

		data, ierr := in.Decode()
		if ierr != nil {
			return false, true, nil
		}
		resolved[i] = resolvedInput{input: in, output: out, data: data}
	}

	// Steps 4 and 5 share one ordered candidate list: every schnorr-keyed
	// output seen while scanning inputs left to right is a candidate,
	// whether or not it carries its own standalone signature; aggregate
	// signatures elsewhere in the same transaction address candidates by
	// that same order.
	var candidates []schnorrCandidate
	var contractInputs []int

	for i, r := range resolved {
		outData, oerr := r.output.Decode()
		if oerr != nil {
			return false, true, nil
		}

		switch {
		case outData.Contract != "":
			contractInputs = append(contractInputs, i)

		case outData.SchnorrKey != "":
			pubKey, perr := base64.StdEncoding.DecodeString(outData.SchnorrKey)
			if perr != nil {
				return false, true, nil
			}
			candidates = append(candidates, schnorrCandidate{outputID: r.input.OutputID, pubKey: pubKey})
			idx := len(candidates) - 1

			sig, present, mal := r.input.RawSignature()
			if mal {
				return false, true, nil
			}
			if present {
				sigBytes, serr := base64.StdEncoding.DecodeString(sig)
				if serr != nil {
					return false, true, nil
				}
				if !crypto.VerifySignature(signingMessage(r.input.OutputID, outputSetID), sigBytes, pubKey) {
					return false, true, nil
				}
				candidates[idx].used = true
			}

		case outData.MerkleRoot != "":
			if r.data.SpendType == "" || r.data.PubKeyOrScript == "" || r.data.MerkleProof == nil {
				return false, true, nil
			}
			root, rerr := types.HexToHash(outData.MerkleRoot)
			if rerr != nil {
				return false, true, nil
			}
			pubKeyOrScript, kerr := base64.StdEncoding.DecodeString(r.data.PubKeyOrScript)
			if kerr != nil {
				return false, true, nil
			}
			leaf := crypto.Hash(pubKeyOrScript)
			if len(r.data.MerkleProof.Entries) == 0 || r.data.MerkleProof.Entries[0] != leaf {
				return false, true, nil
			}
			reconstructed, merr := merkle.MakeMerkleTreeFromProof(r.data.MerkleProof)
			if merr != nil || reconstructed != root {
				return false, true, nil
			}

			switch r.data.SpendType {
			case "pubkey":
				sig, present, mal := r.input.RawSignature()
				if mal || !present {
					return false, true, nil
				}
				sigBytes, serr := base64.StdEncoding.DecodeString(sig)
				if serr != nil {
					return false, true, nil
				}
				if !crypto.VerifyECDSA(signingMessage(r.input.OutputID, outputSetID), sigBytes, pubKeyOrScript) {
					return false, true, nil
				}
			case "script":
				txJSON, jerr := canonicalTxJSON(t)
				if jerr != nil {
					return false, true, nil
				}
				inputJSON, jerr := json.Marshal(r.input)
				if jerr != nil {
					return false, true, nil
				}
				ok, errMsg := contract.VerifyTransaction(pubKeyOrScript, contract.Context{
					TxJSON:        txJSON,
					ThisInputJSON: inputJSON,
					OutputSetID:   outputSetID,
					Chain:         chainReader{c: c, r: txn},
				})
				if !ok || errMsg != "" {
					return false, true, nil
				}
			default:
				return false, true, nil
			}

		case outData.PublicKey != "":
			pubKey, perr := base64.StdEncoding.DecodeString(outData.PublicKey)
			if perr != nil {
				return false, true, nil
			}
			sig, present, mal := r.input.RawSignature()
			if mal || !present {
				return false, true, nil
			}
			sigBytes, serr := base64.StdEncoding.DecodeString(sig)
			if serr != nil {
				return false, true, nil
			}
			if !crypto.VerifyECDSA(signingMessage(r.input.OutputID, outputSetID), sigBytes, pubKey) {
				return false, true, nil
			}
		}
	}

	// Step 5: aggregate signatures, indexing into the candidate list above.
	for _, r := range resolved {
		if r.data.AggregateSignature == nil {
			continue
		}
		agg := r.data.AggregateSignature
		if len(agg.Signs) == 0 {
			return false, true, nil
		}
		pubKeys := make([][]byte, 0, len(agg.Signs))
		outIDs := make([]types.Hash, 0, len(agg.Signs))
		for _, raw := range agg.Signs {
			if raw >= uint64(len(candidates)) {
				return false, true, nil
			}
			idx := int(raw)
			if candidates[idx].used {
				return false, true, nil
			}
			pubKeys = append(pubKeys, candidates[idx].pubKey)
			outIDs = append(outIDs, candidates[idx].outputID)
		}

		buf := make([]byte, 0, types.HashSize*(len(outIDs)+1))
		for _, oid := range outIDs {
			buf = append(buf, oid[:]...)
		}
		buf = append(buf, outputSetID[:]...)
		msg := crypto.Hash(buf)

		sigBytes, serr := base64.StdEncoding.DecodeString(agg.Signature)
		if serr != nil {
			return false, true, nil
		}
		if !crypto.VerifyAggregate(msg[:], sigBytes, pubKeys) {
			return false, true, nil
		}
		for _, raw := range agg.Signs {
			candidates[int(raw)].used = true
		}
	}

	// Step 6: every schnorr-keyed output must end up covered by exactly
	// one standalone signature or aggregate.
	for _, cand := range candidates {
		if !cand.used {
			return false, true, nil
		}
	}

	// Step 7: value conservation, skipped for coinbase.
	if !isCoinbase {
		var totalOut uint64
		for _, out := range t.Outputs {
			if totalOut > math.MaxUint64-out.Value {
				return false, true, nil
			}
			totalOut += out.Value
		}
		if totalOut > totalIn {
			return false, true, nil
		}
		fee := totalIn - totalOut
		minFee, merr := t.MinFee()
		if merr != nil {
			return false, true, nil
		}
		if fee < minFee {
			return false, true, nil
		}
	}

	// Step 8: every contract-bearing output's predicate must accept.
	for _, i := range contractInputs {
		r := resolved[i]
		outData, _ := r.output.Decode()
		bytecode, berr := base64.StdEncoding.DecodeString(outData.Contract)
		if berr != nil {
			return false, true, nil
		}
		txJSON, jerr := canonicalTxJSON(t)
		if jerr != nil {
			return false, true, nil
		}
		inputJSON, jerr := json.Marshal(r.input)
		if jerr != nil {
			return false, true, nil
		}
		ok, errMsg := contract.VerifyTransaction(bytecode, contract.Context{
			TxJSON:        txJSON,
			ThisInputJSON: inputJSON,
			OutputSetID:   outputSetID,
			Chain:         chainReader{c: c, r: txn},
		})
		if !ok || errMsg != "" {
			return false, true, nil
		}
	}

	// Step 9: consensus's last word.
	if cerr := c.consensus.VerifyTransaction(txn, t); cerr != nil {
		return false, true, nil
	}

	return true, false, nil
}
