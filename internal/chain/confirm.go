package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/Klingon-tech/klingnet-chain/pkg/types"
)

// confirmTransaction applies t's effects to the UTXO/STXO/inputs tables and
// removes it from the mempool. Callers must have already
// run verifyTransaction successfully against the same txn.
func (c *Chain) confirmTransaction(txn *storage.WriteTxn, t *tx.Transaction, confirmingBlock types.Hash, isCoinbase bool) error {
	id, err := t.ID()
	if err != nil {
		return err
	}

	if cerr := c.consensus.ConfirmTransaction(txn, t); cerr != nil {
		c.log.Warn().Err(cerr).Str("tx", id.String()).Msg("consensus confirm hook failed")
	}

	inputIDs := make([]types.Hash, len(t.Inputs))
	for i, in := range t.Inputs {
		out, spent, gerr := c.getOutput(txn, in.OutputID)
		if gerr != nil {
			return fmt.Errorf("confirm: resolve input %d: %w", i, gerr)
		}
		if spent {
			return fmt.Errorf("confirm: input %d already spent", i)
		}

		txn.Erase(c.utxos, -1, in.OutputID.String())
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		txn.Put(c.stxos, -1, in.OutputID.String(), raw)

		if pubKey, ok := ownerPubKey(&out.Output); ok {
			txn.Erase(c.utxos, 0, pubkeyIndexKey(pubKey, in.OutputID))
			txn.Put(c.stxos, 0, pubkeyIndexKey(pubKey, in.OutputID), nil)
		}

		inputID, err := in.ID()
		if err != nil {
			return err
		}
		inputIDs[i] = inputID
		inputRaw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		txn.Put(c.inputs, -1, inputID.String(), inputRaw)
	}

	outputIDs, err := t.OutputIDs()
	if err != nil {
		return err
	}
	for i, out := range t.Outputs {
		outID := outputIDs[i]
		dbOut := dbOutput{Output: out, CreationTx: id, OutputID: outID}
		raw, err := json.Marshal(dbOut)
		if err != nil {
			return err
		}
		txn.Put(c.utxos, -1, outID.String(), raw)

		if pubKey, ok := ownerPubKey(&out); ok {
			txn.Put(c.utxos, 0, pubkeyIndexKey(pubKey, outID), nil)
		}
	}

	dt := dbTransaction{
		InputIDs:        inputIDs,
		OutputIDs:       outputIDs,
		ConfirmingBlock: confirmingBlock,
		Coinbase:        isCoinbase,
		Timestamp:       t.Timestamp,
	}
	raw, err := json.Marshal(dt)
	if err != nil {
		return err
	}
	txn.Put(c.transactions, -1, id.String(), raw)

	c.mempool.Remove(id)
	return nil
}

func decodePubKey(b64 string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(b64)
}

// ownerPubKey resolves the key an output's ownership index entry is filed
// under: data.publicKey for ECDSA-keyed outputs, data.schnorrKey for
// Schnorr-keyed ones. Outputs guarded only by a merkle root or a contract
// have no single owning key and are not indexed.
func ownerPubKey(out *tx.Output) ([]byte, bool) {
	data, err := out.Decode()
	if err != nil {
		return nil, false
	}
	encoded := data.PublicKey
	if encoded == "" {
		encoded = data.SchnorrKey
	}
	if encoded == "" {
		return nil, false
	}
	pubKey, err := decodePubKey(encoded)
	if err != nil {
		return nil, false
	}
	return pubKey, true
}
