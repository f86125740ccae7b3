package rpc

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
)

// walletKeystore returns the server's keystore or a CodeNotFound error when
// wallet support is disabled.
func (s *Server) walletKeystore() (*wallet.Keystore, *Error) {
	if s.keystore == nil {
		return nil, &Error{Code: CodeNotFound, Message: "wallet support is disabled on this node"}
	}
	return s.keystore, nil
}

func (s *Server) handleWalletCreate(req *Request) (interface{}, *Error) {
	ks, kerr := s.walletKeystore()
	if kerr != nil {
		return nil, kerr
	}
	var p WalletCreateParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	if p.Name == "" || p.Password == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "name and password required"}
	}

	mnemonic, err := wallet.GenerateMnemonic()
	if err != nil {
		return nil, internalError(err)
	}
	seed, err := wallet.SeedFromMnemonic(mnemonic, "")
	if err != nil {
		return nil, internalError(err)
	}
	if err := ks.Create(p.Name, seed, []byte(p.Password), wallet.DefaultParams()); err != nil {
		return nil, internalError(err)
	}
	return struct {
		Mnemonic string `json:"mnemonic"`
	}{Mnemonic: mnemonic}, nil
}

func (s *Server) handleWalletList(req *Request) (interface{}, *Error) {
	ks, kerr := s.walletKeystore()
	if kerr != nil {
		return nil, kerr
	}
	names, err := ks.List()
	if err != nil {
		return nil, internalError(err)
	}
	return names, nil
}

// masterKey decrypts name's seed under password and returns its BIP-32
// master key.
func (s *Server) masterKey(ks *wallet.Keystore, name, password string) (*wallet.HDKey, *Error) {
	seed, err := ks.Load(name, []byte(password))
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "cannot unlock wallet: " + err.Error()}
	}
	master, err := wallet.NewMasterKey(seed)
	if err != nil {
		return nil, internalError(err)
	}
	return master, nil
}

func (s *Server) handleWalletNewAddress(req *Request) (interface{}, *Error) {
	ks, kerr := s.walletKeystore()
	if kerr != nil {
		return nil, kerr
	}
	var p WalletParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	master, merr := s.masterKey(ks, p.Name, p.Password)
	if merr != nil {
		return nil, merr
	}

	index, err := ks.GetExternalIndex(p.Name)
	if err != nil {
		return nil, internalError(err)
	}
	child, err := master.DeriveAddress(0, wallet.ChangeExternal, index)
	if err != nil {
		return nil, internalError(err)
	}
	pubKey := child.PublicKeyBytes()

	if err := ks.AddAccount(p.Name, wallet.AccountEntry{
		Index:   index,
		Change:  wallet.ChangeExternal,
		Name:    fmt.Sprintf("addr-%d", index),
		Address: hex.EncodeToString(pubKey),
	}); err != nil {
		return nil, internalError(err)
	}
	if err := ks.IncrementExternalIndex(p.Name); err != nil {
		return nil, internalError(err)
	}

	return WalletNewAddressResult{
		Address:   hex.EncodeToString(pubKey),
		PublicKey: base64.StdEncoding.EncodeToString(pubKey),
		Index:     index,
	}, nil
}

func (s *Server) handleWalletListAddresses(req *Request) (interface{}, *Error) {
	ks, kerr := s.walletKeystore()
	if kerr != nil {
		return nil, kerr
	}
	var p WalletParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	accounts, err := ks.ListAccounts(p.Name)
	if err != nil {
		return nil, internalError(err)
	}
	return accounts, nil
}

// walletPubKeys resolves every owned public key recorded for a wallet.
func (s *Server) walletPubKeys(ks *wallet.Keystore, name string) ([][]byte, *Error) {
	accounts, err := ks.ListAccounts(name)
	if err != nil {
		return nil, internalError(err)
	}
	pubKeys := make([][]byte, 0, len(accounts))
	for _, a := range accounts {
		pk, err := hex.DecodeString(a.Address)
		if err != nil {
			continue
		}
		pubKeys = append(pubKeys, pk)
	}
	return pubKeys, nil
}

func (s *Server) handleWalletGetBalance(req *Request) (interface{}, *Error) {
	ks, kerr := s.walletKeystore()
	if kerr != nil {
		return nil, kerr
	}
	var p WalletParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	pubKeys, perr := s.walletPubKeys(ks, p.Name)
	if perr != nil {
		return nil, perr
	}

	var confirmed uint64
	for _, pk := range pubKeys {
		outs, err := s.chain.GetUnspentOutputs(pk)
		if err != nil {
			return nil, internalError(err)
		}
		for _, out := range outs {
			confirmed += out.Value
		}
	}
	return WalletBalanceResult{Confirmed: confirmed}, nil
}

func (s *Server) handleWalletSend(req *Request) (interface{}, *Error) {
	ks, kerr := s.walletKeystore()
	if kerr != nil {
		return nil, kerr
	}
	var p WalletSendParam
	if rerr := parseParams(req, &p); rerr != nil {
		return nil, rerr
	}
	if p.Amount == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount must be positive"}
	}
	toPubKey, err := base64.StdEncoding.DecodeString(p.ToPubKey)
	if err != nil {
		return nil, &Error{Code: CodeInvalidParams, Message: "toPublicKey must be base64"}
	}

	master, merr := s.masterKey(ks, p.Name, p.Password)
	if merr != nil {
		return nil, merr
	}
	accounts, aerr := ks.ListAccounts(p.Name)
	if aerr != nil {
		return nil, internalError(aerr)
	}
	if len(accounts) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "wallet has no addresses to spend from"}
	}

	var (
		utxos      []wallet.UTXO
		signerKeys = map[string]*crypto.PrivateKey{}
	)
	for _, a := range accounts {
		pk, err := hex.DecodeString(a.Address)
		if err != nil {
			continue
		}
		outs, err := s.chain.GetUnspentOutputs(pk)
		if err != nil {
			return nil, internalError(err)
		}
		if len(outs) == 0 {
			continue
		}
		child, err := master.DeriveAddress(0, a.Change, a.Index)
		if err != nil {
			return nil, internalError(err)
		}
		signer, err := child.Signer()
		if err != nil {
			return nil, internalError(err)
		}
		signerKeys[a.Address] = signer
		for _, out := range outs {
			utxos = append(utxos, wallet.UTXO{OutputID: out.OutputID, Value: out.Value, Data: out.Data})
		}
	}
	if len(utxos) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "wallet has no spendable outputs"}
	}
	if len(signerKeys) != 1 {
		return nil, &Error{Code: CodeInvalidParams, Message: "wallet_send only supports a single funding address today"}
	}
	var signer *crypto.PrivateKey
	var changePubKey []byte
	for addrHex, key := range signerKeys {
		signer = key
		changePubKey, _ = hex.DecodeString(addrHex)
	}

	outData, err := json.Marshal(tx.OutputData{SchnorrKey: base64.StdEncoding.EncodeToString(toPubKey)})
	if err != nil {
		return nil, internalError(err)
	}
	built, err := wallet.BuildTransaction(utxos, []tx.Output{{Value: p.Amount, Data: outData}}, p.Fee, changePubKey, signer)
	if err != nil {
		return nil, internalError(err)
	}

	accepted, malformed, err := s.chain.SubmitTransaction(built)
	if err != nil {
		return nil, internalError(err)
	}
	if malformed {
		return nil, &Error{Code: CodeInvalidParams, Message: "built transaction was rejected as malformed"}
	}
	id, _ := built.ID()
	return WalletSendResult{TransactionID: id.String(), Accepted: accepted}, nil
}
