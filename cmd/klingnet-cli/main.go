// klingnet-cli is a command-line client for interacting with a klingnetd node.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"golang.org/x/term"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// Parse global flags that appear before the subcommand.
	rpcURL := "http://127.0.0.1:8545"

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(rpcURL)
	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "status":
		cmdStatus(client)
	case "block":
		cmdBlock(client, cmdArgs)
	case "tx":
		cmdTx(client, cmdArgs)
	case "output":
		cmdOutput(client, cmdArgs)
	case "input":
		cmdInput(client, cmdArgs)
	case "utxos":
		cmdOutputs(client, cmdArgs, false)
	case "stxos":
		cmdOutputs(client, cmdArgs, true)
	case "mempool":
		cmdMempool(client)
	case "peers":
		cmdPeers(client)
	case "submit-tx":
		cmdSubmitTx(client, cmdArgs)
	case "submit-block":
		cmdSubmitBlock(client, cmdArgs)
	case "mining":
		cmdMining(client, cmdArgs)
	case "wallet":
		cmdWallet(client, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingnet-cli [global flags] <command> [flags]

Global flags:
  --rpc <url>         RPC endpoint (default: http://127.0.0.1:8545)

Commands:
  status                          Show chain status
  block <hash|height>             Show block details
  tx <hash>                       Show confirmed transaction details
  output <hash>                   Show an output by id
  input <hash>                    Show a confirmed input by id
  utxos <pubkey_b64>              List unspent outputs owned by a public key
  stxos <pubkey_b64>              List spent outputs owned by a public key
  mempool                         Show mempool stats and pending tx ids
  peers                           Show connected peers
  submit-tx <file.json>           Submit a raw transaction JSON
  submit-block <file.json>        Submit a raw block JSON

  mining template --pubkey <b64>  Get a candidate block for external mining
  mining submit --block <file>    Submit a solved block

  wallet create --name <n>        Create a new wallet (prints mnemonic once)
  wallet list                     List wallets
  wallet new-address --name <n>   Derive the next wallet key
  wallet addresses --name <n>     List wallet keys
  wallet balance --name <n>       Show confirmed wallet balance
  wallet send --name <n> --to <pubkey_b64> --amount <n> [--fee <n>]
                                  Send coins to a public key
`)
}

// ── status ──────────────────────────────────────────────────────────────

func cmdStatus(client *rpcclient.Client) {
	var info rpc.ChainInfoResult
	if err := client.Call("chain_getInfo", nil, &info); err != nil {
		fatal("chain_getInfo: %v", err)
	}

	fmt.Printf("Height:   %d\n", info.Height)
	fmt.Printf("Tip:      %s\n", info.TipHash)
	if info.GenesisHash != "" {
		fmt.Printf("Genesis:  %s\n", info.GenesisHash)
	}
	fmt.Printf("Mempool:  %d txs (%d bytes)\n", info.MempoolCount, info.MempoolBytes)
	fmt.Printf("Peers:    %d\n", info.PeerCount)
}

// ── block ───────────────────────────────────────────────────────────────

func cmdBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli block <hash|height>")
	}

	arg := args[0]
	var raw json.RawMessage

	// Try as height first (pure number).
	if height, err := strconv.ParseUint(arg, 10, 64); err == nil {
		if err := client.Call("chain_getBlockByHeight", rpc.HeightParam{Height: height}, &raw); err != nil {
			fatal("chain_getBlockByHeight: %v", err)
		}
	} else {
		if err := client.Call("chain_getBlock", rpc.HashParam{Hash: arg}, &raw); err != nil {
			fatal("chain_getBlock: %v", err)
		}
	}

	var blk struct {
		Transactions    []json.RawMessage `json:"transactions"`
		PreviousBlockID string            `json:"previousBlockId"`
		Timestamp       uint64            `json:"timestamp"`
		Height          uint64            `json:"height"`
		ConsensusData   json.RawMessage   `json:"consensusData"`
	}
	if err := json.Unmarshal(raw, &blk); err != nil {
		fatal("decode block: %v", err)
	}

	ts := time.Unix(int64(blk.Timestamp), 0).UTC()
	fmt.Printf("Height:     %d\n", blk.Height)
	fmt.Printf("Prev:       %s\n", blk.PreviousBlockID)
	fmt.Printf("Time:       %s\n", ts.Format(time.RFC3339))
	fmt.Printf("Txs:        %d (+coinbase)\n", len(blk.Transactions))
	if len(blk.ConsensusData) > 0 {
		fmt.Printf("Consensus:  %s\n", string(blk.ConsensusData))
	}
}

// ── tx / output / input ─────────────────────────────────────────────────

func cmdTx(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli tx <hash>")
	}

	var result rpc.TransactionResult
	if err := client.Call("chain_getTransaction", rpc.HashParam{Hash: args[0]}, &result); err != nil {
		fatal("chain_getTransaction: %v", err)
	}

	ts := time.Unix(int64(result.Timestamp), 0).UTC()
	fmt.Printf("Tx:         %s\n", args[0])
	fmt.Printf("Block:      %s\n", result.ConfirmingBlock)
	fmt.Printf("Coinbase:   %v\n", result.Coinbase)
	fmt.Printf("Time:       %s\n", ts.Format(time.RFC3339))
	fmt.Printf("Inputs:     %d\n", len(result.InputIDs))
	for _, id := range result.InputIDs {
		fmt.Printf("  %s\n", id)
	}
	fmt.Printf("Outputs:    %d\n", len(result.OutputIDs))
	for _, id := range result.OutputIDs {
		fmt.Printf("  %s\n", id)
	}
}

func cmdOutput(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli output <hash>")
	}

	var result rpc.OutputResult
	if err := client.Call("chain_getOutput", rpc.HashParam{Hash: args[0]}, &result); err != nil {
		fatal("chain_getOutput: %v", err)
	}
	printOutput(result)
}

func printOutput(out rpc.OutputResult) {
	state := "unspent"
	if out.Spent {
		state = "spent"
	}
	fmt.Printf("Output:     %s (%s)\n", out.OutputID, state)
	fmt.Printf("Value:      %d\n", out.Value)
	fmt.Printf("Nonce:      %d\n", out.Nonce)
	fmt.Printf("Created by: %s\n", out.CreationTx)
	if len(out.Data) > 0 {
		fmt.Printf("Data:       %s\n", string(out.Data))
	}
}

func cmdInput(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli input <hash>")
	}

	var raw json.RawMessage
	if err := client.Call("chain_getInput", rpc.HashParam{Hash: args[0]}, &raw); err != nil {
		fatal("chain_getInput: %v", err)
	}
	fmt.Println(string(raw))
}

// ── utxos / stxos ───────────────────────────────────────────────────────

func cmdOutputs(client *rpcclient.Client, args []string, spent bool) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli %s <pubkey_b64>", map[bool]string{false: "utxos", true: "stxos"}[spent])
	}

	method := "chain_getUnspentOutputs"
	if spent {
		method = "chain_getSpentOutputs"
	}

	var results []rpc.OutputResult
	if err := client.Call(method, rpc.PubKeyParam{PublicKey: args[0]}, &results); err != nil {
		fatal("%s: %v", method, err)
	}

	if len(results) == 0 {
		fmt.Println("No outputs.")
		return
	}
	var total uint64
	for _, out := range results {
		fmt.Printf("  %s  value=%d\n", out.OutputID, out.Value)
		total += out.Value
	}
	fmt.Printf("Total: %d across %d outputs\n", total, len(results))
}

// ── mempool / peers ─────────────────────────────────────────────────────

func cmdMempool(client *rpcclient.Client) {
	var info rpc.MempoolInfoResult
	if err := client.Call("mempool_getInfo", nil, &info); err != nil {
		fatal("mempool_getInfo: %v", err)
	}
	fmt.Printf("Pending:  %d txs (%d bytes)\n", info.Count, info.Bytes)

	if info.Count == 0 {
		return
	}
	var txs []json.RawMessage
	if err := client.Call("chain_getUnconfirmedTransactions", nil, &txs); err != nil {
		fatal("chain_getUnconfirmedTransactions: %v", err)
	}
	for _, raw := range txs {
		var t struct {
			Timestamp uint64            `json:"timestamp"`
			Inputs    []json.RawMessage `json:"inputs"`
			Outputs   []json.RawMessage `json:"outputs"`
		}
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		fmt.Printf("  ts=%d inputs=%d outputs=%d\n", t.Timestamp, len(t.Inputs), len(t.Outputs))
	}
}

func cmdPeers(client *rpcclient.Client) {
	var peers rpc.PeerInfoResult
	if err := client.Call("net_getPeerInfo", nil, &peers); err != nil {
		fatal("net_getPeerInfo: %v", err)
	}
	fmt.Printf("Peers: %d\n", peers.PeerCount)
	for _, id := range peers.PeerIDs {
		fmt.Printf("  %s\n", id)
	}

	var info rpc.NodeInfoResult
	if err := client.Call("net_getNodeInfo", nil, &info); err == nil {
		fmt.Printf("Self:  %s\n", info.PeerID)
		for _, a := range info.Addrs {
			fmt.Printf("  %s\n", a)
		}
	}
}

// ── submit ──────────────────────────────────────────────────────────────

func cmdSubmitTx(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli submit-tx <file.json>")
	}
	raw := readJSONFile(args[0])

	// Use raw params so the tx JSON passes through without double-marshaling.
	params := map[string]interface{}{"transaction": raw}
	var result rpc.SubmitResult
	if err := client.Call("tx_submit", params, &result); err != nil {
		fatal("tx_submit: %v", err)
	}
	printSubmitResult("Transaction", result)
}

func cmdSubmitBlock(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli submit-block <file.json>")
	}
	raw := readJSONFile(args[0])

	params := map[string]interface{}{"block": raw}
	var result rpc.SubmitResult
	if err := client.Call("block_submit", params, &result); err != nil {
		fatal("block_submit: %v", err)
	}
	printSubmitResult("Block", result)
}

func printSubmitResult(what string, result rpc.SubmitResult) {
	switch {
	case result.Accepted:
		fmt.Printf("%s accepted: %s\n", what, result.ID)
	case result.WasMalformed:
		fmt.Printf("%s rejected as malformed.\n", what)
		os.Exit(1)
	default:
		fmt.Printf("%s not accepted (already known or conflicting).\n", what)
		os.Exit(1)
	}
}

func readJSONFile(path string) json.RawMessage {
	data, err := os.ReadFile(path)
	if err != nil {
		fatal("read %s: %v", path, err)
	}
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		fatal("invalid JSON in %s: %v", path, err)
	}
	return raw
}

// ── mining ──────────────────────────────────────────────────────────────

func cmdMining(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli mining <template|submit> [flags]")
	}
	switch args[0] {
	case "template":
		cmdMiningTemplate(client, args[1:])
	case "submit":
		cmdSubmitBlock(client, flagValue(args[1:], "block"))
	default:
		fatal("Unknown mining command: %s", args[0])
	}
}

func flagValue(args []string, name string) []string {
	fs := flag.NewFlagSet("mining submit", flag.ExitOnError)
	v := fs.String(name, "", "")
	fs.Parse(args)
	if *v == "" {
		return nil
	}
	return []string{*v}
}

func cmdMiningTemplate(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("mining template", flag.ExitOnError)
	pubKey := fs.String("pubkey", "", "base64-encoded coinbase public key")
	fs.Parse(args)

	if *pubKey == "" {
		fatal("Usage: klingnet-cli mining template --pubkey <b64>")
	}

	var result json.RawMessage
	if err := client.Call("mining_getBlockTemplate", rpc.PubKeyParam{PublicKey: *pubKey}, &result); err != nil {
		fatal("mining_getBlockTemplate: %v", err)
	}

	// Output as JSON for external miner consumption.
	var pretty map[string]interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		fatal("decode template: %v", err)
	}
	data, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fatal("marshal template: %v", err)
	}
	fmt.Println(string(data))
}

// ── wallet ──────────────────────────────────────────────────────────────

func cmdWallet(client *rpcclient.Client, args []string) {
	if len(args) < 1 {
		fatal("Usage: klingnet-cli wallet <create|list|new-address|addresses|balance|send> [flags]")
	}
	switch args[0] {
	case "create":
		cmdWalletCreate(client, args[1:])
	case "list":
		cmdWalletList(client)
	case "new-address":
		cmdWalletNewAddress(client, args[1:])
	case "addresses":
		cmdWalletAddresses(client, args[1:])
	case "balance":
		cmdWalletBalance(client, args[1:])
	case "send":
		cmdWalletSend(client, args[1:])
	default:
		fatal("Unknown wallet command: %s", args[0])
	}
}

func walletNameFlag(args []string, cmd string) (string, string) {
	fs := flag.NewFlagSet("wallet "+cmd, flag.ExitOnError)
	name := fs.String("name", "", "wallet name")
	fs.Parse(args)
	if *name == "" {
		fatal("Usage: klingnet-cli wallet %s --name <n>", cmd)
	}
	password, err := readPassword("Wallet password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	return *name, string(password)
}

func cmdWalletCreate(client *rpcclient.Client, args []string) {
	name, password := walletNameFlag(args, "create")

	var result struct {
		Mnemonic string `json:"mnemonic"`
	}
	if err := client.Call("wallet_create", rpc.WalletCreateParam{Name: name, Password: password}, &result); err != nil {
		fatal("wallet_create: %v", err)
	}

	fmt.Printf("Wallet %q created.\n\n", name)
	fmt.Println("Recovery mnemonic (write it down, it is shown exactly once):")
	fmt.Printf("\n  %s\n\n", result.Mnemonic)
}

func cmdWalletList(client *rpcclient.Client) {
	var names []string
	if err := client.Call("wallet_list", nil, &names); err != nil {
		fatal("wallet_list: %v", err)
	}
	if len(names) == 0 {
		fmt.Println("No wallets.")
		return
	}
	for _, n := range names {
		fmt.Println(n)
	}
}

func cmdWalletNewAddress(client *rpcclient.Client, args []string) {
	name, password := walletNameFlag(args, "new-address")

	var result rpc.WalletNewAddressResult
	if err := client.Call("wallet_newAddress", rpc.WalletParam{Name: name, Password: password}, &result); err != nil {
		fatal("wallet_newAddress: %v", err)
	}
	fmt.Printf("Index:     %d\n", result.Index)
	fmt.Printf("PublicKey: %s\n", result.PublicKey)
	fmt.Printf("Address:   %s\n", result.Address)
}

func cmdWalletAddresses(client *rpcclient.Client, args []string) {
	name, password := walletNameFlag(args, "addresses")

	var accounts []struct {
		Index   uint32 `json:"index"`
		Address string `json:"address"`
	}
	if err := client.Call("wallet_listAddresses", rpc.WalletParam{Name: name, Password: password}, &accounts); err != nil {
		fatal("wallet_listAddresses: %v", err)
	}
	for _, a := range accounts {
		fmt.Printf("  [%d] %s\n", a.Index, a.Address)
	}
}

func cmdWalletBalance(client *rpcclient.Client, args []string) {
	name, password := walletNameFlag(args, "balance")

	var result rpc.WalletBalanceResult
	if err := client.Call("wallet_getBalance", rpc.WalletParam{Name: name, Password: password}, &result); err != nil {
		fatal("wallet_getBalance: %v", err)
	}
	fmt.Printf("Confirmed: %d\n", result.Confirmed)
}

func cmdWalletSend(client *rpcclient.Client, args []string) {
	fs := flag.NewFlagSet("wallet send", flag.ExitOnError)
	name := fs.String("name", "", "wallet name")
	to := fs.String("to", "", "recipient public key (base64)")
	amount := fs.Uint64("amount", 0, "amount to send")
	fee := fs.Uint64("fee", 0, "fee to pay (0 = minimum)")
	fs.Parse(args)

	if *name == "" || *to == "" || *amount == 0 {
		fatal("Usage: klingnet-cli wallet send --name <n> --to <pubkey_b64> --amount <n> [--fee <n>]")
	}
	password, err := readPassword("Wallet password: ")
	if err != nil {
		fatal("read password: %v", err)
	}

	var result rpc.WalletSendResult
	if err := client.Call("wallet_send", rpc.WalletSendParam{
		Name:     *name,
		Password: string(password),
		ToPubKey: *to,
		Amount:   *amount,
		Fee:      *fee,
	}, &result); err != nil {
		fatal("wallet_send: %v", err)
	}

	if !result.Accepted {
		fatal("transaction was not accepted")
	}
	fmt.Printf("Sent. Transaction id: %s\n", result.TransactionID)
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
