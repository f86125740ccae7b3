// Command testnet boots a 2-node local testnet from scratch.
//
// Usage: go run ./cmd/testnet/
//
// It creates a shared genesis file, boots two in-process nodes (one PoW
// miner, one follower), mines 10 blocks at the minimum-difficulty target,
// gossips them via libp2p, and verifies both chains converge. Ctrl+C for
// early shutdown.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/p2p"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	libp2ppeer "github.com/libp2p/go-libp2p/core/peer"
)

const (
	numBlocks   = 10
	blockReward = 50
	// blockTime is the KGW rate target handed to the PoW engine. The
	// harness never mines long enough to leave the min-difficulty window,
	// so this only has to be a sane value, not a tuned one.
	blockTime = 3
)

// nodeBundle groups all components for one logical node.
type nodeBundle struct {
	name  string
	chain *chain.Chain
	pool  *mempool.Pool
	pow   *consensus.PoW
	p2p   *p2p.Node
}

func main() {
	klog.Init("info", false, "")
	logger := klog.WithComponent("testnet")

	logger.Info().Msg("=== Klingnet 2-Node Local Testnet ===")

	// ── Phase 1: Miner identity + shared genesis file ───────────────────

	minerKey, err := crypto.GenerateKey()
	if err != nil {
		logger.Fatal().Err(err).Msg("generate miner key")
	}
	minerPub := minerKey.PublicKey()
	logger.Info().
		Str("miner_pub", hex.EncodeToString(minerPub)[:16]+"...").
		Msg("Miner identity generated")

	tmpDir, err := os.MkdirTemp("", "klingnet-testnet-*")
	if err != nil {
		logger.Fatal().Err(err).Msg("create temp dir")
	}
	defer os.RemoveAll(tmpDir)
	genesisPath := filepath.Join(tmpDir, "genesis.json")

	// ── Phase 2: Build nodes ─────────────────────────────────────────────

	// node-1 generates the genesis and writes it to genesisPath; node-2
	// loads the very same file, so both start from an identical block.
	node1, err := buildNode("node-1", genesisPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-1")
	}
	node2, err := buildNode("node-2", genesisPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("build node-2")
	}

	logger.Info().
		Uint64("node1_height", height(node1.chain)).
		Uint64("node2_height", height(node2.chain)).
		Msg("Genesis initialized on both nodes")

	// ── Phase 3: Start P2P + connect ─────────────────────────────────────

	if err := node1.p2p.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start node-1 p2p")
	}
	if err := node2.p2p.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start node-2 p2p")
	}
	defer cleanup(node1, node2)

	logger.Info().
		Str("node1_id", node1.p2p.ID().String()[:16]+"...").
		Str("node2_id", node2.p2p.ID().String()[:16]+"...").
		Msg("P2P nodes started")

	connectNodes(node1.p2p, node2.p2p)
	time.Sleep(500 * time.Millisecond) // GossipSub mesh stabilization.

	logger.Info().
		Int("node1_peers", node1.p2p.PeerCount()).
		Int("node2_peers", node2.p2p.PeerCount()).
		Msg("Nodes connected")

	// ── Phase 4: Signal handling ─────────────────────────────────────────

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info().Msg("Shutdown signal received")
		cancel()
	}()
	stop := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	// ── Phase 5: Block production ────────────────────────────────────────

	logger.Info().Int("blocks", numBlocks).Msg("Starting block production")

	for i := 0; i < numBlocks; i++ {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Production interrupted")
			goto verify
		default:
		}

		blk, err := node1.chain.GenerateVerifyingBlock(minerPub)
		if err != nil {
			logger.Fatal().Err(err).Msg("generate candidate block")
		}
		found, err := node1.pow.Mine(blk, stop)
		if err != nil {
			logger.Fatal().Err(err).Msg("mine block")
		}
		if !found {
			goto verify // interrupted mid-search
		}

		accepted, malformed, err := node1.chain.SubmitBlock(blk, false)
		if err != nil || !accepted {
			logger.Fatal().Err(err).Bool("malformed", malformed).Msg("submit mined block on node-1")
		}

		if err := node1.p2p.BroadcastBlock(blk); err != nil {
			logger.Error().Err(err).Msg("broadcast block")
		}

		id, _ := blk.ID()
		logger.Info().
			Uint64("height", blk.Height).
			Str("id", id.String()[:16]+"...").
			Int("txs", len(blk.Transactions)).
			Uint64("reward", blk.CoinbaseTx.Outputs[0].Value).
			Msg("Block mined")
	}

verify:
	// ── Phase 6: Verification ────────────────────────────────────────────

	// Wait for the last block to propagate.
	time.Sleep(2 * time.Second)

	h1 := height(node1.chain)
	h2 := height(node2.chain)
	t1 := tipID(node1.chain)
	t2 := tipID(node2.chain)

	logger.Info().
		Uint64("node1_height", h1).
		Uint64("node2_height", h2).
		Str("node1_tip", t1[:16]+"...").
		Str("node2_tip", t2[:16]+"...").
		Msg("Final chain state")

	if h1 == h2 && t1 == t2 {
		logger.Info().Msg("SUCCESS: Both nodes converged — chains match!")
		fmt.Println()
		fmt.Printf("  Chain height:    %d\n", h1)
		fmt.Printf("  Chain tip:       %s\n", t1)
		fmt.Printf("  Block reward:    %d\n", blockReward)
		utxos, _ := node2.chain.GetUnspentOutputs(minerPub)
		fmt.Printf("  Miner UTXOs:     %d\n", len(utxos))
		fmt.Println()
	} else {
		logger.Error().Msg("FAILURE: Chain mismatch between nodes!")
		os.Exit(1)
	}
}

// buildNode creates a fully wired node with chain, mempool, PoW and p2p.
func buildNode(name, genesisPath string) (*nodeBundle, error) {
	store := storage.NewStore(storage.NewMemory())
	pool := mempool.New()

	pow := consensus.NewPoW(blockTime, consensus.DoubleSHA256, nil, klog.WithComponent(name))
	ch := chain.New(store, pow, pool, func(uint64) uint64 { return blockReward }, nil)
	pow.Blocks = ch

	if err := ch.LoadChain(genesisPath); err != nil {
		return nil, fmt.Errorf("load genesis: %w", err)
	}

	p2pNode := p2p.New(p2p.Config{
		ListenAddr: "127.0.0.1",
		Port:       0, // Random port.
		NoDiscover: true,
		NetworkID:  "klingnet-testnet-local",
	})

	// Wire handshake: verify peers are on the same chain.
	if genesisID, ok := ch.GenesisID(); ok {
		p2pNode.SetGenesisHash(genesisID)
	}
	p2pNode.SetHeightFn(func() uint64 { return height(ch) })

	// Wire block handler: incoming gossip → submit to the ledger engine.
	nodeLogger := klog.WithComponent(name)
	p2pNode.SetBlockHandler(func(_ libp2ppeer.ID, data []byte) {
		var blk block.Block
		if err := json.Unmarshal(data, &blk); err != nil {
			nodeLogger.Error().Err(err).Msg("unmarshal block")
			return
		}
		accepted, malformed, err := ch.SubmitBlock(&blk, false)
		if err != nil {
			nodeLogger.Error().Err(err).Uint64("height", blk.Height).Msg("submit block")
			return
		}
		if !accepted {
			if malformed {
				nodeLogger.Warn().Uint64("height", blk.Height).Msg("malformed block from gossip")
			}
			return
		}
		id, _ := blk.ID()
		nodeLogger.Info().
			Uint64("height", blk.Height).
			Str("id", id.String()[:16]+"...").
			Msg("Block received and applied")
	})

	return &nodeBundle{
		name:  name,
		chain: ch,
		pool:  pool,
		pow:   pow,
		p2p:   p2pNode,
	}, nil
}

func height(ch *chain.Chain) uint64 {
	tip, err := ch.Tip()
	if err != nil {
		return 0
	}
	return tip.Height
}

func tipID(ch *chain.Chain) string {
	tip, err := ch.Tip()
	if err != nil {
		return "????????????????"
	}
	id, err := tip.ID()
	if err != nil {
		return "????????????????"
	}
	return id.String()
}

// connectNodes connects two P2P nodes directly.
func connectNodes(a, b *p2p.Node) {
	aHost := a.Host()
	info := libp2ppeer.AddrInfo{
		ID:    aHost.ID(),
		Addrs: aHost.Addrs(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.Host().Connect(ctx, info)
}

// cleanup stops all P2P nodes.
func cleanup(nodes ...*nodeBundle) {
	for _, n := range nodes {
		n.p2p.Stop()
	}
}
