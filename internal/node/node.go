// Package node provides a reusable blockchain node that can be embedded
// in any binary (daemon, light client, test harness).
package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/chain"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/mempool"
	"github.com/Klingon-tech/klingnet-chain/internal/p2p"
	"github.com/Klingon-tech/klingnet-chain/internal/rpc"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/Klingon-tech/klingnet-chain/internal/wallet"
	"github.com/Klingon-tech/klingnet-chain/pkg/block"
	"github.com/Klingon-tech/klingnet-chain/pkg/tx"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
)

// subsidyHalvingInterval halves the block subsidy every 210,000 blocks,
// the schedule the ledger engine otherwise leaves to an external
// adapter to define.
const subsidyHalvingInterval = 210_000

// coin is the number of base units per whole coin.
const coin = 100_000_000

// initialSubsidy is the block reward paid at height 1, before any halving,
// in base units. Keeping it large relative to the per-byte fee floor means
// a single coinbase can fund ordinary spends.
const initialSubsidy = 50 * coin

// blockReward is the default BlockRewardFunc adapter wired into Chain.New
// for the real daemon (test helpers use their own fixed-reward funcs).
func blockReward(height uint64) uint64 {
	halvings := height / subsidyHalvingInterval
	if halvings >= 64 {
		return 0
	}
	return initialSubsidy >> halvings
}

// miningRefreshInterval bounds how long a mining attempt runs before the
// candidate block is rebuilt against a fresh mempool snapshot.
const miningRefreshInterval = 20 * time.Second

// syncPeerFanout caps how many peers a startup sync probes for height.
const syncPeerFanout = 3

// syncBatchSize is the number of blocks requested per sync round-trip.
const syncBatchSize = 500

// Node wires a Chain to PoW consensus, P2P gossip/sync and an RPC server
// into a single runnable process.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	db  storage.DB
	pow *consensus.PoW
	ch  *chain.Chain
	rpcServer *rpc.Server
	p2pNode   *p2p.Node
	syncer    *p2p.Syncer
	coinbase  []byte

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New initializes a Node: opens storage, loads or generates the genesis
// block, wires consensus/mempool/P2P/RPC. It does not start background
// goroutines (mining, sync) — call Start for that.
func New(cfg *config.Config) (*Node, error) {
	logFile := cfg.Log.File
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			return nil, fmt.Errorf("create logs dir: %w", err)
		}
		logFile = cfg.LogsDir() + "/klingnet.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := klog.WithComponent("node")

	if err := os.MkdirAll(cfg.ChainDataDir(), 0755); err != nil {
		return nil, fmt.Errorf("create chain data dir: %w", err)
	}
	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.ChainDataDir(), err)
	}
	store := storage.NewStore(db)
	logger.Info().Str("path", cfg.ChainDataDir()).Str("network", string(cfg.Network)).Msg("database opened")

	pool := mempool.New()

	// PoW needs a BlockSource, which is the Chain being constructed below,
	// and Chain.New needs the already-constructed engine: build PoW with a
	// nil source, wire chain as its BlockSource once it exists.
	engine, err := createEngine(cfg, nil, klog.Consensus)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create consensus engine: %w", err)
	}
	pow, _ := engine.(*consensus.PoW)

	ch := chain.New(store, engine, pool, blockReward, nil)
	if pow != nil {
		pow.Blocks = ch
	}

	if err := ch.LoadChain(cfg.GenesisPath()); err != nil {
		db.Close()
		return nil, fmt.Errorf("load genesis from %s: %w", cfg.GenesisPath(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:    cfg,
		logger: logger,
		db:     db,
		pow:    pow,
		ch:     ch,
		ctx:    ctx,
		cancel: cancel,
	}

	if tip, err := ch.Tip(); err == nil {
		logger.Info().Uint64("height", tip.Height).Msg("chain ready")
	}

	if cfg.P2P.Enabled {
		if err := n.setupP2P(); err != nil {
			cancel()
			db.Close()
			return nil, fmt.Errorf("setup p2p: %w", err)
		}
	} else {
		logger.Warn().Msg("p2p disabled by config; node will run offline")
	}

	if cfg.RPC.Enabled {
		if err := n.setupRPC(); err != nil {
			cancel()
			if n.p2pNode != nil {
				n.p2pNode.Stop()
			}
			db.Close()
			return nil, fmt.Errorf("setup rpc: %w", err)
		}
	} else {
		logger.Warn().Msg("rpc disabled by config")
	}

	if cfg.Mining.Enabled {
		coinbase, err := resolveCoinbase(cfg.Mining.Coinbase)
		if err != nil {
			n.Stop()
			return nil, err
		}
		n.coinbase = coinbase
	}

	return n, nil
}

// setupP2P starts the P2P node and wires tx/block gossip into the chain.
func (n *Node) setupP2P() error {
	p2pNode := p2p.New(p2p.Config{
		ListenAddr: n.cfg.P2P.ListenAddr,
		Port:       n.cfg.P2P.Port,
		Seeds:      n.cfg.P2P.Seeds,
		MaxPeers:   n.cfg.P2P.MaxPeers,
		NoDiscover: n.cfg.P2P.NoDiscover,
		DB:         n.db,
		DHTServer:  n.cfg.P2P.DHTServer,
		NetworkID:  string(n.cfg.Network),
		DataDir:    n.cfg.ChainDataDir(),
	})

	if genesisID, ok := n.ch.GenesisID(); ok {
		p2pNode.SetGenesisHash(genesisID)
	}
	p2pNode.SetHeightFn(func() uint64 {
		tip, err := n.ch.Tip()
		if err != nil {
			return 0
		}
		return tip.Height
	})

	p2pNode.SetBlockHandler(func(from peer.ID, data []byte) {
		var blk block.Block
		if err := json.Unmarshal(data, &blk); err != nil {
			p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidBlock, "unmarshal: "+err.Error())
			return
		}
		accepted, malformed, err := n.ch.SubmitBlock(&blk, false)
		if err != nil {
			n.logger.Warn().Err(err).Uint64("height", blk.Height).Msg("block processing error")
			return
		}
		if malformed {
			p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidBlock, "malformed block")
			return
		}
		if !accepted {
			return
		}
		n.logger.Info().Uint64("height", blk.Height).Int("txs", len(blk.Transactions)).Msg("block received and applied")
	})

	p2pNode.SetTxHandler(func(from peer.ID, data []byte) {
		var t tx.Transaction
		if err := json.Unmarshal(data, &t); err != nil {
			p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidTx, "unmarshal: "+err.Error())
			return
		}
		accepted, malformed, err := n.ch.SubmitTransaction(&t)
		if err != nil {
			n.logger.Warn().Err(err).Msg("transaction processing error")
			return
		}
		if malformed {
			p2pNode.BanManager.RecordOffense(from, p2p.PenaltyInvalidTx, "malformed transaction")
			return
		}
		if accepted {
			n.logger.Debug().Msg("transaction added to mempool")
		}
	})

	if err := p2pNode.Start(); err != nil {
		return fmt.Errorf("start p2p: %w", err)
	}
	n.logger.Info().Str("id", p2pNode.ID().String()).Int("port", n.cfg.P2P.Port).Msg("p2p node started")

	syncer := p2p.NewSyncer(p2pNode)
	syncer.RegisterHandler(func(fromHeight uint64, max uint32) []*block.Block {
		var blocks []*block.Block
		for h := fromHeight; h < fromHeight+uint64(max); h++ {
			blk, err := n.ch.GetBlockByHeight(h)
			if err != nil {
				break
			}
			blocks = append(blocks, blk)
		}
		return blocks
	})
	syncer.RegisterHeightHandler(func() (uint64, string) {
		tip, err := n.ch.Tip()
		if err != nil {
			return 0, ""
		}
		id, _ := tip.ID()
		return tip.Height, id.String()
	})
	n.logger.Info().Msg("chain sync protocol registered")

	n.p2pNode = p2pNode
	n.syncer = syncer
	return nil
}

// setupRPC starts the JSON-RPC server and, if enabled, the wallet keystore.
func (n *Node) setupRPC() error {
	rpcAddr := fmt.Sprintf("%s:%d", n.cfg.RPC.Addr, n.cfg.RPC.Port)
	rpcServer := rpc.New(rpcAddr, n.ch, n.p2pNode, n.cfg.RPC)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("start rpc at %s: %w", rpcAddr, err)
	}
	n.logger.Info().Str("addr", rpcServer.Addr()).Msg("rpc server started")

	if n.cfg.Wallet.Enabled {
		ks, err := wallet.NewKeystore(n.cfg.KeystoreDir())
		if err != nil {
			rpcServer.Stop()
			return fmt.Errorf("create wallet keystore: %w", err)
		}
		rpcServer.SetKeystore(ks)
		n.logger.Info().Str("path", n.cfg.KeystoreDir()).Msg("wallet rpc enabled")
	}

	n.rpcServer = rpcServer
	return nil
}

// Start launches background goroutines: startup sync, periodic re-sync and,
// if mining is enabled, the PoW mining loop.
func (n *Node) Start() error {
	if n.p2pNode != nil && n.syncer != nil {
		n.runStartupSync()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runSyncLoop()
		}()
	}

	if n.cfg.Mining.Enabled {
		if n.pow == nil {
			return fmt.Errorf("mining requires a PoW consensus engine")
		}
		n.logger.Info().
			Str("coinbase", hex.EncodeToString(n.coinbase)).
			Dur("refresh", miningRefreshInterval).
			Msg("block production enabled")

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runMiner()
		}()
	}

	n.logger.Info().
		Uint64("height", n.Height()).
		Bool("mining", n.cfg.Mining.Enabled).
		Msg("node started")
	return nil
}

// Stop performs graceful shutdown in reverse order of Start/New.
func (n *Node) Stop() {
	if n.pow != nil {
		n.pow.StopMining()
	}
	n.cancel()
	n.wg.Wait()

	if n.rpcServer != nil {
		n.rpcServer.Stop()
	}
	if n.p2pNode != nil {
		n.p2pNode.Stop()
	}
	if n.db != nil {
		n.db.Close()
	}
	n.logger.Info().Msg("goodbye")
}

// RPCAddr returns the address the RPC server is listening on, or "" if RPC
// is disabled.
func (n *Node) RPCAddr() string {
	if n.rpcServer == nil {
		return ""
	}
	return n.rpcServer.Addr()
}

// Height returns the current chain height, or 0 before genesis loads.
func (n *Node) Height() uint64 {
	tip, err := n.ch.Tip()
	if err != nil {
		return 0
	}
	return tip.Height
}

// ── Mining ──────────────────────────────────────────────────────────────

func (n *Node) runMiner() {
	generate := func() (*block.Block, error) {
		return n.ch.GenerateVerifyingBlock(n.coinbase)
	}
	submit := func(blk *block.Block) error {
		accepted, malformed, err := n.ch.SubmitBlock(blk, false)
		if err != nil {
			return err
		}
		if malformed || !accepted {
			return fmt.Errorf("mined block rejected (malformed=%v)", malformed)
		}
		if n.p2pNode != nil {
			if err := n.p2pNode.BroadcastBlock(blk); err != nil {
				n.logger.Warn().Err(err).Msg("failed to broadcast mined block")
			}
		}
		ev := n.logger.Info().
			Uint64("height", blk.Height).
			Int("txs", len(blk.Transactions))
		if d, derr := consensus.DecodeData(blk.ConsensusData); derr == nil {
			ev = ev.Str("target", d.Target.Hex())
		}
		ev.Msg("block mined")
		return nil
	}
	n.pow.MiningLoop(generate, submit, miningRefreshInterval)
	n.logger.Info().Msg("block production stopped")
}

// ── Sync ────────────────────────────────────────────────────────────────

func (n *Node) runSyncLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			if n.p2pNode.PeerCount() == 0 {
				continue
			}
			n.runStartupSync()
		}
	}
}

// runStartupSync asks up to syncPeerFanout peers for their tip height and
// fetches any blocks the local chain is missing. Forks resolve themselves:
// every fetched block is handed to SubmitBlock, whose IsBlockBetter/reorg
// machinery decides whether it extends the main chain or just joins the
// candidate pool.
func (n *Node) runStartupSync() {
	peers := n.p2pNode.PeerList()
	if len(peers) == 0 {
		return
	}
	limit := syncPeerFanout
	if len(peers) < limit {
		limit = len(peers)
	}

	var bestPeer peer.ID
	var bestHeight uint64
	for _, p := range peers[:limit] {
		reqCtx, cancel := context.WithTimeout(n.ctx, 5*time.Second)
		resp, err := n.syncer.RequestHeight(reqCtx, p.ID)
		cancel()
		if err != nil {
			continue
		}
		if resp.Height > bestHeight {
			bestHeight = resp.Height
			bestPeer = p.ID
		}
	}

	localHeight := n.Height()
	if bestHeight <= localHeight {
		return
	}

	total := bestHeight - localHeight
	start := time.Now()
	n.logger.Info().Uint64("from", localHeight).Uint64("to", bestHeight).Msg("syncing chain")

	for from := localHeight + 1; from <= bestHeight; {
		max := uint32(syncBatchSize)
		if remaining := bestHeight - from + 1; remaining < uint64(max) {
			max = uint32(remaining)
		}

		reqCtx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
		blocks, err := n.syncer.RequestBlocks(reqCtx, bestPeer, from, max)
		cancel()
		if err != nil || len(blocks) == 0 {
			n.logger.Warn().Err(err).Uint64("from", from).Msg("sync request failed")
			return
		}

		for _, blk := range blocks {
			if _, _, err := n.ch.SubmitBlock(blk, false); err != nil {
				n.logger.Warn().Err(err).Uint64("height", blk.Height).Msg("sync block failed")
				return
			}
		}
		from += uint64(len(blocks))
	}

	n.logger.Info().
		Uint64("height", n.Height()).
		Uint64("synced", total).
		Dur("elapsed", time.Since(start)).
		Msg("sync complete")
}
