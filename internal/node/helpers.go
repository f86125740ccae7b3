package node

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/rs/zerolog"
)

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// resolveCoinbase decodes the hex-encoded public key mined blocks pay
// rewards to. PoW has no block-signing key, so --coinbase is the only
// source: whoever finds a winning nonce claims the reward, identified
// purely by the public key recorded in the coinbase output.
func resolveCoinbase(coinbaseStr string) ([]byte, error) {
	coinbaseStr = strings.TrimSpace(coinbaseStr)
	if coinbaseStr == "" {
		return nil, fmt.Errorf("--mine requires --coinbase <hex-encoded public key>")
	}
	pubKey, err := hex.DecodeString(coinbaseStr)
	if err != nil {
		return nil, fmt.Errorf("invalid coinbase (expected hex-encoded public key): %w", err)
	}
	return pubKey, nil
}

// testnetBlockTimeSeconds is the faster KGW target used on testnet so
// regression clusters confirm blocks without waiting on mainnet's pace.
const testnetBlockTimeSeconds = 15

// createEngine builds this node's consensus engine. PoW/KGW is the only
// engine the daemon ever runs; Regtest exists solely for the test suite's
// in-process chains and is never reachable from a loaded Config.
func createEngine(cfg *config.Config, blocks consensus.BlockSource, logger zerolog.Logger) (consensus.Engine, error) {
	blockTime := int64(150)
	if cfg.Network == config.Testnet {
		blockTime = testnetBlockTimeSeconds
	}
	return consensus.NewPoW(blockTime, consensus.DoubleSHA256, blocks, logger), nil
}
