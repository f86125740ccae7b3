// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: Defined in genesis, immutable, must match across all nodes
//   - Node settings: Runtime configuration, can vary per node
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// =============================================================================
// Node Configuration (runtime, per-node settings)
// =============================================================================

// Config holds node-specific runtime configuration.
// These settings can vary between nodes without breaking consensus.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// P2P networking
	P2P P2PConfig

	// RPC server
	RPC RPCConfig

	// Wallet
	Wallet WalletConfig

	// Mining/Validation (operational, not consensus rules)
	Mining MiningConfig

	// Genesis block file (JSON-encoded pkg/block.Block, height 1, no parent).
	GenesisFile string `conf:"genesis.file"`

	// Logging
	Log LogConfig

	// Maintenance (not persisted in config file)
	RebuildIndexes bool
}

// P2PConfig holds peer-to-peer network settings.
type P2PConfig struct {
	Enabled    bool     `conf:"p2p.enabled"`
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
	NoDiscover bool     `conf:"p2p.nodiscover"`
	DHTServer  bool     `conf:"p2p.dhtserver"` // Run DHT in server mode (for seeds/validators)
	ClearBans  bool     // Clear all peer bans on startup (not persisted in config file).
}

// RPCConfig holds RPC server settings.
type RPCConfig struct {
	Enabled     bool     `conf:"rpc.enabled"`
	Addr        string   `conf:"rpc.addr"`
	Port        int      `conf:"rpc.port"`
	AllowedIPs  []string `conf:"rpc.allowed"`
	CORSOrigins []string `conf:"rpc.cors"` // Allowed CORS origins ("*" = all).
}

// WalletConfig holds wallet settings.
type WalletConfig struct {
	Enabled  bool   `conf:"wallet.enabled"`
	FilePath string `conf:"wallet.file"`
}

// MiningConfig holds block production settings.
// Note: Whether to mine is a node choice; HOW to validate is protocol.
type MiningConfig struct {
	Enabled  bool   `conf:"mining.enabled"`
	Coinbase string `conf:"mining.coinbase"`
	Threads  int    `conf:"mining.threads"` // Mining threads (PoW)
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet
//	macOS:   ~/Library/Application Support/Klingnet
//	Windows: %APPDATA%\Klingnet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Klingnet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Klingnet")
		}
		return filepath.Join(home, "AppData", "Roaming", "Klingnet")
	default:
		return filepath.Join(home, ".klingnet")
	}
}

// ChainDataDir returns the chain-specific data directory.
func (c *Config) ChainDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.ChainDataDir(), "keystore")
}

// GenesisPath returns the genesis block file path: GenesisFile if set,
// otherwise <chaindatadir>/genesis.json.
func (c *Config) GenesisPath() string {
	if c.GenesisFile != "" {
		return c.GenesisFile
	}
	return filepath.Join(c.ChainDataDir(), "genesis.json")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "klingnet.conf")
}
