package node

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/consensus"
	"github.com/Klingon-tech/klingnet-chain/pkg/crypto"
	"github.com/rs/zerolog"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.klingnet/key", filepath.Join(home, ".klingnet/key")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestResolveCoinbase_FromHex(t *testing.T) {
	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	want := privKey.PublicKey()
	got, err := resolveCoinbase(hex.EncodeToString(want))
	if err != nil {
		t.Fatalf("resolveCoinbase: %v", err)
	}
	if hex.EncodeToString(got) != hex.EncodeToString(want) {
		t.Errorf("coinbase mismatch: got %x, want %x", got, want)
	}
}

func TestResolveCoinbase_Empty(t *testing.T) {
	if _, err := resolveCoinbase(""); err == nil {
		t.Fatal("expected error for empty coinbase")
	}
}

func TestResolveCoinbase_InvalidHex(t *testing.T) {
	if _, err := resolveCoinbase("not-hex"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
}

func TestCreateEngine_MainnetUsesDefaultBlockTime(t *testing.T) {
	cfg := config.Default(config.Mainnet)
	engine, err := createEngine(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("createEngine: %v", err)
	}
	pow, ok := engine.(*consensus.PoW)
	if !ok {
		t.Fatalf("expected *consensus.PoW, got %T", engine)
	}
	if pow.TargetBlockTimeSeconds != 150 {
		t.Errorf("expected 150s target block time on mainnet, got %d", pow.TargetBlockTimeSeconds)
	}
}

func TestCreateEngine_TestnetIsFaster(t *testing.T) {
	cfg := config.Default(config.Testnet)
	engine, err := createEngine(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("createEngine: %v", err)
	}
	pow := engine.(*consensus.PoW)
	if pow.TargetBlockTimeSeconds != testnetBlockTimeSeconds {
		t.Errorf("expected %ds target block time on testnet, got %d", testnetBlockTimeSeconds, pow.TargetBlockTimeSeconds)
	}
}

func TestNodeLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tmpDir := t.TempDir()

	cfg := config.Default(config.Testnet)
	cfg.DataDir = tmpDir
	cfg.P2P.Enabled = false
	cfg.RPC.Port = 0
	cfg.Wallet.Enabled = true

	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs: %v", err)
	}

	privKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	cfg.Mining.Enabled = true
	cfg.Mining.Coinbase = hex.EncodeToString(privKey.PublicKey())

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if n.Height() != 1 {
		t.Errorf("expected genesis height 1, got %d", n.Height())
	}
	if n.RPCAddr() == "" {
		t.Error("RPCAddr should not be empty")
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	n.Stop()
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()

	cfg, err := config.LoadFromFile(tmpDir, config.Testnet)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Network != config.Testnet {
		t.Errorf("expected testnet, got %s", cfg.Network)
	}
	if cfg.DataDir != tmpDir {
		t.Errorf("expected datadir %s, got %s", tmpDir, cfg.DataDir)
	}

	confPath := filepath.Join(tmpDir, "klingnet.conf")
	if _, err := os.Stat(confPath); os.IsNotExist(err) {
		t.Error("config file should have been created")
	}
}
