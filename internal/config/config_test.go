package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/kora-labs/kora-rent/internal/config"
)

func TestLoad_FromKoraRentHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	ic := filepath.Join(home, ".kora-rent")
	if err := os.MkdirAll(ic, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ic, "config.yaml"), []byte("network: devnet\nmin_lamports: 5000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KORA_RENT_HOME", ic)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Network != "devnet" {
		t.Fatalf("expected network=devnet, got %q", cfg.Network)
	}
	if cfg.MinLamports != 5000 {
		t.Fatalf("expected min_lamports=5000, got %d", cfg.MinLamports)
	}
	if cfg.RPCEndpoint != "https://api.devnet.solana.com" {
		t.Fatalf("expected devnet default rpc endpoint filled in, got %q", cfg.RPCEndpoint)
	}
}

func TestLoad_NeedsGenesisWhenNoConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	t.Setenv("KORA_RENT_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis=true when config.yaml missing")
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KORA_RENT_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Network != "mainnet-beta" {
		t.Fatalf("expected default network=mainnet-beta, got %q", cfg.Network)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log_level=info, got %q", cfg.LogLevel)
	}
	if cfg.Reclaimer.BatchSize != 20 {
		t.Fatalf("expected default reclaimer batch_size=20, got %d", cfg.Reclaimer.BatchSize)
	}
}

func TestLoad_EnvOverridesConfig(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(home, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("min_lamports: 10\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KORA_RENT_HOME", home)
	t.Setenv("KORA_RENT_MIN_LAMPORTS", "999")
	t.Setenv("KORA_RENT_RPC_URL", "https://custom.example/rpc")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.MinLamports != 999 {
		t.Fatalf("expected env override min_lamports=999, got %d", cfg.MinLamports)
	}
	if cfg.RPCEndpoint != "https://custom.example/rpc" {
		t.Fatalf("expected env override rpc endpoint, got %q", cfg.RPCEndpoint)
	}
}

func TestLoad_WhitelistFileParsed(t *testing.T) {
	home := t.TempDir()
	whitelistPath := filepath.Join(home, "whitelist.txt")
	contents := "Addr1111111111111111111111111111111111111\n\n  Addr2222222222222222222222222222222222222  \n"
	if err := os.WriteFile(whitelistPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write whitelist: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("whitelist_path: "+whitelistPath+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KORA_RENT_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Whitelist) != 2 {
		t.Fatalf("expected 2 whitelist entries, got %d: %v", len(cfg.Whitelist), cfg.Whitelist)
	}
	if cfg.Whitelist[0] != "Addr1111111111111111111111111111111111111" {
		t.Fatalf("unexpected first entry: %q", cfg.Whitelist[0])
	}
	if cfg.Whitelist[1] != "Addr2222222222222222222222222222222222222" {
		t.Fatalf("unexpected second entry: %q", cfg.Whitelist[1])
	}
}

func TestLoad_MissingWhitelistFileIsNotAnError(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("whitelist_path: "+filepath.Join(home, "nope.txt")+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KORA_RENT_HOME", home)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Whitelist) != 0 {
		t.Fatalf("expected empty whitelist, got %v", cfg.Whitelist)
	}
}

func TestWriteStarterConfig(t *testing.T) {
	home := t.TempDir()
	if err := config.WriteStarterConfig(home); err != nil {
		t.Fatalf("write starter config: %v", err)
	}
	data, err := os.ReadFile(config.ConfigPath(home))
	if err != nil {
		t.Fatalf("read starter config: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty starter config")
	}
}

func TestFingerprint_StableAcrossCalls(t *testing.T) {
	cfg := config.Config{Network: "devnet", MinLamports: 1000, MinAgeDays: 30}
	a := cfg.Fingerprint()
	b := cfg.Fingerprint()
	if a != b {
		t.Fatalf("expected stable fingerprint, got %q vs %q", a, b)
	}

	other := cfg
	other.MinLamports = 2000
	if other.Fingerprint() == a {
		t.Fatal("expected fingerprint to change when min_lamports changes")
	}
}
