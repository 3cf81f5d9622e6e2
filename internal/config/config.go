// Package config loads operator configuration for kora-rent: defaults, then
// ~/.kora-rent/config.yaml, then environment variable overrides, in that
// precedence — the same three-layer shape as the teacher's config.Load.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TelemetryConfig controls the otel tracer/meter, mirroring the teacher's
// habit of nesting feature-specific settings under their own struct.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// ReclaimerConfig holds Reclaimer Pipeline tuning knobs.
type ReclaimerConfig struct {
	BatchSize         int `yaml:"batch_size"`
	StaleLockMinutes  int `yaml:"stale_lock_minutes"`
}

// CronConfig controls the unattended scheduling sweep (EXPANSION, §2).
type CronConfig struct {
	Enabled           bool   `yaml:"enabled"`
	UnlockSchedule    string `yaml:"unlock_schedule"`
	FullRunSchedule   string `yaml:"full_run_schedule"`
}

// Config is the full operator configuration for one kora-rent home
// directory. A single Config is shared by every subcommand invocation; it
// carries no per-network state beyond the Network/RPCEndpoint pair the
// operator selected for that invocation.
type Config struct {
	HomeDir string `yaml:"-"`

	Network    string `yaml:"network"`
	RPCEndpoint string `yaml:"rpc_endpoint"`

	OperatorPubkey string `yaml:"operator_pubkey"`
	KeypairPath    string `yaml:"keypair_path"`

	WhitelistPath string   `yaml:"whitelist_path"`
	Whitelist     []string `yaml:"-"`

	MinLamports int64 `yaml:"min_lamports"`
	MinAgeDays  int   `yaml:"min_age_days"`

	LogLevel string `yaml:"log_level"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Reclaimer ReclaimerConfig `yaml:"reclaimer"`
	Cron      CronConfig      `yaml:"cron"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// HomeDir resolves the kora-rent home directory: KORA_RENT_HOME, or
// ~/.kora-rent.
func HomeDir() string {
	if override := os.Getenv("KORA_RENT_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".kora-rent")
}

func defaultConfig() Config {
	return Config{
		Network:     "mainnet-beta",
		RPCEndpoint: rpcDefaults()["mainnet-beta"],
		MinLamports: 0,
		MinAgeDays:  0,
		LogLevel:    "info",
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "kora-rent",
		},
		Reclaimer: ReclaimerConfig{
			BatchSize:        20,
			StaleLockMinutes: 60,
		},
		Cron: CronConfig{
			Enabled:        false,
			UnlockSchedule: "*/15 * * * *",
		},
	}
}

// Load reads config.yaml under HomeDir(), applies environment overrides,
// loads the whitelist file if configured, and normalizes defaults. A
// missing config.yaml is not an error: NeedsGenesis is set so the caller
// (cmd/kora-rent) can write a starter file, matching the teacher's
// first-run bootstrap path.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create kora-rent home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)

	if err := loadWhitelist(&cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.Network) == "" {
		cfg.Network = "mainnet-beta"
	}
	if strings.TrimSpace(cfg.RPCEndpoint) == "" {
		if def, ok := rpcDefaults()[cfg.Network]; ok {
			cfg.RPCEndpoint = def
		}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Reclaimer.BatchSize <= 0 {
		cfg.Reclaimer.BatchSize = 20
	}
	if cfg.Reclaimer.StaleLockMinutes <= 0 {
		cfg.Reclaimer.StaleLockMinutes = 60
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "kora-rent"
	}
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("KORA_RENT_RPC_URL"); raw != "" {
		cfg.RPCEndpoint = raw
	}
	if raw := os.Getenv("KORA_RENT_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("KORA_RENT_NETWORK"); raw != "" {
		cfg.Network = raw
	}
	if raw := os.Getenv("KORA_RENT_OPERATOR_PUBKEY"); raw != "" {
		cfg.OperatorPubkey = raw
	}
	if raw := os.Getenv("KORA_RENT_KEYPAIR_PATH"); raw != "" {
		cfg.KeypairPath = raw
	}
	if raw := os.Getenv("KORA_RENT_WHITELIST_PATH"); raw != "" {
		cfg.WhitelistPath = raw
	}
	if raw := os.Getenv("KORA_RENT_MIN_LAMPORTS"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.MinLamports = v
		}
	}
	if raw := os.Getenv("KORA_RENT_MIN_AGE_DAYS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.MinAgeDays = v
		}
	}
}

// loadWhitelist populates cfg.Whitelist from cfg.WhitelistPath, one base58
// address per line, blank lines ignored, per spec.md §6: "Whitelist file.
// UTF-8, one base58 address per line." A missing or empty path is not an
// error: Whitelist is simply empty, matching the teacher's
// Load(path) (Policy, error) convention where an absent file yields
// Default() rather than failing.
func loadWhitelist(cfg *Config) error {
	if strings.TrimSpace(cfg.WhitelistPath) == "" {
		return nil
	}
	data, err := os.ReadFile(cfg.WhitelistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read whitelist file: %w", err)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	cfg.Whitelist = out
	return nil
}

// WriteStarterConfig writes a commented starter config.yaml on first run,
// the same genesis path the teacher takes for its own config.yaml/SOUL.md.
func WriteStarterConfig(homeDir string) error {
	const starter = `# kora-rent configuration.
network: mainnet-beta
rpc_endpoint: ""
operator_pubkey: ""
keypair_path: ""
whitelist_path: ""
min_lamports: 0
min_age_days: 0
log_level: info
telemetry:
  enabled: false
reclaimer:
  batch_size: 20
  stale_lock_minutes: 60
cron:
  enabled: false
  unlock_schedule: "*/15 * * * *"
`
	return os.WriteFile(ConfigPath(homeDir), []byte(starter), 0o644)
}

// Fingerprint returns a stable hash of the effective policy-relevant
// configuration, used to populate the attestation manifest's
// whitelist_hash-adjacent fields without re-reading the whitelist file.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "network=%s|min_lamports=%d|min_age=%d|whitelist_len=%d",
		c.Network, c.MinLamports, c.MinAgeDays, len(c.Whitelist))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
