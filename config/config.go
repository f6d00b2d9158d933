package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults target the public deployment on Base Sepolia.
const (
	DefaultRPCURL          = "https://sepolia.base.org"
	DefaultContractAddress = "0xF67bF71D9Bb8c7B48994DE38b3FfBc7eEdAB2Bb8"
	DefaultChainID         = uint64(84532)
)

// Environment variables that override file values.
const (
	EnvRPCURL   = "ROZGAR_RPC_URL"
	EnvContract = "ROZGAR_CONTRACT"
	EnvEnv      = "ROZGAR_ENV"
)

type Config struct {
	Ledger    Ledger    `toml:"Ledger" yaml:"ledger"`
	Roster    Roster    `toml:"Roster" yaml:"roster"`
	Gateway   Gateway   `toml:"Gateway" yaml:"gateway"`
	Telemetry Telemetry `toml:"Telemetry" yaml:"telemetry"`
	Logging   Logging   `toml:"Logging" yaml:"logging"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Ledger: Ledger{
			Backend:         BackendEVM,
			RPCURL:          DefaultRPCURL,
			ContractAddress: DefaultContractAddress,
			ChainID:         DefaultChainID,
			Confirmations:   1,
			PollInterval:    Duration(2 * time.Second),
			FinalityTimeout: Duration(2 * time.Minute),
			PassphraseEnv:   "ROZGAR_KEYSTORE_PASSPHRASE",
		},
		Roster: Roster{
			MaxConcurrency:    8,
			RequestsPerSecond: 20,
			Burst:             8,
		},
		Gateway: Gateway{
			ListenAddress:      ":8080",
			JournalPath:        "./rozgar-data/journal.db",
			ReadTimeout:        Duration(15 * time.Second),
			WriteTimeout:       Duration(60 * time.Second),
			RateLimitPerMinute: 120,
			RateLimitBurst:     30,
		},
		Telemetry: Telemetry{
			ServiceName: "rozgar-gateway",
		},
		Logging: Logging{
			Env:        "dev",
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
		},
	}
}

// Load reads the configuration at path, decoding YAML for .yaml/.yml files
// and TOML otherwise. A missing file is created with defaults. Environment
// overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := persist(path, cfg); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
		} else if err != nil {
			return nil, err
		} else if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

func decodeFile(path string, cfg *Config) error {
	if isYAML(path) {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		return nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config file %s has unknown key %s", path, undecoded[0])
	}
	return nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvRPCURL); ok && strings.TrimSpace(v) != "" {
		cfg.Ledger.RPCURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvContract); ok && strings.TrimSpace(v) != "" {
		cfg.Ledger.ContractAddress = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvEnv); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Env = strings.TrimSpace(v)
	}
}

// applyDefaults fills zero values a partial file left behind.
func (cfg *Config) applyDefaults() {
	def := Default()
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = def.Ledger.Backend
	}
	if cfg.Ledger.PollInterval <= 0 {
		cfg.Ledger.PollInterval = def.Ledger.PollInterval
	}
	if cfg.Ledger.FinalityTimeout <= 0 {
		cfg.Ledger.FinalityTimeout = def.Ledger.FinalityTimeout
	}
	if cfg.Roster.MaxConcurrency <= 0 {
		cfg.Roster.MaxConcurrency = def.Roster.MaxConcurrency
	}
	if cfg.Roster.Burst <= 0 {
		cfg.Roster.Burst = def.Roster.Burst
	}
	if strings.TrimSpace(cfg.Gateway.ListenAddress) == "" {
		cfg.Gateway.ListenAddress = def.Gateway.ListenAddress
	}
	if cfg.Gateway.ReadTimeout <= 0 {
		cfg.Gateway.ReadTimeout = def.Gateway.ReadTimeout
	}
	if cfg.Gateway.WriteTimeout <= 0 {
		cfg.Gateway.WriteTimeout = def.Gateway.WriteTimeout
	}
	if strings.TrimSpace(cfg.Telemetry.ServiceName) == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if strings.TrimSpace(cfg.Logging.Env) == "" {
		cfg.Logging.Env = def.Logging.Env
	}
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}
