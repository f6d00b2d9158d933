package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Backend names the ledger implementation a process talks to.
type Backend string

const (
	BackendEVM    Backend = "evm"
	BackendMemory Backend = "memory"
)

// Duration decodes from "30s" style strings in both TOML and YAML. A bare
// integer is read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseUint(raw, 10, 32); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Ledger selects and tunes the ledger client.
type Ledger struct {
	Backend         Backend  `toml:"Backend" yaml:"backend"`
	RPCURL          string   `toml:"RPCURL" yaml:"rpcURL"`
	ContractAddress string   `toml:"ContractAddress" yaml:"contractAddress"`
	ChainID         uint64   `toml:"ChainID" yaml:"chainID"`
	Confirmations   uint64   `toml:"Confirmations" yaml:"confirmations"`
	PollInterval    Duration `toml:"PollInterval" yaml:"pollInterval"`
	FinalityTimeout Duration `toml:"FinalityTimeout" yaml:"finalityTimeout"`
	// GasTipCapGwei overrides the node's suggested priority fee when set.
	GasTipCapGwei uint64 `toml:"GasTipCapGwei" yaml:"gasTipCapGwei"`
	KeystorePath  string `toml:"KeystorePath" yaml:"keystorePath"`
	PassphraseEnv string `toml:"PassphraseEnv" yaml:"passphraseEnv"`
}

// Roster bounds how hard a scan may hit the ledger.
type Roster struct {
	MaxConcurrency    int     `toml:"MaxConcurrency" yaml:"maxConcurrency"`
	RequestsPerSecond float64 `toml:"RequestsPerSecond" yaml:"requestsPerSecond"`
	Burst             int     `toml:"Burst" yaml:"burst"`
}

// Gateway configures the read-only HTTP surface.
type Gateway struct {
	ListenAddress      string   `toml:"ListenAddress" yaml:"listen"`
	JournalPath        string   `toml:"JournalPath" yaml:"journalPath"`
	ReadTimeout        Duration `toml:"ReadTimeout" yaml:"readTimeout"`
	WriteTimeout       Duration `toml:"WriteTimeout" yaml:"writeTimeout"`
	RateLimitPerMinute float64  `toml:"RateLimitPerMinute" yaml:"rateLimitPerMinute"`
	RateLimitBurst     int      `toml:"RateLimitBurst" yaml:"rateLimitBurst"`
	AllowedOrigins     []string `toml:"AllowedOrigins" yaml:"allowedOrigins"`
}

// Telemetry controls OTLP export.
type Telemetry struct {
	ServiceName string `toml:"ServiceName" yaml:"serviceName"`
	Endpoint    string `toml:"Endpoint" yaml:"endpoint"`
	Insecure    bool   `toml:"Insecure" yaml:"insecure"`
	Traces      bool   `toml:"Traces" yaml:"traces"`
	Metrics     bool   `toml:"Metrics" yaml:"metrics"`
}

// Logging controls the process logger.
type Logging struct {
	Env        string `toml:"Env" yaml:"env"`
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
}
