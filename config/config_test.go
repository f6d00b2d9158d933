package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rozgar.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultContractAddress, cfg.Ledger.ContractAddress)
	require.Equal(t, DefaultChainID, cfg.Ledger.ChainID)
	require.Equal(t, 2*time.Second, cfg.Ledger.PollInterval.Std())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `PollInterval = "2s"`)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rozgar.toml")
	contents := `[Ledger]
Backend = "evm"
RPCURL = "https://rpc.example.org"
ContractAddress = "0xF67bF71D9Bb8c7B48994DE38b3FfBc7eEdAB2Bb8"
ChainID = 8453
Confirmations = 3
PollInterval = "500ms"
FinalityTimeout = 90

[Roster]
MaxConcurrency = 4
RequestsPerSecond = 12.5

[Gateway]
ListenAddress = "127.0.0.1:9090"
AllowedOrigins = ["https://rozgar.example"]

[Logging]
Level = "debug"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "https://rpc.example.org", cfg.Ledger.RPCURL)
	require.EqualValues(t, 8453, cfg.Ledger.ChainID)
	require.EqualValues(t, 3, cfg.Ledger.Confirmations)
	require.Equal(t, 500*time.Millisecond, cfg.Ledger.PollInterval.Std())
	require.Equal(t, 90*time.Second, cfg.Ledger.FinalityTimeout.Std())
	require.Equal(t, 4, cfg.Roster.MaxConcurrency)
	require.Equal(t, 12.5, cfg.Roster.RequestsPerSecond)
	require.Equal(t, 8, cfg.Roster.Burst, "unset values keep their defaults")
	require.Equal(t, "127.0.0.1:9090", cfg.Gateway.ListenAddress)
	require.Equal(t, []string{"https://rozgar.example"}, cfg.Gateway.AllowedOrigins)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadRejectsUnknownTOMLKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rozgar.toml")
	require.NoError(t, os.WriteFile(path, []byte("[Ledger]\nRPCEndpoint = \"https://x.example\"\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "unknown key")
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rozgar.yaml")
	contents := `ledger:
  backend: memory
  pollInterval: 250ms
  finalityTimeout: 5s
gateway:
  listen: ":7070"
  rateLimitPerMinute: 60
telemetry:
  endpoint: http://collector:4318
  traces: true
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Ledger.Backend)
	require.Equal(t, 250*time.Millisecond, cfg.Ledger.PollInterval.Std())
	require.Equal(t, 5*time.Second, cfg.Ledger.FinalityTimeout.Std())
	require.Equal(t, ":7070", cfg.Gateway.ListenAddress)
	require.Equal(t, float64(60), cfg.Gateway.RateLimitPerMinute)
	require.True(t, cfg.Telemetry.Traces)
	require.Equal(t, "http://collector:4318", cfg.Telemetry.Endpoint)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvRPCURL, "https://override.example")
	t.Setenv(EnvContract, "0x00000000000000000000000000000000000000aa")
	t.Setenv(EnvEnv, "prod")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "https://override.example", cfg.Ledger.RPCURL)
	require.Equal(t, "0x00000000000000000000000000000000000000aa", cfg.Ledger.ContractAddress)
	require.Equal(t, "prod", cfg.Logging.Env)
}

func TestValidate(t *testing.T) {
	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"bad contract": {func(c *Config) { c.Ledger.ContractAddress = "0x123" }, "ContractAddress"},
		"zero contract": {func(c *Config) {
			c.Ledger.ContractAddress = "0x0000000000000000000000000000000000000000"
		}, "zero address"},
		"missing chain":    {func(c *Config) { c.Ledger.ChainID = 0 }, "ChainID"},
		"bad scheme":       {func(c *Config) { c.Ledger.RPCURL = "ftp://node" }, "scheme"},
		"unknown backend":  {func(c *Config) { c.Ledger.Backend = "solana" }, "unknown backend"},
		"fast poll":        {func(c *Config) { c.Ledger.PollInterval = Duration(time.Millisecond) }, "PollInterval"},
		"short finality":   {func(c *Config) { c.Ledger.FinalityTimeout = Duration(time.Second) }, "FinalityTimeout"},
		"deep confirms":    {func(c *Config) { c.Ledger.Confirmations = 100 }, "Confirmations"},
		"empty origin":     {func(c *Config) { c.Gateway.AllowedOrigins = []string{" "} }, "AllowedOrigins[0]"},
		"negative rate":    {func(c *Config) { c.Roster.RequestsPerSecond = -1 }, "RequestsPerSecond"},
		"bad telemetry":    {func(c *Config) { c.Telemetry.Endpoint = "collector" }, "telemetry"},
		"negative backups": {func(c *Config) { c.Logging.MaxBackups = -1 }, "rotation"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	mem := Default()
	mem.Ledger.Backend = BackendMemory
	mem.Ledger.RPCURL = ""
	require.NoError(t, mem.Validate(), "the memory backend needs no endpoint")
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("45")))
	require.Equal(t, 45*time.Second, d.Std())
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, 90*time.Second, d.Std())
	require.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(1500 * time.Millisecond).MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1.5s", string(text))
}
