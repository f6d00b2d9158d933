package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"rozgar/native/gig"
)

var (
	MinPollInterval  = 100 * time.Millisecond
	MaxConfirmations = uint64(64)
)

// Validate rejects configurations the ledger client or gateway cannot run with.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	l := cfg.Ledger
	switch l.Backend {
	case BackendMemory:
	case BackendEVM:
		if err := validateEndpoint(l.RPCURL); err != nil {
			return fmt.Errorf("ledger: RPCURL: %w", err)
		}
		addr, err := gig.ParseAddress(l.ContractAddress)
		if err != nil {
			return fmt.Errorf("ledger: ContractAddress %q is not a valid address", l.ContractAddress)
		}
		if addr.IsZero() {
			return fmt.Errorf("ledger: ContractAddress must not be the zero address")
		}
		if l.ChainID == 0 {
			return fmt.Errorf("ledger: ChainID required")
		}
	default:
		return fmt.Errorf("ledger: unknown backend %q", l.Backend)
	}
	if l.Confirmations > MaxConfirmations {
		return fmt.Errorf("ledger: Confirmations %d exceeds %d", l.Confirmations, MaxConfirmations)
	}
	if l.PollInterval.Std() < MinPollInterval {
		return fmt.Errorf("ledger: PollInterval below %s", MinPollInterval)
	}
	if l.FinalityTimeout.Std() < l.PollInterval.Std() {
		return fmt.Errorf("ledger: FinalityTimeout shorter than PollInterval")
	}
	if cfg.Roster.RequestsPerSecond < 0 {
		return fmt.Errorf("roster: RequestsPerSecond must not be negative")
	}
	if cfg.Gateway.RateLimitPerMinute < 0 || cfg.Gateway.RateLimitBurst < 0 {
		return fmt.Errorf("gateway: rate limits must not be negative")
	}
	for i, origin := range cfg.Gateway.AllowedOrigins {
		if strings.TrimSpace(origin) == "" {
			return fmt.Errorf("gateway: AllowedOrigins[%d] cannot be empty", i)
		}
	}
	if cfg.Telemetry.Endpoint != "" {
		if err := validateEndpoint(cfg.Telemetry.Endpoint); err != nil {
			return fmt.Errorf("telemetry: Endpoint: %w", err)
		}
	}
	if cfg.Logging.MaxSizeMB < 0 || cfg.Logging.MaxBackups < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	return nil
}

func validateEndpoint(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("endpoint required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("unsupported URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("host required")
	}
	return nil
}
