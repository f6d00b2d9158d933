// Package backend opens the ledger client and signer selected by the process
// configuration. It is shared by the gateway and gigctl.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"rozgar/cmd/internal/passphrase"
	"rozgar/config"
	"rozgar/crypto"
	"rozgar/ledger"
	"rozgar/ledger/evm"
	"rozgar/ledger/memledger"
	"rozgar/native/gig"
)

// EnvPrivateKey holds a hex private key for development signing. A keystore
// takes precedence when both are configured.
const EnvPrivateKey = "ROZGAR_PRIVATE_KEY"

// Ledger is an opened ledger client together with its release function.
type Ledger struct {
	ledger.Client
	close func()
}

// Close releases the underlying connection.
func (l *Ledger) Close() {
	if l != nil && l.close != nil {
		l.close()
	}
}

// EVMConfig translates the ledger section into the client's settings.
func EVMConfig(cfg config.Ledger) (evm.Config, error) {
	contract, err := gig.ParseAddress(cfg.ContractAddress)
	if err != nil {
		return evm.Config{}, fmt.Errorf("contract address: %w", err)
	}
	out := evm.Config{
		Contract:        contract,
		ChainID:         new(big.Int).SetUint64(cfg.ChainID),
		Confirmations:   cfg.Confirmations,
		PollInterval:    cfg.PollInterval.Std(),
		FinalityTimeout: cfg.FinalityTimeout.Std(),
	}
	if cfg.GasTipCapGwei > 0 {
		out.GasTipCap = new(big.Int).Mul(new(big.Int).SetUint64(cfg.GasTipCapGwei), big.NewInt(1_000_000_000))
	}
	return out, nil
}

// Open dials the configured backend.
func Open(ctx context.Context, cfg config.Ledger, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory ledger; state is lost on exit")
		return &Ledger{Client: memledger.New()}, nil
	case config.BackendEVM, "":
		evmCfg, err := EVMConfig(cfg)
		if err != nil {
			return nil, err
		}
		client, err := evm.Dial(ctx, cfg.RPCURL, evmCfg, evm.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("dial ledger: %w", err)
		}
		return &Ledger{Client: client, close: client.Close}, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}

// LoadSigner decrypts the keystore at path (or the configured one) using a
// passphrase from the configured environment variable or the terminal. Without
// a keystore it falls back to a hex key in EnvPrivateKey.
func LoadSigner(cfg config.Ledger, path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(cfg.KeystorePath)
	}
	if path == "" {
		if raw, ok := os.LookupEnv(EnvPrivateKey); ok && strings.TrimSpace(raw) != "" {
			key, err := crypto.PrivateKeyFromHex(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", EnvPrivateKey, err)
			}
			return key, nil
		}
		return nil, fmt.Errorf("keystore path required; set Ledger.KeystorePath, pass -keystore or export %s", EnvPrivateKey)
	}
	pass, err := passphrase.NewSource(cfg.PassphraseEnv, passphrase.ForKeystore(path)).Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	return key, nil
}
