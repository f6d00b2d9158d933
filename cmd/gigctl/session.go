package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rozgar/cmd/internal/backend"
	"rozgar/config"
	"rozgar/core/coordinator"
	"rozgar/core/events"
	"rozgar/ledger"
	"rozgar/observability/logging"
	"rozgar/roster"
	"rozgar/storage/journal"
)

type commonOpts struct {
	configPath string
	keystore   string
	json       bool
	timeout    time.Duration
	verbose    bool
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *commonOpts) {
	fs := flag.NewFlagSet("gigctl "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &commonOpts{}
	fs.StringVar(&opts.configPath, "config", "rozgar.toml", "path to configuration (.toml or .yaml)")
	fs.StringVar(&opts.keystore, "keystore", "", "keystore to sign with (defaults to Ledger.KeystorePath)")
	fs.BoolVar(&opts.json, "json", false, "print JSON instead of tables")
	fs.DurationVar(&opts.timeout, "timeout", 0, "overall deadline for the command (0 uses the ledger finality timeout)")
	fs.BoolVar(&opts.verbose, "verbose", false, "log debug output and raw errors to stderr")
	return fs, opts
}

// session bundles what a command needs. Signing keys are loaded lazily so
// queries never prompt for a passphrase.
type session struct {
	cfg         *config.Config
	client      ledger.Client
	coordinator *coordinator.Coordinator
	journal     *journal.Journal
	scanner     *roster.Scanner
	logger      *slog.Logger
	signer      func() (ledger.Signer, error)
	close       func()
}

func (s *session) Close() {
	if s.close != nil {
		s.close()
	}
}

var openSession = defaultOpenSession

func defaultOpenSession(ctx context.Context, opts *commonOpts, stderr io.Writer) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	level := "warn"
	if opts.verbose {
		level = "debug"
	}
	logger := logging.Setup("gigctl", cfg.Logging.Env, logging.WithLevel(level), logging.WithWriter(stderr))

	client, err := backend.Open(ctx, cfg.Ledger, logger)
	if err != nil {
		return nil, err
	}
	path := cfg.Gateway.JournalPath
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			client.Close()
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	store, err := journal.Open(path)
	if err != nil {
		client.Close()
		return nil, err
	}

	coord := coordinator.New(client)
	coord.SetLogger(logger)
	coord.SetEmitter(events.Multi{journal.NewSink(store, logger)})

	keystore := opts.keystore
	return &session{
		cfg:         cfg,
		client:      client,
		coordinator: coord,
		journal:     store,
		scanner: roster.NewScanner(client,
			roster.WithMaxConcurrency(cfg.Roster.MaxConcurrency),
			roster.WithRateLimit(cfg.Roster.RequestsPerSecond, cfg.Roster.Burst),
			roster.WithLogger(logger)),
		logger: logger,
		signer: func() (ledger.Signer, error) {
			key, err := backend.LoadSigner(cfg.Ledger, keystore)
			if err != nil {
				return nil, err
			}
			return key, nil
		},
		close: func() {
			_ = store.Close()
			client.Close()
		},
	}, nil
}

// withSession opens a session, applies the command deadline and reports any
// error in user terms.
func withSession(ctx context.Context, opts *commonOpts, stderr io.Writer, fn func(context.Context, *session) error) int {
	s, err := openSession(ctx, opts, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer s.Close()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	if err := fn(ctx, s); err != nil {
		reportError(stderr, opts, err)
		return 1
	}
	return 0
}

// reportError prints the user-facing message. Errors outside the lifecycle
// vocabulary (config, keystore, journal) are operator problems and are shown
// as is.
func reportError(stderr io.Writer, opts *commonOpts, err error) {
	msg := coordinator.Describe(err)
	if msg == coordinator.MessageUnknown {
		msg = err.Error()
	}
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	if opts.verbose {
		fmt.Fprintf(stderr, "  cause: %v\n", err)
	}
}
