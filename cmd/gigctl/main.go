package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return runCreate(ctx, rest, stdout, stderr)
	case "accept", "submit", "approve":
		return runTransition(ctx, cmd, rest, stdout, stderr)
	case "retry":
		return runRetry(ctx, rest, stdout, stderr)
	case "await":
		return runAwait(ctx, rest, stdout, stderr)
	case "get":
		return runGet(ctx, rest, stdout, stderr)
	case "authorize":
		return runAuthorize(ctx, rest, stdout, stderr)
	case "list":
		return runList(ctx, rest, stdout, stderr)
	case "stats":
		return runStats(ctx, rest, stdout, stderr)
	case "timeline":
		return runTimeline(ctx, rest, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return `Usage: gigctl <command> [flags]

Lifecycle (signs with the configured keystore):
  create     -title -description -freelancer -payment   deposit payment and create a gig
  accept     -id                                        freelancer accepts a waiting gig
  submit     -id                                        freelancer submits work
  approve    -id                                        client approves and releases payment
  retry      -id -action                                re-read the gig and resubmit if still needed
  await                                                 resolve requests left pending by a timeout

Queries:
  get        -id [-height] [-caller]                    show one gig
  authorize  -id -caller -action                        dry-run an action for a caller
  list       -address [-status]                         gigs involving an address, with totals
  stats                                                 marketplace statistics
  timeline   -id                                        journaled request history

Common flags: -config path, -keystore path, -json, -timeout duration, -verbose`
}
