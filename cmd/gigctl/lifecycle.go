package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"rozgar/core/coordinator"
	"rozgar/native/gig"
)

var transitionActions = map[string]gig.Action{
	"accept":  gig.ActionAccept,
	"submit":  gig.ActionSubmitWork,
	"approve": gig.ActionApproveAndPay,
}

type outcomeJSON struct {
	Gig            gigJSON `json:"gig"`
	TxHash         string  `json:"txHash,omitempty"`
	BlockNumber    uint64  `json:"blockNumber,omitempty"`
	AlreadyApplied bool    `json:"alreadyApplied,omitempty"`
}

func printOutcome(w io.Writer, opts *commonOpts, verb string, out coordinator.Outcome) error {
	if opts.json {
		res := outcomeJSON{Gig: toJSON(out.Gig), BlockNumber: out.Finality.BlockNumber, AlreadyApplied: out.AlreadyApplied}
		if !out.Receipt.TxHash.IsZero() {
			res.TxHash = out.Receipt.TxHash.Hex()
		}
		return printJSON(w, res)
	}
	if out.AlreadyApplied {
		fmt.Fprintf(w, "Gig %d is already %s; nothing was submitted.\n", out.Gig.ID, out.Status)
	} else {
		fmt.Fprintf(w, "%s confirmed in block %d (tx %s).\n", verb, out.Finality.BlockNumber, out.Receipt.TxHash.Hex())
	}
	renderGigs(w, []gig.Gig{out.Gig})
	return nil
}

func parseID(fs *flag.FlagSet, id uint64) error {
	if id == 0 {
		return fmt.Errorf("%s: -id is required", fs.Name())
	}
	return nil
}

func runCreate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("create", stderr)
	var title, description, freelancer, payment string
	fs.StringVar(&title, "title", "", "gig title")
	fs.StringVar(&description, "description", "", "gig description")
	fs.StringVar(&freelancer, "freelancer", "", "freelancer address (0x...)")
	fs.StringVar(&payment, "payment", "", "payment in ETH, e.g. 0.05")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	draft := gig.NewDraft(title, description, freelancer, payment)
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		signer, err := s.signer()
		if err != nil {
			return err
		}
		out, err := s.coordinator.Create(ctx, draft, signer)
		if err != nil {
			return err
		}
		return printOutcome(stdout, opts, "Gig created", out)
	})
}

func runTransition(ctx context.Context, name string, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet(name, stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "gig id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := parseID(fs, id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	action := transitionActions[name]
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		signer, err := s.signer()
		if err != nil {
			return err
		}
		out, err := s.coordinator.Transition(ctx, id, action, signer)
		if err != nil {
			return err
		}
		return printOutcome(stdout, opts, gig.EventDescription(action.EventType()), out)
	})
}

func runRetry(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("retry", stderr)
	var id uint64
	var actionName string
	fs.Uint64Var(&id, "id", 0, "gig id")
	fs.StringVar(&actionName, "action", "", "accept, submitWork or approveAndPay")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := parseID(fs, id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	action, err := gig.ParseAction(actionName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		signer, err := s.signer()
		if err != nil {
			return err
		}
		out, err := s.coordinator.Retry(ctx, id, action, signer)
		if err != nil {
			return err
		}
		return printOutcome(stdout, opts, gig.EventDescription(action.EventType()), out)
	})
}

type awaitJSON struct {
	TxHash  string `json:"txHash"`
	Event   string `json:"event"`
	GigID   uint64 `json:"gigId,omitempty"`
	Status  string `json:"status,omitempty"`
	Outcome string `json:"outcome"`
}

// runAwait resolves journaled requests whose outcome was never observed,
// typically because an earlier command hit its finality timeout.
func runAwait(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("await", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		pending, err := s.journal.Pending(ctx)
		if err != nil {
			return err
		}
		results := make([]awaitJSON, 0, len(pending))
		var unresolved int
		for _, entry := range pending {
			res := awaitJSON{TxHash: entry.TxHash, Event: entry.Description(), GigID: entry.GigID}
			receipt, err := entry.Receipt()
			if err != nil {
				s.logger.Warn("skipping unreadable journal entry", "id", entry.ID, "error", err)
				res.Outcome = "skipped"
				results = append(results, res)
				continue
			}
			out, err := s.coordinator.Await(ctx, receipt)
			switch {
			case err == nil:
				res.GigID = out.Gig.ID
				res.Status = out.Status.String()
				res.Outcome = "confirmed"
			case errors.Is(err, context.Canceled):
				return err
			default:
				unresolved++
				res.Outcome = coordinator.Describe(err)
			}
			results = append(results, res)
		}

		if opts.json {
			if err := printJSON(stdout, results); err != nil {
				return err
			}
		} else if len(results) == 0 {
			fmt.Fprintln(stdout, "No pending requests.")
		} else {
			tw := newTable(stdout, table.Row{"Tx", "Event", "Gig", "Status", "Outcome"})
			for _, r := range results {
				tw.AppendRow(table.Row{r.TxHash, r.Event, r.GigID, r.Status, r.Outcome})
			}
			tw.Render()
		}
		if unresolved > 0 {
			return fmt.Errorf("%d request(s) still unresolved", unresolved)
		}
		return nil
	})
}
