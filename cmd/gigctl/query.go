package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"rozgar/ledger"
	"rozgar/native/gig"
	"rozgar/roster"
)

func runGet(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("get", stderr)
	var id, height uint64
	var callerRaw string
	fs.Uint64Var(&id, "id", 0, "gig id")
	fs.Uint64Var(&height, "height", 0, "read at this ledger height (0 reads the latest)")
	fs.StringVar(&callerRaw, "caller", "", "optional address; lists the actions it may take")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := parseID(fs, id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	var caller gig.Address
	if callerRaw != "" {
		parsed, err := gig.ParseAddress(callerRaw)
		if err != nil {
			fmt.Fprintf(stderr, "Error: -caller: %v\n", err)
			return 1
		}
		caller = parsed
	}
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		record, err := s.client.FetchGig(ctx, ledger.Snapshot{Height: height}, id)
		if err != nil {
			return err
		}
		var allowed []string
		if !caller.IsZero() {
			for _, a := range gig.AllowedActions(record, caller) {
				allowed = append(allowed, a.String())
			}
		}
		if opts.json {
			return printJSON(stdout, struct {
				Gig            gigJSON  `json:"gig"`
				AllowedActions []string `json:"allowedActions,omitempty"`
			}{toJSON(record), allowed})
		}
		rows := [][2]string{
			{"ID", formatUint(record.ID)},
			{"Title", record.Title},
			{"Description", record.Description},
			{"Client", record.Client.Hex()},
			{"Freelancer", record.Freelancer.Hex()},
			{"Payment", gig.FormatEther(record.Payment) + " ETH"},
			{"Status", record.Status().String()},
		}
		if !caller.IsZero() {
			rows = append(rows, [2]string{"Allowed actions", strings.Join(allowed, ", ")})
		}
		renderKeyValues(stdout, rows)
		return nil
	})
}

func runAuthorize(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("authorize", stderr)
	var id uint64
	var callerRaw, actionName string
	fs.Uint64Var(&id, "id", 0, "gig id")
	fs.StringVar(&callerRaw, "caller", "", "address attempting the action")
	fs.StringVar(&actionName, "action", "", "accept, submitWork or approveAndPay")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := parseID(fs, id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	caller, err := gig.ParseAddress(callerRaw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: -caller: %v\n", err)
		return 1
	}
	action, err := gig.ParseAction(actionName)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		record, err := s.client.FetchGig(ctx, ledger.Latest, id)
		if err != nil {
			return err
		}
		decision := gig.Authorize(record, caller, action)
		message := "Allowed."
		if err := decision.Err(); err != nil {
			message = err.(*gig.AuthorizationError).Message()
		}
		if opts.json {
			return printJSON(stdout, struct {
				Allowed  bool   `json:"allowed"`
				Reason   string `json:"reason,omitempty"`
				Required string `json:"required,omitempty"`
				Status   string `json:"status"`
				Message  string `json:"message"`
			}{decision.Allowed, string(decision.Reason), decision.Required, decision.Current.String(), message})
		}
		fmt.Fprintf(stdout, "%s %s on gig %d (%s): %s\n", caller.Short(), action, id, decision.Current, message)
		return nil
	})
}

func runList(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("list", stderr)
	var addrRaw, statusRaw string
	fs.StringVar(&addrRaw, "address", "", "participant address")
	fs.StringVar(&statusRaw, "status", "", "only show gigs in this status (waiting, in_progress, submitted, completed)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := gig.ParseAddress(addrRaw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: -address: %v\n", err)
		return 1
	}
	var only *gig.Status
	if statusRaw != "" {
		status, err := gig.ParseStatus(statusRaw)
		if err != nil {
			fmt.Fprintf(stderr, "Error: -status: %v\n", err)
			return 1
		}
		only = &status
	}
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		report, err := s.scanner.ParticipantReport(ctx, addr)
		if err != nil {
			return err
		}
		// Totals always cover every gig; the filter narrows the rows.
		if only != nil {
			rows := report.Gigs[:0:0]
			for _, g := range report.Gigs {
				if g.Status() == *only {
					rows = append(rows, g)
				}
			}
			report.Gigs = rows
		}
		if opts.json {
			out := struct {
				Gigs             []gigJSON `json:"gigs"`
				Total            int       `json:"total"`
				Active           int       `json:"active"`
				Completed        int       `json:"completed"`
				TotalEarnedEther string    `json:"totalEarnedEther"`
				Incomplete       bool      `json:"incomplete"`
				FailedIDs        []uint64  `json:"failedIds,omitempty"`
			}{
				Gigs:             make([]gigJSON, 0, len(report.Gigs)),
				Total:            report.Stats.Total,
				Active:           report.Stats.Active,
				Completed:        report.Stats.Completed,
				TotalEarnedEther: gig.FormatEtherFixed(report.Stats.TotalEarnedAsFreelancer, 4),
				Incomplete:       report.Incomplete,
				FailedIDs:        report.FailedIDs,
			}
			for _, g := range report.Gigs {
				out.Gigs = append(out.Gigs, toJSON(g))
			}
			return printJSON(stdout, out)
		}
		renderGigs(stdout, report.Gigs)
		fmt.Fprintf(stdout, "Total %d, active %d, completed %d, earned %s ETH\n",
			report.Stats.Total, report.Stats.Active, report.Stats.Completed,
			gig.FormatEtherFixed(report.Stats.TotalEarnedAsFreelancer, 4))
		printIncomplete(stdout, report.Incomplete, report.FailedIDs)
		return nil
	})
}

func runStats(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("stats", stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		report, err := s.scanner.GlobalReport(ctx)
		if err != nil {
			return err
		}
		st := report.Stats
		if opts.json {
			return printJSON(stdout, struct {
				TotalGigs          int      `json:"totalGigs"`
				CompletedGigs      int      `json:"completedGigs"`
				SuccessRate        int      `json:"successRate"`
				UniqueParticipants int      `json:"uniqueParticipants"`
				TotalValueLocked   string   `json:"totalValueLocked"`
				TotalVolume        string   `json:"totalVolume"`
				Incomplete         bool     `json:"incomplete"`
				FailedIDs          []uint64 `json:"failedIds,omitempty"`
			}{st.TotalGigs, st.CompletedGigs, st.SuccessRate, st.UniqueParticipants,
				gig.FormatEtherFixed(st.TotalValueLocked, 4), gig.FormatEtherFixed(st.TotalVolume, 4),
				report.Incomplete, report.FailedIDs})
		}
		renderKeyValues(stdout, [][2]string{
			{"Total gigs", fmt.Sprint(st.TotalGigs)},
			{"Completed", fmt.Sprint(st.CompletedGigs)},
			{"Success rate", fmt.Sprintf("%d%%", st.SuccessRate)},
			{"Participants", fmt.Sprint(st.UniqueParticipants)},
			{"Value locked", gig.FormatEtherFixed(st.TotalValueLocked, 4) + " ETH"},
			{"Volume", gig.FormatEtherFixed(st.TotalVolume, 4) + " ETH"},
		})
		printIncomplete(stdout, report.Incomplete, report.FailedIDs)
		return nil
	})
}

func printIncomplete(w io.Writer, incomplete bool, failed []uint64) {
	if !incomplete {
		return
	}
	fmt.Fprintln(w, (&roster.PartialScanError{Failed: failuresFor(failed)}).Message())
}

func failuresFor(ids []uint64) []roster.FetchFailure {
	out := make([]roster.FetchFailure, len(ids))
	for i, id := range ids {
		out[i] = roster.FetchFailure{ID: id}
	}
	return out
}

func runTimeline(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, opts := newFlagSet("timeline", stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "gig id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := parseID(fs, id); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return withSession(ctx, opts, stderr, func(ctx context.Context, s *session) error {
		entries, err := s.journal.Timeline(ctx, id)
		if err != nil {
			return err
		}
		if opts.json {
			type entryJSON struct {
				Event       string `json:"event"`
				Description string `json:"description"`
				Stage       string `json:"stage"`
				TxHash      string `json:"txHash,omitempty"`
				Actor       string `json:"actor"`
				BlockNumber uint64 `json:"blockNumber,omitempty"`
				Detail      string `json:"detail,omitempty"`
				RecordedAt  string `json:"recordedAt"`
			}
			out := make([]entryJSON, 0, len(entries))
			for _, e := range entries {
				out = append(out, entryJSON{e.EventType, e.Description(), string(e.Stage), e.TxHash, e.Actor.Hex(), e.BlockNumber, e.Detail, formatTime(e.RecordedAt)})
			}
			return printJSON(stdout, out)
		}
		if len(entries) == 0 {
			fmt.Fprintf(stdout, "No journaled requests for gig %d.\n", id)
			return nil
		}
		tw := newTable(stdout, table.Row{"When", "Event", "Stage", "Actor", "Block", "Tx"})
		for _, e := range entries {
			tw.AppendRow(table.Row{formatTime(e.RecordedAt), e.Description(), e.Stage, e.Actor.Short(), e.BlockNumber, e.TxHash})
		}
		tw.Render()
		return nil
	})
}
