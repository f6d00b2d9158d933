package roster

import (
	"context"
	"math"
	"math/big"

	"rozgar/ledger"
	"rozgar/native/gig"
)

// Stats summarises a participant's gigs.
type Stats struct {
	Total     int
	Active    int
	Completed int
	// TotalEarnedAsFreelancer sums payments of completed gigs where the
	// perspective is the freelancer, in wei.
	TotalEarnedAsFreelancer *big.Int
	AsClient                int
	AsFreelancer            int
	ByStatus                map[gig.Status]int
}

// GlobalStats summarises the whole marketplace.
type GlobalStats struct {
	TotalGigs     int
	CompletedGigs int
	// TotalValueLocked sums payments still held in escrow, in wei. Completed
	// gigs are excluded; TotalVolume counts them.
	TotalValueLocked *big.Int
	// TotalVolume sums every payment ever deposited, in wei.
	TotalVolume *big.Int
	// SuccessRate is the completed share as a whole percentage.
	SuccessRate        int
	UniqueParticipants int
	ByStatus           map[gig.Status]int
}

// Aggregate computes perspective's statistics over gigs. Active counts
// Waiting and InProgress gigs.
func Aggregate(gigs []gig.Gig, perspective gig.Address) Stats {
	stats := Stats{
		Total:                   len(gigs),
		TotalEarnedAsFreelancer: new(big.Int),
		ByStatus:                make(map[gig.Status]int, 4),
	}
	for _, g := range gigs {
		status := g.Status()
		stats.ByStatus[status]++
		if status.Active() {
			stats.Active++
		}
		switch g.RoleOf(perspective) {
		case gig.RoleClient:
			stats.AsClient++
		case gig.RoleFreelancer:
			stats.AsFreelancer++
		}
		if status != gig.StatusCompleted {
			continue
		}
		stats.Completed++
		if g.Freelancer == perspective && g.Payment != nil {
			stats.TotalEarnedAsFreelancer.Add(stats.TotalEarnedAsFreelancer, g.Payment)
		}
	}
	return stats
}

// AggregateAll computes marketplace statistics over gigs.
func AggregateAll(gigs []gig.Gig) GlobalStats {
	stats := GlobalStats{
		TotalGigs:        len(gigs),
		TotalValueLocked: new(big.Int),
		TotalVolume:      new(big.Int),
		ByStatus:         make(map[gig.Status]int, 4),
	}
	participants := make(map[gig.Address]struct{}, 2*len(gigs))
	for _, g := range gigs {
		status := g.Status()
		stats.ByStatus[status]++
		participants[g.Client] = struct{}{}
		participants[g.Freelancer] = struct{}{}
		if g.Payment != nil {
			stats.TotalVolume.Add(stats.TotalVolume, g.Payment)
		}
		if status == gig.StatusCompleted {
			stats.CompletedGigs++
		} else if g.Payment != nil {
			stats.TotalValueLocked.Add(stats.TotalValueLocked, g.Payment)
		}
	}
	stats.UniqueParticipants = len(participants)
	stats.SuccessRate = SuccessRate(stats.CompletedGigs, stats.TotalGigs)
	return stats
}

// SuccessRate returns round(completed / total * 100), or 0 when total is 0.
func SuccessRate(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) / float64(total) * 100))
}

// Report pairs a participant's gigs and statistics with the scan's
// completeness, so an incomplete count is never presented as final.
type Report struct {
	Participant gig.Address
	Snapshot    ledger.Snapshot
	Gigs        []gig.Gig
	Stats       Stats
	Incomplete  bool
	FailedIDs   []uint64
}

// GlobalReport is the marketplace equivalent of Report.
type GlobalReport struct {
	Snapshot   ledger.Snapshot
	Stats      GlobalStats
	Incomplete bool
	FailedIDs  []uint64
}

// ParticipantReport scans for addr's gigs and aggregates them.
func (s *Scanner) ParticipantReport(ctx context.Context, addr gig.Address) (Report, error) {
	res, err := s.ListForParticipant(ctx, addr)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Participant: addr,
		Snapshot:    res.Snapshot,
		Gigs:        res.Gigs,
		Stats:       Aggregate(res.Gigs, addr),
		Incomplete:  res.Incomplete,
		FailedIDs:   res.FailedIDs(),
	}, nil
}

// GlobalReport scans every gig and aggregates marketplace statistics.
func (s *Scanner) GlobalReport(ctx context.Context) (GlobalReport, error) {
	res, err := s.ScanAll(ctx)
	if err != nil {
		return GlobalReport{}, err
	}
	return GlobalReport{
		Snapshot:   res.Snapshot,
		Stats:      AggregateAll(res.Gigs),
		Incomplete: res.Incomplete,
		FailedIDs:  res.FailedIDs(),
	}, nil
}
