// Package roster enumerates the gigs known to the ledger and aggregates them
// into participant and marketplace statistics.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"rozgar/ledger"
	"rozgar/native/gig"
	"rozgar/observability"
	"rozgar/observability/logging"
)

// DefaultMaxConcurrency bounds in-flight fetches when no cap is configured.
const DefaultMaxConcurrency = 8

const (
	scopeParticipant = "participant"
	scopeAll         = "all"
)

var errZeroParticipant = errors.New("roster: participant address required")

// FetchFailure records one id that could not be read during a scan.
type FetchFailure struct {
	ID  uint64
	Err error
}

// Result is the outcome of a scan pinned to one ledger snapshot.
type Result struct {
	Snapshot ledger.Snapshot
	// Count is the gig count at Snapshot; ids 1..Count were scanned.
	Count uint64
	// Gigs holds the matching records ordered by id.
	Gigs []gig.Gig
	// Failed lists unreadable ids in ascending order. Any failure makes the
	// result Incomplete.
	Failed     []FetchFailure
	Incomplete bool
}

// Err returns a *PartialScanError when some ids could not be read.
func (r Result) Err() error {
	if !r.Incomplete {
		return nil
	}
	return &PartialScanError{Snapshot: r.Snapshot, Count: r.Count, Failed: append([]FetchFailure(nil), r.Failed...)}
}

// FailedIDs lists the unreadable ids.
func (r Result) FailedIDs() []uint64 {
	ids := make([]uint64, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

// Scanner reads the full id space of the ledger with bounded concurrency.
type Scanner struct {
	reader         ledger.Reader
	maxConcurrency int
	limiter        *rate.Limiter
	logger         *slog.Logger
	tracer         trace.Tracer
	nowFn          func() time.Time
}

// Option customises a Scanner.
type Option func(*Scanner)

// WithMaxConcurrency caps concurrent fetches. Values below one disable
// parallelism.
func WithMaxConcurrency(n int) Option {
	return func(s *Scanner) {
		if n < 1 {
			n = 1
		}
		s.maxConcurrency = n
	}
}

// WithRateLimit throttles fetches to rps requests per second with the given
// burst. A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Scanner) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewScanner constructs a scanner over reader.
func NewScanner(reader ledger.Reader, opts ...Option) *Scanner {
	s := &Scanner{
		reader:         reader,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
		tracer:         otel.Tracer("rozgar/roster"),
		nowFn:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListForParticipant returns every gig in which addr is the client or the
// freelancer. Unreadable ids are skipped and mark the result incomplete; only
// a failure to pin the snapshot or read the count fails the call.
func (s *Scanner) ListForParticipant(ctx context.Context, addr gig.Address) (Result, error) {
	if addr.IsZero() {
		return Result{}, errZeroParticipant
	}
	return s.scan(ctx, scopeParticipant, func(g gig.Gig) bool { return g.Involves(addr) },
		logging.Address("participant", addr))
}

// ScanAll returns every readable gig.
func (s *Scanner) ScanAll(ctx context.Context) (Result, error) {
	return s.scan(ctx, scopeAll, nil)
}

func (s *Scanner) scan(ctx context.Context, scope string, keep func(gig.Gig) bool, attrs ...any) (res Result, err error) {
	start := s.nowFn()
	ctx, span := s.tracer.Start(ctx, "roster.scan", trace.WithAttributes(attribute.String("roster.scope", scope)))
	defer func() {
		observability.Roster().ObserveScan(scope, res.Count, len(res.Failed), err, s.nowFn().Sub(start))
		span.SetAttributes(
			attribute.Int64("roster.count", int64(res.Count)),
			attribute.Int("roster.matched", len(res.Gigs)),
			attribute.Int("roster.failed", len(res.Failed)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	snap, err := s.reader.Snapshot(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("roster: pin snapshot: %w", err)
	}
	count, err := s.reader.FetchGigCount(ctx, snap)
	if err != nil {
		return Result{}, fmt.Errorf("roster: read gig count: %w", err)
	}

	type fetchedGig struct {
		id     uint64
		record gig.Gig
	}
	var (
		mu      sync.Mutex
		fetched []fetchedGig
		failed  []FetchFailure
	)
	var group errgroup.Group
	group.SetLimit(s.maxConcurrency)
	for id := uint64(1); id <= count; id++ {
		if ctx.Err() != nil {
			break
		}
		id := id
		group.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			record, err := s.reader.FetchGig(ctx, snap, id)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				failed = append(failed, FetchFailure{ID: id, Err: err})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			fetched = append(fetched, fetchedGig{id: id, record: record})
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, fmt.Errorf("roster: scan interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("roster: scan interrupted: %w", err)
	}

	res = Result{Snapshot: snap, Count: count}
	sort.Slice(fetched, func(i, j int) bool { return fetched[i].id < fetched[j].id })
	for _, f := range fetched {
		if keep == nil || keep(f.record) {
			res.Gigs = append(res.Gigs, f.record)
		}
	}
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].ID < failed[j].ID })
		res.Failed = failed
		res.Incomplete = true
		s.logger.Warn("roster scan incomplete",
			append(attrs,
				slog.String("scope", scope),
				slog.Uint64("height", snap.Height),
				slog.Uint64("count", count),
				slog.Any("failed_ids", res.FailedIDs()))...)
	}
	return res, nil
}
