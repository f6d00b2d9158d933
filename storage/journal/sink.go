package journal

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"rozgar/core/events"
)

// Sink journals lifecycle events. Write failures are logged and dropped; the
// ledger remains the record of truth.
type Sink struct {
	journal *Journal
	logger  *slog.Logger
	timeout time.Duration
}

// NewSink wraps j as an events.Emitter.
func NewSink(j *Journal, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{journal: j, logger: logger, timeout: 5 * time.Second}
}

// Emit implements events.Emitter.
func (s *Sink) Emit(evt events.Event) {
	lc, ok := evt.(events.Lifecycle)
	if !ok || s.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if lc.Creation && lc.Stage == events.StageConfirmed && lc.GigID != 0 {
		if err := s.journal.AssignGig(ctx, lc.TxHash, lc.GigID); err != nil {
			s.logger.Warn("journal assign gig failed", append(eventAttrs(lc), slog.Any("error", err))...)
		}
	}
	_, err := s.journal.Record(ctx, Entry{
		GigID:       lc.GigID,
		EventType:   lc.Type,
		Stage:       Stage(lc.Stage),
		TxHash:      lc.TxHash,
		Actor:       lc.Actor,
		BlockNumber: lc.BlockNumber,
		Detail:      lc.Detail,
		RecordedAt:  lc.At,
	})
	if err != nil {
		s.logger.Warn("journal record failed", append(eventAttrs(lc), slog.Any("error", err))...)
	}
}

func eventAttrs(lc events.Lifecycle) []any {
	flat := lc.Attributes()
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys)+1)
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, flat[k]))
	}
	return attrs
}
