package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rozgar/gateway/middleware"
	"rozgar/ledger"
	"rozgar/roster"
	"rozgar/storage/journal"
)

// TimelineStore serves journaled request history.
type TimelineStore interface {
	Timeline(ctx context.Context, gigID uint64) ([]journal.Entry, error)
}

// Rate-limit keys used by the router.
const (
	RateLimitGigs  = "gigs"
	RateLimitScans = "scans"
)

// Config wires the router to its ledger reader, roster scanner and optional
// journal, health check and middleware.
type Config struct {
	Reader        ledger.Reader
	Scanner       *roster.Scanner
	Timeline      TimelineStore
	HealthCheck   func(context.Context) error
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

// New builds the read-only HTTP surface. Every endpoint reads ledger state
// fresh per request; nothing here submits transactions.
func New(cfg Config) (http.Handler, error) {
	if cfg.Reader == nil {
		return nil, errors.New("routes: ledger reader required")
	}
	if cfg.Scanner == nil {
		cfg.Scanner = roster.NewScanner(cfg.Reader)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &handlers{
		reader:   cfg.Reader,
		scanner:  cfg.Scanner,
		timeline: cfg.Timeline,
		logger:   cfg.Logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	withRoute := func(sr chi.Router, route, limitKey string) chi.Router {
		var mws []func(http.Handler) http.Handler
		if obs != nil {
			mws = append(mws, obs.Middleware(route))
		}
		if cfg.RateLimiter != nil && limitKey != "" {
			mws = append(mws, cfg.RateLimiter.Middleware(limitKey))
		}
		return sr.With(mws...)
	}

	withRoute(r, "healthz", "").Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(req.Context()); err != nil {
				writeJSONError(w, http.StatusServiceUnavailable, err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(v1 chi.Router) {
		withRoute(v1, "gig_get", RateLimitGigs).Get("/gigs/{id}", h.getGig)
		withRoute(v1, "gig_authorize", RateLimitGigs).Get("/gigs/{id}/authorize", h.authorize)
		withRoute(v1, "gig_timeline", RateLimitGigs).Get("/gigs/{id}/timeline", h.getTimeline)
		withRoute(v1, "gig_validate", RateLimitGigs).Post("/gigs/validate", h.validate)
		withRoute(v1, "participant_gigs", RateLimitScans).Get("/participants/{address}/gigs", h.participantGigs)
		withRoute(v1, "stats", RateLimitScans).Get("/stats", h.stats)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}
	return r, nil
}
