package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"rozgar/ledger"
	"rozgar/native/gig"
	"rozgar/roster"
)

// maxBodyBytes bounds POST payloads.
const maxBodyBytes = 64 << 10

type handlers struct {
	reader   ledger.Reader
	scanner  *roster.Scanner
	timeline TimelineStore
	logger   *slog.Logger
}

type gigView struct {
	ID            uint64 `json:"id"`
	Client        string `json:"client"`
	Freelancer    string `json:"freelancer"`
	Title         string `json:"title"`
	Description   string `json:"description"`
	PaymentWei    string `json:"paymentWei"`
	PaymentEther  string `json:"paymentEther"`
	Status        string `json:"status"`
	Accepted      bool   `json:"accepted"`
	WorkSubmitted bool   `json:"workSubmitted"`
	Paid          bool   `json:"paid"`
	Completed     bool   `json:"completed"`
}

func newGigView(g gig.Gig) gigView {
	return gigView{
		ID:            g.ID,
		Client:        g.Client.Hex(),
		Freelancer:    g.Freelancer.Hex(),
		Title:         g.Title,
		Description:   g.Description,
		PaymentWei:    weiString(g.Payment),
		PaymentEther:  gig.FormatEther(g.Payment),
		Status:        g.Status().String(),
		Accepted:      g.Accepted,
		WorkSubmitted: g.WorkSubmitted,
		Paid:          g.Paid,
		Completed:     g.Completed,
	}
}

type gigResponse struct {
	Height uint64  `json:"height"`
	Gig    gigView `json:"gig"`
	// AllowedActions is filled when the request names a caller.
	AllowedActions []string `json:"allowedActions,omitempty"`
}

func (h *handlers) getGig(w http.ResponseWriter, r *http.Request) {
	id, err := parseGigID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var caller gig.Address
	if raw := strings.TrimSpace(r.URL.Query().Get("caller")); raw != "" {
		if caller, err = gig.ParseAddress(raw); err != nil {
			writeBadRequest(w, fmt.Errorf("caller: %w", err))
			return
		}
	}
	snap, err := parseHeight(r.URL.Query().Get("height"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	if snap.IsLatest() {
		if snap, err = h.reader.Snapshot(r.Context()); err != nil {
			h.logFailure(r, "pin snapshot", err)
			writeLedgerError(w, err)
			return
		}
	}
	record, err := h.reader.FetchGig(r.Context(), snap, id)
	if err != nil {
		h.logFailure(r, "fetch gig", err)
		writeLedgerError(w, err)
		return
	}
	resp := gigResponse{Height: snap.Height, Gig: newGigView(record)}
	if !caller.IsZero() {
		for _, a := range gig.AllowedActions(record, caller) {
			resp.AllowedActions = append(resp.AllowedActions, a.String())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type authorizeResponse struct {
	GigID    uint64 `json:"gigId"`
	Action   string `json:"action"`
	Caller   string `json:"caller"`
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason,omitempty"`
	Message  string `json:"message,omitempty"`
	Status   string `json:"status"`
	Required string `json:"required,omitempty"`
}

// authorize is a dry run of the lifecycle check against a fresh read.
func (h *handlers) authorize(w http.ResponseWriter, r *http.Request) {
	id, err := parseGigID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	query := r.URL.Query()
	caller, err := gig.ParseAddress(strings.TrimSpace(query.Get("caller")))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("caller: %w", err))
		return
	}
	action, err := gig.ParseAction(query.Get("action"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	record, err := h.reader.FetchGig(r.Context(), ledger.Latest, id)
	if err != nil {
		h.logFailure(r, "fetch gig", err)
		writeLedgerError(w, err)
		return
	}
	decision := gig.Authorize(record, caller, action)
	resp := authorizeResponse{
		GigID:   id,
		Action:  action.String(),
		Caller:  caller.Hex(),
		Allowed: decision.Allowed,
		Status:  decision.Current.String(),
	}
	if !decision.Allowed {
		var aerr *gig.AuthorizationError
		if errors.As(decision.Err(), &aerr) {
			resp.Message = aerr.Message()
		}
		resp.Reason = string(decision.Reason)
		resp.Required = decision.Required
	}
	writeJSON(w, http.StatusOK, resp)
}

type timelineEntry struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Stage       string    `json:"stage"`
	TxHash      string    `json:"txHash,omitempty"`
	Actor       string    `json:"actor"`
	BlockNumber uint64    `json:"blockNumber,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	RecordedAt  time.Time `json:"recordedAt"`
}

func (h *handlers) getTimeline(w http.ResponseWriter, r *http.Request) {
	if h.timeline == nil {
		writeJSONError(w, http.StatusNotImplemented, errors.New("timeline journal not configured"))
		return
	}
	id, err := parseGigID(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	entries, err := h.timeline.Timeline(r.Context(), id)
	if err != nil {
		h.logFailure(r, "read timeline", err)
		writeJSONError(w, http.StatusInternalServerError, errors.New("timeline unavailable"))
		return
	}
	out := make([]timelineEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, timelineEntry{
			Type:        e.EventType,
			Description: e.Description(),
			Stage:       string(e.Stage),
			TxHash:      e.TxHash,
			Actor:       e.Actor.Hex(),
			BlockNumber: e.BlockNumber,
			Detail:      e.Detail,
			RecordedAt:  e.RecordedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"gigId": id, "entries": out})
}

type validateRequest struct {
	Creator     string `json:"creator"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Freelancer  string `json:"freelancer"`
	// Payment is in ether, as typed into the form.
	Payment string `json:"payment"`
}

type fieldError struct {
	Field   string `json:"field"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

type validateResponse struct {
	Valid  bool         `json:"valid"`
	Errors []fieldError `json:"errors,omitempty"`
	// PaymentWei echoes the parsed deposit when the draft is valid.
	PaymentWei string `json:"paymentWei,omitempty"`
}

// validate checks a creation draft without touching the ledger.
func (h *handlers) validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeBadRequest(w, fmt.Errorf("decode request: %w", err))
		return
	}
	creator, err := gig.ParseAddress(strings.TrimSpace(req.Creator))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("creator: %w", err))
		return
	}
	draft := gig.NewDraft(req.Title, req.Description, req.Freelancer, req.Payment)
	err = gig.ValidateCreation(draft, creator)
	if err == nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: true, PaymentWei: weiString(draft.Payment)})
		return
	}
	var verr *gig.ValidationError
	if !errors.As(err, &verr) {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	resp := validateResponse{}
	for _, f := range verr.Fields {
		resp.Errors = append(resp.Errors, fieldError{Field: f.Field, Reason: string(f.Reason), Message: f.Message})
	}
	writeJSON(w, http.StatusUnprocessableEntity, resp)
}

type participantStats struct {
	Total            int            `json:"total"`
	Active           int            `json:"active"`
	Completed        int            `json:"completed"`
	AsClient         int            `json:"asClient"`
	AsFreelancer     int            `json:"asFreelancer"`
	TotalEarnedWei   string         `json:"totalEarnedWei"`
	TotalEarnedEther string         `json:"totalEarnedEther"`
	ByStatus         map[string]int `json:"byStatus"`
}

type participantResponse struct {
	Participant string           `json:"participant"`
	Height      uint64           `json:"height"`
	Incomplete  bool             `json:"incomplete"`
	FailedIDs   []uint64         `json:"failedIds,omitempty"`
	Warning     string           `json:"warning,omitempty"`
	Stats       participantStats `json:"stats"`
	Gigs        []gigView        `json:"gigs"`
}

func (h *handlers) participantGigs(w http.ResponseWriter, r *http.Request) {
	addr, err := gig.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, fmt.Errorf("address: %w", err))
		return
	}
	report, err := h.scanner.ParticipantReport(r.Context(), addr)
	if err != nil {
		h.logFailure(r, "participant scan", err)
		writeLedgerError(w, err)
		return
	}
	resp := participantResponse{
		Participant: addr.Hex(),
		Height:      report.Snapshot.Height,
		Incomplete:  report.Incomplete,
		FailedIDs:   report.FailedIDs,
		Stats: participantStats{
			Total:            report.Stats.Total,
			Active:           report.Stats.Active,
			Completed:        report.Stats.Completed,
			AsClient:         report.Stats.AsClient,
			AsFreelancer:     report.Stats.AsFreelancer,
			TotalEarnedWei:   weiString(report.Stats.TotalEarnedAsFreelancer),
			TotalEarnedEther: gig.FormatEtherFixed(report.Stats.TotalEarnedAsFreelancer, 4),
			ByStatus:         statusCounts(report.Stats.ByStatus),
		},
		Gigs: make([]gigView, 0, len(report.Gigs)),
	}
	if report.Incomplete {
		resp.Warning = incompleteWarning(len(report.FailedIDs))
	}
	for _, g := range report.Gigs {
		resp.Gigs = append(resp.Gigs, newGigView(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsResponse struct {
	Height              uint64         `json:"height"`
	Incomplete          bool           `json:"incomplete"`
	FailedIDs           []uint64       `json:"failedIds,omitempty"`
	Warning             string         `json:"warning,omitempty"`
	TotalGigs           int            `json:"totalGigs"`
	CompletedGigs       int            `json:"completedGigs"`
	SuccessRate         int            `json:"successRate"`
	UniqueParticipants  int            `json:"uniqueParticipants"`
	TotalValueLockedWei string         `json:"totalValueLockedWei"`
	TotalValueLocked    string         `json:"totalValueLockedEther"`
	TotalVolumeWei      string         `json:"totalVolumeWei"`
	TotalVolume         string         `json:"totalVolumeEther"`
	ByStatus            map[string]int `json:"byStatus"`
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	report, err := h.scanner.GlobalReport(r.Context())
	if err != nil {
		h.logFailure(r, "global scan", err)
		writeLedgerError(w, err)
		return
	}
	s := report.Stats
	resp := statsResponse{
		Height:              report.Snapshot.Height,
		Incomplete:          report.Incomplete,
		FailedIDs:           report.FailedIDs,
		TotalGigs:           s.TotalGigs,
		CompletedGigs:       s.CompletedGigs,
		SuccessRate:         s.SuccessRate,
		UniqueParticipants:  s.UniqueParticipants,
		TotalValueLockedWei: weiString(s.TotalValueLocked),
		TotalValueLocked:    gig.FormatEtherFixed(s.TotalValueLocked, 4),
		TotalVolumeWei:      weiString(s.TotalVolume),
		TotalVolume:         gig.FormatEtherFixed(s.TotalVolume, 4),
		ByStatus:            statusCounts(s.ByStatus),
	}
	if report.Incomplete {
		resp.Warning = incompleteWarning(len(report.FailedIDs))
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseHeight reads an optional ?height= pin; absent means latest.
func parseHeight(raw string) (ledger.Snapshot, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ledger.Latest, nil
	}
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || height == 0 {
		return ledger.Snapshot{}, fmt.Errorf("height must be a positive integer")
	}
	return ledger.Snapshot{Height: height}, nil
}

func (h *handlers) logFailure(r *http.Request, op string, err error) {
	h.logger.Warn("gateway ledger read failed",
		slog.String("op", op),
		slog.String("path", r.URL.Path),
		slog.Any("error", err))
}

func parseGigID(raw string) (uint64, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("gig id must be a positive integer")
	}
	return id, nil
}

func statusCounts(in map[gig.Status]int) map[string]int {
	out := make(map[string]int, len(in))
	for status, n := range in {
		out[status.String()] = n
	}
	return out
}

func incompleteWarning(failed int) string {
	return (&roster.PartialScanError{Failed: make([]roster.FetchFailure, failed)}).Message()
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
