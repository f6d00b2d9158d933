package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"rozgar/core/coordinator"
	"rozgar/ledger"
	"rozgar/native/gig"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	message := ""
	if err != nil {
		message = strings.TrimSpace(err.Error())
	}
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// writeLedgerError maps a read failure to a status and the user-facing
// message; internal detail stays in logs.
func writeLedgerError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var verr *gig.ValidationError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &verr):
		status = http.StatusUnprocessableEntity
	case ledger.IsKind(err, ledger.KindNetworkUnavailable):
		status = http.StatusServiceUnavailable
	case ledger.IsKind(err, ledger.KindTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	writeJSON(w, status, map[string]string{"error": coordinator.Describe(err)})
}
