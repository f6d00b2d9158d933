package gig

import (
	"fmt"
	"strings"
)

// ValidationReason classifies why a creation request was rejected.
type ValidationReason string

const (
	ReasonEmptyTitle       ValidationReason = "EmptyTitle"
	ReasonEmptyDescription ValidationReason = "EmptyDescription"
	ReasonInvalidAddress   ValidationReason = "InvalidAddress"
	ReasonSelfDealing      ValidationReason = "SelfDealing"
	ReasonInvalidPayment   ValidationReason = "InvalidPayment"
)

// FieldError is one rejected form field.
type FieldError struct {
	Field   string
	Reason  ValidationReason
	Message string
}

// ValidationError reports a malformed creation request. It is produced
// locally and never sent to the ledger.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "gig: invalid request"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "gig: invalid request: " + strings.Join(parts, "; ")
}

// Reason returns the reason of the first failing field. Every field is
// checked, so Fields may hold more than one entry.
func (e *ValidationError) Reason() ValidationReason {
	if e == nil || len(e.Fields) == 0 {
		return ""
	}
	return e.Fields[0].Reason
}

// Has reports whether any field failed with reason.
func (e *ValidationError) Has(reason ValidationReason) bool {
	if e == nil {
		return false
	}
	for _, f := range e.Fields {
		if f.Reason == reason {
			return true
		}
	}
	return false
}

// Message returns the user-facing text for the first failure.
func (e *ValidationError) Message() string {
	if e == nil || len(e.Fields) == 0 {
		return "Please fix the errors in the form"
	}
	return e.Fields[0].Message
}

// AuthorizationError reports a caller, role, or state mismatch caught before
// submission.
type AuthorizationError struct {
	GigID    uint64
	Action   Action
	Reason   DenyReason
	Required string
	Current  Status
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("gig %d: %s denied (%s): %s", e.GigID, e.Action, e.Reason, e.Required)
}

// Message returns the user-facing explanation naming the required role or state.
func (e *AuthorizationError) Message() string {
	switch e.Reason {
	case DenyNotFreelancer:
		return fmt.Sprintf("Only the freelancer can %s this gig", e.Action.verb())
	case DenyNotClient:
		return fmt.Sprintf("Only the client can %s this gig", e.Action.verb())
	case DenyInvalidState:
		return fmt.Sprintf("Cannot %s: gig is %s, must be %s", e.Action.verb(), e.Current, e.Required)
	default:
		return fmt.Sprintf("Not allowed to %s this gig", e.Action.verb())
	}
}
