package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound reports that the requested gig id was never assigned.
var ErrNotFound = errors.New("ledger: gig not found")

// Kind classifies ledger failures.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindNetworkUnavailable: the ledger could not be reached; the request
	// was not included.
	KindNetworkUnavailable
	// KindRejected: the ledger reverted the request, usually because its
	// precondition was lost to a concurrent transition.
	KindRejected
	// KindInsufficientFunds: the signer cannot cover value plus fees.
	KindInsufficientFunds
	// KindTimeout: finality was not observed in time. The request may still
	// be included later.
	KindTimeout
	// KindUnresolved: the request was confirmed but the gig it created could
	// not be identified. The outcome is final.
	KindUnresolved
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnavailable:
		return "NetworkUnavailable"
	case KindRejected:
		return "Rejected"
	case KindInsufficientFunds:
		return "InsufficientFunds"
	case KindTimeout:
		return "Timeout"
	case KindUnresolved:
		return "Unresolved"
	default:
		return "Unknown"
	}
}

// Error is a failure at or after submission.
type Error struct {
	Kind   Kind
	Op     string
	TxHash TxHash
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("ledger: %s %s", e.Op, e.Kind)
	if !e.TxHash.IsZero() {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// NeverIncluded reports whether the request certainly did not change ledger
// state, so it may be resubmitted after re-reading. Reverted requests were
// included and failed; timeouts are ambiguous and also require a re-read.
func (e *Error) NeverIncluded() bool {
	switch e.Kind {
	case KindNetworkUnavailable, KindInsufficientFunds:
		return e.TxHash.IsZero()
	default:
		return false
	}
}

// Message returns the user-facing reason.
func (e *Error) Message() string {
	switch e.Kind {
	case KindNetworkUnavailable:
		return "The ledger is unreachable; nothing was submitted. Try again shortly."
	case KindRejected:
		return "The ledger rejected the transaction; the gig may have changed. Refresh and try again."
	case KindInsufficientFunds:
		return "Insufficient funds to cover the payment and network fees."
	case KindTimeout:
		return "Timed out waiting for confirmation; the transaction may still be confirmed."
	case KindUnresolved:
		return "The transaction was confirmed but the new gig could not be identified. Check your gigs list."
	default:
		return "The ledger request failed."
	}
}

// NewError builds an *Error of the given kind.
func NewError(kind Kind, op string, tx TxHash, err error) *Error {
	return &Error{Kind: kind, Op: op, TxHash: tx, Err: err}
}

// KindOf extracts the failure kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is a ledger failure of kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromContext converts a context expiry during op into a timeout, leaving
// other errors untouched.
func FromContext(op string, tx TxHash, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, op, tx, err)
	}
	return err
}
