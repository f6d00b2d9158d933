package coordinator

import (
	"context"
	"errors"

	"rozgar/ledger"
	"rozgar/native/gig"
	"rozgar/roster"
)

// MessageUnknown is shown for errors Describe does not recognise.
const MessageUnknown = "Something went wrong. Please try again."

// Describe maps an error from the coordinator, the ledger client or a roster
// scan to the message shown to a person. Unrecognised errors get a
// generic message; their detail belongs in logs.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var (
		verr    *gig.ValidationError
		aerr    *gig.AuthorizationError
		lerr    *ledger.Error
		partial *roster.PartialScanError
	)
	switch {
	case errors.As(err, &partial):
		return partial.Message()
	case errors.As(err, &verr):
		return verr.Message()
	case errors.As(err, &aerr):
		return aerr.Message()
	case errors.Is(err, ledger.ErrNotFound):
		return "Gig not found."
	case errors.As(err, &lerr):
		return lerr.Message()
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	case errors.Is(err, context.DeadlineExceeded):
		return "Timed out waiting for the ledger."
	case errors.Is(err, errNoSigner):
		return "Connect a wallet to continue."
	default:
		return MessageUnknown
	}
}
