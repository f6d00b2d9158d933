package memledger

import (
	"errors"
	"math/big"
	"strings"

	"rozgar/native/gig"
)

// Revert reasons mirror the require() messages of the deployed escrow
// contract so tests exercise the same failure text the chain produces.
var (
	errNoPayment       = errors.New("execution reverted: Payment required")
	errNoFreelancer    = errors.New("execution reverted: Invalid freelancer")
	errSelfGig         = errors.New("execution reverted: Cannot hire yourself")
	errGigMissing      = errors.New("execution reverted: Gig does not exist")
	errOnlyFreelancer  = errors.New("execution reverted: Only freelancer")
	errOnlyClient      = errors.New("execution reverted: Only client")
	errAlreadyAccepted = errors.New("execution reverted: Already accepted")
	errNotAccepted     = errors.New("execution reverted: Gig not accepted")
	errAlreadyDone     = errors.New("execution reverted: Work already submitted")
	errNotSubmitted    = errors.New("execution reverted: Work not submitted")
	errAlreadyPaid     = errors.New("execution reverted: Already paid")
	errUnknownAction   = errors.New("execution reverted: unknown function")
)

// createRecord applies createGig(title, description, freelancer) with value.
func createRecord(id uint64, sender gig.Address, d gig.Draft, value *big.Int) (gig.Gig, error) {
	if value == nil || value.Sign() <= 0 {
		return gig.Gig{}, errNoPayment
	}
	freelancer, err := gig.ParseAddress(strings.TrimSpace(d.Freelancer))
	if err != nil || freelancer.IsZero() {
		return gig.Gig{}, errNoFreelancer
	}
	if freelancer == sender {
		return gig.Gig{}, errSelfGig
	}
	return gig.Gig{
		ID:          id,
		Client:      sender,
		Freelancer:  freelancer,
		Title:       d.Title,
		Description: d.Description,
		Payment:     new(big.Int).Set(value),
	}, nil
}

// transition applies acceptGig, submitWork or approveAndPay as the contract
// does, independent of the client-side lifecycle engine.
func transition(current gig.Gig, sender gig.Address, action gig.Action) (gig.Gig, error) {
	next := current.Clone()
	switch action {
	case gig.ActionAccept:
		if sender != current.Freelancer {
			return current, errOnlyFreelancer
		}
		if current.Accepted {
			return current, errAlreadyAccepted
		}
		next.Accepted = true
	case gig.ActionSubmitWork:
		if sender != current.Freelancer {
			return current, errOnlyFreelancer
		}
		if !current.Accepted {
			return current, errNotAccepted
		}
		if current.WorkSubmitted {
			return current, errAlreadyDone
		}
		next.WorkSubmitted = true
	case gig.ActionApproveAndPay:
		if sender != current.Client {
			return current, errOnlyClient
		}
		if !current.WorkSubmitted {
			return current, errNotSubmitted
		}
		if current.Paid {
			return current, errAlreadyPaid
		}
		next.Completed = true
		next.Paid = true
	default:
		return current, errUnknownAction
	}
	return next, nil
}
