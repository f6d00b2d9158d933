package gig

import (
	"math/big"
	"strings"
)

// Draft is a creation request before it is funded on the ledger.
type Draft struct {
	Title       string
	Description string
	Freelancer  string
	// Payment is the escrow deposit in wei.
	Payment *big.Int
}

// NewDraft builds a draft from form input, parsing payment as ether. A
// payment that fails to parse is left nil so ValidateCreation reports it
// alongside any other field errors.
func NewDraft(title, description, freelancer, paymentEther string) Draft {
	d := Draft{Title: title, Description: description, Freelancer: freelancer}
	if wei, err := ParseEther(paymentEther); err == nil {
		d.Payment = wei
	}
	return d
}

// FreelancerAddress parses the freelancer field. Call after ValidateCreation.
func (d Draft) FreelancerAddress() (Address, error) {
	return ParseAddress(d.Freelancer)
}

// ValidateCreation checks a draft created by creator. It returns a
// *ValidationError listing every failing field, or nil.
func ValidateCreation(d Draft, creator Address) error {
	var fields []FieldError
	if strings.TrimSpace(d.Title) == "" {
		fields = append(fields, FieldError{Field: "title", Reason: ReasonEmptyTitle, Message: "Title is required"})
	}
	if strings.TrimSpace(d.Description) == "" {
		fields = append(fields, FieldError{Field: "description", Reason: ReasonEmptyDescription, Message: "Description is required"})
	}
	switch freelancer := strings.TrimSpace(d.Freelancer); {
	case freelancer == "":
		fields = append(fields, FieldError{Field: "freelancer", Reason: ReasonInvalidAddress, Message: "Freelancer address is required"})
	default:
		addr, err := ParseAddress(freelancer)
		if err != nil {
			fields = append(fields, FieldError{Field: "freelancer", Reason: ReasonInvalidAddress, Message: "Invalid Ethereum address"})
		} else if addr.IsZero() {
			fields = append(fields, FieldError{Field: "freelancer", Reason: ReasonInvalidAddress, Message: "Freelancer cannot be the zero address"})
		} else if addr == creator {
			fields = append(fields, FieldError{Field: "freelancer", Reason: ReasonSelfDealing, Message: "Cannot create gig for yourself"})
		}
	}
	if d.Payment == nil || d.Payment.Sign() <= 0 {
		fields = append(fields, FieldError{Field: "payment", Reason: ReasonInvalidPayment, Message: "Payment amount must be greater than 0"})
	}
	if len(fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: fields}
}
