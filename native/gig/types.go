package gig

import (
	"fmt"
	"math/big"
	"strings"
)

// Status is the display state derived from a gig's ledger flags. It is never
// stored; every reader recomputes it with DeriveStatus.
type Status uint8

const (
	StatusWaiting Status = iota
	StatusInProgress
	StatusSubmitted
	StatusCompleted
)

// String returns the label shown to participants.
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusInProgress:
		return "In Progress"
	case StatusSubmitted:
		return "Submitted"
	case StatusCompleted:
		return "Completed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Valid reports whether the status value is one of the four lifecycle states.
func (s Status) Valid() bool {
	return s <= StatusCompleted
}

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool { return s == StatusCompleted }

// Active reports whether the gig still awaits the freelancer (Waiting or In Progress).
func (s Status) Active() bool { return s == StatusWaiting || s == StatusInProgress }

// Next returns the single successor state. Completed has none.
func (s Status) Next() (Status, bool) {
	if !s.Valid() || s.Terminal() {
		return s, false
	}
	return s + 1, true
}

// MarshalText renders the status as its display label.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("gig: invalid status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// ParseStatus accepts display labels as well as the compact forms used on the
// command line ("in_progress", "inprogress").
func ParseStatus(raw string) (Status, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "", "_", "", "-", "").Replace(normalized)
	switch normalized {
	case "waiting":
		return StatusWaiting, nil
	case "inprogress":
		return StatusInProgress, nil
	case "submitted":
		return StatusSubmitted, nil
	case "completed":
		return StatusCompleted, nil
	default:
		return 0, fmt.Errorf("gig: unknown status %q", raw)
	}
}

// DeriveStatus maps the ledger's progression flags to a display status. The
// stored "completed" flag is deliberately not an input.
func DeriveStatus(accepted, workSubmitted, paid bool) Status {
	switch {
	case paid:
		return StatusCompleted
	case workSubmitted:
		return StatusSubmitted
	case accepted:
		return StatusInProgress
	default:
		return StatusWaiting
	}
}

// Gig mirrors one escrow record held by the ledger. The ledger owns it; values
// of this type are read-only snapshots and go stale as soon as any transition
// is submitted.
type Gig struct {
	ID            uint64
	Client        Address
	Freelancer    Address
	Title         string
	Description   string
	Payment       *big.Int
	Accepted      bool
	WorkSubmitted bool
	// Completed is the contract's isCompleted flag. It is carried for
	// diagnostics only and never feeds DeriveStatus.
	Completed bool
	Paid      bool
}

// Status derives the display status from the record's flags.
func (g Gig) Status() Status {
	return DeriveStatus(g.Accepted, g.WorkSubmitted, g.Paid)
}

// Clone returns a deep copy so callers can mutate the payment without touching
// the source snapshot.
func (g Gig) Clone() Gig {
	clone := g
	if g.Payment != nil {
		clone.Payment = new(big.Int).Set(g.Payment)
	} else {
		clone.Payment = big.NewInt(0)
	}
	return clone
}

// Involves reports whether addr is the client or the freelancer of the gig.
func (g Gig) Involves(addr Address) bool {
	if addr.IsZero() {
		return false
	}
	return g.Client == addr || g.Freelancer == addr
}

// RoleOf returns the participant role addr plays in the gig.
func (g Gig) RoleOf(addr Address) Role {
	switch {
	case addr.IsZero():
		return RoleNone
	case addr == g.Client:
		return RoleClient
	case addr == g.Freelancer:
		return RoleFreelancer
	default:
		return RoleNone
	}
}

// Role names the part an address plays in a gig.
type Role uint8

const (
	RoleNone Role = iota
	RoleClient
	RoleFreelancer
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "Client"
	case RoleFreelancer:
		return "Freelancer"
	default:
		return "None"
	}
}

// Anomaly describes a record that could not have been produced by legal
// transitions.
type Anomaly struct {
	GigID  uint64
	Detail string
	// Fatal anomalies break the paid => submitted => accepted chain. The
	// completed/paid mismatch is informational.
	Fatal bool
}

func (a Anomaly) Error() string {
	return fmt.Sprintf("gig %d: %s", a.GigID, a.Detail)
}

// CheckConsistency returns every invariant violation found in the record.
func (g Gig) CheckConsistency() []Anomaly {
	var out []Anomaly
	if g.Paid && !g.WorkSubmitted {
		out = append(out, Anomaly{GigID: g.ID, Detail: "paid without submitted work", Fatal: true})
	}
	if g.WorkSubmitted && !g.Accepted {
		out = append(out, Anomaly{GigID: g.ID, Detail: "work submitted before acceptance", Fatal: true})
	}
	if g.Client == g.Freelancer && !g.Client.IsZero() {
		out = append(out, Anomaly{GigID: g.ID, Detail: "client and freelancer are the same address", Fatal: true})
	}
	if g.Payment == nil || g.Payment.Sign() <= 0 {
		out = append(out, Anomaly{GigID: g.ID, Detail: "escrowed payment is not positive", Fatal: true})
	}
	if g.Completed != g.Paid {
		out = append(out, Anomaly{GigID: g.ID, Detail: "completed flag disagrees with paid flag"})
	}
	return out
}
