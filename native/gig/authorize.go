package gig

import (
	"fmt"
	"strings"
)

// Action is a state-changing request a participant can make on a gig.
type Action uint8

const (
	ActionUnknown Action = iota
	ActionAccept
	ActionSubmitWork
	ActionApproveAndPay
)

func (a Action) String() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionSubmitWork:
		return "submitWork"
	case ActionApproveAndPay:
		return "approveAndPay"
	default:
		return "unknown"
	}
}

func (a Action) verb() string {
	switch a {
	case ActionAccept:
		return "accept"
	case ActionSubmitWork:
		return "submit work for"
	case ActionApproveAndPay:
		return "approve and pay"
	default:
		return "act on"
	}
}

// ParseAction accepts the contract method names and their CLI spellings.
func ParseAction(raw string) (Action, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer("_", "", "-", "").Replace(normalized)
	switch normalized {
	case "accept", "acceptgig":
		return ActionAccept, nil
	case "submit", "submitwork":
		return ActionSubmitWork, nil
	case "approve", "approveandpay", "pay":
		return ActionApproveAndPay, nil
	default:
		return ActionUnknown, fmt.Errorf("gig: unknown action %q", raw)
	}
}

// From returns the only status the action may be applied in.
func (a Action) From() (Status, bool) {
	switch a {
	case ActionAccept:
		return StatusWaiting, true
	case ActionSubmitWork:
		return StatusInProgress, true
	case ActionApproveAndPay:
		return StatusSubmitted, true
	default:
		return 0, false
	}
}

// Target returns the status a confirmed action moves the gig to.
func (a Action) Target() (Status, bool) {
	from, ok := a.From()
	if !ok {
		return 0, false
	}
	return from.Next()
}

// Actor returns the role allowed to perform the action.
func (a Action) Actor() Role {
	switch a {
	case ActionAccept, ActionSubmitWork:
		return RoleFreelancer
	case ActionApproveAndPay:
		return RoleClient
	default:
		return RoleNone
	}
}

// DenyReason classifies a refused transition.
type DenyReason string

const (
	DenyNone          DenyReason = ""
	DenyNotFreelancer DenyReason = "NotFreelancer"
	DenyNotClient     DenyReason = "NotClient"
	DenyInvalidState  DenyReason = "InvalidState"
	DenyUnauthorized  DenyReason = "Unauthorized"
)

// Decision is the result of Authorize.
type Decision struct {
	GigID   uint64
	Action  Action
	Allowed bool
	Reason  DenyReason
	// Required names the role or state the caller lacked.
	Required string
	Current  Status
}

func allow(g Gig, action Action) Decision {
	return Decision{GigID: g.ID, Action: action, Allowed: true, Current: g.Status()}
}

func deny(g Gig, action Action, reason DenyReason, required string) Decision {
	return Decision{GigID: g.ID, Action: action, Reason: reason, Required: required, Current: g.Status()}
}

// Err converts a denial into an *AuthorizationError; allowed decisions return nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &AuthorizationError{
		GigID:    d.GigID,
		Action:   d.Action,
		Reason:   d.Reason,
		Required: d.Required,
		Current:  d.Current,
	}
}

// Authorize decides whether caller may perform action on g in its current
// state. It is pure: the caller must pass a freshly read record. The role is
// checked before the state, so a client trying to accept is NotFreelancer
// whatever the status.
func Authorize(g Gig, caller Address, action Action) Decision {
	if d := AuthorizeRole(g, caller, action); !d.Allowed {
		return d
	}
	from, _ := action.From()
	if g.Status() != from {
		return deny(g, action, DenyInvalidState, from.String())
	}
	return allow(g, action)
}

// AuthorizeRole runs the checks of Authorize that do not depend on the
// record's status: a known caller, a well-formed record, a supported action
// and the caller holding the acting role.
func AuthorizeRole(g Gig, caller Address, action Action) Decision {
	if caller.IsZero() {
		return deny(g, action, DenyUnauthorized, "a known participant")
	}
	if g.Client == g.Freelancer {
		return deny(g, action, DenyUnauthorized, "distinct client and freelancer")
	}
	if _, ok := action.From(); !ok {
		return deny(g, action, DenyUnauthorized, "a supported action")
	}
	switch action.Actor() {
	case RoleFreelancer:
		if caller != g.Freelancer {
			return deny(g, action, DenyNotFreelancer, "the freelancer")
		}
	case RoleClient:
		if caller != g.Client {
			return deny(g, action, DenyNotClient, "the client")
		}
	}
	return allow(g, action)
}

// AllowedActions lists the actions caller may currently perform.
func AllowedActions(g Gig, caller Address) []Action {
	var out []Action
	for _, a := range []Action{ActionAccept, ActionSubmitWork, ActionApproveAndPay} {
		if Authorize(g, caller, a).Allowed {
			out = append(out, a)
		}
	}
	return out
}

// Apply returns the record that results from caller performing action on g.
// It refuses anything Authorize refuses and never mutates g.
func Apply(g Gig, caller Address, action Action) (Gig, error) {
	if err := Authorize(g, caller, action).Err(); err != nil {
		return g, err
	}
	next := g.Clone()
	switch action {
	case ActionAccept:
		next.Accepted = true
	case ActionSubmitWork:
		next.WorkSubmitted = true
	case ActionApproveAndPay:
		next.Paid = true
		next.Completed = true
	}
	return next, nil
}
