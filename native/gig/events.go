package gig

const (
	EventTypeGigCreated       = "gig.created"
	EventTypeGigAccepted      = "gig.accepted"
	EventTypeGigWorkSubmitted = "gig.work_submitted"
	EventTypeGigPaid          = "gig.paid"
)

// EventType returns the timeline event recorded when the action is confirmed.
func (a Action) EventType() string {
	switch a {
	case ActionAccept:
		return EventTypeGigAccepted
	case ActionSubmitWork:
		return EventTypeGigWorkSubmitted
	case ActionApproveAndPay:
		return EventTypeGigPaid
	default:
		return ""
	}
}

// ActionForEvent maps a transition event back to its action. Creation events
// have no action.
func ActionForEvent(eventType string) (Action, bool) {
	for _, a := range []Action{ActionAccept, ActionSubmitWork, ActionApproveAndPay} {
		if a.EventType() == eventType {
			return a, true
		}
	}
	return 0, false
}

// EventDescription is the human text shown next to a timeline entry.
func EventDescription(eventType string) string {
	switch eventType {
	case EventTypeGigCreated:
		return "Gig created and payment deposited into escrow"
	case EventTypeGigAccepted:
		return "Freelancer accepted the gig"
	case EventTypeGigWorkSubmitted:
		return "Freelancer submitted work"
	case EventTypeGigPaid:
		return "Client approved and payment was released"
	default:
		return eventType
	}
}
