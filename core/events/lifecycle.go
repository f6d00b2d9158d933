package events

import (
	"strconv"
	"time"

	"rozgar/native/gig"
)

// Stage is how far a lifecycle request has progressed.
type Stage string

const (
	StageSubmitted Stage = "submitted"
	StageConfirmed Stage = "confirmed"
	StageFailed    Stage = "failed"
)

// Lifecycle is emitted when a create or transition request is submitted,
// confirmed, or fails.
type Lifecycle struct {
	// Type is one of the gig.EventType* constants.
	Type   string
	Stage  Stage
	GigID  uint64
	Action gig.Action
	// Creation marks createGig requests, whose GigID is only known once
	// confirmed.
	Creation    bool
	TxHash      string
	Actor       gig.Address
	BlockNumber uint64
	Detail      string
	At          time.Time
}

// EventType implements Event.
func (e Lifecycle) EventType() string { return e.Type }

// Attributes flattens the event for log lines.
func (e Lifecycle) Attributes() map[string]string {
	attrs := map[string]string{
		"type":  e.Type,
		"stage": string(e.Stage),
		"gigId": strconv.FormatUint(e.GigID, 10),
		"actor": e.Actor.Hex(),
	}
	if e.TxHash != "" {
		attrs["txHash"] = e.TxHash
	}
	if e.BlockNumber > 0 {
		attrs["block"] = strconv.FormatUint(e.BlockNumber, 10)
	}
	if e.Detail != "" {
		attrs["detail"] = e.Detail
	}
	return attrs
}
