package journal

import (
	"fmt"

	"rozgar/ledger"
	"rozgar/native/gig"
)

// Receipt rebuilds the ledger receipt of a pending submitted entry so its
// outcome can be awaited by a later process. Creation entries carry the gig
// title in Detail.
func (e Entry) Receipt() (ledger.Receipt, error) {
	if e.Stage != StageSubmitted {
		return ledger.Receipt{}, fmt.Errorf("journal: entry %s is %s, not submitted", e.ID, e.Stage)
	}
	hash, err := ledger.ParseTxHash(e.TxHash)
	if err != nil {
		return ledger.Receipt{}, fmt.Errorf("journal: entry %s: %w", e.ID, err)
	}
	receipt := ledger.Receipt{
		TxHash:      hash,
		GigID:       e.GigID,
		Submitter:   e.Actor,
		SubmittedAt: e.RecordedAt,
	}
	if e.EventType == gig.EventTypeGigCreated {
		receipt.Creation = true
		receipt.GigID = 0
		receipt.Title = e.Detail
		return receipt, nil
	}
	action, ok := gig.ActionForEvent(e.EventType)
	if !ok {
		return ledger.Receipt{}, fmt.Errorf("journal: entry %s has unknown event type %q", e.ID, e.EventType)
	}
	receipt.Action = action
	return receipt, nil
}
