package roster

import (
	"fmt"
	"strconv"
	"strings"

	"rozgar/ledger"
)

// PartialScanError reports ids that could not be read during a scan. The
// records that were read are still returned alongside it.
type PartialScanError struct {
	Snapshot ledger.Snapshot
	Count    uint64
	Failed   []FetchFailure
}

func (e *PartialScanError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		ids[i] = strconv.FormatUint(f.ID, 10)
	}
	return fmt.Sprintf("roster: scan incomplete at height %d: %d of %d gigs unreadable (ids %s)",
		e.Snapshot.Height, len(e.Failed), e.Count, strings.Join(ids, ", "))
}

// Unwrap exposes every per-id failure to errors.Is and errors.As.
func (e *PartialScanError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// Message returns the user-facing notice shown next to incomplete totals.
func (e *PartialScanError) Message() string {
	if len(e.Failed) == 1 {
		return "1 gig could not be loaded; totals may be incomplete."
	}
	return fmt.Sprintf("%d gigs could not be loaded; totals may be incomplete.", len(e.Failed))
}
