package ledger

import "sync"

// Outcomes memoizes final results per transaction so AwaitFinality is
// idempotent. Timeouts are never stored because they are not final.
type Outcomes struct {
	mu      sync.RWMutex
	entries map[TxHash]outcome
}

type outcome struct {
	finality Finality
	err      error
}

// NewOutcomes returns an empty memo.
func NewOutcomes() *Outcomes {
	return &Outcomes{entries: make(map[TxHash]outcome)}
}

// Lookup returns the stored outcome for tx. found is false when tx has not
// reached a final outcome yet.
func (o *Outcomes) Lookup(tx TxHash) (finality Finality, found bool, err error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	entry, ok := o.entries[tx]
	return entry.finality, ok, entry.err
}

// Store records a final outcome. Timeouts and context errors are ignored.
func (o *Outcomes) Store(tx TxHash, finality Finality, err error) {
	if err != nil && !IsKind(err, KindRejected) && !IsKind(err, KindUnresolved) {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.entries[tx]; exists {
		return
	}
	o.entries[tx] = outcome{finality: finality, err: err}
}
