// Package memledger is an in-process escrow ledger that enforces the deployed
// contract's rules. It keeps every record version so snapshot reads are exact,
// orders requests through a mempool, and supports fault injection for tests
// and local development.
package memledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"rozgar/ledger"
	"rozgar/native/gig"
)

var (
	errUnknownTx = errors.New("memledger: unknown transaction")
	errPartition = errors.New("memledger: ledger unreachable")
	errNoSigner  = errors.New("memledger: signer required")
)

type version struct {
	height uint64
	record gig.Gig
}

type entry struct {
	created  uint64
	versions []version
}

func (e *entry) at(height uint64) (gig.Gig, bool) {
	if height < e.created {
		return gig.Gig{}, false
	}
	for i := len(e.versions) - 1; i >= 0; i-- {
		if e.versions[i].height <= height {
			return e.versions[i].record.Clone(), true
		}
	}
	return gig.Gig{}, false
}

func (e *entry) latest() gig.Gig {
	return e.versions[len(e.versions)-1].record.Clone()
}

type pendingTx struct {
	receipt ledger.Receipt
	draft   gig.Draft
	value   *big.Int
}

type minedTx struct {
	block   uint64
	gigID   uint64
	err     error
	minedAt time.Time
}

// Ledger is a simulated escrow contract. It is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	height   uint64
	gigs     []*entry
	pending  []pendingTx
	mined    map[ledger.TxHash]minedTx
	nonces   map[gig.Address]uint64
	balances map[gig.Address]*big.Int
	escrowed *big.Int
	notify   chan struct{}

	outcomes    *ledger.Outcomes
	autoMine    bool
	fundChecks  bool
	partitioned bool
	stalled     bool
	fetchFaults map[uint64]error
	nowFn       func() time.Time
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithManualMining disables mining on AwaitFinality; callers drive blocks with Mine.
func WithManualMining() Option {
	return func(l *Ledger) { l.autoMine = false }
}

// WithFundChecks makes creations require the sender's balance to cover the
// deposit. Balances are granted with Credit.
func WithFundChecks() Option {
	return func(l *Ledger) { l.fundChecks = true }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.nowFn = now
		}
	}
}

// New returns an empty ledger at height 1.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		height:      1,
		mined:       make(map[ledger.TxHash]minedTx),
		nonces:      make(map[gig.Address]uint64),
		balances:    make(map[gig.Address]*big.Int),
		escrowed:    big.NewInt(0),
		notify:      make(chan struct{}),
		outcomes:    ledger.NewOutcomes(),
		autoMine:    true,
		fetchFaults: make(map[uint64]error),
		nowFn:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ ledger.Client = (*Ledger)(nil)

// Snapshot pins the current height.
func (l *Ledger) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Snapshot{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.partitioned {
		return ledger.Snapshot{}, ledger.NewError(ledger.KindNetworkUnavailable, "snapshot", ledger.TxHash{}, errPartition)
	}
	return ledger.Snapshot{Height: l.height}, nil
}

func (l *Ledger) resolve(snap ledger.Snapshot) uint64 {
	if snap.IsLatest() || snap.Height > l.height {
		return l.height
	}
	return snap.Height
}

// FetchGig reads one record as of snap.
func (l *Ledger) FetchGig(ctx context.Context, snap ledger.Snapshot, id uint64) (gig.Gig, error) {
	if err := ctx.Err(); err != nil {
		return gig.Gig{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.partitioned {
		return gig.Gig{}, ledger.NewError(ledger.KindNetworkUnavailable, "getGig", ledger.TxHash{}, errPartition)
	}
	if fault, ok := l.fetchFaults[id]; ok {
		return gig.Gig{}, fault
	}
	if id == 0 || id > uint64(len(l.gigs)) {
		return gig.Gig{}, ledger.ErrNotFound
	}
	record, ok := l.gigs[id-1].at(l.resolve(snap))
	if !ok {
		return gig.Gig{}, ledger.ErrNotFound
	}
	return record, nil
}

// FetchGigCount returns the number of gigs created at or before snap.
func (l *Ledger) FetchGigCount(ctx context.Context, snap ledger.Snapshot) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.partitioned {
		return 0, ledger.NewError(ledger.KindNetworkUnavailable, "gigCount", ledger.TxHash{}, errPartition)
	}
	height := l.resolve(snap)
	var count uint64
	for _, e := range l.gigs {
		if e.created <= height {
			count++
		}
	}
	return count, nil
}

// SubmitCreation queues createGig with the draft's payment as value.
func (l *Ledger) SubmitCreation(ctx context.Context, draft gig.Draft, signer ledger.Signer) (ledger.Receipt, error) {
	if signer == nil {
		return ledger.Receipt{}, errNoSigner
	}
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.partitioned {
		return ledger.Receipt{}, ledger.NewError(ledger.KindNetworkUnavailable, "createGig", ledger.TxHash{}, errPartition)
	}
	sender := signer.Address()
	value := new(big.Int)
	if draft.Payment != nil {
		value.Set(draft.Payment)
	}
	if l.fundChecks && l.balanceLocked(sender).Cmp(value) < 0 {
		return ledger.Receipt{}, ledger.NewError(ledger.KindInsufficientFunds, "createGig", ledger.TxHash{},
			fmt.Errorf("balance %s below deposit %s", l.balanceLocked(sender), value))
	}
	receipt := l.newReceiptLocked(sender, "createGig")
	receipt.Creation = true
	receipt.Title = draft.Title
	receipt.Payment = new(big.Int).Set(value)
	l.pending = append(l.pending, pendingTx{receipt: receipt, draft: draft, value: value})
	return receipt, nil
}

// SubmitTransition queues acceptGig, submitWork or approveAndPay.
func (l *Ledger) SubmitTransition(ctx context.Context, id uint64, action gig.Action, signer ledger.Signer) (ledger.Receipt, error) {
	if signer == nil {
		return ledger.Receipt{}, errNoSigner
	}
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.partitioned {
		return ledger.Receipt{}, ledger.NewError(ledger.KindNetworkUnavailable, action.String(), ledger.TxHash{}, errPartition)
	}
	receipt := l.newReceiptLocked(signer.Address(), action.String())
	receipt.GigID = id
	receipt.Action = action
	l.pending = append(l.pending, pendingTx{receipt: receipt})
	return receipt, nil
}

func (l *Ledger) newReceiptLocked(sender gig.Address, method string) ledger.Receipt {
	nonce := l.nonces[sender]
	l.nonces[sender] = nonce + 1
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	hash := ethcrypto.Keccak256Hash(sender[:], buf[:], []byte(method))
	return ledger.Receipt{
		TxHash:      ledger.TxHash(hash),
		Submitter:   sender,
		Nonce:       nonce,
		SubmittedAt: l.nowFn(),
	}
}

// Mine includes every pending request in a new block, in submission order,
// and returns how many were processed.
func (l *Ledger) Mine() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mineLocked()
}

func (l *Ledger) mineLocked() int {
	if len(l.pending) == 0 {
		return 0
	}
	l.height++
	block := l.height
	now := l.nowFn()
	batch := l.pending
	l.pending = nil
	for _, tx := range batch {
		result := minedTx{block: block, minedAt: now}
		if tx.receipt.Creation {
			result.gigID, result.err = l.applyCreateLocked(block, tx)
		} else {
			result.gigID = tx.receipt.GigID
			result.err = l.applyTransitionLocked(block, tx.receipt)
		}
		l.mined[tx.receipt.TxHash] = result
	}
	close(l.notify)
	l.notify = make(chan struct{})
	return len(batch)
}

func (l *Ledger) applyCreateLocked(block uint64, tx pendingTx) (uint64, error) {
	sender := tx.receipt.Submitter
	if l.fundChecks && l.balanceLocked(sender).Cmp(tx.value) < 0 {
		return 0, errNoPayment
	}
	id := uint64(len(l.gigs)) + 1
	record, err := createRecord(id, sender, tx.draft, tx.value)
	if err != nil {
		return 0, err
	}
	if l.fundChecks {
		l.balances[sender] = new(big.Int).Sub(l.balanceLocked(sender), tx.value)
	}
	l.escrowed.Add(l.escrowed, tx.value)
	l.gigs = append(l.gigs, &entry{created: block, versions: []version{{height: block, record: record}}})
	return id, nil
}

func (l *Ledger) applyTransitionLocked(block uint64, r ledger.Receipt) error {
	if r.GigID == 0 || r.GigID > uint64(len(l.gigs)) {
		return errGigMissing
	}
	e := l.gigs[r.GigID-1]
	current := e.latest()
	next, err := transition(current, r.Submitter, r.Action)
	if err != nil {
		return err
	}
	if r.Action == gig.ActionApproveAndPay {
		l.escrowed.Sub(l.escrowed, current.Payment)
		l.balances[current.Freelancer] = new(big.Int).Add(l.balanceLocked(current.Freelancer), current.Payment)
	}
	e.versions = append(e.versions, version{height: block, record: next})
	return nil
}

// AwaitFinality mines pending requests (unless mining is manual or stalled)
// and waits for the receipt's outcome.
func (l *Ledger) AwaitFinality(ctx context.Context, receipt ledger.Receipt) (ledger.Finality, error) {
	if fin, found, err := l.outcomes.Lookup(receipt.TxHash); found {
		return fin, err
	}
	for {
		l.mu.Lock()
		if l.autoMine && !l.stalled && !l.partitioned {
			l.mineLocked()
		}
		result, ok := l.mined[receipt.TxHash]
		wait := l.notify
		known := ok || l.isPendingLocked(receipt.TxHash)
		l.mu.Unlock()

		if ok {
			fin, err := finalityOf(receipt, result)
			l.outcomes.Store(receipt.TxHash, fin, err)
			return l.lookupStored(receipt.TxHash, fin, err)
		}
		if !known {
			return ledger.Finality{}, ledger.NewError(ledger.KindRejected, "awaitFinality", receipt.TxHash, errUnknownTx)
		}
		select {
		case <-ctx.Done():
			return ledger.Finality{}, ledger.FromContext("awaitFinality", receipt.TxHash, ctx.Err())
		case <-wait:
		}
	}
}

// lookupStored returns the memoized outcome so concurrent awaiters agree.
func (l *Ledger) lookupStored(tx ledger.TxHash, fin ledger.Finality, err error) (ledger.Finality, error) {
	if stored, found, storedErr := l.outcomes.Lookup(tx); found {
		return stored, storedErr
	}
	return fin, err
}

func finalityOf(receipt ledger.Receipt, result minedTx) (ledger.Finality, error) {
	op := "awaitFinality"
	if result.err != nil {
		return ledger.Finality{}, ledger.NewError(ledger.KindRejected, op, receipt.TxHash, result.err)
	}
	return ledger.Finality{
		TxHash:      receipt.TxHash,
		GigID:       result.gigID,
		BlockNumber: result.block,
		GasUsed:     21_000,
		ConfirmedAt: result.minedAt,
	}, nil
}

func (l *Ledger) isPendingLocked(tx ledger.TxHash) bool {
	for _, p := range l.pending {
		if p.receipt.TxHash == tx {
			return true
		}
	}
	return false
}

// Seed inserts a record directly in a new block, bypassing the mempool. The
// record's ID is overwritten with the next id, which is returned.
func (l *Ledger) Seed(record gig.Gig) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.height++
	id := uint64(len(l.gigs)) + 1
	clone := record.Clone()
	clone.ID = id
	l.gigs = append(l.gigs, &entry{created: l.height, versions: []version{{height: l.height, record: clone}}})
	if !clone.Paid {
		l.escrowed.Add(l.escrowed, clone.Payment)
	}
	return id
}

// Credit adds wei to addr's balance.
func (l *Ledger) Credit(addr gig.Address, wei *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[addr] = new(big.Int).Add(l.balanceLocked(addr), wei)
}

// Balance returns addr's balance.
func (l *Ledger) Balance(addr gig.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(addr))
}

// Escrowed returns the value currently held by the contract.
func (l *Ledger) Escrowed() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.escrowed)
}

func (l *Ledger) balanceLocked(addr gig.Address) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return bal
	}
	return big.NewInt(0)
}

// Height returns the latest block height.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// FailFetch makes FetchGig(id) return err until ClearFaults.
func (l *Ledger) FailFetch(id uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		err = ledger.NewError(ledger.KindNetworkUnavailable, "getGig", ledger.TxHash{}, errPartition)
	}
	l.fetchFaults[id] = err
}

// ClearFaults removes every injected fetch failure.
func (l *Ledger) ClearFaults() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fetchFaults = make(map[uint64]error)
}

// SetPartitioned makes every call fail with KindNetworkUnavailable.
func (l *Ledger) SetPartitioned(partitioned bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partitioned = partitioned
}

// SetStalled stops automatic mining so AwaitFinality waits until its context ends.
func (l *Ledger) SetStalled(stalled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stalled = stalled
}
