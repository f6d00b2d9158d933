package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKindsAndMessages(t *testing.T) {
	tx := TxHash{1}
	cases := []struct {
		err           *Error
		neverIncluded bool
		message       string
	}{
		{NewError(KindNetworkUnavailable, "acceptGig", TxHash{}, errors.New("dial")), true, "unreachable"},
		{NewError(KindNetworkUnavailable, "acceptGig", tx, errors.New("reset")), false, "unreachable"},
		{NewError(KindInsufficientFunds, "createGig", TxHash{}, nil), true, "Insufficient funds"},
		{NewError(KindRejected, "awaitFinality", tx, nil), false, "rejected"},
		{NewError(KindTimeout, "awaitFinality", tx, context.DeadlineExceeded), false, "Timed out"},
		{NewError(KindUnresolved, "awaitFinality", tx, nil), false, "could not be identified"},
	}
	for _, tc := range cases {
		if got := tc.err.NeverIncluded(); got != tc.neverIncluded {
			t.Fatalf("%s: NeverIncluded = %v, want %v", tc.err, got, tc.neverIncluded)
		}
		if !strings.Contains(tc.err.Message(), tc.message) {
			t.Fatalf("%s: message %q lacks %q", tc.err, tc.err.Message(), tc.message)
		}
	}

	wrapped := fmt.Errorf("coordinator: %w", NewError(KindRejected, "acceptGig", tx, nil))
	if !IsKind(wrapped, KindRejected) || IsKind(wrapped, KindTimeout) {
		t.Fatalf("IsKind did not see through wrapping")
	}
	if KindOf(errors.New("plain")) != KindUnknown || IsKind(nil, KindUnknown) {
		t.Fatalf("unexpected kind for non-ledger error")
	}
	if msg := NewError(KindRejected, "acceptGig", tx, nil).Error(); !strings.Contains(msg, tx.Hex()) {
		t.Fatalf("error text should name the transaction: %s", msg)
	}
}

func TestFromContext(t *testing.T) {
	if err := FromContext("awaitFinality", TxHash{}, context.DeadlineExceeded); !IsKind(err, KindTimeout) {
		t.Fatalf("deadline should become a timeout, got %v", err)
	}
	if err := FromContext("awaitFinality", TxHash{}, context.Canceled); err != context.Canceled {
		t.Fatalf("cancellation should pass through, got %v", err)
	}
}

func TestOutcomesMemoizeOnlyFinalResults(t *testing.T) {
	o := NewOutcomes()
	tx := TxHash{7}

	o.Store(tx, Finality{}, NewError(KindTimeout, "awaitFinality", tx, nil))
	if _, found, _ := o.Lookup(tx); found {
		t.Fatalf("timeouts must not be memoized")
	}

	o.Store(tx, Finality{TxHash: tx, BlockNumber: 4}, nil)
	o.Store(tx, Finality{TxHash: tx, BlockNumber: 9}, nil)
	fin, found, err := o.Lookup(tx)
	if !found || err != nil || fin.BlockNumber != 4 {
		t.Fatalf("expected first outcome to stick, got %+v %v %v", fin, found, err)
	}

	reverted := TxHash{8}
	o.Store(reverted, Finality{}, NewError(KindRejected, "awaitFinality", reverted, nil))
	if _, found, err := o.Lookup(reverted); !found || !IsKind(err, KindRejected) {
		t.Fatalf("reverts are final and must be memoized")
	}

	unresolved := TxHash{9}
	o.Store(unresolved, Finality{}, NewError(KindUnresolved, "awaitFinality", unresolved, nil))
	if _, found, err := o.Lookup(unresolved); !found || !IsKind(err, KindUnresolved) {
		t.Fatalf("unresolved creations are final and must be memoized")
	}
}

func TestParseTxHash(t *testing.T) {
	want := TxHash{0xab, 0xcd}
	got, err := ParseTxHash(want.Hex())
	if err != nil || got != want {
		t.Fatalf("ParseTxHash(%s) = %s, %v", want.Hex(), got, err)
	}
	for _, bad := range []string{"", "0x12", "0x" + strings.Repeat("zz", 32)} {
		if _, err := ParseTxHash(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
	if !Latest.IsLatest() || (Snapshot{Height: 3}).IsLatest() {
		t.Fatalf("unexpected IsLatest results")
	}
}
