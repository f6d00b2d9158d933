// Package ledger defines the capability surface the escrow core needs from the
// external system of record. Implementations live in subpackages: evm binds the
// deployed escrow contract, memledger simulates it in process.
package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"rozgar/native/gig"
)

// Snapshot pins reads to one ledger height. The zero value reads the latest
// state.
type Snapshot struct {
	Height uint64
}

// Latest is the unpinned snapshot.
var Latest = Snapshot{}

// IsLatest reports whether the snapshot is unpinned.
func (s Snapshot) IsLatest() bool { return s.Height == 0 }

// Reader exposes side-effect-free ledger queries.
type Reader interface {
	// Snapshot pins the current height so a sequence of reads observes one
	// consistent ledger state.
	Snapshot(ctx context.Context) (Snapshot, error)
	// FetchGig returns every field of one record read at a single height.
	// Missing records yield ErrNotFound.
	FetchGig(ctx context.Context, snap Snapshot, id uint64) (gig.Gig, error)
	// FetchGigCount returns the highest assigned gig id at the snapshot.
	FetchGigCount(ctx context.Context, snap Snapshot) (uint64, error)
}

// Writer submits state-changing requests. SubmitCreation and SubmitTransition
// have side effects on the ledger and return before finality.
type Writer interface {
	SubmitCreation(ctx context.Context, draft gig.Draft, signer Signer) (Receipt, error)
	SubmitTransition(ctx context.Context, id uint64, action gig.Action, signer Signer) (Receipt, error)
	// AwaitFinality blocks until the request is confirmed or rejected, or
	// ctx ends. Final outcomes are stable across repeated calls.
	AwaitFinality(ctx context.Context, receipt Receipt) (Finality, error)
}

// Client is the full ledger capability.
type Client interface {
	Reader
	Writer
}

// Signer is the signing identity of a participant. Implementations never
// expose key material.
type Signer interface {
	Address() gig.Address
	SignHash(hash [32]byte) ([]byte, error)
}

// TxHash identifies a submitted request.
type TxHash [32]byte

// Hex returns the 0x-prefixed hash.
func (h TxHash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h TxHash) String() string { return h.Hex() }

// IsZero reports whether the hash is unset.
func (h TxHash) IsZero() bool { return h == TxHash{} }

// ParseTxHash decodes a 0x-prefixed 32-byte hash.
func ParseTxHash(raw string) (TxHash, error) {
	var h TxHash
	trimmed := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(h) {
		return TxHash{}, fmt.Errorf("invalid transaction hash %q", raw)
	}
	copy(h[:], decoded)
	return h, nil
}

// MarshalText encodes the hash as hex.
func (h TxHash) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

// Receipt is returned once the ledger accepted a request for ordering. It
// carries no outcome.
type Receipt struct {
	TxHash    TxHash
	GigID     uint64 // zero for creations until finality resolves it
	Action    gig.Action
	Creation  bool
	Submitter gig.Address
	Nonce     uint64
	// Title and Payment identify the record a creation will produce.
	Title       string
	Payment     *big.Int
	SubmittedAt time.Time
}

// Finality describes a confirmed request.
type Finality struct {
	TxHash      TxHash
	GigID       uint64
	BlockNumber uint64
	GasUsed     uint64
	ConfirmedAt time.Time
}
