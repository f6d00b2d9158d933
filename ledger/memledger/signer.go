package memledger

import (
	"rozgar/ledger"
	"rozgar/native/gig"
)

// Signer identifies a participant on the simulated ledger. The simulation
// trusts the declared address, so SignHash returns an empty signature.
type Signer struct {
	Addr gig.Address
}

var _ ledger.Signer = Signer{}

// NewSigner returns a signer for addr.
func NewSigner(addr gig.Address) Signer { return Signer{Addr: addr} }

// Address returns the participant address.
func (s Signer) Address() gig.Address { return s.Addr }

// SignHash returns a zero-filled 65-byte signature.
func (s Signer) SignHash([32]byte) ([]byte, error) { return make([]byte, 65), nil }
