package gig

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AddressLength is the byte length of a ledger account address.
const AddressLength = 20

// Address identifies a ledger account. It is a plain value so the lifecycle
// engine does not depend on any ledger client's types.
type Address [AddressLength]byte

// ParseAddress validates a 0x-prefixed hex address. All-lowercase and
// all-uppercase forms are accepted as-is; mixed-case input must carry a valid
// EIP-55 checksum.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) || !has0xPrefix(trimmed) {
		return Address{}, fmt.Errorf("gig: invalid address %q", raw)
	}
	body := trimmed[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		mixed, err := common.NewMixedcaseAddressFromString(trimmed)
		if err != nil || !mixed.ValidChecksum() {
			return Address{}, fmt.Errorf("gig: bad address checksum %q", raw)
		}
	}
	var addr Address
	if _, err := hex.Decode(addr[:], []byte(body)); err != nil {
		return Address{}, fmt.Errorf("gig: invalid address %q", raw)
	}
	return addr, nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(raw string) Address {
	addr, err := ParseAddress(raw)
	if err != nil {
		panic(err)
	}
	return addr
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == Address{} }

// Hex returns the EIP-55 checksummed form.
func (a Address) Hex() string { return common.Address(a).Hex() }

func (a Address) String() string { return a.Hex() }

// Short renders the address as 0x1234...abcd for compact display.
func (a Address) Short() string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// MarshalText encodes the checksummed hex form.
func (a Address) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText parses a hex address.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
