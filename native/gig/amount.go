package gig

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

// EtherDecimals is the number of fractional digits between ether and wei.
const EtherDecimals = 18

var (
	weiPerEther = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)

	errEmptyAmount    = errors.New("gig: amount is empty")
	errNegativeAmount = errors.New("gig: amount must not be negative")
	errAmountOverflow = errors.New("gig: amount exceeds 256 bits")
)

// ParseEther converts a decimal ether amount ("0.5", "12", ".25") to wei.
// Scientific notation, signs other than a leading '+', and more than 18
// fractional digits are rejected.
func ParseEther(raw string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "+")
	if trimmed == "" {
		return nil, errEmptyAmount
	}
	if strings.HasPrefix(trimmed, "-") {
		return nil, errNegativeAmount
	}
	whole, frac, hasDot := strings.Cut(trimmed, ".")
	if hasDot && whole == "" && frac == "" {
		return nil, fmt.Errorf("gig: invalid amount %q", raw)
	}
	if len(frac) > EtherDecimals {
		return nil, fmt.Errorf("gig: amount %q has more than %d decimals", raw, EtherDecimals)
	}
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("gig: invalid amount %q", raw)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", EtherDecimals-len(frac))
	wei, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("gig: invalid amount %q", raw)
	}
	if _, overflow := uint256.FromBig(wei); overflow {
		return nil, errAmountOverflow
	}
	return wei, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FormatEther renders wei as a decimal ether string without trailing zeros,
// matching ethers' formatEther ("0.5", "1.0").
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0.0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)
	whole, rem := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))
	frac := padWei(rem)
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}
	out := whole.String() + "." + frac
	if neg {
		out = "-" + out
	}
	return out
}

// FormatEtherFixed renders wei with exactly places fractional digits,
// truncating the remainder.
func FormatEtherFixed(wei *big.Int, places int) string {
	if places < 0 {
		places = 0
	}
	if places > EtherDecimals {
		places = EtherDecimals
	}
	if wei == nil {
		wei = new(big.Int)
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)
	whole, rem := new(big.Int).QuoRem(abs, weiPerEther, new(big.Int))
	out := whole.String()
	if places > 0 {
		out += "." + padWei(rem)[:places]
	}
	if neg {
		out = "-" + out
	}
	return out
}

// padWei left-pads a sub-ether remainder to EtherDecimals digits.
func padWei(rem *big.Int) string {
	digits := rem.String()
	if len(digits) >= EtherDecimals {
		return digits
	}
	return strings.Repeat("0", EtherDecimals-len(digits)) + digits
}
