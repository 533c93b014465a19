package ledger

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// TokenKind identifies which asset an amount is denominated in. The kind
// carries the decimal scale used on the ledger, so 18-decimal and 6-decimal
// quantities cannot be mixed by accident.
type TokenKind string

const (
	// TokenNative is the chain's native currency (18 decimals).
	TokenNative TokenKind = "NATIVE"
	// TokenUBK is the platform utility token (18 decimals).
	TokenUBK TokenKind = "UBK"
	// TokenUSD is the stable settlement token (6 decimals).
	TokenUSD TokenKind = "USD"
)

// Decimals returns the fixed-point scale the ledger uses for the token.
func (k TokenKind) Decimals() int {
	if k == TokenUSD {
		return 6
	}
	return 18
}

// Amount pairs an integer base-unit quantity with its token kind. The ledger
// represents money as scaled integers; every conversion to or from the
// human-readable decimal form goes through this type.
type Amount struct {
	units *big.Int
	kind  TokenKind
}

// ParseAmount converts a human-readable decimal string into an Amount at the
// token's scale. Parsing fails with ErrInvalidAmount on non-numeric or
// negative input, and on fractional digits beyond the token's precision --
// silent truncation would move money.
func ParseAmount(text string, kind TokenKind) (Amount, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.HasPrefix(trimmed, "-") {
		return Amount{}, fmt.Errorf("%w: negative value %q", ErrInvalidAmount, trimmed)
	}
	intPart := trimmed
	fracPart := ""
	if idx := strings.IndexByte(trimmed, '.'); idx >= 0 {
		intPart = trimmed[:idx]
		fracPart = trimmed[idx+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, trimmed)
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	if !isDigits(intPart) || (fracPart != "" && !isDigits(fracPart)) {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, trimmed)
	}
	decimals := kind.Decimals()
	if len(fracPart) > decimals {
		return Amount{}, fmt.Errorf("%w: %q exceeds %d decimal places", ErrInvalidAmount, trimmed, decimals)
	}

	units, ok := new(big.Int).SetString(intPart, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, trimmed)
	}
	units.Mul(units, pow10(decimals))
	if fracPart != "" {
		frac, ok := new(big.Int).SetString(fracPart, 10)
		if !ok {
			return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, trimmed)
		}
		frac.Mul(frac, pow10(decimals-len(fracPart)))
		units.Add(units, frac)
	}
	return Amount{units: units, kind: kind}, nil
}

// AmountFromUnits wraps a raw base-unit quantity read from the ledger.
func AmountFromUnits(units *big.Int, kind TokenKind) Amount {
	cloned := new(big.Int)
	if units != nil {
		cloned.Set(units)
	}
	return Amount{units: cloned, kind: kind}
}

// Units returns a copy of the base-unit integer representation.
func (a Amount) Units() *big.Int {
	if a.units == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.units)
}

// Kind returns the token kind the amount is denominated in.
func (a Amount) Kind() TokenKind { return a.kind }

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool { return a.units == nil || a.units.Sign() == 0 }

// String renders the amount in decimal form with trailing zeros trimmed.
func (a Amount) String() string {
	units := a.Units()
	decimals := a.kind.Decimals()
	scale := pow10(decimals)
	intPart := new(big.Int)
	frac := new(big.Int)
	intPart.QuoRem(units, scale, frac)
	if frac.Sign() == 0 {
		return intPart.String()
	}
	fracText := strings.TrimRight(fmt.Sprintf("%0*s", decimals, frac.String()), "0")
	return intPart.String() + "." + fracText
}

// Float64 renders the amount as a float for the mirror's cached columns.
// Mirror floats are display caches only; ledger truth stays in base units.
func (a Amount) Float64() float64 {
	value, err := strconv.ParseFloat(a.String(), 64)
	if err != nil {
		return 0
	}
	return value
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
