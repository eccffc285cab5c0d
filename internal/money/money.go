package money

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	// USDCDecimals is the SPL mint precision of USDC.
	USDCDecimals = 6

	// CentPlaces is the ledger precision. Every comparison on session
	// balances happens after rounding to this many places.
	CentPlaces = 2

	bpsDenominator = 10000
)

var Zero = decimal.Zero

// RoundCents rounds half away from zero to two decimal places.
func RoundCents(d decimal.Decimal) decimal.Decimal {
	return d.Round(CentPlaces)
}

func ToCents(d decimal.Decimal) int64 {
	return d.Round(CentPlaces).Shift(CentPlaces).IntPart()
}

func FromCents(c int64) decimal.Decimal {
	return decimal.New(c, -CentPlaces)
}

// Split divides amount into creator and platform shares. The platform share
// is rounded half-up in whole cents and the creator receives the remainder,
// so creator+platform always equals the cent-rounded amount.
func Split(amount decimal.Decimal, feeBPS int) (creator, platform decimal.Decimal) {
	cents := ToCents(amount)
	platformCents := (cents*int64(feeBPS) + bpsDenominator/2) / bpsDenominator
	return FromCents(cents - platformCents), FromCents(platformCents)
}

// ToBaseUnits converts a token amount to the integer on-chain unit.
func ToBaseUnits(d decimal.Decimal, decimals int) (uint64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", d.String())
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s exceeds %d decimal places", d.String(), decimals)
	}
	bi := shifted.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %s overflows uint64 base units", d.String())
	}
	return bi.Uint64(), nil
}

func FromBaseUnits(units uint64, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals))
}

// Parse reads a numeric column rendered as text.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}

// WithinEpsilon reports whether |a-b| <= eps.
func WithinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}
