package asset

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrNilAsset       = errors.New("asset: nil asset")
	ErrNilRaw         = errors.New("asset: nil raw value")
	ErrNegativeAmount = errors.New("asset: negative amount")
)

// Amount is an immutable quantity of an asset in its smallest unit (wei).
type Amount struct {
	raw   *big.Int
	asset *Asset
}

// NewAmount creates an Amount from a raw value in the smallest unit.
func NewAmount(asset *Asset, raw *big.Int) Amount {
	if asset == nil {
		panic(ErrNilAsset)
	}
	if raw == nil {
		panic(ErrNilRaw)
	}
	if raw.Sign() < 0 {
		panic(ErrNegativeAmount)
	}

	return Amount{
		raw:   new(big.Int).Set(raw),
		asset: asset,
	}
}

// Raw returns a copy of the raw value.
func (a Amount) Raw() *big.Int {
	if a.raw == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(a.raw)
}

// Asset returns the asset this amount is denominated in.
func (a Amount) Asset() *Asset {
	return a.asset
}

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool {
	return a.raw == nil || a.raw.Sign() == 0
}

// ToDecimal converts the amount to whole units. Display only.
func (a Amount) ToDecimal() decimal.Decimal {
	if a.raw == nil || a.asset == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.raw, -int32(a.asset.Decimals()))
}

// Significant renders the amount in whole units rounded to the given number
// of significant digits, keeping trailing zeros ("1.000", "0.0001235").
func (a Amount) Significant(digits int) string {
	if digits < 1 {
		digits = 1
	}
	d := a.ToDecimal()
	if d.IsZero() {
		return decimal.Zero.StringFixed(int32(digits - 1))
	}

	places := int32(digits) - 1 - magnitude(d)
	// Rounding up can carry into a new leading digit (9.9996 -> 10.00).
	if r := d.Round(places); magnitude(r) > magnitude(d) {
		places--
	}
	if places < 0 {
		return d.Round(places).StringFixed(0)
	}
	return d.StringFixed(places)
}

// String renders the amount with its sign and four significant digits
// (e.g., "Ξ 1.235").
func (a Amount) String() string {
	if a.asset == nil {
		return "0 ???"
	}
	return a.asset.Sign() + " " + a.Significant(4)
}

// magnitude is the power of ten of d's leading digit.
func magnitude(d decimal.Decimal) int32 {
	coef := new(big.Int).Abs(d.Coefficient())
	return int32(len(coef.String())) + d.Exponent() - 1
}
