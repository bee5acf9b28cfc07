package lending

import "math/big"

// HundredPercent is 100% expressed in basis points.
const HundredPercent uint64 = 100_00

// UsdDecimals is the precision of every USD value handled by the engine.
const UsdDecimals uint8 = 18

// Rounding selects the direction of a fixed-point division.
type Rounding int

const (
	// RoundDown truncates towards zero; used when the result is credited to
	// the user.
	RoundDown Rounding = iota
	// RoundUp rounds away from zero; used when the result is owed by the user.
	RoundUp
)

var (
	basisPoints = new(big.Int).SetUint64(HundredPercent)
	pow10Cache  = func() []*big.Int {
		out := make([]*big.Int, 78)
		out[0] = big.NewInt(1)
		ten := big.NewInt(10)
		for i := 1; i < len(out); i++ {
			out[i] = new(big.Int).Mul(out[i-1], ten)
		}
		return out
	}()
	// OneUsd is one dollar at UsdDecimals precision.
	OneUsd = pow10(UsdDecimals)
)

func pow10(decimals uint8) *big.Int {
	return pow10Cache[decimals]
}

func zero() *big.Int { return big.NewInt(0) }

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return zero()
	}
	return new(big.Int).Set(v)
}

// mulDiv computes a*b/den with the requested rounding. Nil operands are
// treated as zero and a zero denominator yields zero.
func mulDiv(a, b, den *big.Int, r Rounding) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return zero()
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, den, new(big.Int))
	if r == RoundUp && rem.Sign() != 0 && product.Sign() > 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo
}

// bpsOf applies a basis point ratio to value.
func bpsOf(value *big.Int, bps uint64, r Rounding) *big.Int {
	return mulDiv(value, new(big.Int).SetUint64(bps), basisPoints, r)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// subFloor returns max(0, a-b).
func subFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(a, b)
	if out.Sign() < 0 {
		return zero()
	}
	return out
}
