// Package numeric implements the fixed-point arithmetic used by the vault
// engine. Token amounts are unsigned 64-bit integers in e8s, prices carry
// eight fractional digits, and collateral ratios carry sixteen. All
// intermediate products go through big.Int so the only overflow surface is
// the conversion back to 64 bits, which is checked.
package numeric

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

var (
	ErrOverflow       = errors.New("numeric: value exceeds 64-bit range")
	ErrDivisionByZero = errors.New("numeric: division by zero")
)

const (
	// E8s is the number of integer units per whole token.
	E8s = 100_000_000
	// PriceScale is the fixed-point denominator for USD/ICP rates.
	PriceScale = 100_000_000
	// RatioScale is the fixed-point denominator for collateral ratios.
	RatioScale = 10_000_000_000_000_000
)

// ICP is an amount of collateral in e8s.
type ICP uint64

// ICUSD is an amount of the synthetic liability token in e8s.
type ICUSD uint64

// UsdIcp is a USD price for one ICP, scaled by PriceScale.
type UsdIcp uint64

// Ratio is a collateral ratio scaled by RatioScale. Arithmetic on ratios
// saturates: RatioInfinity marks the ratio of a vault with no debt, and any
// computed ratio beyond the 64-bit range collapses to it.
type Ratio uint64

// RatioInfinity is the ratio of a debt-free vault.
const RatioInfinity = Ratio(math.MaxUint64)

var (
	bigE8s        = big.NewInt(E8s)
	bigPriceScale = big.NewInt(PriceScale)
	bigRatioScale = big.NewInt(RatioScale)
)

// RatioFromPercent builds a ratio from integer percent, e.g. 133 → 1.33.
func RatioFromPercent(pct uint64) Ratio {
	return Ratio(pct * (RatioScale / 100))
}

// IsInfinite reports whether the ratio is the zero-debt sentinel.
func (r Ratio) IsInfinite() bool { return r == RatioInfinity }

func (r Ratio) String() string {
	if r.IsInfinite() {
		return "inf"
	}
	return formatScaled(uint64(r), RatioScale, 4)
}

func (a ICP) String() string { return formatScaled(uint64(a), E8s, 8) + " ICP" }

func (a ICUSD) String() string { return formatScaled(uint64(a), E8s, 8) + " icUSD" }

func (p UsdIcp) String() string { return formatScaled(uint64(p), PriceScale, 8) + " USD/ICP" }

func formatScaled(v, scale uint64, digits int) string {
	whole := v / scale
	frac := v % scale
	div := scale / pow10(digits)
	if div > 0 {
		frac /= div
	}
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	s := strings.TrimRight(fmt.Sprintf("%0*d", digits, frac), "0")
	return fmt.Sprintf("%d.%s", whole, s)
}

func pow10(digits int) uint64 {
	out := uint64(1)
	for i := 0; i < digits; i++ {
		out *= 10
	}
	return out
}

// CheckedAddICP returns a+b or ErrOverflow.
func CheckedAddICP(a, b ICP) (ICP, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedAddICUSD returns a+b or ErrOverflow.
func CheckedAddICUSD(a, b ICUSD) (ICUSD, error) {
	sum := a + b
	if sum < a {
		return 0, ErrOverflow
	}
	return sum, nil
}

// SaturatingSubICP returns a−b floored at zero.
func SaturatingSubICP(a, b ICP) ICP {
	if b >= a {
		return 0
	}
	return a - b
}

// SaturatingSubICUSD returns a−b floored at zero.
func SaturatingSubICUSD(a, b ICUSD) ICUSD {
	if b >= a {
		return 0
	}
	return a - b
}

// quoHalfDown divides n by d rounding half down: a remainder strictly above
// half rounds away from zero, an exact half stays down.
func quoHalfDown(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	r.Lsh(r, 1)
	if r.Cmp(d) > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// quoUp divides n by d rounding any remainder up.
func quoUp(n, d *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(n, d, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

func toUint64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 {
		return 0, ErrOverflow
	}
	if !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

func saturateUint64(v *big.Int) uint64 {
	out, err := toUint64(v)
	if err != nil {
		return math.MaxUint64
	}
	return out
}

// CollateralRatio computes collateral × price ÷ debt at ratio precision.
// A zero debt yields RatioInfinity.
func CollateralRatio(collateral ICP, debt ICUSD, price UsdIcp) Ratio {
	if debt == 0 {
		return RatioInfinity
	}
	n := new(big.Int).SetUint64(uint64(collateral))
	n.Mul(n, new(big.Int).SetUint64(uint64(price)))
	n.Mul(n, bigRatioScale)
	d := new(big.Int).SetUint64(uint64(debt))
	d.Mul(d, bigPriceScale)
	return Ratio(saturateUint64(quoHalfDown(n, d)))
}

// IcusdValue converts collateral into icUSD at the given price, half-down.
func IcusdValue(collateral ICP, price UsdIcp) (ICUSD, error) {
	n := new(big.Int).SetUint64(uint64(collateral))
	n.Mul(n, new(big.Int).SetUint64(uint64(price)))
	out, err := toUint64(quoHalfDown(n, bigPriceScale))
	if err != nil {
		return 0, err
	}
	return ICUSD(out), nil
}

// CollateralFor converts an icUSD value into collateral at the given price,
// half-down. Fails with ErrDivisionByZero on a zero price.
func CollateralFor(value ICUSD, price UsdIcp) (ICP, error) {
	if price == 0 {
		return 0, ErrDivisionByZero
	}
	n := new(big.Int).SetUint64(uint64(value))
	n.Mul(n, bigPriceScale)
	out, err := toUint64(quoHalfDown(n, new(big.Int).SetUint64(uint64(price))))
	if err != nil {
		return 0, err
	}
	return ICP(out), nil
}

// MaxBorrowable returns the icUSD a vault may still mint before its ratio
// would drop below minRatio: collateral value ÷ minRatio − existing debt,
// floored at zero.
func MaxBorrowable(collateral ICP, price UsdIcp, debt ICUSD, minRatio Ratio) (ICUSD, error) {
	if minRatio == 0 {
		return 0, ErrDivisionByZero
	}
	if minRatio.IsInfinite() {
		return 0, nil
	}
	n := new(big.Int).SetUint64(uint64(collateral))
	n.Mul(n, new(big.Int).SetUint64(uint64(price)))
	n.Mul(n, bigRatioScale)
	d := new(big.Int).SetUint64(uint64(minRatio))
	d.Mul(d, bigPriceScale)
	ceiling, err := toUint64(quoHalfDown(n, d))
	if err != nil {
		return 0, err
	}
	return SaturatingSubICUSD(ICUSD(ceiling), debt), nil
}

// CollateralAt returns the collateral needed to hold debt at exactly the
// given ratio and price, rounded up so the resulting position never lands
// below the target.
func CollateralAt(debt ICUSD, ratio Ratio, price UsdIcp) (ICP, error) {
	if price == 0 {
		return 0, ErrDivisionByZero
	}
	if ratio.IsInfinite() {
		return 0, ErrOverflow
	}
	n := new(big.Int).SetUint64(uint64(debt))
	n.Mul(n, new(big.Int).SetUint64(uint64(ratio)))
	n.Mul(n, bigPriceScale)
	d := new(big.Int).SetUint64(uint64(price))
	d.Mul(d, bigRatioScale)
	out, err := toUint64(quoUp(n, d))
	if err != nil {
		return 0, err
	}
	return ICP(out), nil
}

// MulRatioICUSD scales an icUSD amount by a ratio, half-down.
func MulRatioICUSD(amount ICUSD, ratio Ratio) (ICUSD, error) {
	if ratio.IsInfinite() {
		return 0, ErrOverflow
	}
	n := new(big.Int).SetUint64(uint64(amount))
	n.Mul(n, new(big.Int).SetUint64(uint64(ratio)))
	out, err := toUint64(quoHalfDown(n, bigRatioScale))
	if err != nil {
		return 0, err
	}
	return ICUSD(out), nil
}

// ProRataICP splits total by the weight/weightSum fraction, half-down.
func ProRataICP(total ICP, weight, weightSum ICP) (ICP, error) {
	if weightSum == 0 {
		return 0, ErrDivisionByZero
	}
	n := new(big.Int).SetUint64(uint64(total))
	n.Mul(n, new(big.Int).SetUint64(uint64(weight)))
	out, err := toUint64(quoHalfDown(n, new(big.Int).SetUint64(uint64(weightSum))))
	if err != nil {
		return 0, err
	}
	return ICP(out), nil
}

// ProRataICUSD splits total by the weight/weightSum fraction of collateral
// weights, half-down.
func ProRataICUSD(total ICUSD, weight, weightSum ICP) (ICUSD, error) {
	if weightSum == 0 {
		return 0, ErrDivisionByZero
	}
	n := new(big.Int).SetUint64(uint64(total))
	n.Mul(n, new(big.Int).SetUint64(uint64(weight)))
	out, err := toUint64(quoHalfDown(n, new(big.Int).SetUint64(uint64(weightSum))))
	if err != nil {
		return 0, err
	}
	return ICUSD(out), nil
}
