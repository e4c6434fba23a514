// Package fees computes borrow and redemption fee rates. Both curves
// share a supply term that rises as outstanding icUSD approaches the
// reference supply; the redemption curve adds a base rate that is bumped
// by every redemption and decays by 6% per elapsed hour. Rates are fixed
// point at numeric.RatioScale and charged amounts round up.
package fees

import (
	"math/big"
	"time"

	"rumiprotocol/protocol/numeric"
)

const (
	// MaxRate caps both curves at 5%.
	MaxRate = numeric.Ratio(500_000_000_000_000)
	// supplySlope is the 4.5% weight of the supply term.
	supplySlope = numeric.Ratio(450_000_000_000_000)
	// decayFactor is the 0.94 hourly decay of the redemption base rate.
	decayFactor = numeric.Ratio(9_400_000_000_000_000)
	// bumpFactor is the 0.5 weight of the redeemed share on the base rate.
	bumpFactor = numeric.Ratio(5_000_000_000_000_000)
)

// RefSupply is the icUSD supply at which the supply term alone reaches
// the cap.
const RefSupply = numeric.ICUSD(100_000_000_000_000)

// BorrowRate returns the borrowing fee rate for the given outstanding
// supply, clamped to [floor, MaxRate].
func BorrowRate(floor numeric.Ratio, supply numeric.ICUSD) numeric.Ratio {
	return clamp(floor+supplyTerm(supply), floor)
}

// RedemptionRate returns the redemption fee rate given the decaying base
// rate and the time since the previous redemption.
func RedemptionRate(floor, base numeric.Ratio, elapsed time.Duration, supply numeric.ICUSD) numeric.Ratio {
	rate := floor + DecayedBase(base, elapsed) + supplyTerm(supply)
	return clamp(rate, floor)
}

// DecayedBase applies the hourly decay to base for each complete hour of
// elapsed.
func DecayedBase(base numeric.Ratio, elapsed time.Duration) numeric.Ratio {
	if base == 0 || elapsed <= 0 {
		return base
	}
	hours := uint64(elapsed / time.Hour)
	result := new(big.Int).SetUint64(uint64(base))
	factor := new(big.Int).SetUint64(uint64(decayFactor))
	scale := new(big.Int).SetUint64(uint64(numeric.RatioScale))
	for ; hours > 0; hours-- {
		result.Mul(result, factor)
		result.Quo(result, scale)
		if result.Sign() == 0 {
			return 0
		}
	}
	return numeric.Ratio(result.Uint64())
}

// BumpedBase decays base over elapsed and raises it by half the redeemed
// share of supply. It is applied on every executed redemption.
func BumpedBase(base numeric.Ratio, elapsed time.Duration, redeemed, supply numeric.ICUSD) numeric.Ratio {
	decayed := DecayedBase(base, elapsed)
	if supply == 0 || redeemed == 0 {
		return decayed
	}
	bump := new(big.Int).SetUint64(uint64(redeemed))
	bump.Mul(bump, new(big.Int).SetUint64(uint64(bumpFactor)))
	bump.Quo(bump, new(big.Int).SetUint64(uint64(supply)))
	sum := new(big.Int).Add(bump, new(big.Int).SetUint64(uint64(decayed)))
	if !sum.IsUint64() || sum.Uint64() > uint64(numeric.RatioScale) {
		return numeric.Ratio(numeric.RatioScale)
	}
	return numeric.Ratio(sum.Uint64())
}

// Apply charges rate on amount, rounding up so no fee below one unit is
// waived.
func Apply(amount numeric.ICUSD, rate numeric.Ratio) numeric.ICUSD {
	if amount == 0 || rate == 0 {
		return 0
	}
	product := new(big.Int).SetUint64(uint64(amount))
	product.Mul(product, new(big.Int).SetUint64(uint64(rate)))
	scale := new(big.Int).SetUint64(uint64(numeric.RatioScale))
	quo, rem := new(big.Int).QuoRem(product, scale, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	if !quo.IsUint64() {
		return numeric.ICUSD(^uint64(0))
	}
	return numeric.ICUSD(quo.Uint64())
}

func supplyTerm(supply numeric.ICUSD) numeric.Ratio {
	if supply == 0 {
		return 0
	}
	term := new(big.Int).SetUint64(uint64(supply))
	term.Mul(term, new(big.Int).SetUint64(uint64(supplySlope)))
	term.Quo(term, new(big.Int).SetUint64(uint64(RefSupply)))
	if !term.IsUint64() {
		return MaxRate
	}
	return numeric.Ratio(term.Uint64())
}

func clamp(rate, floor numeric.Ratio) numeric.Ratio {
	if rate < floor {
		rate = floor
	}
	if rate > MaxRate {
		rate = MaxRate
	}
	return rate
}
