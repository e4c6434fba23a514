package protocol

import "rumiprotocol/protocol/numeric"

// Mode is the operating regime of the protocol.
type Mode uint8

const (
	// ModeGeneralAvailability is normal operation.
	ModeGeneralAvailability Mode = iota
	// ModeRecovery tightens collateral requirements when the total
	// collateral ratio falls below RecoveryRatio.
	ModeRecovery
	// ModeReadOnly refuses every mutating operation.
	ModeReadOnly
)

func (m Mode) String() string {
	switch m {
	case ModeGeneralAvailability:
		return "general_availability"
	case ModeRecovery:
		return "recovery"
	case ModeReadOnly:
		return "read_only"
	default:
		return "unknown"
	}
}

var (
	// MinimumRatio is the collateral ratio floor for borrowing and
	// withdrawing, and the liquidation threshold, in normal operation.
	MinimumRatio = numeric.RatioFromPercent(133)
	// RecoveryRatio replaces MinimumRatio while the protocol is in
	// Recovery, and is the total-ratio boundary of the Recovery regime.
	RecoveryRatio = numeric.RatioFromPercent(150)
	// parRatio marks a vault at exactly one dollar of collateral per
	// dollar of debt. Redemptions skip vaults below it.
	parRatio = numeric.RatioFromPercent(100)
	// bonusRatio sizes the stability pool's collateral reward at 110%
	// of the absorbed debt.
	bonusRatio = numeric.RatioFromPercent(110)
)

// minOperatingRatio returns the collateral floor enforced on borrows and
// withdrawals under the given mode.
func minOperatingRatio(mode Mode) numeric.Ratio {
	if mode == ModeRecovery {
		return RecoveryRatio
	}
	return MinimumRatio
}

// liquidationThreshold returns the individual ratio below which a vault
// may be liquidated under the given mode.
func liquidationThreshold(mode Mode) numeric.Ratio {
	if mode == ModeRecovery {
		return RecoveryRatio
	}
	return MinimumRatio
}

// floorRate is the absurd-price circuit breaker: an oracle rate below one
// cent latches ReadOnly until a sane rate returns.
const floorRate = numeric.UsdIcp(1_000_000)

// modeForRatio derives the regime from the total collateral ratio.
func modeForRatio(tcr numeric.Ratio) Mode {
	switch {
	case tcr < parRatio:
		return ModeReadOnly
	case tcr < RecoveryRatio:
		return ModeRecovery
	default:
		return ModeGeneralAvailability
	}
}
