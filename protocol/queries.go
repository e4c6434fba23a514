package protocol

import (
	"time"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/fees"
	"rumiprotocol/protocol/numeric"
)

// Status is a read-only snapshot of the protocol.
type Status struct {
	Mode            Mode
	TotalCollateral numeric.ICP
	TotalDebt       numeric.ICUSD
	TotalRatio      numeric.Ratio
	VaultCount      int
	Rate            numeric.UsdIcp
	RateTimestamp   time.Time
	PendingCount    int
}

// Status reports the current mode, totals and the last accepted rate.
// The ratio uses the latest quote even when it is stale.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	collateral, debt := e.st.vaults.totals()
	out := Status{
		Mode:            e.currentMode(),
		TotalCollateral: collateral,
		TotalDebt:       debt,
		TotalRatio:      numeric.RatioInfinity,
		VaultCount:      e.st.vaults.count(),
		PendingCount:    len(e.st.pending),
	}
	if e.rates != nil {
		if quote, ok := e.rates.Latest(); ok {
			out.Rate = quote.Rate
			out.RateTimestamp = quote.Timestamp
			out.TotalRatio = numeric.CollateralRatio(collateral, debt, quote.Rate)
		}
	}
	return out
}

// GetVault returns a copy of the vault.
func (e *Engine) GetVault(id uint64) (Vault, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.st.vaults.get(id)
	if !ok {
		return Vault{}, false
	}
	return *v, true
}

// VaultsOf lists the owner's vaults ordered by id.
func (e *Engine) VaultsOf(owner crypto.Address) []Vault {
	e.mu.Lock()
	defer e.mu.Unlock()
	vaults := e.st.vaults.listByOwner(owner)
	out := make([]Vault, 0, len(vaults))
	for _, v := range vaults {
		out = append(out, *v)
	}
	return out
}

// FeeQuote reports the current borrow and redemption rates.
type FeeQuote struct {
	BorrowRate     numeric.Ratio
	RedemptionRate numeric.Ratio
}

// Fees quotes both fee curves at the current supply.
func (e *Engine) Fees() FeeQuote {
	e.mu.Lock()
	defer e.mu.Unlock()
	supply := e.st.supply()
	elapsed := e.st.elapsedSinceRedemption(uint64(e.now().UnixNano()))
	return FeeQuote{
		BorrowRate:     fees.BorrowRate(baseFeeRate, supply),
		RedemptionRate: fees.RedemptionRate(baseFeeRate, e.st.feeBase, elapsed, supply),
	}
}

// LiquidityStatus is one provider's view of the stability pool.
type LiquidityStatus struct {
	Deposit   numeric.ICUSD
	Claimable numeric.ICP
	PoolTotal numeric.ICUSD
}

// LiquidityOf reports the provider's compounded deposit, claimable
// collateral and the pool total.
func (e *Engine) LiquidityOf(provider crypto.Address) LiquidityStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return LiquidityStatus{
		Deposit:   e.st.pool.DepositOf(provider),
		Claimable: e.st.pool.ClaimableOf(provider),
		PoolTotal: e.st.pool.TotalDeposits(),
	}
}

// Events pages through the committed event records.
func (e *Engine) Events(from, limit uint64) ([]event.Record, error) {
	return e.log.Range(from, limit)
}

// ProtocolConfig returns the recorded configuration.
func (e *Engine) ProtocolConfig() (Config, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st.cfg, e.st.initialized
}
