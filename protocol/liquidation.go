package protocol

import (
	"context"
	"math/big"
	"sort"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/numeric"
)

// Liquidate processes one vault below the mode's liquidation threshold.
// Debt is absorbed by the stability pool when it can survive the hit;
// whatever the pool cannot take is redistributed pro rata across the
// surviving vaults.
func (e *Engine) Liquidate(ctx context.Context, caller crypto.Address, vaultID uint64) error {
	if caller.IsAnonymous() {
		return errAnonymousCaller
	}
	if err := e.guards.acquireBatch(e.now()); err != nil {
		return err
	}
	defer e.guards.releaseBatch()

	e.mu.Lock()
	mode, price, err := e.beginBatch()
	if err != nil {
		e.mu.Unlock()
		return err
	}
	v, ok := e.st.vaults.get(vaultID)
	if !ok {
		e.mu.Unlock()
		return errVaultNotFound
	}
	refunds, err := e.liquidateVault(v, mode, price)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	e.settleAll(ctx, refunds)
	return nil
}

// CheckVaults scans for vaults under the liquidation threshold and
// processes each one to completion, riskiest first. The daemon runs it
// after every accepted price refresh. It returns how many vaults were
// liquidated.
func (e *Engine) CheckVaults(ctx context.Context) (int, error) {
	if err := e.guards.acquireBatch(e.now()); err != nil {
		return 0, err
	}
	defer e.guards.releaseBatch()

	e.mu.Lock()
	mode, price, err := e.beginBatch()
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	threshold := liquidationThreshold(mode)
	var targets []uint64
	for _, v := range e.st.vaults.sortedByRatio(price) {
		if v.Ratio(price) < threshold {
			targets = append(targets, v.ID)
		}
	}
	var processed int
	var refunds []uint64
	for _, id := range targets {
		v, ok := e.st.vaults.get(id)
		if !ok {
			continue
		}
		ids, err := e.liquidateVault(v, mode, price)
		if err != nil {
			e.logger.Warn("liquidation skipped", "vault_id", id, "error", err.Error())
			continue
		}
		refunds = append(refunds, ids...)
		processed++
	}
	e.mu.Unlock()
	e.settleAll(ctx, refunds)
	return processed, nil
}

// beginBatch shares the preamble of the batch entry points. Runs under
// e.mu.
func (e *Engine) beginBatch() (Mode, numeric.UsdIcp, error) {
	if err := e.ensureInitialized(); err != nil {
		return 0, 0, err
	}
	mode, err := e.mutableMode()
	if err != nil {
		return 0, 0, err
	}
	price, err := e.price()
	if err != nil {
		return 0, 0, err
	}
	return mode, price, nil
}

// liquidateVault commits the events for one vault. Runs under e.mu and
// returns the refund transfer ids to settle after the lock drops.
func (e *Engine) liquidateVault(v *Vault, mode Mode, price numeric.UsdIcp) ([]uint64, error) {
	ratio := v.Ratio(price)
	if ratio >= liquidationThreshold(mode) || v.Debt == 0 {
		return nil, errNotLiquidatable
	}

	// A Recovery-mode vault that would be healthy in normal operation is
	// only partially liquidated: the collateral backing its debt at the
	// normal minimum moves to the pool, the rest stays with the owner.
	if mode == ModeRecovery && ratio >= MinimumRatio {
		if !e.st.pool.CanAbsorb(v.Debt) {
			return nil, errNotLiquidatable
		}
		carve, err := numeric.CollateralAt(v.Debt, MinimumRatio, price)
		if err != nil {
			return nil, err
		}
		if carve > v.Collateral {
			carve = v.Collateral
		}
		return nil, e.commit(event.Liquidated{
			VaultID:          v.ID,
			Mode:             uint8(mode),
			Rate:             uint64(price),
			Partial:          true,
			DebtAbsorbed:     uint64(v.Debt),
			CollateralToPool: uint64(carve),
		})
	}

	debt, collateral := v.Debt, v.Collateral

	if e.st.pool.CanAbsorb(debt) {
		// Full absorption: collateral worth the debt plus up to a 10%
		// bonus goes to the pool, any remainder back to the owner.
		toPool, err := numeric.CollateralAt(debt, bonusRatio, price)
		if err != nil {
			return nil, err
		}
		if toPool > collateral {
			toPool = collateral
		}
		refund := collateral - toPool
		ev := event.Liquidated{
			VaultID:          v.ID,
			Mode:             uint8(mode),
			Rate:             uint64(price),
			DebtAbsorbed:     uint64(debt),
			CollateralToPool: uint64(toPool),
			OwnerRefund:      uint64(refund),
		}
		var refunds []uint64
		if refund > 0 {
			ev.RefundTransferID = e.st.nextTransferID
			refunds = append(refunds, ev.RefundTransferID)
		}
		return refunds, e.commit(ev)
	}

	// The pool cannot take the whole debt. Absorb what it can survive,
	// keeping one unit alive so the snapshot product never reaches zero,
	// and redistribute the remainder across the other vaults.
	var absorb numeric.ICUSD
	if total := e.st.pool.TotalDeposits(); total > 1 {
		absorb = total - 1
		if absorb > debt {
			absorb = debt
		}
	}
	redistDebt := debt - absorb
	redistColl := numeric.ICP(scaleFloor(uint64(collateral), uint64(redistDebt), uint64(debt)))
	toPool := collateral - redistColl

	entries, err := e.redistributionEntries(v.ID, redistColl, redistDebt)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		if err := e.commit(event.Redistributed{VaultID: v.ID, Entries: entries}); err != nil {
			return nil, err
		}
	}
	return nil, e.commit(event.Liquidated{
		VaultID:          v.ID,
		Mode:             uint8(mode),
		Rate:             uint64(price),
		DebtAbsorbed:     uint64(absorb),
		CollateralToPool: uint64(toPool),
	})
}

// redistributionEntries splits debt and collateral across every other
// vault pro rata by collateral, parking the division remainders on the
// first entry so totals are conserved exactly. Runs under e.mu.
func (e *Engine) redistributionEntries(sourceID uint64, collateral numeric.ICP, debt numeric.ICUSD) ([]event.RedistributedEntry, error) {
	var survivors []*Vault
	var weightSum numeric.ICP
	for _, v := range e.st.vaults.vaults {
		if v.ID == sourceID {
			continue
		}
		survivors = append(survivors, v)
		weightSum += v.Collateral
	}
	if len(survivors) == 0 || weightSum == 0 {
		return nil, errNoSurvivors
	}
	sort.Slice(survivors, func(i, j int) bool { return survivors[i].ID < survivors[j].ID })

	entries := make([]event.RedistributedEntry, 0, len(survivors))
	var givenColl numeric.ICP
	var givenDebt numeric.ICUSD
	for _, v := range survivors {
		// Floored shares: the remainders land on the first entry below,
		// never overshooting the totals.
		dc := numeric.ICP(scaleFloor(uint64(collateral), uint64(v.Collateral), uint64(weightSum)))
		dd := numeric.ICUSD(scaleFloor(uint64(debt), uint64(v.Collateral), uint64(weightSum)))
		entries = append(entries, event.RedistributedEntry{VaultID: v.ID, Margin: uint64(dc), Debt: uint64(dd)})
		givenColl += dc
		givenDebt += dd
	}
	entries[0].Margin += uint64(collateral - givenColl)
	entries[0].Debt += uint64(debt - givenDebt)
	return entries, nil
}

// scaleFloor returns total × num ÷ den rounded down, with den > 0.
func scaleFloor(total, num, den uint64) uint64 {
	if num == 0 || den == 0 {
		return 0
	}
	v := new(big.Int).SetUint64(total)
	v.Mul(v, new(big.Int).SetUint64(num))
	v.Quo(v, new(big.Int).SetUint64(den))
	if !v.IsUint64() {
		return total
	}
	return v.Uint64()
}

// settleAll drives a set of queued payouts, logging failures; the
// pending worker retries whatever does not settle now.
func (e *Engine) settleAll(ctx context.Context, ids []uint64) {
	for _, id := range ids {
		if _, err := e.settle(ctx, id); err != nil {
			e.logger.Warn("payout deferred", "transfer_id", id, "error", err.Error())
		}
	}
}
