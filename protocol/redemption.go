package protocol

import (
	"context"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/fees"
	"rumiprotocol/protocol/ledger"
	"rumiprotocol/protocol/numeric"
)

// MinRedemption is the smallest redeemable icUSD amount, in e8s.
const MinRedemption = numeric.ICUSD(500_000_000)

// RedeemResult reports a redemption: the burn's ledger block, the fee
// withheld from the payout, and the collateral leg.
type RedeemResult struct {
	BlockIndex uint64
	Fee        numeric.ICUSD
	Payout     PayoutResult
}

// Redeem burns the caller's icUSD against the riskiest vaults and pays
// out the matching collateral. The fee is withheld from the redeemed
// amount and routed to the developer account as icUSD. Redemptions hold
// the batch singleton so the ratio ordering stays stable for the walk.
func (e *Engine) Redeem(ctx context.Context, caller crypto.Address, amount numeric.ICUSD) (RedeemResult, error) {
	if caller.IsAnonymous() {
		return RedeemResult{}, errAnonymousCaller
	}
	if amount < MinRedemption {
		return RedeemResult{}, &AmountTooLowError{Minimum: uint64(MinRedemption)}
	}
	if err := e.guards.acquireBatch(e.now()); err != nil {
		return RedeemResult{}, err
	}
	defer e.guards.releaseBatch()

	e.mu.Lock()
	if err := e.ensureInitialized(); err != nil {
		e.mu.Unlock()
		return RedeemResult{}, err
	}
	if _, err := e.mutableMode(); err != nil {
		e.mu.Unlock()
		return RedeemResult{}, err
	}
	price, err := e.price()
	if err != nil {
		e.mu.Unlock()
		return RedeemResult{}, err
	}
	supply := e.st.supply()
	elapsed := e.st.elapsedSinceRedemption(uint64(e.now().UnixNano()))
	rate := fees.RedemptionRate(baseFeeRate, e.st.feeBase, elapsed, supply)
	fee := fees.Apply(amount, rate)
	budget := numeric.SaturatingSubICUSD(amount, fee)
	if budget == 0 {
		e.mu.Unlock()
		return RedeemResult{}, &AmountTooLowError{Minimum: uint64(MinRedemption)}
	}
	if _, _, consumed := planRedemption(e.st.vaults, budget, price); consumed < budget {
		e.mu.Unlock()
		return RedeemResult{}, errRedeemExceedsDebt
	}
	e.mu.Unlock()

	block, err := e.pull(ctx, e.icusd, ledger.TransferFromArgs{
		From:      caller,
		Amount:    uint64(amount),
		Memo:      e.nextMemo(),
		CreatedAt: uint64(e.now().UnixNano()),
	})
	if err != nil {
		return RedeemResult{}, err
	}

	e.mu.Lock()
	transferID := e.st.nextTransferID
	feeTransferID := transferID + 1
	if err := e.commit(event.RedemptionExecuted{
		Redeemer:      caller.Raw(),
		Redeemed:      uint64(budget),
		Fee:           uint64(fee),
		Rate:          uint64(price),
		BlockIndex:    block,
		TransferID:    transferID,
		FeeTransferID: feeTransferID,
	}); err != nil {
		e.mu.Unlock()
		return RedeemResult{}, err
	}
	e.mu.Unlock()

	payout, err := e.settle(ctx, transferID)
	if err != nil {
		return RedeemResult{BlockIndex: block, Fee: fee, Payout: payout}, err
	}
	if fee > 0 {
		if _, err := e.settle(ctx, feeTransferID); err != nil {
			e.logger.Warn("redemption fee transfer deferred", "transfer_id", feeTransferID, "error", err.Error())
		}
	}
	return RedeemResult{BlockIndex: block, Fee: fee, Payout: payout}, nil
}
