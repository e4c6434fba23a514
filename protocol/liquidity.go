package protocol

import (
	"context"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/ledger"
	"rumiprotocol/protocol/liquidity"
	"rumiprotocol/protocol/numeric"
)

// beginLiquidityOp is the vault-op preamble without the price read; pool
// accounting never depends on the exchange rate.
func (e *Engine) beginLiquidityOp(caller crypto.Address) (func(), error) {
	if caller.IsAnonymous() {
		return nil, errAnonymousCaller
	}
	if err := e.guards.acquire(caller, opLiquidity, e.now()); err != nil {
		return nil, err
	}
	release := func() { e.guards.release(caller, opLiquidity) }

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureInitialized(); err != nil {
		release()
		return nil, err
	}
	if _, err := e.mutableMode(); err != nil {
		release()
		return nil, err
	}
	return release, nil
}

// ProvideLiquidity pulls icUSD from the caller into the stability pool.
// The pull lands on the protocol's minting account, so the deposit
// leaves circulation until it is withdrawn.
func (e *Engine) ProvideLiquidity(ctx context.Context, caller crypto.Address, amount numeric.ICUSD) (uint64, error) {
	release, err := e.beginLiquidityOp(caller)
	if err != nil {
		return 0, err
	}
	defer release()
	if amount == 0 {
		return 0, &AmountTooLowError{Minimum: 1}
	}
	block, err := e.pull(ctx, e.icusd, ledger.TransferFromArgs{
		From:      caller,
		Amount:    uint64(amount),
		Memo:      e.nextMemo(),
		CreatedAt: uint64(e.now().UnixNano()),
	})
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.commit(event.LiquidityProvided{
		Provider:   caller.Raw(),
		Amount:     uint64(amount),
		BlockIndex: block,
	}); err != nil {
		return 0, err
	}
	return block, nil
}

// WithdrawLiquidity returns part of the caller's compounded deposit.
// Collateral gains accrued so far move to the claimable balance.
func (e *Engine) WithdrawLiquidity(ctx context.Context, caller crypto.Address, amount numeric.ICUSD) (PayoutResult, error) {
	release, err := e.beginLiquidityOp(caller)
	if err != nil {
		return PayoutResult{}, err
	}
	defer release()
	if amount == 0 {
		return PayoutResult{}, &AmountTooLowError{Minimum: 1}
	}
	e.mu.Lock()
	if e.st.pool.DepositOf(caller) < amount {
		e.mu.Unlock()
		return PayoutResult{}, liquidity.ErrInsufficientDeposit
	}
	transferID := e.st.nextTransferID
	if err := e.commit(event.LiquidityWithdrawn{
		Provider:   caller.Raw(),
		Amount:     uint64(amount),
		TransferID: transferID,
	}); err != nil {
		e.mu.Unlock()
		return PayoutResult{}, err
	}
	e.mu.Unlock()
	return e.settle(ctx, transferID)
}

// ClaimLiquidityReturns pays out the caller's accrued collateral gains.
func (e *Engine) ClaimLiquidityReturns(ctx context.Context, caller crypto.Address) (PayoutResult, error) {
	release, err := e.beginLiquidityOp(caller)
	if err != nil {
		return PayoutResult{}, err
	}
	defer release()
	e.mu.Lock()
	amount := e.st.pool.ClaimableOf(caller)
	if amount == 0 {
		e.mu.Unlock()
		return PayoutResult{}, errNothingToClaim
	}
	transferID := e.st.nextTransferID
	if err := e.commit(event.LiquidityClaimed{
		Provider:   caller.Raw(),
		Amount:     uint64(amount),
		TransferID: transferID,
	}); err != nil {
		e.mu.Unlock()
		return PayoutResult{}, err
	}
	e.mu.Unlock()
	return e.settle(ctx, transferID)
}
