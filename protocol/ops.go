package protocol

import (
	"context"
	"errors"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/fees"
	"rumiprotocol/protocol/ledger"
	"rumiprotocol/protocol/numeric"
)

// baseFeeRate is the 0.5% floor shared by the borrow and redemption
// curves.
const baseFeeRate = numeric.Ratio(50_000_000_000_000)

var errInsufficientCollateral = errors.New("vault engine: amount exceeds vault collateral")

// opContext is the snapshot taken by the shared operation preamble.
type opContext struct {
	mode  Mode
	price numeric.UsdIcp
}

// beginVaultOp runs the shared preamble: reject the anonymous caller,
// reject ReadOnly, take the caller's reentrancy slot and read a fresh
// price. The returned release must run when the operation ends.
func (e *Engine) beginVaultOp(caller crypto.Address, kind opKind) (opContext, func(), error) {
	if caller.IsAnonymous() {
		return opContext{}, nil, errAnonymousCaller
	}
	if err := e.guards.acquire(caller, kind, e.now()); err != nil {
		return opContext{}, nil, err
	}
	release := func() { e.guards.release(caller, kind) }

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.ensureInitialized(); err != nil {
		release()
		return opContext{}, nil, err
	}
	mode, err := e.mutableMode()
	if err != nil {
		release()
		return opContext{}, nil, err
	}
	price, err := e.price()
	if err != nil {
		release()
		return opContext{}, nil, err
	}
	return opContext{mode: mode, price: price}, release, nil
}

// ownedVault resolves the vault and checks ownership. Runs under e.mu.
func (e *Engine) ownedVault(caller crypto.Address, vaultID uint64) (*Vault, error) {
	v, ok := e.st.vaults.get(vaultID)
	if !ok {
		return nil, errVaultNotFound
	}
	if v.Owner != caller {
		return nil, errCallerNotOwner
	}
	return v, nil
}

// OpenVaultResult carries the new vault id and the collateral pull's
// ledger block.
type OpenVaultResult struct {
	VaultID    uint64
	BlockIndex uint64
}

// OpenVault pulls collateral from the caller and creates a vault.
func (e *Engine) OpenVault(ctx context.Context, caller crypto.Address, collateral numeric.ICP) (OpenVaultResult, error) {
	_, release, err := e.beginVaultOp(caller, opVault)
	if err != nil {
		return OpenVaultResult{}, err
	}
	defer release()
	if collateral < MinVaultCollateral {
		return OpenVaultResult{}, &AmountTooLowError{Minimum: uint64(MinVaultCollateral)}
	}
	block, err := e.pull(ctx, e.icp, ledger.TransferFromArgs{
		From:      caller,
		Amount:    uint64(collateral),
		Memo:      e.nextMemo(),
		CreatedAt: uint64(e.now().UnixNano()),
	})
	if err != nil {
		return OpenVaultResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.st.vaults.nextID
	if err := e.commit(event.VaultOpened{
		VaultID:    id,
		Owner:      caller.Raw(),
		Margin:     uint64(collateral),
		BlockIndex: block,
	}); err != nil {
		return OpenVaultResult{}, err
	}
	return OpenVaultResult{VaultID: id, BlockIndex: block}, nil
}

// AddMargin pulls additional collateral into the caller's vault.
func (e *Engine) AddMargin(ctx context.Context, caller crypto.Address, vaultID uint64, amount numeric.ICP) (uint64, error) {
	_, release, err := e.beginVaultOp(caller, opVault)
	if err != nil {
		return 0, err
	}
	defer release()
	if amount == 0 {
		return 0, &AmountTooLowError{Minimum: 1}
	}
	e.mu.Lock()
	if _, err := e.ownedVault(caller, vaultID); err != nil {
		e.mu.Unlock()
		return 0, err
	}
	e.mu.Unlock()

	block, err := e.pull(ctx, e.icp, ledger.TransferFromArgs{
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
	if _, ok := e.st.vaults.get(vaultID); !ok {
		// Liquidated while the pull was in flight; the margin stays with
		// the protocol for manual reconciliation.
		e.logger.Error("vault vanished during margin pull", "vault_id", vaultID, "block", block)
		return 0, errVaultNotFound
	}
	if err := e.commit(event.MarginAdded{VaultID: vaultID, Amount: uint64(amount), BlockIndex: block}); err != nil {
		return 0, err
	}
	return block, nil
}

// BorrowResult carries the mint's ledger block and the charged fee.
type BorrowResult struct {
	BlockIndex uint64
	Fee        numeric.ICUSD
}

// Borrow mints icUSD against the caller's vault. The fee is minted to
// the developer account through the pending queue and the vault's debt
// grows by amount plus fee. Borrowing is suspended in Recovery.
func (e *Engine) Borrow(ctx context.Context, caller crypto.Address, vaultID uint64, amount numeric.ICUSD) (BorrowResult, error) {
	op, release, err := e.beginVaultOp(caller, opVault)
	if err != nil {
		return BorrowResult{}, err
	}
	defer release()
	if op.mode == ModeRecovery {
		return BorrowResult{}, &UnavailableError{Reason: "borrowing suspended in recovery mode"}
	}
	if amount == 0 {
		return BorrowResult{}, &AmountTooLowError{Minimum: 1}
	}
	e.mu.Lock()
	v, err := e.ownedVault(caller, vaultID)
	if err != nil {
		e.mu.Unlock()
		return BorrowResult{}, err
	}
	fee := fees.Apply(amount, fees.BorrowRate(baseFeeRate, e.st.supply()))
	newDebt, err := numeric.CheckedAddICUSD(v.Debt, amount+fee)
	if err != nil {
		e.mu.Unlock()
		return BorrowResult{}, err
	}
	if numeric.CollateralRatio(v.Collateral, newDebt, op.price) < MinimumRatio {
		e.mu.Unlock()
		return BorrowResult{}, errRatioTooLow
	}
	e.mu.Unlock()

	block, err := e.icusd.Transfer(ctx, ledger.TransferArgs{
		To:        caller,
		Amount:    uint64(amount),
		Memo:      e.nextMemo(),
		CreatedAt: uint64(e.now().UnixNano()),
	})
	if err != nil {
		if prior, ok := ledger.IsDuplicate(err); ok {
			block = prior
		} else {
			return BorrowResult{}, &TransferOutError{Err: err}
		}
	}
	e.mu.Lock()
	if _, ok := e.st.vaults.get(vaultID); !ok {
		e.mu.Unlock()
		e.logger.Error("vault vanished during borrow mint", "vault_id", vaultID, "block", block)
		return BorrowResult{}, errVaultNotFound
	}
	feeTransferID := e.st.nextTransferID
	if err := e.commit(event.Borrowed{
		VaultID:       vaultID,
		Amount:        uint64(amount),
		Fee:           uint64(fee),
		BlockIndex:    block,
		FeeTransferID: feeTransferID,
	}); err != nil {
		e.mu.Unlock()
		return BorrowResult{}, err
	}
	e.mu.Unlock()
	if fee > 0 {
		if _, err := e.settle(ctx, feeTransferID); err != nil {
			e.logger.Warn("developer fee mint deferred", "transfer_id", feeTransferID, "error", err.Error())
		}
	}
	return BorrowResult{BlockIndex: block, Fee: fee}, nil
}

// Repay burns icUSD pulled from the caller against the vault's debt. An
// amount above the outstanding debt is capped to it. A vault left with
// no debt and no collateral is removed.
func (e *Engine) Repay(ctx context.Context, caller crypto.Address, vaultID uint64, amount numeric.ICUSD) (uint64, error) {
	_, release, err := e.beginVaultOp(caller, opVault)
	if err != nil {
		return 0, err
	}
	defer release()
	if amount == 0 {
		return 0, &AmountTooLowError{Minimum: 1}
	}
	e.mu.Lock()
	v, err := e.ownedVault(caller, vaultID)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	if amount > v.Debt {
		amount = v.Debt
	}
	e.mu.Unlock()
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
	if _, ok := e.st.vaults.get(vaultID); !ok {
		e.logger.Error("vault vanished during repayment pull", "vault_id", vaultID, "block", block)
		return 0, errVaultNotFound
	}
	if err := e.commit(event.Repaid{VaultID: vaultID, Amount: uint64(amount), BlockIndex: block}); err != nil {
		return 0, err
	}
	return block, nil
}

// WithdrawCollateral pays collateral out of the caller's vault, provided
// the remaining position stays above the mode's minimum ratio. The
// payout rides the pending queue: the vault is debited first, then the
// transfer settles or retries.
func (e *Engine) WithdrawCollateral(ctx context.Context, caller crypto.Address, vaultID uint64, amount numeric.ICP) (PayoutResult, error) {
	op, release, err := e.beginVaultOp(caller, opVault)
	if err != nil {
		return PayoutResult{}, err
	}
	defer release()
	if amount == 0 {
		return PayoutResult{}, &AmountTooLowError{Minimum: 1}
	}
	e.mu.Lock()
	v, err := e.ownedVault(caller, vaultID)
	if err != nil {
		e.mu.Unlock()
		return PayoutResult{}, err
	}
	if amount > v.Collateral {
		e.mu.Unlock()
		return PayoutResult{}, errInsufficientCollateral
	}
	remaining := v.Collateral - amount
	if numeric.CollateralRatio(remaining, v.Debt, op.price) < minOperatingRatio(op.mode) {
		e.mu.Unlock()
		return PayoutResult{}, errRatioTooLow
	}
	transferID := e.st.nextTransferID
	if err := e.commit(event.Withdrawn{VaultID: vaultID, Amount: uint64(amount), TransferID: transferID}); err != nil {
		e.mu.Unlock()
		return PayoutResult{}, err
	}
	e.mu.Unlock()
	return e.settle(ctx, transferID)
}

// WithdrawAndClose pays out the full collateral of a debt-free vault and
// removes it. The vault stays removed even if the payout fails
// permanently; the pending record remains as the owner's claim.
func (e *Engine) WithdrawAndClose(ctx context.Context, caller crypto.Address, vaultID uint64, amount numeric.ICP) (PayoutResult, error) {
	_, release, err := e.beginVaultOp(caller, opVault)
	if err != nil {
		return PayoutResult{}, err
	}
	defer release()
	e.mu.Lock()
	v, err := e.ownedVault(caller, vaultID)
	if err != nil {
		e.mu.Unlock()
		return PayoutResult{}, err
	}
	if v.Debt != 0 {
		e.mu.Unlock()
		return PayoutResult{}, errVaultNotEmpty
	}
	if amount != v.Collateral {
		e.mu.Unlock()
		return PayoutResult{}, errInsufficientCollateral
	}
	transferID := e.st.nextTransferID
	if err := e.commit(event.WithdrawnClosed{VaultID: vaultID, Amount: uint64(amount), TransferID: transferID}); err != nil {
		e.mu.Unlock()
		return PayoutResult{}, err
	}
	e.mu.Unlock()
	return e.settle(ctx, transferID)
}

// CloseVault removes a vault that has already been emptied of both debt
// and collateral.
func (e *Engine) CloseVault(_ context.Context, caller crypto.Address, vaultID uint64) error {
	_, release, err := e.beginVaultOp(caller, opVault)
	if err != nil {
		return err
	}
	defer release()
	e.mu.Lock()
	defer e.mu.Unlock()
	v, err := e.ownedVault(caller, vaultID)
	if err != nil {
		return err
	}
	if !v.empty() {
		return errVaultNotEmpty
	}
	return e.commit(event.VaultClosed{VaultID: vaultID})
}
