package protocol

import (
	"errors"
	"fmt"
)

var (
	errNotInitialized    = errors.New("vault engine: protocol not initialised")
	errAnonymousCaller   = errors.New("vault engine: anonymous caller not allowed")
	errAlreadyProcessing = errors.New("vault engine: caller operation already in flight")
	errCallerNotOwner    = errors.New("vault engine: caller does not own the vault")
	errVaultNotFound     = errors.New("vault engine: vault not found")
	errVaultNotEmpty     = errors.New("vault engine: vault not empty")
	errRatioTooLow       = errors.New("vault engine: collateral ratio below minimum")
	errNotLiquidatable   = errors.New("vault engine: vault not liquidatable")
	errNoSurvivors       = errors.New("vault engine: no surviving vault to redistribute onto")
	errNothingToClaim    = errors.New("vault engine: no claimable returns")
	errRedeemExceedsDebt = errors.New("vault engine: redemption exceeds redeemable debt")
	errStalePrice        = errors.New("vault engine: stale price")
)

// Exported matchers for the stable error taxonomy. Callers test with
// errors.Is; the unexported names keep construction inside the engine.
var (
	ErrNotInitialized    = errNotInitialized
	ErrAnonymousCaller   = errAnonymousCaller
	ErrAlreadyProcessing = errAlreadyProcessing
	ErrCallerNotOwner    = errCallerNotOwner
	ErrVaultNotFound     = errVaultNotFound
	ErrVaultNotEmpty     = errVaultNotEmpty
	ErrRatioTooLow       = errRatioTooLow
	ErrNotLiquidatable   = errNotLiquidatable
	ErrNothingToClaim    = errNothingToClaim
	ErrRedeemExceedsDebt = errRedeemExceedsDebt
	ErrStalePrice        = errStalePrice
)

// AmountTooLowError rejects an amount below the operation's minimum.
type AmountTooLowError struct {
	Minimum uint64
}

func (e *AmountTooLowError) Error() string {
	return fmt.Sprintf("vault engine: amount below minimum of %d e8s", e.Minimum)
}

// UnavailableError covers ReadOnly mode, the halted latch and transient
// ledger outages.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("vault engine: temporarily unavailable: %s", e.Reason)
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// TransferInError wraps a ledger rejection of a pull from the caller. No
// protocol state changed.
type TransferInError struct {
	Err error
}

func (e *TransferInError) Error() string {
	return fmt.Sprintf("vault engine: pull from caller failed: %v", e.Err)
}

func (e *TransferInError) Unwrap() error { return e.Err }

// TransferOutError wraps a ledger rejection of a payout. The originating
// state change is committed; TransferID names the pending record that
// will retry or await reconciliation.
type TransferOutError struct {
	TransferID uint64
	Err        error
}

func (e *TransferOutError) Error() string {
	return fmt.Sprintf("vault engine: payout %d failed: %v", e.TransferID, e.Err)
}

func (e *TransferOutError) Unwrap() error { return e.Err }
