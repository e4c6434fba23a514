// Package ledger talks to the ICP and icUSD token ledgers. The protocol
// account doubles as the icUSD minting account, so an icUSD transfer from
// the protocol mints and a pull into the protocol burns. All amounts are
// e8s.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"rumiprotocol/crypto"
)

// Client is one token ledger seen from the protocol account.
type Client interface {
	// BalanceOf reports the balance of owner.
	BalanceOf(ctx context.Context, owner crypto.Address) (uint64, error)
	// Fee reports the ledger transfer fee.
	Fee(ctx context.Context) (uint64, error)
	// Transfer moves funds from the protocol account and returns the
	// ledger block index.
	Transfer(ctx context.Context, args TransferArgs) (uint64, error)
	// TransferFrom pulls approved funds from another account into the
	// protocol account and returns the ledger block index.
	TransferFrom(ctx context.Context, args TransferFromArgs) (uint64, error)
}

// TransferArgs parameterize an outbound transfer. CreatedAt and Memo
// deduplicate retries inside the ledger's transaction window.
type TransferArgs struct {
	To        crypto.Address
	Amount    uint64
	Fee       uint64
	Memo      uint64
	CreatedAt uint64
}

// TransferFromArgs parameterize an ICRC-2 pull.
type TransferFromArgs struct {
	From      crypto.Address
	Amount    uint64
	Memo      uint64
	CreatedAt uint64
}

// Transfer error codes.
const (
	ErrCodeBadFee                 = "bad_fee"
	ErrCodeInsufficientFunds      = "insufficient_funds"
	ErrCodeInsufficientAllowance  = "insufficient_allowance"
	ErrCodeDuplicate              = "duplicate"
	ErrCodeTooOld                 = "too_old"
	ErrCodeCreatedInFuture        = "created_in_future"
	ErrCodeTemporarilyUnavailable = "temporarily_unavailable"
	ErrCodeGeneric                = "generic"
)

// TransferError is a ledger-side rejection. Code selects which of the
// auxiliary fields carry meaning.
type TransferError struct {
	Code        string
	ExpectedFee uint64
	Balance     uint64
	Allowance   uint64
	DuplicateOf uint64
	Message     string
}

func (e *TransferError) Error() string {
	switch e.Code {
	case ErrCodeBadFee:
		return fmt.Sprintf("ledger: bad fee, expected %d", e.ExpectedFee)
	case ErrCodeInsufficientFunds:
		return fmt.Sprintf("ledger: insufficient funds, balance %d", e.Balance)
	case ErrCodeInsufficientAllowance:
		return fmt.Sprintf("ledger: insufficient allowance, approved %d", e.Allowance)
	case ErrCodeDuplicate:
		return fmt.Sprintf("ledger: duplicate of block %d", e.DuplicateOf)
	case ErrCodeGeneric:
		return fmt.Sprintf("ledger: %s", e.Message)
	default:
		return fmt.Sprintf("ledger: transfer rejected (%s)", e.Code)
	}
}

// AsTransferError unwraps err into a TransferError when it carries one.
func AsTransferError(err error) (*TransferError, bool) {
	var te *TransferError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// IsDuplicate reports whether err is a ledger duplicate rejection, which
// callers treat as success using the prior block index.
func IsDuplicate(err error) (uint64, bool) {
	te, ok := AsTransferError(err)
	if !ok || te.Code != ErrCodeDuplicate {
		return 0, false
	}
	return te.DuplicateOf, true
}
