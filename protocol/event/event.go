// Package event defines the append-only domain events of the protocol.
// The event log is the source of truth: folding every event in order
// rebuilds the vault registry, the stability pool, the fee state, and the
// pending transfer queue. Any state change that is not expressed as an
// event is a bug.
package event

import (
	"fmt"

	"rumiprotocol/crypto"
)

// Event kinds, stable identifiers used in the stored envelope.
const (
	KindInit                  = "protocol.init"
	KindUpgrade               = "protocol.upgrade"
	KindVaultOpened           = "vault.opened"
	KindMarginAdded           = "vault.margin_added"
	KindBorrowed              = "vault.borrowed"
	KindRepaid                = "vault.repaid"
	KindVaultClosed           = "vault.closed"
	KindWithdrawn             = "vault.withdrawn"
	KindWithdrawnClosed       = "vault.withdrawn_closed"
	KindRedemptionExecuted    = "redemption.executed"
	KindRedemptionTransferred = "redemption.transferred"
	KindLiquidated            = "vault.liquidated"
	KindRedistributed         = "vault.redistributed"
	KindLiquidityProvided     = "liquidity.provided"
	KindLiquidityWithdrawn    = "liquidity.withdrawn"
	KindLiquidityClaimed      = "liquidity.claimed"
	KindTransferCompleted     = "transfer.completed"
)

// Event is implemented by every domain event variant.
type Event interface {
	Kind() string
}

// Init seeds the protocol configuration. It is always the first event.
type Init struct {
	FeeE8s      uint64
	IcpLedger   string
	IcusdLedger string
	Oracle      string
	Developer   [crypto.AddressLen]byte
}

func (Init) Kind() string { return KindInit }

// Upgrade records an operator upgrade. When HasMode is set the carried mode
// becomes an override pin; pinning GeneralAvailability clears the pin.
type Upgrade struct {
	HasMode bool
	Mode    uint8
}

func (Upgrade) Kind() string { return KindUpgrade }

// VaultOpened records a new vault funded with collateral pulled from the
// owner.
type VaultOpened struct {
	VaultID    uint64
	Owner      [crypto.AddressLen]byte
	Margin     uint64
	BlockIndex uint64
}

func (VaultOpened) Kind() string { return KindVaultOpened }

// MarginAdded records collateral pulled from the owner into a vault.
type MarginAdded struct {
	VaultID    uint64
	Amount     uint64
	BlockIndex uint64
}

func (MarginAdded) Kind() string { return KindMarginAdded }

// Borrowed records icUSD minted to the owner. The fee is minted to the
// developer account through the pending queue; vault debt grows by
// amount plus fee.
type Borrowed struct {
	VaultID       uint64
	Amount        uint64
	Fee           uint64
	BlockIndex    uint64
	FeeTransferID uint64
}

func (Borrowed) Kind() string { return KindBorrowed }

// Repaid records icUSD burned from the owner against vault debt.
type Repaid struct {
	VaultID    uint64
	Amount     uint64
	BlockIndex uint64
}

func (Repaid) Kind() string { return KindRepaid }

// VaultClosed removes an empty vault. BlockIndex is meaningful only when
// HasBlock is set.
type VaultClosed struct {
	VaultID    uint64
	HasBlock   bool
	BlockIndex uint64
}

func (VaultClosed) Kind() string { return KindVaultClosed }

// Withdrawn records collateral leaving a surviving vault; the payout is
// queued as a pending transfer.
type Withdrawn struct {
	VaultID    uint64
	Amount     uint64
	TransferID uint64
}

func (Withdrawn) Kind() string { return KindWithdrawn }

// WithdrawnClosed records the final withdrawal of a debt-free vault; the
// vault is removed and the payout queued.
type WithdrawnClosed struct {
	VaultID    uint64
	Amount     uint64
	TransferID uint64
}

func (WithdrawnClosed) Kind() string { return KindWithdrawnClosed }

// RedemptionExecuted records a redemption: Redeemed icUSD (fee already
// withheld) burned against the registry walking ascending collateral
// ratios, collateral payout and developer fee queued as transfers.
type RedemptionExecuted struct {
	Redeemer      [crypto.AddressLen]byte
	Redeemed      uint64
	Fee           uint64
	Rate          uint64
	BlockIndex    uint64
	TransferID    uint64
	FeeTransferID uint64
}

func (RedemptionExecuted) Kind() string { return KindRedemptionExecuted }

// RedemptionTransferred confirms the collateral leg of a redemption.
type RedemptionTransferred struct {
	TransferID uint64
	BlockIndex uint64
}

func (RedemptionTransferred) Kind() string { return KindRedemptionTransferred }

// Liquidated records one liquidated vault. When Partial is set the vault
// survives with its debt cleared and CollateralToPool carved out. Absorbed
// debt and pool collateral drive the stability pool scalars; OwnerRefund,
// when non-zero, is queued back to the vault owner.
type Liquidated struct {
	VaultID          uint64
	Mode             uint8
	Rate             uint64
	Partial          bool
	DebtAbsorbed     uint64
	CollateralToPool uint64
	OwnerRefund      uint64
	RefundTransferID uint64
}

func (Liquidated) Kind() string { return KindLiquidated }

// RedistributedEntry is one surviving vault's share of a redistribution.
type RedistributedEntry struct {
	VaultID uint64
	Margin  uint64
	Debt    uint64
}

// Redistributed spreads a bad vault's debt and collateral across the
// surviving vaults pro rata by collateral; the division remainder sits on
// the first entry so totals are conserved exactly.
type Redistributed struct {
	VaultID uint64
	Entries []RedistributedEntry
}

func (Redistributed) Kind() string { return KindRedistributed }

// LiquidityProvided records icUSD pulled into the stability pool.
type LiquidityProvided struct {
	Provider   [crypto.AddressLen]byte
	Amount     uint64
	BlockIndex uint64
}

func (LiquidityProvided) Kind() string { return KindLiquidityProvided }

// LiquidityWithdrawn records a pool deposit leaving; the icUSD payout is
// queued as a pending transfer.
type LiquidityWithdrawn struct {
	Provider   [crypto.AddressLen]byte
	Amount     uint64
	TransferID uint64
}

func (LiquidityWithdrawn) Kind() string { return KindLiquidityWithdrawn }

// LiquidityClaimed records collateral rewards leaving the pool; the ICP
// payout is queued as a pending transfer.
type LiquidityClaimed struct {
	Provider   [crypto.AddressLen]byte
	Amount     uint64
	TransferID uint64
}

func (LiquidityClaimed) Kind() string { return KindLiquidityClaimed }

// TransferCompleted confirms a queued outbound transfer and removes it
// from the pending queue.
type TransferCompleted struct {
	TransferID uint64
	BlockIndex uint64
}

func (TransferCompleted) Kind() string { return KindTransferCompleted }

// Describe renders the event as loggable attributes.
func Describe(ev Event) map[string]string {
	attrs := map[string]string{"kind": ev.Kind()}
	switch e := ev.(type) {
	case Init:
		attrs["developer"] = addrString(e.Developer)
		attrs["fee_e8s"] = fmt.Sprintf("%d", e.FeeE8s)
	case Upgrade:
		if e.HasMode {
			attrs["mode"] = fmt.Sprintf("%d", e.Mode)
		}
	case VaultOpened:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["owner"] = addrString(e.Owner)
		attrs["margin"] = fmt.Sprintf("%d", e.Margin)
	case MarginAdded:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
	case Borrowed:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
		attrs["fee"] = fmt.Sprintf("%d", e.Fee)
	case Repaid:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
	case VaultClosed:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
	case Withdrawn:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
	case WithdrawnClosed:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
	case RedemptionExecuted:
		attrs["redeemer"] = addrString(e.Redeemer)
		attrs["redeemed"] = fmt.Sprintf("%d", e.Redeemed)
		attrs["fee"] = fmt.Sprintf("%d", e.Fee)
		attrs["rate"] = fmt.Sprintf("%d", e.Rate)
	case RedemptionTransferred:
		attrs["transfer_id"] = fmt.Sprintf("%d", e.TransferID)
	case Liquidated:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["rate"] = fmt.Sprintf("%d", e.Rate)
		attrs["debt_absorbed"] = fmt.Sprintf("%d", e.DebtAbsorbed)
		attrs["partial"] = fmt.Sprintf("%t", e.Partial)
	case Redistributed:
		attrs["vault_id"] = fmt.Sprintf("%d", e.VaultID)
		attrs["entries"] = fmt.Sprintf("%d", len(e.Entries))
	case LiquidityProvided:
		attrs["provider"] = addrString(e.Provider)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
	case LiquidityWithdrawn:
		attrs["provider"] = addrString(e.Provider)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
	case LiquidityClaimed:
		attrs["provider"] = addrString(e.Provider)
		attrs["amount"] = fmt.Sprintf("%d", e.Amount)
	case TransferCompleted:
		attrs["transfer_id"] = fmt.Sprintf("%d", e.TransferID)
		attrs["block_index"] = fmt.Sprintf("%d", e.BlockIndex)
	}
	return attrs
}

func addrString(raw [crypto.AddressLen]byte) string {
	addr, err := crypto.NewAddress(raw[:])
	if err != nil {
		return ""
	}
	return addr.String()
}
