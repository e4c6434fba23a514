package protocol

import (
	"fmt"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/fees"
	"rumiprotocol/protocol/numeric"
)

// apply folds one committed event into the state. It is the only code
// path that mutates folded state, both for live commits and for replay,
// so the state after a restart is the state before it. An error here
// means the log and the engine disagree, which is a bug, not user input.
func (s *state) apply(seq, timestamp uint64, ev event.Event) error {
	switch e := ev.(type) {
	case event.Init:
		developer, err := crypto.NewAddress(e.Developer[:])
		if err != nil {
			return fmt.Errorf("apply init: %w", err)
		}
		s.cfg = Config{
			FeeE8s:      e.FeeE8s,
			IcpLedger:   e.IcpLedger,
			IcusdLedger: e.IcusdLedger,
			Oracle:      e.Oracle,
			Developer:   developer,
		}
		s.initialized = true
		return nil

	case event.Upgrade:
		if !e.HasMode || Mode(e.Mode) == ModeGeneralAvailability {
			s.hasOverride = false
			return nil
		}
		s.hasOverride = true
		s.override = Mode(e.Mode)
		return nil

	case event.VaultOpened:
		owner, err := crypto.NewAddress(e.Owner[:])
		if err != nil {
			return fmt.Errorf("apply open at seq %d: %w", seq, err)
		}
		s.vaults.insert(e.VaultID, owner, numeric.ICP(e.Margin))
		return nil

	case event.MarginAdded:
		v, err := s.mustVault(e.VaultID, seq)
		if err != nil {
			return err
		}
		v.Collateral += numeric.ICP(e.Amount)
		return nil

	case event.Borrowed:
		v, err := s.mustVault(e.VaultID, seq)
		if err != nil {
			return err
		}
		v.Debt += numeric.ICUSD(e.Amount) + numeric.ICUSD(e.Fee)
		if e.Fee > 0 && e.FeeTransferID != 0 {
			s.queueTransfer(e.FeeTransferID, s.cfg.Developer, AssetICUSD, e.Fee, kindPayout, seq, timestamp)
		}
		return nil

	case event.Repaid:
		v, err := s.mustVault(e.VaultID, seq)
		if err != nil {
			return err
		}
		v.Debt = numeric.SaturatingSubICUSD(v.Debt, numeric.ICUSD(e.Amount))
		if v.empty() {
			s.vaults.remove(v.ID)
		}
		return nil

	case event.VaultClosed:
		s.vaults.remove(e.VaultID)
		return nil

	case event.Withdrawn:
		v, err := s.mustVault(e.VaultID, seq)
		if err != nil {
			return err
		}
		v.Collateral = numeric.SaturatingSubICP(v.Collateral, numeric.ICP(e.Amount))
		s.queueTransfer(e.TransferID, v.Owner, AssetICP, e.Amount, kindPayout, seq, timestamp)
		return nil

	case event.WithdrawnClosed:
		v, err := s.mustVault(e.VaultID, seq)
		if err != nil {
			return err
		}
		s.queueTransfer(e.TransferID, v.Owner, AssetICP, e.Amount, kindPayout, seq, timestamp)
		s.vaults.remove(v.ID)
		return nil

	case event.RedemptionExecuted:
		return s.applyRedemption(e, seq, timestamp)

	case event.RedemptionTransferred:
		delete(s.pending, e.TransferID)
		return nil

	case event.Redistributed:
		return s.applyRedistribution(e, seq)

	case event.Liquidated:
		return s.applyLiquidation(e, seq, timestamp)

	case event.LiquidityProvided:
		provider, err := crypto.NewAddress(e.Provider[:])
		if err != nil {
			return fmt.Errorf("apply provide at seq %d: %w", seq, err)
		}
		s.pool.Provide(provider, numeric.ICUSD(e.Amount))
		return nil

	case event.LiquidityWithdrawn:
		provider, err := crypto.NewAddress(e.Provider[:])
		if err != nil {
			return fmt.Errorf("apply withdraw liquidity at seq %d: %w", seq, err)
		}
		if err := s.pool.Withdraw(provider, numeric.ICUSD(e.Amount)); err != nil {
			return fmt.Errorf("apply withdraw liquidity at seq %d: %w", seq, err)
		}
		s.queueTransfer(e.TransferID, provider, AssetICUSD, e.Amount, kindPayout, seq, timestamp)
		return nil

	case event.LiquidityClaimed:
		provider, err := crypto.NewAddress(e.Provider[:])
		if err != nil {
			return fmt.Errorf("apply claim at seq %d: %w", seq, err)
		}
		s.pool.Claim(provider)
		s.queueTransfer(e.TransferID, provider, AssetICP, e.Amount, kindPayout, seq, timestamp)
		return nil

	case event.TransferCompleted:
		delete(s.pending, e.TransferID)
		return nil

	default:
		return fmt.Errorf("apply: unhandled event %s at seq %d", ev.Kind(), seq)
	}
}

func (s *state) mustVault(id, seq uint64) (*Vault, error) {
	v, ok := s.vaults.get(id)
	if !ok {
		return nil, fmt.Errorf("apply: vault %d missing at seq %d", id, seq)
	}
	return v, nil
}

// redemptionCut is one vault's share of a redemption walk.
type redemptionCut struct {
	vault      *Vault
	debt       numeric.ICUSD
	collateral numeric.ICP
}

// planRedemption walks the registry in ascending collateral ratio and
// carves the budget out of vault debt, skipping under-water vaults. It
// consumes as much of the budget as the registry offers and reports how
// much that was. The walk is deterministic for a given state and price,
// so the live operation and the replay of its event compute identical
// cuts.
func planRedemption(vaults *registry, budget numeric.ICUSD, price numeric.UsdIcp) ([]redemptionCut, numeric.ICP, numeric.ICUSD) {
	remaining := budget
	var cuts []redemptionCut
	var total numeric.ICP
	for _, v := range vaults.sortedByRatio(price) {
		if remaining == 0 {
			break
		}
		if v.Debt == 0 || v.Ratio(price) < parRatio {
			continue
		}
		cut := v.Debt
		if remaining < cut {
			cut = remaining
		}
		collateral, err := numeric.CollateralFor(cut, price)
		if err != nil {
			collateral = v.Collateral
		}
		if collateral > v.Collateral {
			collateral = v.Collateral
		}
		cuts = append(cuts, redemptionCut{vault: v, debt: cut, collateral: collateral})
		total += collateral
		remaining -= cut
	}
	return cuts, total, budget - remaining
}

func (s *state) applyRedemption(e event.RedemptionExecuted, seq, timestamp uint64) error {
	redeemer, err := crypto.NewAddress(e.Redeemer[:])
	if err != nil {
		return fmt.Errorf("apply redemption at seq %d: %w", seq, err)
	}
	supply := s.supply()
	cuts, total, _ := planRedemption(s.vaults, numeric.ICUSD(e.Redeemed), numeric.UsdIcp(e.Rate))
	for _, cut := range cuts {
		cut.vault.Debt -= cut.debt
		cut.vault.Collateral -= cut.collateral
		if cut.vault.empty() {
			s.vaults.remove(cut.vault.ID)
		}
	}
	s.queueTransfer(e.TransferID, redeemer, AssetICP, uint64(total), kindRedemptionPayout, seq, timestamp)
	if e.Fee > 0 && e.FeeTransferID != 0 {
		s.queueTransfer(e.FeeTransferID, s.cfg.Developer, AssetICUSD, e.Fee, kindPayout, seq, timestamp)
	}
	s.feeBase = fees.BumpedBase(s.feeBase, s.elapsedSinceRedemption(timestamp), numeric.ICUSD(e.Redeemed), supply)
	s.lastRedemptionNs = timestamp
	return nil
}

func (s *state) applyRedistribution(e event.Redistributed, seq uint64) error {
	source, err := s.mustVault(e.VaultID, seq)
	if err != nil {
		return err
	}
	var debtMoved numeric.ICUSD
	var collateralMoved numeric.ICP
	for _, entry := range e.Entries {
		v, err := s.mustVault(entry.VaultID, seq)
		if err != nil {
			return err
		}
		v.Collateral += numeric.ICP(entry.Margin)
		v.Debt += numeric.ICUSD(entry.Debt)
		collateralMoved += numeric.ICP(entry.Margin)
		debtMoved += numeric.ICUSD(entry.Debt)
	}
	source.Collateral = numeric.SaturatingSubICP(source.Collateral, collateralMoved)
	source.Debt = numeric.SaturatingSubICUSD(source.Debt, debtMoved)
	return nil
}

func (s *state) applyLiquidation(e event.Liquidated, seq, timestamp uint64) error {
	v, err := s.mustVault(e.VaultID, seq)
	if err != nil {
		return err
	}
	if e.DebtAbsorbed > 0 {
		if err := s.pool.Absorb(numeric.ICUSD(e.DebtAbsorbed), numeric.ICP(e.CollateralToPool)); err != nil {
			return fmt.Errorf("apply liquidation at seq %d: %w", seq, err)
		}
	}
	if e.OwnerRefund > 0 && e.RefundTransferID != 0 {
		s.queueTransfer(e.RefundTransferID, v.Owner, AssetICP, e.OwnerRefund, kindPayout, seq, timestamp)
	}
	v.Collateral = numeric.SaturatingSubICP(v.Collateral, numeric.ICP(e.CollateralToPool)+numeric.ICP(e.OwnerRefund))
	v.Debt = numeric.SaturatingSubICUSD(v.Debt, numeric.ICUSD(e.DebtAbsorbed))
	if !e.Partial {
		s.vaults.remove(v.ID)
	}
	return nil
}
