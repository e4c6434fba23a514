package protocol

import (
	"context"
	"errors"
	"testing"

	"rumiprotocol/protocol/fees"
	"rumiprotocol/protocol/numeric"
)

func TestRedeemAgainstRiskiestVault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := testAddr(0x0A)
	b := testAddr(0x0B)
	redeemer := testAddr(0x1E)

	// A carries far more debt per collateral than B, so the walk starts
	// there.
	idA := env.openVault(a, 10*numeric.E8s)
	env.borrow(a, idA, numeric.ICUSD(60*numeric.E8s))
	idB := env.openVault(b, 10*numeric.E8s)
	env.borrow(b, idB, numeric.ICUSD(20*numeric.E8s))
	va, _ := env.e.GetVault(idA)
	vb, _ := env.e.GetVault(idB)

	supply := va.Debt + vb.Debt
	amount := numeric.ICUSD(10 * numeric.E8s)
	wantRate := fees.RedemptionRate(baseFeeRate, 0, 0, supply)
	wantFee := fees.Apply(amount, wantRate)
	budget := amount - wantFee
	price := numeric.UsdIcp(10 * numeric.PriceScale)
	wantCollateral, err := numeric.CollateralFor(budget, price)
	if err != nil {
		t.Fatalf("collateral for budget: %v", err)
	}

	env.icusd.SetBalance(redeemer, uint64(amount))
	env.approveICUSD(redeemer, uint64(amount))
	res, err := env.e.Redeem(ctx, redeemer, amount)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Fee != wantFee {
		t.Fatalf("redemption fee: got %d want %d", res.Fee, wantFee)
	}
	if !res.Payout.Settled {
		t.Fatalf("payout not settled: %+v", res.Payout)
	}

	after, _ := env.e.GetVault(idA)
	if after.Debt != va.Debt-budget {
		t.Fatalf("vault A debt: got %d want %d", after.Debt, va.Debt-budget)
	}
	if after.Collateral != va.Collateral-wantCollateral {
		t.Fatalf("vault A collateral: got %d want %d", after.Collateral, va.Collateral-wantCollateral)
	}
	if got, _ := env.e.GetVault(idB); got != vb {
		t.Fatalf("vault B touched by redemption: %+v", got)
	}
	if bal, _ := env.icp.BalanceOf(ctx, redeemer); bal != uint64(wantCollateral)-testLedgerFee {
		t.Fatalf("redeemer collateral: got %d want %d", bal, uint64(wantCollateral)-testLedgerFee)
	}
	// The withheld fee mints to the developer as icUSD.
	if bal, _ := env.icusd.BalanceOf(ctx, env.dev); bal != uint64(wantFee) {
		t.Fatalf("developer fee: got %d want %d", bal, wantFee)
	}
	if env.e.st.feeBase != fees.BumpedBase(0, 0, budget, supply) {
		t.Fatalf("fee base after redemption: %v", env.e.st.feeBase)
	}
	if env.e.st.feeBase == 0 {
		t.Fatal("redemption must bump the base rate")
	}
}

func TestRedeemCrossesIntoNextVault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	a := testAddr(0x0A)
	b := testAddr(0x0B)
	redeemer := testAddr(0x1E)

	idA := env.openVault(a, 10*numeric.E8s)
	env.borrow(a, idA, numeric.ICUSD(60*numeric.E8s))
	idB := env.openVault(b, 10*numeric.E8s)
	env.borrow(b, idB, numeric.ICUSD(20*numeric.E8s))
	va, _ := env.e.GetVault(idA)
	vb, _ := env.e.GetVault(idB)

	supply := va.Debt + vb.Debt
	amount := numeric.ICUSD(70 * numeric.E8s)
	fee := fees.Apply(amount, fees.RedemptionRate(baseFeeRate, 0, 0, supply))
	budget := amount - fee
	if budget <= va.Debt {
		t.Fatalf("test needs the budget to clear vault A: %d vs %d", budget, va.Debt)
	}

	env.icusd.SetBalance(redeemer, uint64(amount))
	env.approveICUSD(redeemer, uint64(amount))
	if _, err := env.e.Redeem(ctx, redeemer, amount); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// A is cleared of debt but keeps its excess collateral; the rest of
	// the budget comes out of B.
	after, ok := env.e.GetVault(idA)
	if !ok {
		t.Fatal("vault A must survive with residual collateral")
	}
	if after.Debt != 0 {
		t.Fatalf("vault A debt: %d", after.Debt)
	}
	spill := budget - va.Debt
	afterB, _ := env.e.GetVault(idB)
	if afterB.Debt != vb.Debt-spill {
		t.Fatalf("vault B debt: got %d want %d", afterB.Debt, vb.Debt-spill)
	}
}

func TestRedeemSkipsUnderwaterVaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	whale := testAddr(0x0F)
	a := testAddr(0x0A)
	b := testAddr(0x0B)
	redeemer := testAddr(0x1E)

	env.openVault(whale, 1000*numeric.E8s)
	idA := env.openVault(a, 10*numeric.E8s)
	env.borrow(a, idA, numeric.ICUSD(60*numeric.E8s))
	idB := env.openVault(b, 50*numeric.E8s)
	env.borrow(b, idB, numeric.ICUSD(20*numeric.E8s))
	va, _ := env.e.GetVault(idA)
	vb, _ := env.e.GetVault(idB)

	// At $5.80 vault A is under water (0.96) while the whale keeps the
	// protocol in normal operation. Redemptions walk past A: eating its
	// debt at par would strip more value than it holds.
	env.setPrice(numeric.UsdIcp(580_000_000))
	if env.e.Mode() != ModeGeneralAvailability {
		t.Fatalf("mode: %v", env.e.Mode())
	}

	amount := numeric.ICUSD(10 * numeric.E8s)
	env.icusd.SetBalance(redeemer, uint64(amount))
	env.approveICUSD(redeemer, uint64(amount))
	if _, err := env.e.Redeem(ctx, redeemer, amount); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got, _ := env.e.GetVault(idA); got != va {
		t.Fatalf("underwater vault touched: %+v", got)
	}
	afterB, _ := env.e.GetVault(idB)
	if afterB.Debt >= vb.Debt {
		t.Fatalf("vault B debt not reduced: %d", afterB.Debt)
	}
}

func TestRedeemRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	redeemer := testAddr(0x1E)

	var tooLow *AmountTooLowError
	if _, err := env.e.Redeem(ctx, redeemer, MinRedemption-1); !errors.As(err, &tooLow) {
		t.Fatalf("below minimum: %v", err)
	}

	// No vault debt at all: the budget cannot be consumed.
	env.icusd.SetBalance(redeemer, uint64(MinRedemption))
	env.approveICUSD(redeemer, uint64(MinRedemption))
	if _, err := env.e.Redeem(ctx, redeemer, MinRedemption); !errors.Is(err, ErrRedeemExceedsDebt) {
		t.Fatalf("no debt to redeem against: %v", err)
	}
}
