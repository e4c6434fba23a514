package liquidity

import (
	"errors"
	"testing"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/numeric"
)

func poolAddr(t *testing.T, b byte) crypto.Address {
	t.Helper()
	raw := make([]byte, crypto.AddressLen)
	for i := range raw {
		raw[i] = b
	}
	addr, err := crypto.NewAddress(raw)
	if err != nil {
		t.Fatalf("new address: %v", err)
	}
	return addr
}

func TestAbsorptionCompoundsDepositsAndDistributesCollateral(t *testing.T) {
	bob := poolAddr(t, 0x01)
	carol := poolAddr(t, 0x02)
	pl := New()
	pl.Provide(bob, 120_0000_0000)
	pl.Provide(carol, 80_0000_0000)
	if got := pl.TotalDeposits(); got != 200_0000_0000 {
		t.Fatalf("total: %d", got)
	}
	// 100 icUSD of debt against 27.5 ICP of collateral.
	if err := pl.Absorb(100_0000_0000, 27_5000_0000); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	if got := pl.TotalDeposits(); got != 100_0000_0000 {
		t.Fatalf("total after absorb: %d", got)
	}
	if got := pl.DepositOf(bob); got != 60_0000_0000 {
		t.Fatalf("bob deposit: %d", got)
	}
	if got := pl.DepositOf(carol); got != 40_0000_0000 {
		t.Fatalf("carol deposit: %d", got)
	}
	if got := pl.ClaimableOf(bob); got != 16_5000_0000 {
		t.Fatalf("bob gain: %d", got)
	}
	if got := pl.ClaimableOf(carol); got != 11_0000_0000 {
		t.Fatalf("carol gain: %d", got)
	}
}

func TestValueConservation(t *testing.T) {
	providers := []crypto.Address{poolAddr(t, 0x01), poolAddr(t, 0x02), poolAddr(t, 0x03)}
	amounts := []numeric.ICUSD{37_1234_5678, 91_8765_4321, 55_5555_5555}
	pl := New()
	var total numeric.ICUSD
	for i, p := range providers {
		pl.Provide(p, amounts[i])
		total += amounts[i]
	}
	absorbed := numeric.ICUSD(63_0000_0001)
	collateral := numeric.ICP(17_2500_0003)
	if err := pl.Absorb(absorbed, collateral); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	var depositSum numeric.ICUSD
	var gainSum numeric.ICP
	for _, p := range providers {
		depositSum += pl.DepositOf(p)
		gainSum += pl.ClaimableOf(p)
	}
	wantTotal := total - absorbed
	if pl.TotalDeposits() != wantTotal {
		t.Fatalf("tracked total: got %d want %d", pl.TotalDeposits(), wantTotal)
	}
	if depositSum > wantTotal {
		t.Fatal("compounded deposits exceed tracked total")
	}
	if gainSum > collateral {
		t.Fatal("gains exceed absorbed collateral")
	}
	if diff := uint64(wantTotal) - uint64(depositSum); diff > 3 {
		t.Fatalf("deposit sum drifted by %d e8s", diff)
	}
	if diff := uint64(collateral) - uint64(gainSum); diff > 3 {
		t.Fatalf("gain sum drifted by %d e8s", diff)
	}
}

func TestRefusesAbsorbingWholePool(t *testing.T) {
	alice := poolAddr(t, 0x01)
	pl := New()
	pl.Provide(alice, 100_0000_0000)
	if err := pl.Absorb(100_0000_0000, 30_0000_0000); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("equal debt must be refused, got %v", err)
	}
	if err := pl.Absorb(150_0000_0000, 30_0000_0000); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("excess debt must be refused, got %v", err)
	}
	empty := New()
	if err := empty.Absorb(1, 1); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("empty pool must be refused, got %v", err)
	}
	if pl.CanAbsorb(99_9999_9999) != true {
		t.Fatal("strictly smaller debt should be absorbable")
	}
}

func TestScaleShiftPreservesRemainder(t *testing.T) {
	alice := poolAddr(t, 0x01)
	pl := New()
	pl.Provide(alice, 100_0000_0000)
	// Absorb all but one e8s so the product underflows and rescales.
	if err := pl.Absorb(99_9999_9999, 1_0000_0000); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	if pl.scale != 1 {
		t.Fatalf("scale: got %d want 1", pl.scale)
	}
	if got := pl.TotalDeposits(); got != 1 {
		t.Fatalf("total: got %d want 1", got)
	}
	if got := pl.DepositOf(alice); got != 1 {
		t.Fatalf("deposit across scale shift: got %d want 1", got)
	}
	if got := pl.ClaimableOf(alice); got != 1_0000_0000 {
		t.Fatalf("gain across scale shift: got %d want full collateral", got)
	}
}

func TestGainSpansScaleBoundary(t *testing.T) {
	alice := poolAddr(t, 0x01)
	bob := poolAddr(t, 0x02)
	pl := New()
	pl.Provide(alice, 100_0000_0000)
	if err := pl.Absorb(99_9999_9999, 50_0000_0000); err != nil {
		t.Fatalf("first absorb: %v", err)
	}
	// Refill after the shift; alice's snapshot predates it.
	pl.Provide(bob, 10_0000_0000)
	if err := pl.Absorb(5_0000_0000, 2_0000_0000); err != nil {
		t.Fatalf("second absorb: %v", err)
	}
	gain := pl.ClaimableOf(alice)
	if gain < 50_0000_0000 {
		t.Fatalf("alice gain lost the first-scale segment: %d", gain)
	}
	if gain > 50_0000_0001 {
		t.Fatalf("alice gain overcredited: %d", gain)
	}
	if got := pl.ClaimableOf(bob); got < 1_9999_9998 || got > 2_0000_0000 {
		t.Fatalf("bob gain: %d", got)
	}
}

func TestWithdrawAndClaim(t *testing.T) {
	alice := poolAddr(t, 0x01)
	pl := New()
	pl.Provide(alice, 100_0000_0000)
	if err := pl.Absorb(40_0000_0000, 11_0000_0000); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	if err := pl.Withdraw(alice, 70_0000_0000); !errors.Is(err, ErrInsufficientDeposit) {
		t.Fatalf("overdraw: got %v", err)
	}
	if err := pl.Withdraw(alice, 60_0000_0000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := pl.DepositOf(alice); got != 0 {
		t.Fatalf("deposit after full withdraw: %d", got)
	}
	if got := pl.TotalDeposits(); got != 0 {
		t.Fatalf("total after withdraw: %d", got)
	}
	if got := pl.Claim(alice); got != 11_0000_0000 {
		t.Fatalf("claim: %d", got)
	}
	if got := pl.Claim(alice); got != 0 {
		t.Fatalf("second claim: %d", got)
	}
}

func TestProvideSettlesExistingGain(t *testing.T) {
	alice := poolAddr(t, 0x01)
	pl := New()
	pl.Provide(alice, 50_0000_0000)
	if err := pl.Absorb(10_0000_0000, 3_0000_0000); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	pl.Provide(alice, 20_0000_0000)
	if got := pl.DepositOf(alice); got != 60_0000_0000 {
		t.Fatalf("compounded plus top-up: %d", got)
	}
	if got := pl.ClaimableOf(alice); got != 3_0000_0000 {
		t.Fatalf("gain preserved across top-up: %d", got)
	}
	if got := pl.TotalDeposits(); got != 60_0000_0000 {
		t.Fatalf("total: %d", got)
	}
}
