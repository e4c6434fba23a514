package numeric

import (
	"errors"
	"math"
	"testing"
)

func TestCollateralRatio(t *testing.T) {
	// 2 ICP backing 1 icUSD at 1 USD/ICP is a ratio of exactly 2.
	if got := CollateralRatio(2*E8s, 1*E8s, 1*PriceScale); got != Ratio(2*RatioScale) {
		t.Fatalf("ratio = %v, want 2.0", got)
	}
	// 10 ICP backing 50.25 icUSD at 10 USD/ICP: 100/50.25, half rounds up here
	// because the fractional part exceeds one half.
	got := CollateralRatio(10*E8s, 5_025_000_000, 10*PriceScale)
	if got != Ratio(19_900_497_512_437_811) {
		t.Fatalf("ratio = %d, want 19900497512437811", got)
	}
	if !CollateralRatio(10*E8s, 0, 10*PriceScale).IsInfinite() {
		t.Fatalf("zero debt must yield an infinite ratio")
	}
}

func TestCollateralRatioSaturates(t *testing.T) {
	got := CollateralRatio(math.MaxUint64, 1, math.MaxUint64)
	if got != RatioInfinity {
		t.Fatalf("expected saturation to infinity, got %d", got)
	}
}

func TestIcusdValue(t *testing.T) {
	value, err := IcusdValue(7*E8s, 6*PriceScale)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if value != 42*E8s {
		t.Fatalf("value = %d, want %d", value, 42*E8s)
	}
	if _, err := IcusdValue(math.MaxUint64, math.MaxUint64); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestCollateralFor(t *testing.T) {
	// 3.98 icUSD at 10 USD/ICP buys 0.398 ICP.
	coll, err := CollateralFor(398_000_000, 10*PriceScale)
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	if coll != 39_800_000 {
		t.Fatalf("collateral = %d, want 39800000", coll)
	}
	if _, err := CollateralFor(1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestMaxBorrowable(t *testing.T) {
	min := RatioFromPercent(133)
	// 10 ICP at 10 USD/ICP is 100 USD of value; at 1.33 that caps borrowing
	// at 75.18796992 icUSD.
	cap0, err := MaxBorrowable(10*E8s, 10*PriceScale, 0, min)
	if err != nil {
		t.Fatalf("max borrowable: %v", err)
	}
	if cap0 != 7_518_796_992 {
		t.Fatalf("cap = %d, want 7518796992", cap0)
	}
	capHalf, err := MaxBorrowable(10*E8s, 10*PriceScale, 50*E8s, min)
	if err != nil {
		t.Fatalf("max borrowable with debt: %v", err)
	}
	if capHalf != 7_518_796_992-50*E8s {
		t.Fatalf("cap = %d, want %d", capHalf, 7_518_796_992-50*E8s)
	}
	over, err := MaxBorrowable(10*E8s, 10*PriceScale, 80*E8s, min)
	if err != nil {
		t.Fatalf("max borrowable above cap: %v", err)
	}
	if over != 0 {
		t.Fatalf("cap = %d, want 0", over)
	}
}

func TestCollateralAt(t *testing.T) {
	// Collateral that holds 50 icUSD at exactly 1.33 with ICP at 6 USD.
	coll, err := CollateralAt(50*E8s, RatioFromPercent(133), 6*PriceScale)
	if err != nil {
		t.Fatalf("collateral at: %v", err)
	}
	if coll != 1_108_333_334 {
		t.Fatalf("collateral = %d, want 1108333334", coll)
	}
	// Rounding up keeps the carved-out position at or above the target.
	if CollateralRatio(coll, 50*E8s, 6*PriceScale) < RatioFromPercent(133) {
		t.Fatalf("carved position landed below target ratio")
	}
}

func TestRoundingModes(t *testing.T) {
	// IcusdValue rounds half down: 1 e8s of collateral at 0.50000001 USD
	// carries a remainder of exactly one half plus epsilon.
	v, err := IcusdValue(1, 50_000_000)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != 0 {
		t.Fatalf("exact half must round down, got %d", v)
	}
	v, err = IcusdValue(3, 50_000_000)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != 1 {
		t.Fatalf("1.5 half-down = %d, want 1", v)
	}
}

func TestProRataSplits(t *testing.T) {
	// 7 ICP split by a 10/30 collateral weight share.
	part, err := ProRataICP(7*E8s, 10*E8s, 30*E8s)
	if err != nil {
		t.Fatalf("pro rata: %v", err)
	}
	if part != 233_333_333 {
		t.Fatalf("share = %d, want 233333333", part)
	}
	debtPart, err := ProRataICUSD(50*E8s, 10*E8s, 30*E8s)
	if err != nil {
		t.Fatalf("pro rata debt: %v", err)
	}
	if debtPart != 1_666_666_667 {
		t.Fatalf("debt share = %d, want 1666666667", debtPart)
	}
	if _, err := ProRataICP(1, 1, 0); !errors.Is(err, ErrDivisionByZero) {
		t.Fatalf("expected division by zero, got %v", err)
	}
}

func TestSaturatingAndChecked(t *testing.T) {
	if got := SaturatingSubICP(5, 7); got != 0 {
		t.Fatalf("saturating sub = %d, want 0", got)
	}
	if got := SaturatingSubICUSD(7, 5); got != 2 {
		t.Fatalf("saturating sub = %d, want 2", got)
	}
	if _, err := CheckedAddICP(math.MaxUint64, 1); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	sum, err := CheckedAddICUSD(40*E8s, 2*E8s)
	if err != nil || sum != 42*E8s {
		t.Fatalf("checked add = %d, %v", sum, err)
	}
}

func TestFormatting(t *testing.T) {
	if got := ICP(150_000_000).String(); got != "1.5 ICP" {
		t.Fatalf("format = %q", got)
	}
	if got := ICUSD(25_000_000).String(); got != "0.25 icUSD" {
		t.Fatalf("format = %q", got)
	}
	if got := Ratio(2 * RatioScale).String(); got != "2" {
		t.Fatalf("format = %q", got)
	}
	if got := RatioFromPercent(133).String(); got != "1.33" {
		t.Fatalf("format = %q", got)
	}
	if got := RatioInfinity.String(); got != "inf" {
		t.Fatalf("format = %q", got)
	}
}
