package protocol

import (
	"testing"

	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/numeric"
)

func TestStatusSnapshot(t *testing.T) {
	env := newTestEnv(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	idA := env.openVault(alice, 10*numeric.E8s)
	env.openVault(bob, 5*numeric.E8s)
	env.borrow(alice, idA, numeric.ICUSD(40*numeric.E8s))

	st := env.e.Status()
	if st.Mode != ModeGeneralAvailability {
		t.Fatalf("mode: %v", st.Mode)
	}
	if st.VaultCount != 2 {
		t.Fatalf("vault count: %d", st.VaultCount)
	}
	if st.TotalCollateral != 15*numeric.E8s {
		t.Fatalf("total collateral: %d", st.TotalCollateral)
	}
	va, _ := env.e.GetVault(idA)
	if st.TotalDebt != va.Debt {
		t.Fatalf("total debt: got %d want %d", st.TotalDebt, va.Debt)
	}
	if st.Rate != 10*numeric.PriceScale {
		t.Fatalf("rate: %v", st.Rate)
	}
	if st.TotalRatio != numeric.CollateralRatio(st.TotalCollateral, st.TotalDebt, st.Rate) {
		t.Fatalf("total ratio: %v", st.TotalRatio)
	}
	if st.PendingCount != 0 {
		t.Fatalf("pending count: %d", st.PendingCount)
	}
}

func TestFeesQuoteTracksSupply(t *testing.T) {
	env := newTestEnv(t)
	alice := testAddr(0x01)
	id := env.openVault(alice, 10*numeric.E8s)

	before := env.e.Fees()
	if before.BorrowRate != baseFeeRate || before.RedemptionRate != baseFeeRate {
		t.Fatalf("quotes at zero supply: %+v", before)
	}
	env.borrow(alice, id, numeric.ICUSD(40*numeric.E8s))
	after := env.e.Fees()
	if after.BorrowRate <= before.BorrowRate {
		t.Fatalf("borrow rate must rise with supply: %v", after.BorrowRate)
	}
}

func TestEventsPaging(t *testing.T) {
	env := newTestEnv(t)
	alice := testAddr(0x01)
	env.openVault(alice, 10*numeric.E8s)

	records, err := env.e.Events(1, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records: %d", len(records))
	}
	first, err := event.Decode(records[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := first.(event.Init); !ok {
		t.Fatalf("first event: %T", first)
	}
	second, err := event.Decode(records[1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := second.(event.VaultOpened); !ok {
		t.Fatalf("second event: %T", second)
	}
}

func TestProtocolConfigQuery(t *testing.T) {
	env := newTestEnv(t)
	cfg, ok := env.e.ProtocolConfig()
	if !ok {
		t.Fatal("config must be recorded")
	}
	if cfg.Developer != env.dev || cfg.FeeE8s != testLedgerFee {
		t.Fatalf("config: %+v", cfg)
	}
	if cfg.IcpLedger != "icp.test" || cfg.IcusdLedger != "icusd.test" || cfg.Oracle != "xrc.test" {
		t.Fatalf("ledger ids: %+v", cfg)
	}
}

func TestVaultsOfOrdering(t *testing.T) {
	env := newTestEnv(t)
	alice := testAddr(0x01)
	bob := testAddr(0x02)
	first := env.openVault(alice, numeric.ICP(numeric.E8s))
	env.openVault(bob, numeric.ICP(numeric.E8s))
	second := env.openVault(alice, 2*numeric.E8s)

	vaults := env.e.VaultsOf(alice)
	if len(vaults) != 2 || vaults[0].ID != first || vaults[1].ID != second {
		t.Fatalf("vaults of alice: %+v", vaults)
	}
	if env.e.VaultsOf(testAddr(0x09)) != nil {
		t.Fatal("stranger must own nothing")
	}
}
