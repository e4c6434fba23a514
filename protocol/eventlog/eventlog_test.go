package eventlog

import (
	"testing"

	"rumiprotocol/protocol/event"
	"rumiprotocol/storage"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	return New(storage.NewMemDB())
}

func TestAppendAssignsDenseSequences(t *testing.T) {
	log := newLog(t)
	for i := 0; i < 5; i++ {
		seq, err := log.Append(uint64(100+i), event.MarginAdded{VaultID: 1, Amount: uint64(i)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if seq != uint64(i) {
			t.Fatalf("seq: got %d want %d", seq, i)
		}
	}
	head, err := log.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 5 {
		t.Fatalf("head: got %d want 5", head)
	}
}

func TestReplayPreservesOrderAndPayload(t *testing.T) {
	log := newLog(t)
	var owner [20]byte
	owner[0] = 0xaa
	committed := []event.Event{
		event.VaultOpened{VaultID: 1, Owner: owner, Margin: 10_0000_0000, BlockIndex: 3},
		event.Borrowed{VaultID: 1, Amount: 50_0000_0000, Fee: 25_000_000, BlockIndex: 4, FeeTransferID: 1},
		event.Repaid{VaultID: 1, Amount: 50_2500_0000, BlockIndex: 5},
		event.VaultClosed{VaultID: 1},
	}
	for i, ev := range committed {
		if _, err := log.Append(uint64(i), ev); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	var replayed []event.Event
	err := log.Replay(func(rec event.Record) error {
		ev, err := event.Decode(rec)
		if err != nil {
			return err
		}
		replayed = append(replayed, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(replayed) != len(committed) {
		t.Fatalf("replayed %d events, want %d", len(replayed), len(committed))
	}
	for i := range committed {
		if replayed[i].Kind() != committed[i].Kind() {
			t.Fatalf("event %d: got %s want %s", i, replayed[i].Kind(), committed[i].Kind())
		}
	}
	borrowed, ok := replayed[1].(event.Borrowed)
	if !ok || borrowed.Fee != 25_000_000 {
		t.Fatalf("borrowed payload lost: %+v", replayed[1])
	}
}

func TestRangeHonoursOffsetAndLimit(t *testing.T) {
	log := newLog(t)
	for i := 0; i < 10; i++ {
		if _, err := log.Append(uint64(i), event.MarginAdded{VaultID: 2, Amount: uint64(i)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	records, err := log.Range(4, 3)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Seq != 4 || records[2].Seq != 6 {
		t.Fatalf("unexpected window: first %d last %d", records[0].Seq, records[2].Seq)
	}
	records, err = log.Range(8, 0)
	if err != nil {
		t.Fatalf("range tail: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("tail: got %d records, want 2", len(records))
	}
	records, err = log.Range(10, 5)
	if err != nil {
		t.Fatalf("range past head: %v", err)
	}
	if records != nil {
		t.Fatalf("expected nil past head, got %d", len(records))
	}
}

func TestByVaultIndexesTouchedVaults(t *testing.T) {
	log := newLog(t)
	var owner [20]byte
	if _, err := log.Append(0, event.VaultOpened{VaultID: 1, Owner: owner, Margin: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.Append(1, event.VaultOpened{VaultID: 2, Owner: owner, Margin: 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.Append(2, event.Redistributed{VaultID: 3, Entries: []event.RedistributedEntry{{VaultID: 1, Margin: 5, Debt: 6}, {VaultID: 2, Margin: 7, Debt: 8}}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := log.Append(3, event.LiquidityProvided{Provider: owner, Amount: 9}); err != nil {
		t.Fatalf("append: %v", err)
	}
	seqs, err := log.ByVault(1)
	if err != nil {
		t.Fatalf("by vault: %v", err)
	}
	if len(seqs) != 2 || seqs[0] != 0 || seqs[1] != 2 {
		t.Fatalf("vault 1 index: %v", seqs)
	}
	seqs, err = log.ByVault(3)
	if err != nil {
		t.Fatalf("by vault: %v", err)
	}
	if len(seqs) != 1 || seqs[0] != 2 {
		t.Fatalf("vault 3 index: %v", seqs)
	}
	seqs, err = log.ByVault(9)
	if err != nil {
		t.Fatalf("by vault: %v", err)
	}
	if seqs != nil {
		t.Fatalf("expected empty index, got %v", seqs)
	}
}

func TestHeadSurvivesReopen(t *testing.T) {
	db := storage.NewMemDB()
	log := New(db)
	if _, err := log.Append(1, event.MarginAdded{VaultID: 1, Amount: 2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	reopened := New(db)
	head, err := reopened.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 1 {
		t.Fatalf("head after reopen: got %d want 1", head)
	}
	rec, err := reopened.Record(0)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if rec.Kind != event.KindMarginAdded {
		t.Fatalf("kind: %s", rec.Kind)
	}
}
