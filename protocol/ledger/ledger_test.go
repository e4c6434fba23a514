package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"rumiprotocol/crypto"
)

func testAddr(t *testing.T, b byte) crypto.Address {
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

func TestFakeTransferChargesFee(t *testing.T) {
	self := testAddr(t, 0x01)
	user := testAddr(t, 0x02)
	f := NewFake(self, 10_000)
	f.SetBalance(self, 1_0000_0000)
	block, err := f.Transfer(context.Background(), TransferArgs{To: user, Amount: 5000_0000, Fee: 10_000, CreatedAt: 1})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if block != 0 {
		t.Fatalf("block: got %d want 0", block)
	}
	selfBal, _ := f.BalanceOf(context.Background(), self)
	userBal, _ := f.BalanceOf(context.Background(), user)
	if selfBal != 1_0000_0000-5000_0000-10_000 {
		t.Fatalf("sender balance: %d", selfBal)
	}
	if userBal != 5000_0000 {
		t.Fatalf("recipient balance: %d", userBal)
	}
}

func TestFakeBadFee(t *testing.T) {
	self := testAddr(t, 0x01)
	user := testAddr(t, 0x02)
	f := NewFake(self, 10_000)
	f.SetBalance(self, 1_0000_0000)
	_, err := f.Transfer(context.Background(), TransferArgs{To: user, Amount: 100, Fee: 9_000, CreatedAt: 1})
	te, ok := AsTransferError(err)
	if !ok || te.Code != ErrCodeBadFee {
		t.Fatalf("expected bad fee, got %v", err)
	}
	if te.ExpectedFee != 10_000 {
		t.Fatalf("expected fee hint 10000, got %d", te.ExpectedFee)
	}
}

func TestFakeDuplicateDedup(t *testing.T) {
	self := testAddr(t, 0x01)
	user := testAddr(t, 0x02)
	f := NewFake(self, 0)
	f.SetBalance(self, 1_0000_0000)
	args := TransferArgs{To: user, Amount: 100, Memo: 7, CreatedAt: 99}
	block, err := f.Transfer(context.Background(), args)
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	_, err = f.Transfer(context.Background(), args)
	dup, ok := IsDuplicate(err)
	if !ok {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if dup != block {
		t.Fatalf("duplicate of: got %d want %d", dup, block)
	}
}

func TestFakeMintAndBurnTrackSupply(t *testing.T) {
	self := testAddr(t, 0x01)
	user := testAddr(t, 0x02)
	f := NewMintingFake(self, 1_000)
	if _, err := f.Transfer(context.Background(), TransferArgs{To: user, Amount: 50_0000_0000, CreatedAt: 1}); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if got := f.Supply(); got != 50_0000_0000 {
		t.Fatalf("supply after mint: %d", got)
	}
	f.Approve(user, 20_0000_0000)
	if _, err := f.TransferFrom(context.Background(), TransferFromArgs{From: user, Amount: 20_0000_0000, CreatedAt: 2}); err != nil {
		t.Fatalf("burn: %v", err)
	}
	if got := f.Supply(); got != 30_0000_0000 {
		t.Fatalf("supply after burn: %d", got)
	}
	bal, _ := f.BalanceOf(context.Background(), user)
	if bal != 30_0000_0000 {
		t.Fatalf("user balance after burn: %d", bal)
	}
}

func TestFakeTransferFromAllowance(t *testing.T) {
	self := testAddr(t, 0x01)
	user := testAddr(t, 0x02)
	f := NewFake(self, 0)
	f.SetBalance(user, 1_0000_0000)
	_, err := f.TransferFrom(context.Background(), TransferFromArgs{From: user, Amount: 500, CreatedAt: 1})
	te, ok := AsTransferError(err)
	if !ok || te.Code != ErrCodeInsufficientAllowance {
		t.Fatalf("expected allowance rejection, got %v", err)
	}
	f.Approve(user, 600)
	if _, err := f.TransferFrom(context.Background(), TransferFromArgs{From: user, Amount: 500, CreatedAt: 2}); err != nil {
		t.Fatalf("pull: %v", err)
	}
	bal, _ := f.BalanceOf(context.Background(), self)
	if bal != 500 {
		t.Fatalf("pulled balance: %d", bal)
	}
}

func TestFakeScriptedFailure(t *testing.T) {
	self := testAddr(t, 0x01)
	user := testAddr(t, 0x02)
	f := NewFake(self, 0)
	f.SetBalance(self, 1_000)
	f.FailNext(&TransferError{Code: ErrCodeTemporarilyUnavailable})
	if _, err := f.Transfer(context.Background(), TransferArgs{To: user, Amount: 10, CreatedAt: 1}); err == nil {
		t.Fatal("expected scripted failure")
	}
	if _, err := f.Transfer(context.Background(), TransferArgs{To: user, Amount: 10, CreatedAt: 2}); err != nil {
		t.Fatalf("transfer after scripted failure: %v", err)
	}
}

func TestHTTPClientTransfer(t *testing.T) {
	user := testAddr(t, 0x03)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/transfer" {
			t.Errorf("path: %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["to"] != user.String() {
			t.Errorf("to: %v", req["to"])
		}
		json.NewEncoder(w).Encode(map[string]uint64{"block_index": 42})
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, srv.Client())
	block, err := c.Transfer(context.Background(), TransferArgs{To: user, Amount: 7, Fee: 1, CreatedAt: 9})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if block != 42 {
		t.Fatalf("block: got %d want 42", block)
	}
}

func TestHTTPClientSurfacesTransferError(t *testing.T) {
	user := testAddr(t, 0x03)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": ErrCodeBadFee, "expected_fee_e8s": 12_345},
		})
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, srv.Client())
	_, err := c.Transfer(context.Background(), TransferArgs{To: user, Amount: 7})
	te, ok := AsTransferError(err)
	if !ok || te.Code != ErrCodeBadFee || te.ExpectedFee != 12_345 {
		t.Fatalf("expected bad fee error, got %v", err)
	}
}

func TestHTTPClientFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/fee" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]uint64{"fee_e8s": 10_000})
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, srv.Client())
	fee, err := c.Fee(context.Background())
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee != 10_000 {
		t.Fatalf("fee: got %d want 10000", fee)
	}
}
