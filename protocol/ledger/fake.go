package ledger

import (
	"context"
	"sync"

	"rumiprotocol/crypto"
)

type dedupKey struct {
	from      crypto.Address
	to        crypto.Address
	amount    uint64
	memo      uint64
	createdAt uint64
}

// Fake is an in-memory ledger for tests and local runs. When a minting
// account is set, transfers out of it mint and pulls into it burn, both
// fee-exempt, mirroring the icUSD deployment. Errors can be scripted with
// FailNext to exercise retry paths.
type Fake struct {
	mu         sync.Mutex
	self       crypto.Address
	minting    crypto.Address
	hasMinting bool
	fee        uint64
	balances   map[crypto.Address]uint64
	approvals  map[crypto.Address]uint64
	dedup      map[dedupKey]uint64
	nextBlock  uint64
	scripted   []error
}

// NewFake returns a ledger whose protocol account is self, charging fee
// on ordinary transfers.
func NewFake(self crypto.Address, fee uint64) *Fake {
	return &Fake{
		self:      self,
		fee:       fee,
		balances:  make(map[crypto.Address]uint64),
		approvals: make(map[crypto.Address]uint64),
		dedup:     make(map[dedupKey]uint64),
	}
}

// NewMintingFake returns a ledger where self is also the minting account.
func NewMintingFake(self crypto.Address, fee uint64) *Fake {
	f := NewFake(self, fee)
	f.minting = self
	f.hasMinting = true
	return f
}

// SetBalance seeds an account balance.
func (f *Fake) SetBalance(owner crypto.Address, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[owner] = amount
}

// Approve lets the protocol pull up to amount from owner.
func (f *Fake) Approve(owner crypto.Address, amount uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approvals[owner] = amount
}

// SetFee changes the ledger fee, as a fee upgrade on the live ledger
// would.
func (f *Fake) SetFee(fee uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fee = fee
}

// FailNext scripts err as the outcome of the next transfer call.
func (f *Fake) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripted = append(f.scripted, err)
}

// Supply sums every balance outside the minting account.
func (f *Fake) Supply() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total uint64
	for owner, balance := range f.balances {
		if f.hasMinting && owner == f.minting {
			continue
		}
		total += balance
	}
	return total
}

func (f *Fake) BalanceOf(_ context.Context, owner crypto.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[owner], nil
}

func (f *Fake) Fee(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fee, nil
}

func (f *Fake) Transfer(_ context.Context, args TransferArgs) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popScripted(); err != nil {
		return 0, err
	}
	key := dedupKey{from: f.self, to: args.To, amount: args.Amount, memo: args.Memo, createdAt: args.CreatedAt}
	if block, ok := f.dedup[key]; ok && args.CreatedAt != 0 {
		return 0, &TransferError{Code: ErrCodeDuplicate, DuplicateOf: block}
	}
	minting := f.hasMinting && (f.self == f.minting || args.To == f.minting)
	wantFee := f.fee
	if minting {
		wantFee = 0
	}
	if args.Fee != wantFee {
		return 0, &TransferError{Code: ErrCodeBadFee, ExpectedFee: wantFee}
	}
	if !(f.hasMinting && f.self == f.minting) {
		needed := args.Amount + wantFee
		if f.balances[f.self] < needed {
			return 0, &TransferError{Code: ErrCodeInsufficientFunds, Balance: f.balances[f.self]}
		}
		f.balances[f.self] -= needed
	}
	if !(f.hasMinting && args.To == f.minting) {
		f.balances[args.To] += args.Amount
	}
	return f.commit(key), nil
}

func (f *Fake) TransferFrom(_ context.Context, args TransferFromArgs) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.popScripted(); err != nil {
		return 0, err
	}
	key := dedupKey{from: args.From, to: f.self, amount: args.Amount, memo: args.Memo, createdAt: args.CreatedAt}
	if block, ok := f.dedup[key]; ok && args.CreatedAt != 0 {
		return 0, &TransferError{Code: ErrCodeDuplicate, DuplicateOf: block}
	}
	if f.approvals[args.From] < args.Amount {
		return 0, &TransferError{Code: ErrCodeInsufficientAllowance, Allowance: f.approvals[args.From]}
	}
	burn := f.hasMinting && f.self == f.minting
	needed := args.Amount
	if !burn {
		needed += f.fee
	}
	if f.balances[args.From] < needed {
		return 0, &TransferError{Code: ErrCodeInsufficientFunds, Balance: f.balances[args.From]}
	}
	f.approvals[args.From] -= args.Amount
	f.balances[args.From] -= needed
	if !burn {
		f.balances[f.self] += args.Amount
	}
	return f.commit(key), nil
}

func (f *Fake) popScripted() error {
	if len(f.scripted) == 0 {
		return nil
	}
	err := f.scripted[0]
	f.scripted = f.scripted[1:]
	return err
}

func (f *Fake) commit(key dedupKey) uint64 {
	block := f.nextBlock
	f.nextBlock++
	if key.createdAt != 0 {
		f.dedup[key] = block
	}
	return block
}
