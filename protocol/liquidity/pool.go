// Package liquidity implements the stability pool. Deposits absorb
// liquidated debt and earn the seized collateral. Instead of touching
// every deposit on absorption, the pool keeps a running product P of
// survival factors and a collateral sum S; a deposit's current value and
// collateral gain follow from comparing today's P and S against the
// snapshot taken when the deposit last changed.
//
// The pool is not safe for concurrent use; callers serialize access.
package liquidity

import (
	"errors"
	"math/big"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/numeric"
)

const (
	// pPrecision is the fixed-point scale of the product P.
	pPrecision = 1_000_000_000_000_000_000
	// sPrecision adds headroom to the collateral sum S so truncation
	// stays below one e8s.
	sPrecision = 1_000_000_000
	// scaleShift rescales P by 1e9 when it would underflow, bumping the
	// scale counter instead of losing precision.
	scaleShift = 1_000_000_000
)

var (
	// ErrPoolExhausted rejects an absorption the pool cannot survive.
	// Absorbing the entire pool would zero the product P, so debt must
	// stay strictly below the total.
	ErrPoolExhausted = errors.New("liquidity: pool cannot absorb debt")
	// ErrInsufficientDeposit rejects a withdrawal above the compounded
	// deposit.
	ErrInsufficientDeposit = errors.New("liquidity: withdrawal exceeds deposit")
)

type deposit struct {
	principal uint64
	p         *big.Int
	s         *big.Int
	scale     uint64
}

// Pool is the stability pool state.
type Pool struct {
	p         *big.Int
	scale     uint64
	sums      map[uint64]*big.Int
	total     numeric.ICUSD
	deposits  map[crypto.Address]*deposit
	claimable map[crypto.Address]numeric.ICP
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{
		p:         big.NewInt(pPrecision),
		sums:      map[uint64]*big.Int{0: big.NewInt(0)},
		deposits:  make(map[crypto.Address]*deposit),
		claimable: make(map[crypto.Address]numeric.ICP),
	}
}

// TotalDeposits returns the compounded icUSD held by the pool.
func (pl *Pool) TotalDeposits() numeric.ICUSD {
	return pl.total
}

// CanAbsorb reports whether the pool survives absorbing debt.
func (pl *Pool) CanAbsorb(debt numeric.ICUSD) bool {
	return debt > 0 && pl.total > debt
}

// Provide adds amount to the provider's deposit. Any collateral gain
// accrued so far moves to the claimable balance before the snapshot is
// refreshed.
func (pl *Pool) Provide(provider crypto.Address, amount numeric.ICUSD) {
	compounded := pl.settle(provider)
	pl.snapshot(provider, compounded+uint64(amount))
	pl.total += amount
}

// Withdraw removes amount from the provider's compounded deposit.
func (pl *Pool) Withdraw(provider crypto.Address, amount numeric.ICUSD) error {
	compounded := pl.settle(provider)
	if uint64(amount) > compounded {
		pl.snapshot(provider, compounded)
		return ErrInsufficientDeposit
	}
	pl.snapshot(provider, compounded-uint64(amount))
	if amount > pl.total {
		amount = pl.total
	}
	pl.total -= amount
	return nil
}

// DepositOf returns the provider's compounded deposit.
func (pl *Pool) DepositOf(provider crypto.Address) numeric.ICUSD {
	dep, ok := pl.deposits[provider]
	if !ok {
		return 0
	}
	return numeric.ICUSD(pl.compound(dep))
}

// ClaimableOf returns the collateral the provider could claim now.
func (pl *Pool) ClaimableOf(provider crypto.Address) numeric.ICP {
	pending := pl.claimable[provider]
	if dep, ok := pl.deposits[provider]; ok {
		pending += pl.gain(dep)
	}
	return pending
}

// Claim zeroes and returns the provider's claimable collateral.
func (pl *Pool) Claim(provider crypto.Address) numeric.ICP {
	compounded := pl.settle(provider)
	pl.snapshot(provider, compounded)
	amount := pl.claimable[provider]
	delete(pl.claimable, provider)
	return amount
}

// Absorb burns debt from the pool and distributes collateral to the
// depositors. The pool must hold strictly more than debt.
func (pl *Pool) Absorb(debt numeric.ICUSD, collateral numeric.ICP) error {
	if !pl.CanAbsorb(debt) {
		return ErrPoolExhausted
	}
	total := new(big.Int).SetUint64(uint64(pl.total))
	// S[scale] += collateral * P * sPrecision / total
	term := new(big.Int).SetUint64(uint64(collateral))
	term.Mul(term, pl.p)
	term.Mul(term, big.NewInt(sPrecision))
	term.Quo(term, total)
	pl.sums[pl.scale] = new(big.Int).Add(pl.currentSum(), term)
	// P *= (total - debt) / total
	remaining := new(big.Int).SetUint64(uint64(pl.total - debt))
	pl.p.Mul(pl.p, remaining)
	pl.p.Quo(pl.p, total)
	if pl.p.Cmp(big.NewInt(scaleShift)) < 0 {
		pl.p.Mul(pl.p, big.NewInt(scaleShift))
		pl.scale++
		if _, ok := pl.sums[pl.scale]; !ok {
			pl.sums[pl.scale] = big.NewInt(0)
		}
	}
	pl.total -= debt
	return nil
}

// settle moves the provider's accrued gain into the claimable balance and
// returns the compounded deposit.
func (pl *Pool) settle(provider crypto.Address) uint64 {
	dep, ok := pl.deposits[provider]
	if !ok {
		return 0
	}
	if gain := pl.gain(dep); gain > 0 {
		pl.claimable[provider] += gain
	}
	return pl.compound(dep)
}

func (pl *Pool) snapshot(provider crypto.Address, principal uint64) {
	if principal == 0 {
		delete(pl.deposits, provider)
		return
	}
	pl.deposits[provider] = &deposit{
		principal: principal,
		p:         new(big.Int).Set(pl.p),
		s:         new(big.Int).Set(pl.currentSum()),
		scale:     pl.scale,
	}
}

// compound returns principal * P_now / P_snap, shifted once if the scale
// advanced. Two or more shifts leave less than one e8s.
func (pl *Pool) compound(dep *deposit) uint64 {
	if dep.principal == 0 {
		return 0
	}
	switch pl.scale - dep.scale {
	case 0:
		return mulQuo(dep.principal, pl.p, dep.p)
	case 1:
		v := new(big.Int).SetUint64(dep.principal)
		v.Mul(v, pl.p)
		v.Quo(v, dep.p)
		v.Quo(v, big.NewInt(scaleShift))
		return clampUint64(v)
	default:
		return 0
	}
}

// gain returns the collateral earned since the snapshot, aggregating the
// snapshot scale and the one after it.
func (pl *Pool) gain(dep *deposit) numeric.ICP {
	first, ok := pl.sums[dep.scale]
	if !ok {
		return 0
	}
	delta := new(big.Int).Sub(first, dep.s)
	if next, ok := pl.sums[dep.scale+1]; ok {
		delta.Add(delta, new(big.Int).Quo(next, big.NewInt(scaleShift)))
	}
	if delta.Sign() <= 0 {
		return 0
	}
	v := new(big.Int).SetUint64(dep.principal)
	v.Mul(v, delta)
	v.Quo(v, dep.p)
	v.Quo(v, big.NewInt(sPrecision))
	return numeric.ICP(clampUint64(v))
}

func (pl *Pool) currentSum() *big.Int {
	sum, ok := pl.sums[pl.scale]
	if !ok {
		sum = big.NewInt(0)
		pl.sums[pl.scale] = sum
	}
	return sum
}

func mulQuo(a uint64, num, den *big.Int) uint64 {
	v := new(big.Int).SetUint64(a)
	v.Mul(v, num)
	v.Quo(v, den)
	return clampUint64(v)
}

func clampUint64(v *big.Int) uint64 {
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
