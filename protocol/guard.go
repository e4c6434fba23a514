package protocol

import (
	"sync"
	"time"

	"rumiprotocol/crypto"
)

// opKind partitions the reentrancy guard: a caller may run one vault
// operation and one liquidity operation concurrently, but never two of
// the same kind.
type opKind uint8

const (
	opVault opKind = iota
	opLiquidity
)

const (
	// guardExpiry sweeps entries abandoned by a crashed handler.
	guardExpiry = 5 * time.Minute
	// maxConcurrentOps caps in-flight operations across all callers.
	maxConcurrentOps = 100
)

type guardEntry struct {
	caller crypto.Address
	kind   opKind
}

// guardSet serializes operations per (caller, kind) and holds the
// singleton slot shared by redemption, liquidation and the pending
// worker.
type guardSet struct {
	mu      sync.Mutex
	held    map[guardEntry]time.Time
	batch   bool
	batchAt time.Time
}

func newGuardSet() *guardSet {
	return &guardSet{held: make(map[guardEntry]time.Time)}
}

// acquire takes the (caller, kind) slot or fails with errAlreadyProcessing.
func (g *guardSet) acquire(caller crypto.Address, kind opKind, now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweep(now)
	if len(g.held) >= maxConcurrentOps {
		return &UnavailableError{Reason: "too many concurrent operations"}
	}
	key := guardEntry{caller: caller, kind: kind}
	if _, ok := g.held[key]; ok {
		return errAlreadyProcessing
	}
	g.held[key] = now
	return nil
}

func (g *guardSet) release(caller crypto.Address, kind opKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, guardEntry{caller: caller, kind: kind})
}

// acquireBatch takes the redemption/liquidation singleton.
func (g *guardSet) acquireBatch(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.batch && now.Sub(g.batchAt) < guardExpiry {
		return errAlreadyProcessing
	}
	g.batch = true
	g.batchAt = now
	return nil
}

func (g *guardSet) releaseBatch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.batch = false
}

// sweep drops entries older than guardExpiry. Runs under g.mu.
func (g *guardSet) sweep(now time.Time) {
	for key, at := range g.held {
		if now.Sub(at) >= guardExpiry {
			delete(g.held, key)
		}
	}
}
