package protocol

import (
	"time"

	"rumiprotocol/crypto"
	"rumiprotocol/protocol/liquidity"
	"rumiprotocol/protocol/numeric"
)

// Config is the immutable protocol configuration recorded by the init
// event. FeeE8s is the collateral ledger's transfer fee, paid out of
// every outbound ICP amount.
type Config struct {
	FeeE8s      uint64
	IcpLedger   string
	IcusdLedger string
	Oracle      string
	Developer   crypto.Address
}

// state is everything the event log folds to. Every field mutates only
// inside apply, so replaying the log rebuilds an identical value.
type state struct {
	initialized bool
	cfg         Config

	vaults *registry
	pool   *liquidity.Pool

	pending        map[uint64]*PendingTransfer
	nextTransferID uint64

	// Redemption fee state: the decaying base rate and the timestamp of
	// the redemption that last bumped it.
	feeBase          numeric.Ratio
	lastRedemptionNs uint64

	// Operator override pinned by an upgrade event.
	hasOverride bool
	override    Mode
}

func newState() *state {
	return &state{
		vaults:         newRegistry(),
		pool:           liquidity.New(),
		pending:        make(map[uint64]*PendingTransfer),
		nextTransferID: 1,
	}
}

// supply is the outstanding icUSD backed by vaults. Stability-pool
// holdings are burned on deposit and re-minted on withdrawal, so the sum
// of vault debt is the circulating supply.
func (s *state) supply() numeric.ICUSD {
	_, debt := s.vaults.totals()
	return debt
}

// queueTransfer records a payout intent and returns its id. CreatedAt is
// the commit timestamp of the originating event; together with the id it
// forms the ledger dedup key, so replayed retries cannot double-pay.
func (s *state) queueTransfer(id uint64, to crypto.Address, asset Asset, amount uint64, kind transferKind, originSeq, createdAt uint64) {
	s.pending[id] = &PendingTransfer{
		ID:        id,
		To:        to,
		Asset:     asset,
		Amount:    amount,
		CreatedAt: createdAt,
		OriginSeq: originSeq,
		kind:      kind,
	}
	if id >= s.nextTransferID {
		s.nextTransferID = id + 1
	}
}

// elapsedSinceRedemption converts the stored bump timestamp into a
// duration for the fee decay.
func (s *state) elapsedSinceRedemption(nowNs uint64) time.Duration {
	if s.lastRedemptionNs == 0 || nowNs <= s.lastRedemptionNs {
		return 0
	}
	return time.Duration(nowNs - s.lastRedemptionNs)
}
