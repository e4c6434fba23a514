package protocol

import (
	"time"

	"rumiprotocol/crypto"
)

// Asset names the ledger a pending transfer settles on.
type Asset uint8

const (
	// AssetICP is the collateral ledger.
	AssetICP Asset = iota
	// AssetICUSD is the synthetic ledger, where the protocol account
	// mints on transfer out.
	AssetICUSD
)

func (a Asset) String() string {
	if a == AssetICUSD {
		return "icUSD"
	}
	return "ICP"
}

// transferKind selects the completion event written when a pending
// transfer settles.
type transferKind uint8

const (
	kindPayout transferKind = iota
	kindRedemptionPayout
)

// PendingTransfer is a committed intent to move funds out of the protocol
// account. The record exists before the ledger call is issued and is
// removed only by a completion event, so a crash between the two leaves
// the payout claimable. ID doubles as the dedup memo: reissuing the same
// record can never pay twice.
type PendingTransfer struct {
	ID        uint64
	To        crypto.Address
	Asset     Asset
	Amount    uint64
	CreatedAt uint64
	OriginSeq uint64

	kind transferKind

	// Retry bookkeeping, runtime only: rebuilt empty on replay so a
	// restarted daemon retries immediately.
	Attempts    int
	NextRetryAt time.Time
	Parked      bool
}

const (
	retryBaseDelay = 2 * time.Second
	retryMaxDelay  = 5 * time.Minute
)

// backoff schedules the next attempt after a transient failure.
func (p *PendingTransfer) backoff(now time.Time) {
	p.Attempts++
	delay := retryBaseDelay << (p.Attempts - 1)
	if delay > retryMaxDelay || delay <= 0 {
		delay = retryMaxDelay
	}
	p.NextRetryAt = now.Add(delay)
}
