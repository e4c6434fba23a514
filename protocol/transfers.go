package protocol

import (
	"context"
	"sort"

	"rumiprotocol/protocol/event"
	"rumiprotocol/protocol/ledger"
)

// PayoutResult reports the outbound leg of an operation. When Settled is
// false the state change is committed and TransferID names the pending
// record that the retry worker will drive to completion.
type PayoutResult struct {
	TransferID uint64
	BlockIndex uint64
	Settled    bool
}

// pull draws amount from the caller through an ICRC-2 transfer_from. A
// duplicate rejection means an earlier attempt landed, so it is treated
// as success. Nothing is committed before the pull confirms.
func (e *Engine) pull(ctx context.Context, client ledger.Client, args ledger.TransferFromArgs) (uint64, error) {
	block, err := client.TransferFrom(ctx, args)
	if err != nil {
		if prior, ok := ledger.IsDuplicate(err); ok {
			return prior, nil
		}
		return 0, &TransferInError{Err: err}
	}
	return block, nil
}

// settle issues the ledger call for one pending transfer and, on
// confirmation, commits the completion event that removes it. The
// returned error is nil when the transfer settled or stays queued for
// retry; parked records surface a TransferOutError.
func (e *Engine) settle(ctx context.Context, id uint64) (PayoutResult, error) {
	e.mu.Lock()
	rec, ok := e.st.pending[id]
	if !ok {
		e.mu.Unlock()
		return PayoutResult{TransferID: id, Settled: true}, nil
	}
	pt := *rec
	fee := uint64(0)
	client := e.icusd
	if pt.Asset == AssetICP {
		client = e.icp
		fee = e.icpFee
	}
	e.mu.Unlock()

	amount := pt.Amount
	if pt.Asset == AssetICP {
		if amount <= fee {
			// The ledger fee swallows the whole payout; complete it
			// without a ledger call so the record does not retry forever.
			return e.completeTransfer(pt, 0)
		}
		amount -= fee
	}
	block, err := client.Transfer(ctx, ledger.TransferArgs{
		To:        pt.To,
		Amount:    amount,
		Fee:       fee,
		Memo:      pt.ID,
		CreatedAt: pt.CreatedAt,
	})
	if err != nil {
		if prior, ok := ledger.IsDuplicate(err); ok {
			return e.completeTransfer(pt, prior)
		}
		return e.deferTransfer(pt.ID, err)
	}
	return e.completeTransfer(pt, block)
}

// completeTransfer commits the completion event for a confirmed payout.
func (e *Engine) completeTransfer(pt PendingTransfer, block uint64) (PayoutResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var ev event.Event
	if pt.kind == kindRedemptionPayout {
		ev = event.RedemptionTransferred{TransferID: pt.ID, BlockIndex: block}
	} else {
		ev = event.TransferCompleted{TransferID: pt.ID, BlockIndex: block}
	}
	if err := e.commit(ev); err != nil {
		return PayoutResult{TransferID: pt.ID}, err
	}
	return PayoutResult{TransferID: pt.ID, BlockIndex: block, Settled: true}, nil
}

// deferTransfer records a failed attempt. Bad fees refresh the cached
// ledger fee and retry immediately; balance and allowance rejections of
// protocol-held funds cannot heal on their own, so the record parks for
// reconciliation; anything else backs off exponentially.
func (e *Engine) deferTransfer(id uint64, cause error) (PayoutResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.st.pending[id]
	if !ok {
		return PayoutResult{TransferID: id, Settled: true}, nil
	}
	if te, ok := ledger.AsTransferError(cause); ok {
		switch te.Code {
		case ledger.ErrCodeBadFee:
			e.icpFee = te.ExpectedFee
			rec.NextRetryAt = e.now()
			e.logger.Warn("ledger fee changed, retrying transfer", "transfer_id", id, "fee", te.ExpectedFee)
			return PayoutResult{TransferID: id}, nil
		case ledger.ErrCodeInsufficientFunds, ledger.ErrCodeInsufficientAllowance:
			rec.Parked = true
			e.logger.Error("payout parked for reconciliation", "transfer_id", id, "error", cause.Error())
			return PayoutResult{TransferID: id}, &TransferOutError{TransferID: id, Err: cause}
		}
	}
	rec.backoff(e.now())
	e.logger.Warn("payout deferred", "transfer_id", id, "attempts", rec.Attempts, "error", cause.Error())
	return PayoutResult{TransferID: id}, nil
}

// ProcessPendingTransfers drives the pending queue once, oldest record
// first. It shares the batch singleton with redemption and liquidation
// and is safe to call on a timer; re-running it against an idempotent
// ledger cannot double-pay.
func (e *Engine) ProcessPendingTransfers(ctx context.Context) error {
	now := e.now()
	if err := e.guards.acquireBatch(now); err != nil {
		return err
	}
	defer e.guards.releaseBatch()

	e.mu.Lock()
	due := make([]uint64, 0, len(e.st.pending))
	for id, rec := range e.st.pending {
		if rec.Parked || rec.NextRetryAt.After(now) {
			continue
		}
		due = append(due, id)
	}
	e.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	for _, id := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.settle(ctx, id); err != nil {
			e.logger.Error("pending transfer failed", "transfer_id", id, "error", err.Error())
		}
	}
	return nil
}

// PendingTransfers lists the queued payouts ordered by id.
func (e *Engine) PendingTransfers() []PendingTransfer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PendingTransfer, 0, len(e.st.pending))
	for _, rec := range e.st.pending {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
