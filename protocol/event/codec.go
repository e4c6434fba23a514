package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Record is the stored envelope for one event. Seq is the zero-based
// position in the log and Timestamp the unix-nanosecond protocol time at
// which the event was committed. Payload holds the RLP encoding of the
// variant named by Kind.
type Record struct {
	Seq       uint64
	Timestamp uint64
	Kind      string
	Payload   []byte
}

// EncodeRecord wraps an event in a Record and returns its RLP encoding.
func EncodeRecord(seq, timestamp uint64, ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("event: encode nil event")
	}
	payload, err := rlp.EncodeToBytes(ev)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s payload: %w", ev.Kind(), err)
	}
	rec := Record{Seq: seq, Timestamp: timestamp, Kind: ev.Kind(), Payload: payload}
	encoded, err := rlp.EncodeToBytes(rec)
	if err != nil {
		return nil, fmt.Errorf("event: encode record: %w", err)
	}
	return encoded, nil
}

// DecodeRecord parses a stored envelope without decoding the payload.
func DecodeRecord(encoded []byte) (Record, error) {
	var rec Record
	if err := rlp.DecodeBytes(encoded, &rec); err != nil {
		return Record{}, fmt.Errorf("event: decode record: %w", err)
	}
	return rec, nil
}

// Decode reconstructs the typed event carried by a Record.
func Decode(rec Record) (Event, error) {
	switch rec.Kind {
	case KindInit:
		return decodePayload[Init](rec)
	case KindUpgrade:
		return decodePayload[Upgrade](rec)
	case KindVaultOpened:
		return decodePayload[VaultOpened](rec)
	case KindMarginAdded:
		return decodePayload[MarginAdded](rec)
	case KindBorrowed:
		return decodePayload[Borrowed](rec)
	case KindRepaid:
		return decodePayload[Repaid](rec)
	case KindVaultClosed:
		return decodePayload[VaultClosed](rec)
	case KindWithdrawn:
		return decodePayload[Withdrawn](rec)
	case KindWithdrawnClosed:
		return decodePayload[WithdrawnClosed](rec)
	case KindRedemptionExecuted:
		return decodePayload[RedemptionExecuted](rec)
	case KindRedemptionTransferred:
		return decodePayload[RedemptionTransferred](rec)
	case KindLiquidated:
		return decodePayload[Liquidated](rec)
	case KindRedistributed:
		return decodePayload[Redistributed](rec)
	case KindLiquidityProvided:
		return decodePayload[LiquidityProvided](rec)
	case KindLiquidityWithdrawn:
		return decodePayload[LiquidityWithdrawn](rec)
	case KindLiquidityClaimed:
		return decodePayload[LiquidityClaimed](rec)
	case KindTransferCompleted:
		return decodePayload[TransferCompleted](rec)
	default:
		return nil, fmt.Errorf("event: unknown kind %q at seq %d", rec.Kind, rec.Seq)
	}
}

func decodePayload[T Event](rec Record) (Event, error) {
	var ev T
	if err := rlp.DecodeBytes(rec.Payload, &ev); err != nil {
		return nil, fmt.Errorf("event: decode %s payload at seq %d: %w", rec.Kind, rec.Seq, err)
	}
	return ev, nil
}
