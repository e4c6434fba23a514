// Package eventlog persists the protocol event stream in insertion order.
// Records live under dense big-endian sequence keys with a head counter
// written last, so a torn append is invisible to readers and the next
// append overwrites the orphaned record.
package eventlog

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"rumiprotocol/protocol/event"
	"rumiprotocol/storage"
)

const (
	headKey      = "evt/head"
	recordPrefix = "evt/r/"
	vaultPrefix  = "evt/v/"
)

// Log is an append-only event store over a key-value database.
type Log struct {
	db storage.Database
}

// New returns a Log backed by db.
func New(db storage.Database) *Log {
	return &Log{db: db}
}

// Head returns the number of committed records.
func (l *Log) Head() (uint64, error) {
	raw, err := l.db.Get([]byte(headKey))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("eventlog: read head: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("eventlog: corrupt head of %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Append commits ev at the current head with the given protocol timestamp
// and returns its sequence number.
func (l *Log) Append(timestamp uint64, ev event.Event) (uint64, error) {
	seq, err := l.Head()
	if err != nil {
		return 0, err
	}
	encoded, err := event.EncodeRecord(seq, timestamp, ev)
	if err != nil {
		return 0, err
	}
	if err := l.db.Put(recordKey(seq), encoded); err != nil {
		return 0, fmt.Errorf("eventlog: write record %d: %w", seq, err)
	}
	for _, id := range vaultIDs(ev) {
		if err := l.indexVault(id, seq); err != nil {
			return 0, err
		}
	}
	head := make([]byte, 8)
	binary.BigEndian.PutUint64(head, seq+1)
	if err := l.db.Put([]byte(headKey), head); err != nil {
		return 0, fmt.Errorf("eventlog: advance head: %w", err)
	}
	return seq, nil
}

// Record reads the envelope at seq.
func (l *Log) Record(seq uint64) (event.Record, error) {
	raw, err := l.db.Get(recordKey(seq))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return event.Record{}, fmt.Errorf("eventlog: no record at seq %d", seq)
	}
	if err != nil {
		return event.Record{}, fmt.Errorf("eventlog: read record %d: %w", seq, err)
	}
	return event.DecodeRecord(raw)
}

// Range returns up to limit records starting at from. A limit of zero
// means no cap.
func (l *Log) Range(from, limit uint64) ([]event.Record, error) {
	head, err := l.Head()
	if err != nil {
		return nil, err
	}
	if from >= head {
		return nil, nil
	}
	end := head
	if limit > 0 && from+limit < end {
		end = from + limit
	}
	records := make([]event.Record, 0, end-from)
	for seq := from; seq < end; seq++ {
		rec, err := l.Record(seq)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Replay streams every committed record through fn in order.
func (l *Log) Replay(fn func(event.Record) error) error {
	head, err := l.Head()
	if err != nil {
		return err
	}
	for seq := uint64(0); seq < head; seq++ {
		rec, err := l.Record(seq)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

// ByVault returns the sequence numbers of records that touched the vault,
// oldest first.
func (l *Log) ByVault(vaultID uint64) ([]uint64, error) {
	raw, err := l.db.Get(vaultKey(vaultID))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("eventlog: read vault index %d: %w", vaultID, err)
	}
	var seqs []uint64
	if err := rlp.DecodeBytes(raw, &seqs); err != nil {
		return nil, fmt.Errorf("eventlog: decode vault index %d: %w", vaultID, err)
	}
	return seqs, nil
}

func (l *Log) indexVault(vaultID, seq uint64) error {
	seqs, err := l.ByVault(vaultID)
	if err != nil {
		return err
	}
	if n := len(seqs); n > 0 && seqs[n-1] == seq {
		return nil
	}
	seqs = append(seqs, seq)
	encoded, err := rlp.EncodeToBytes(seqs)
	if err != nil {
		return fmt.Errorf("eventlog: encode vault index %d: %w", vaultID, err)
	}
	if err := l.db.Put(vaultKey(vaultID), encoded); err != nil {
		return fmt.Errorf("eventlog: write vault index %d: %w", vaultID, err)
	}
	return nil
}

func recordKey(seq uint64) []byte {
	key := make([]byte, len(recordPrefix)+8)
	copy(key, recordPrefix)
	binary.BigEndian.PutUint64(key[len(recordPrefix):], seq)
	return key
}

func vaultKey(vaultID uint64) []byte {
	key := make([]byte, len(vaultPrefix)+8)
	copy(key, vaultPrefix)
	binary.BigEndian.PutUint64(key[len(vaultPrefix):], vaultID)
	return key
}

func vaultIDs(ev event.Event) []uint64 {
	switch e := ev.(type) {
	case event.VaultOpened:
		return []uint64{e.VaultID}
	case event.MarginAdded:
		return []uint64{e.VaultID}
	case event.Borrowed:
		return []uint64{e.VaultID}
	case event.Repaid:
		return []uint64{e.VaultID}
	case event.VaultClosed:
		return []uint64{e.VaultID}
	case event.Withdrawn:
		return []uint64{e.VaultID}
	case event.WithdrawnClosed:
		return []uint64{e.VaultID}
	case event.Liquidated:
		return []uint64{e.VaultID}
	case event.Redistributed:
		ids := make([]uint64, 0, len(e.Entries)+1)
		ids = append(ids, e.VaultID)
		for _, entry := range e.Entries {
			ids = append(ids, entry.VaultID)
		}
		return ids
	default:
		return nil
	}
}
