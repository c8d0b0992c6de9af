// Package history keeps a local record of finished transfers in BadgerDB.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/pintubhai440/fileshare/internal/engine"
)

const keyPrefix = "transfer:"

var ErrInvalidLimit = errors.New("history limit must be positive")

// Status is the outcome of a transfer
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Record is one finished transfer in either direction
type Record struct {
	ID         uuid.UUID `json:"id"`
	Direction  string    `json:"direction"`
	Name       string    `json:"name"`
	Size       uint64    `json:"size"`
	Bytes      uint64    `json:"bytes"`
	Mode       string    `json:"mode,omitempty"`
	Degraded   bool      `json:"degraded,omitempty"`
	Peak       float64   `json:"peak_throughput"`
	Elapsed    int64     `json:"elapsed_ms"`
	Status     Status    `json:"status"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// FromSent builds a record from a send result
func FromSent(r engine.Result, at time.Time) Record {
	rec := Record{
		ID:         r.SessionID,
		Direction:  engine.Outbound.String(),
		Name:       r.Descriptor.Name,
		Size:       r.Descriptor.Size,
		Bytes:      r.Bytes,
		Peak:       r.PeakThroughput,
		Elapsed:    r.Elapsed.Milliseconds(),
		FinishedAt: at,
	}
	rec.setErr(r.Err)
	return rec
}

// FromReceived builds a record from a receive outcome
func FromReceived(r engine.Received, at time.Time) Record {
	rec := Record{
		ID:         r.SessionID,
		Direction:  engine.Inbound.String(),
		Name:       r.Descriptor.Name,
		Size:       r.Descriptor.Size,
		Bytes:      r.Bytes,
		Degraded:   r.Degraded,
		Peak:       r.PeakThroughput,
		Elapsed:    r.Elapsed.Milliseconds(),
		FinishedAt: at,
	}
	if r.Err == nil {
		rec.Mode = r.Mode.String()
	}
	rec.setErr(r.Err)
	return rec
}

func (r *Record) setErr(err error) {
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusCompleted
}

// Store wraps BadgerDB for transfer records
type Store struct {
	db *badger.DB
}

// Open opens (or creates) the store at path. An empty path keeps it in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores rec. Records without an ID get a fresh one.
func (s *Store) Put(rec Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode history record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec), val)
	})
}

// List returns up to limit records, newest first
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		prefix := []byte(keyPrefix)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append([]byte(keyPrefix), 0xFF)); it.ValidForPrefix(prefix) && len(records) < limit; it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("failed to decode history record %q: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// recordKey orders records by finish time; the timestamp is zero padded so
// byte order matches time order
func recordKey(rec Record) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", keyPrefix, rec.FinishedAt.UnixNano(), rec.ID))
}
