// Package store is the bbolt-backed message archive. Delivered records land
// in the messages bucket; terminal delivery failures land in the deadletter
// bucket together with their final attempt state.
//
// bbolt is chosen because it is:
//   - Pure Go (no CGO, no external process)
//   - ACID — the archive stays consistent even after a crash
//   - Single file (archive.db inside the data directory)
//   - Well-maintained (used by etcd in production)
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/warelay/warelay/internal/types"
)

var (
	bucketMessages   = []byte("messages")
	bucketDeadLetter = []byte("deadletter")
)

// ErrNotFound is returned when a record ID is absent from the archive.
var ErrNotFound = errors.New("store: record not found")

// archiveFile is the bbolt file name inside the data directory.
const archiveFile = "archive.db"

// DeadLetter is the durable record of a terminally failed delivery.
type DeadLetter struct {
	Msg          *types.Message `json:"message"`
	AttemptsMade int            `json:"attempts_made"`
	LastError    string         `json:"last_error"`
	FailedAt     time.Time      `json:"failed_at"`
}

// Store is the message archive. Safe for concurrent use; bbolt serialises
// writers internally.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens (or creates) the archive inside dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, archiveFile)
	opts := &bbolt.Options{Timeout: 0} // non-blocking open
	db, err := bbolt.Open(path, 0o640, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMessages, bucketDeadLetter} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Store upserts a delivered record, keyed by its record ID. ULID keys sort by
// creation time, so bucket order is chronological.
func (s *Store) Store(msg *types.Message) error {
	val, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", msg.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMessages).Put([]byte(msg.ID), val)
	})
}

// Find retrieves an archived record by ID. Returns ErrNotFound when the
// record was never archived.
func (s *Store) Find(id string) (*types.Message, error) {
	var msg types.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketMessages).Get([]byte(id))
		if val == nil {
			return ErrNotFound
		}
		return json.Unmarshal(val, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// RecordTerminal persists a terminally failed delivery alongside its final
// attempt state.
func (s *Store) RecordTerminal(msg *types.Message, attempt types.Attempt) error {
	dl := DeadLetter{
		Msg:          msg,
		AttemptsMade: attempt.AttemptsMade,
		LastError:    attempt.LastError,
		FailedAt:     s.now().UTC(),
	}
	val, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("store: marshal dead letter %s: %w", msg.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDeadLetter).Put([]byte(msg.ID), val)
	})
}

// DeadLetters returns up to limit dead letters, newest first.
// limit <= 0 returns all of them.
func (s *Store) DeadLetters(limit int) ([]DeadLetter, error) {
	var out []DeadLetter
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketDeadLetter).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var dl DeadLetter
			if err := json.Unmarshal(v, &dl); err != nil {
				return fmt.Errorf("store: corrupt dead letter %s: %w", k, err)
			}
			out = append(out, dl)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Counts reports how many records each bucket holds.
func (s *Store) Counts() (messages, deadLetters int, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		messages = tx.Bucket(bucketMessages).Stats().KeyN
		deadLetters = tx.Bucket(bucketDeadLetter).Stats().KeyN
		return nil
	})
	return messages, deadLetters, err
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
