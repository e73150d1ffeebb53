package benchmark

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketRecords = []byte("benchmark_records")

// BoltLog is an append-only log of benchmark records in bbolt. Records are
// keyed by the bucket sequence, so List returns them in append order.
type BoltLog struct {
	db    *bbolt.DB
	owned bool
}

// OpenBoltLog opens (or creates) a record log at path.
func OpenBoltLog(path string) (*BoltLog, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("benchmark: open bolt db: %w", err)
	}
	l, err := NewBoltLog(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	l.owned = true
	return l, nil
}

// NewBoltLog uses an already open database. Close does not close db.
func NewBoltLog(db *bbolt.DB) (*BoltLog, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRecords)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("benchmark: create bucket: %w", err)
	}
	return &BoltLog{db: db}, nil
}

// Close closes the database if it was opened by OpenBoltLog.
func (l *BoltLog) Close() error {
	if !l.owned {
		return nil
	}
	return l.db.Close()
}

// Append adds records in one transaction.
func (l *BoltLog) Append(ctx context.Context, records ...Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		for _, r := range records {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(r)
			if err != nil {
				return err
			}
			var key [8]byte
			binary.BigEndian.PutUint64(key[:], seq)
			if err := b.Put(key[:], data); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns every record in append order.
func (l *BoltLog) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := []Record{}
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var r Record
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}
