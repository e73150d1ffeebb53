package catalog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

var bucketVersions = []byte("index_versions")

// Bolt is a Catalog stored in a bbolt database. Each index name is a nested
// bucket keyed by big-endian version so cursor order is version order.
type Bolt struct {
	db    *bbolt.DB
	owned bool
}

// OpenBolt opens (or creates) a catalog database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("catalog: open bolt db: %w", err)
	}
	c, err := NewBolt(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	c.owned = true
	return c, nil
}

// NewBolt uses an already open database. Close does not close db.
func NewBolt(db *bbolt.DB) (*Bolt, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVersions)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: create bucket: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close closes the database if it was opened by OpenBolt.
func (c *Bolt) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

func versionKey(v uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], v)
	return k[:]
}

func (c *Bolt) Commit(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkRecord(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucketVersions).CreateBucketIfNotExists([]byte(rec.Name))
		if err != nil {
			return err
		}
		key := versionKey(rec.Version)
		if b.Get(key) != nil {
			return fmt.Errorf("%w: %s version %d", ErrConcurrentModification, rec.Name, rec.Version)
		}
		return b.Put(key, data)
	})
}

func (c *Bolt) Latest(ctx context.Context, name string) (Record, error) {
	var rec Record
	err := c.view(ctx, name, func(b *bbolt.Bucket) error {
		_, v := b.Cursor().Last()
		if v == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func (c *Bolt) Get(ctx context.Context, name string, version uint64) (Record, error) {
	var rec Record
	err := c.view(ctx, name, func(b *bbolt.Bucket) error {
		v := b.Get(versionKey(version))
		if v == nil {
			return fmt.Errorf("%w: %s version %d", ErrNotFound, name, version)
		}
		return json.Unmarshal(v, &rec)
	})
	return rec, err
}

func (c *Bolt) List(ctx context.Context, name string) ([]Record, error) {
	var recs []Record
	err := c.view(ctx, name, func(b *bbolt.Bucket) error {
		return b.ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, rec)
			return nil
		})
	})
	return recs, err
}

func (c *Bolt) Delete(ctx context.Context, name string, version uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(name))
		if b == nil {
			return nil
		}
		return b.Delete(versionKey(version))
	})
}

// Names returns every index name with at least one bucket, in byte order.
func (c *Bolt) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var names []string
	err := c.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVersions).ForEach(func(k, v []byte) error {
			// Nested buckets have nil values.
			if v == nil {
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, err
}

func (c *Bolt) view(ctx context.Context, name string, fn func(b *bbolt.Bucket) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(name))
		if b == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fn(b)
	})
}
