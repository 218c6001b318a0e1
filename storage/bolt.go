package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

// DefaultBoltBucket holds provisional term records in a bbolt file.
const DefaultBoltBucket = "provisional"

// Bolt is a Backend stored in a single bbolt database file.
type Bolt struct {
	db     *bbolt.DB
	bucket []byte
}

// OpenBolt opens (or creates) the database at path and ensures bucket
// exists.
func OpenBolt(path, bucket string) (*Bolt, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if bucket == "" {
		bucket = DefaultBoltBucket
	}

	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	b := &Bolt{db: db, bucket: []byte(bucket)}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(b.bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create %s bucket: %w", bucket, err)
	}
	return b, nil
}

func (b *Bolt) records(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket(b.bucket)
	if bucket == nil {
		return nil, fmt.Errorf("%s bucket is missing", b.bucket)
	}
	return bucket, nil
}

// Get implements Backend.
func (b *Bolt) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket, err := b.records(tx)
		if err != nil {
			return err
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		// Values are only valid for the life of the transaction.
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// Put implements Backend.
func (b *Bolt) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := b.records(tx)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), value)
	})
}

// Create implements Backend.
func (b *Bolt) Create(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := b.records(tx)
		if err != nil {
			return err
		}
		if bucket.Get([]byte(key)) != nil {
			return fmt.Errorf("create %s: %w", key, ErrExists)
		}
		return bucket.Put([]byte(key), value)
	})
}

// Delete implements Backend.
func (b *Bolt) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := b.records(tx)
		if err != nil {
			return err
		}
		return bucket.Delete([]byte(key))
	})
}

// Keys implements Backend. bbolt iterates in byte order.
func (b *Bolt) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket, err := b.records(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// Close closes the database file.
func (b *Bolt) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}
