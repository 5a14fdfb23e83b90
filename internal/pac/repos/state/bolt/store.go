package bolt

import (
	"context"
	"encoding/binary"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-pac/internal/pac/repos/state"
)

var (
	bucketState = []byte("state")
	bucketMeta  = []byte("meta")

	metaUpdated = []byte("updated")
)

// bucketCreator is the subset of *bbolt.Tx used to create buckets.
type bucketCreator interface {
	CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error)
}

func ensureBuckets(tx bucketCreator) error {
	if _, err := tx.CreateBucketIfNotExists(bucketState); err != nil {
		return err
	}
	if _, err := tx.CreateBucketIfNotExists(bucketMeta); err != nil {
		return err
	}
	return nil
}

// ensureBucketsFn is a seam for tests.
var ensureBucketsFn = func(tx bucketCreator) error { return ensureBuckets(tx) }

// boltStore implements state.Store using bbolt. Each key is one entry in the
// state bucket; the meta bucket records the last write time.
type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (state.Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		return ensureBucketsFn(tx)
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var raw []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return nil
		}
		// Bolt values are only valid inside the transaction.
		if v := b.Get([]byte(key)); v != nil {
			raw = make([]byte, len(v))
			copy(raw, v)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	return true, state.Decode(key, raw, dst)
}

func (s *boltStore) Set(ctx context.Context, key string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := state.Encode(key, v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketState).Put([]byte(key), raw); err != nil {
			return err
		}
		return touch(tx)
	})
}

func (s *boltStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketState).Delete([]byte(key)); err != nil {
			return err
		}
		return touch(tx)
	})
}

// UpdatedUnix returns the time of the last write in seconds since epoch, or 0.
func (s *boltStore) UpdatedUnix() int64 {
	var updated int64
	_ = s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketMeta); b != nil {
			if v := b.Get(metaUpdated); len(v) == 8 {
				updated = int64(binary.BigEndian.Uint64(v))
			}
		}
		return nil
	})
	return updated
}

func touch(tx *bbolt.Tx) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(time.Now().Unix()))
	return tx.Bucket(bucketMeta).Put(metaUpdated, buf)
}

var _ state.Store = (*boltStore)(nil)
