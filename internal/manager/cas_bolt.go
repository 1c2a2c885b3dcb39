package manager

import (
	"encoding/binary"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

// BoltCAS is a content-addressed dedup side-index: a chunk already present
// under its hash need not be resent. It records chunk hashes with a
// timestamp, not chunk bytes.
type BoltCAS struct {
	db *bolt.DB
}

var bucketCAS = []byte("cas")

// OpenBoltCAS opens (creating if necessary) a BoltDB-backed CAS index at path.
func OpenBoltCAS(path string) (*BoltCAS, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketCAS)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltCAS{db: db}, nil
}

// Close closes the underlying BoltDB handle.
func (b *BoltCAS) Close() error {
	return b.db.Close()
}

// HasChunk reports whether a chunk with this content hash is already known,
// letting the sender skip a redundant transfer.
func (b *BoltCAS) HasChunk(hash string) bool {
	var ok bool
	_ = b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCAS)
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(hash))
		ok = v != nil
		return nil
	})
	return ok
}

// PutChunk records a chunk hash in the index with the current time, used by
// GC to age out entries.
func (b *BoltCAS) PutChunk(hash string, length int) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCAS)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(time.Now().Unix()))
		return bk.Put([]byte(hash), buf)
	})
}

// GC removes CAS entries older than maxAge, returning the count removed.
func (b *BoltCAS) GC(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	removed := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCAS)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		c := bk.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if len(v) >= 8 {
				ts := int64(binary.BigEndian.Uint64(v))
				if ts < cutoff {
					if err := c.Delete(); err != nil {
						return err
					}
					removed++
				}
			}
		}
		return nil
	})
	return removed, err
}
