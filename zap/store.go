package zap

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"go.etcd.io/bbolt"
)

const (
	// DefaultBoltFileName is the file name of the zap database inside
	// the data directory.
	DefaultBoltFileName = "zaps.db"

	dbFilePermission = 0600
)

var (
	// pendingBucket maps payment hashes to JSON encoded pending zaps.
	pendingBucket = []byte("pending")

	// metaBucket holds single values such as the settle index.
	metaBucket = []byte("meta")

	settleIndexKey = []byte("settle-index")
)

// Store persists pending zap invoices and the last settle index handled so
// that invoices paid across a restart still get their receipt.
type Store interface {
	// FetchPending returns all persisted pending zaps. Only the Raw
	// field of their Request is set.
	FetchPending() ([]*Pending, error)

	// PutPending inserts or replaces a pending zap.
	PutPending(p *Pending) error

	// DeletePending removes the pending zap for hash.
	DeletePending(hash lntypes.Hash) error

	// SettleIndex returns the persisted settle index, zero if none.
	SettleIndex() (uint64, error)

	// PutSettleIndex persists the settle index.
	PutSettleIndex(idx uint64) error
}

// pendingRecord is the persisted form of a Pending entry.
type pendingRecord struct {
	Bolt11    string              `json:"bolt11"`
	Amount    lnwire.MilliSatoshi `json:"amount_msat"`
	Request   string              `json:"request"`
	CreatedAt time.Time           `json:"created_at"`
}

// BoltStore is a Store backed by a local bbolt database.
type BoltStore struct {
	db *bbolt.DB
}

// A compile-time check to ensure BoltStore implements Store.
var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (and creates if needed) the bbolt database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, dbFilePermission, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{pendingBucket, metaBucket} {
			_, err := tx.CreateBucketIfNotExists(name)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// FetchPending returns all persisted pending zaps.
func (b *BoltStore) FetchPending() ([]*Pending, error) {
	var pending []*Pending
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(pendingBucket)

		return bucket.ForEach(func(k, v []byte) error {
			hash, err := lntypes.MakeHash(k)
			if err != nil {
				return fmt.Errorf("bad key %x: %w", k, err)
			}

			var rec pendingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unable to decode zap %v: %w",
					hash, err)
			}

			pending = append(pending, &Pending{
				PaymentHash: hash,
				Bolt11:      rec.Bolt11,
				Amount:      rec.Amount,
				Request:     &Request{Raw: rec.Request},
				CreatedAt:   rec.CreatedAt,
			})

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return pending, nil
}

// PutPending inserts or replaces a pending zap.
func (b *BoltStore) PutPending(p *Pending) error {
	v, err := json.Marshal(&pendingRecord{
		Bolt11:    p.Bolt11,
		Amount:    p.Amount,
		Request:   p.Request.Raw,
		CreatedAt: p.CreatedAt,
	})
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Put(p.PaymentHash[:], v)
	})
}

// DeletePending removes the pending zap for hash.
func (b *BoltStore) DeletePending(hash lntypes.Hash) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(pendingBucket).Delete(hash[:])
	})
}

// SettleIndex returns the persisted settle index.
func (b *BoltStore) SettleIndex() (uint64, error) {
	var idx uint64
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(settleIndexKey)
		switch {
		case v == nil:
			return nil

		case len(v) != 8:
			return fmt.Errorf("bad settle index length %d", len(v))
		}

		idx = binary.BigEndian.Uint64(v)

		return nil
	})

	return idx, err
}

// PutSettleIndex persists the settle index.
func (b *BoltStore) PutSettleIndex(idx uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], idx)

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(settleIndexKey, v[:])
	})
}

// Close closes the database.
func (b *BoltStore) Close() error {
	return b.db.Close()
}
