package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DefaultBoltFileName is the file name of the bbolt database inside
	// the data directory.
	DefaultBoltFileName = "accounts.db"

	dbFilePermission = 0600
)

var (
	// accountsBucket holds one key per account: the username mapped to
	// the JSON encoded account.
	accountsBucket = []byte("accounts")
)

// BoltPersister persists accounts in a local bbolt database.
type BoltPersister struct {
	db *bbolt.DB
}

// A compile-time check to ensure BoltPersister implements Persister.
var _ Persister = (*BoltPersister)(nil)

// NewBoltPersister opens (and creates if needed) the bbolt database at path.
func NewBoltPersister(path string) (*BoltPersister, error) {
	db, err := bbolt.Open(path, dbFilePermission, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltPersister{db: db}, nil
}

// FetchAccounts returns all persisted accounts.
func (b *BoltPersister) FetchAccounts(_ context.Context) ([]*Account,
	error) {

	var accts []*Account
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(accountsBucket)

		return bucket.ForEach(func(k, v []byte) error {
			var acct Account
			if err := json.Unmarshal(v, &acct); err != nil {
				return fmt.Errorf("unable to decode account "+
					"%s: %w", k, err)
			}

			accts = append(accts, &acct)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return accts, nil
}

// PutAccount inserts or replaces an account.
func (b *BoltPersister) PutAccount(_ context.Context, acct *Account) error {
	v, err := json.Marshal(acct)
	if err != nil {
		return err
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).Put(
			[]byte(acct.Username), v,
		)
	})
}

// DeleteAccount removes the account with the given username.
func (b *BoltPersister) DeleteAccount(_ context.Context,
	username string) error {

	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(accountsBucket).Delete([]byte(username))
	})
}

// Close closes the database.
func (b *BoltPersister) Close() error {
	return b.db.Close()
}
