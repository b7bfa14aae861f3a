package accounts

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Persister stores account records outside of the process so that they
// survive restarts.
type Persister interface {
	// FetchAccounts returns all persisted accounts.
	FetchAccounts(ctx context.Context) ([]*Account, error)

	// PutAccount inserts or replaces an account.
	PutAccount(ctx context.Context, acct *Account) error

	// DeleteAccount removes the account with the given username.
	DeleteAccount(ctx context.Context, username string) error

	// Close releases the persister's resources.
	Close() error
}

// Store holds all accounts in memory and writes every mutation through to
// its Persister. Mutations hold the write lock for their full duration so
// that readers always observe complete records.
type Store struct {
	persister Persister

	mu       sync.RWMutex
	accounts map[string]*Account
	nextSeq  uint64
}

// NewStore creates a store and loads all accounts from the persister. A nil
// persister results in a purely in-memory store.
func NewStore(ctx context.Context, persister Persister) (*Store, error) {
	s := &Store{
		persister: persister,
		accounts:  make(map[string]*Account),
		nextSeq:   1,
	}

	if persister == nil {
		return s, nil
	}

	accts, err := persister.FetchAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load accounts: %w", err)
	}

	for _, acct := range accts {
		s.accounts[acct.Username] = acct
		if acct.Seq >= s.nextSeq {
			s.nextSeq = acct.Seq + 1
		}
	}

	log.Infof("Loaded %d account(s)", len(accts))

	return s, nil
}

// Add creates a new account. The account's sequence number is assigned by
// the store.
func (s *Store) Add(ctx context.Context, acct Account) (*Account, error) {
	if err := acct.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.Username]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUser,
			acct.Username)
	}

	stored := acct.Copy()
	stored.Seq = s.nextSeq

	if s.persister != nil {
		if err := s.persister.PutAccount(ctx, stored); err != nil {
			return nil, fmt.Errorf("unable to persist account: %w",
				err)
		}
	}

	s.accounts[stored.Username] = stored
	s.nextSeq++

	log.Debugf("Added account %s (is_email=%v)", stored.Username,
		stored.IsEmail)

	return stored.Copy(), nil
}

// Delete removes an account and returns the removed record.
func (s *Store) Delete(ctx context.Context, username string) (*Account,
	error) {

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}

	if s.persister != nil {
		err := s.persister.DeleteAccount(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("unable to delete persisted "+
				"account: %w", err)
		}
	}

	delete(s.accounts, username)

	log.Debugf("Deleted account %s", username)

	return acct, nil
}

// Get returns a copy of the account with the given username.
func (s *Store) Get(username string) (*Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[username]
	if !ok {
		return nil, false
	}

	return acct.Copy(), true
}

// List returns a snapshot of all accounts ordered by insertion. If username
// is non-empty only the matching account is returned.
func (s *Store) List(username string) []*Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if username != "" {
		acct, ok := s.accounts[username]
		if !ok {
			return []*Account{}
		}

		return []*Account{acct.Copy()}
	}

	accts := make([]*Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		accts = append(accts, acct.Copy())
	}

	sort.Slice(accts, func(i, j int) bool {
		return accts[i].Seq < accts[j].Seq
	})

	return accts
}

// Close closes the underlying persister.
func (s *Store) Close() error {
	if s.persister == nil {
		return nil
	}

	return s.persister.Close()
}
