package accounts

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lightningnetwork/lnd/lnwire"
)

const (
	createAccountsTable = `
CREATE TABLE IF NOT EXISTS accounts (
	username TEXT PRIMARY KEY,
	is_email BOOLEAN NOT NULL DEFAULT FALSE,
	description TEXT,
	min_receivable BIGINT,
	max_receivable BIGINT,
	seq BIGINT NOT NULL
)`

	selectAccounts = `
SELECT username, is_email, description, min_receivable, max_receivable, seq
FROM accounts
ORDER BY seq`

	upsertAccount = `
INSERT INTO accounts (
	username, is_email, description, min_receivable, max_receivable, seq
) VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (username) DO UPDATE SET
	is_email = EXCLUDED.is_email,
	description = EXCLUDED.description,
	min_receivable = EXCLUDED.min_receivable,
	max_receivable = EXCLUDED.max_receivable,
	seq = EXCLUDED.seq`

	deleteAccount = `DELETE FROM accounts WHERE username = $1`
)

// PostgresPersister persists accounts in a postgres table.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// A compile-time check to ensure PostgresPersister implements Persister.
var _ Persister = (*PostgresPersister)(nil)

// NewPostgresPersister connects to the database at dsn and creates the
// accounts table if it doesn't exist yet.
func NewPostgresPersister(ctx context.Context,
	dsn string) (*PostgresPersister, error) {

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, createAccountsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to create accounts table: %w",
			err)
	}

	return &PostgresPersister{pool: pool}, nil
}

// FetchAccounts returns all persisted accounts.
func (p *PostgresPersister) FetchAccounts(ctx context.Context) ([]*Account,
	error) {

	rows, err := p.pool.Query(ctx, selectAccounts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accts []*Account
	for rows.Next() {
		var (
			acct        Account
			description *string
			minAmt      *int64
			maxAmt      *int64
			seq         int64
		)
		err := rows.Scan(
			&acct.Username, &acct.IsEmail, &description, &minAmt,
			&maxAmt, &seq,
		)
		if err != nil {
			return nil, err
		}

		if description != nil {
			acct.Description = *description
		}
		acct.MinReceivable = msatFromColumn(minAmt)
		acct.MaxReceivable = msatFromColumn(maxAmt)
		acct.Seq = uint64(seq)

		accts = append(accts, &acct)
	}

	return accts, rows.Err()
}

// PutAccount inserts or replaces an account.
func (p *PostgresPersister) PutAccount(ctx context.Context,
	acct *Account) error {

	var description *string
	if acct.Description != "" {
		description = &acct.Description
	}

	_, err := p.pool.Exec(
		ctx, upsertAccount, acct.Username, acct.IsEmail, description,
		msatToColumn(acct.MinReceivable),
		msatToColumn(acct.MaxReceivable), int64(acct.Seq),
	)

	return err
}

// DeleteAccount removes the account with the given username.
func (p *PostgresPersister) DeleteAccount(ctx context.Context,
	username string) error {

	_, err := p.pool.Exec(ctx, deleteAccount, username)

	return err
}

// Close closes the connection pool.
func (p *PostgresPersister) Close() error {
	p.pool.Close()

	return nil
}

func msatFromColumn(v *int64) *lnwire.MilliSatoshi {
	if v == nil {
		return nil
	}

	amt := lnwire.MilliSatoshi(*v)

	return &amt
}

func msatToColumn(amt *lnwire.MilliSatoshi) *int64 {
	if amt == nil {
		return nil
	}

	v := int64(*amt)

	return &v
}
