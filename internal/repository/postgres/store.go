// Package postgres implements the repository contracts on PostgreSQL via pgx.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/casetrail/internal/db"
	"github.com/rpattn/casetrail/internal/repository"
)

// Store runs repository transactions on a pgx pool.
type Store struct {
	conn      *db.Connection
	isolation pgx.TxIsoLevel
}

var _ repository.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithIsolation sets the isolation level of write transactions.
func WithIsolation(level pgx.TxIsoLevel) Option {
	return func(s *Store) {
		if level != "" {
			s.isolation = level
		}
	}
}

// NewStore creates a store over conn. Write transactions default to read
// committed.
func NewStore(conn *db.Connection, opts ...Option) *Store {
	s := &Store{conn: conn, isolation: pgx.ReadCommitted}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx runs fn in a read-write transaction. Rows read through GetByIDs are
// locked until commit.
func (s *Store) WithTx(ctx context.Context, fn func(repository.Tx) error) error {
	return s.conn.WithTxOptions(ctx, pgx.TxOptions{IsoLevel: s.isolation}, func(tx pgx.Tx) error {
		return fn(&txRepos{tx: tx, lockRows: true})
	})
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(repository.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: s.isolation, AccessMode: pgx.ReadOnly}
	return s.conn.WithTxOptions(ctx, opts, func(tx pgx.Tx) error {
		return fn(&txRepos{tx: tx})
	})
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.conn.Close()
}

type txRepos struct {
	tx       pgx.Tx
	lockRows bool
}

func (t *txRepos) Organizations() repository.OrganizationRepository {
	return &organizationRepository{tx: t.tx}
}

func (t *txRepos) TestCases() repository.TestCaseRepository {
	return &testCaseRepository{tx: t.tx, lockRows: t.lockRows}
}

func (t *txRepos) Commands() repository.CommandRepository {
	return &commandRepository{tx: t.tx}
}

func (t *txRepos) Audit() repository.AuditRepository {
	return &auditRepository{tx: t.tx}
}
