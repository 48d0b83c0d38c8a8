// Package sqldb is the database/sql implementation of store.Store shared by
// the sqlite and postgres drivers. Queries are written once with '?'
// placeholders and rebound per dialect.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/fintab/internal/auth/store"
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name string

	// NumberedPlaceholders rewrites '?' into $1, $2, ...
	NumberedPlaceholders bool

	// IsUniqueViolation reports whether err is a unique constraint failure.
	IsUniqueViolation func(err error) bool

	// Migrate applies the embedded schema migrations.
	Migrate func(db *sql.DB) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db *sql.DB
	q  querier
	d  Dialect
}

// New wraps an open database.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, q: db, d: d}
}

// DB exposes the pool, mainly for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is still alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ApplyMigrations runs the dialect's embedded migrations.
func (s *Store) ApplyMigrations() error {
	if s.d.Migrate == nil {
		return fmt.Errorf("sqldb: %s dialect has no migrations", s.d.Name)
	}
	return s.d.Migrate(s.db)
}

// Tx starts a read/write transaction and returns a Tx-scoped Store.
func (s *Store) Tx(ctx context.Context) (store.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &txStore{Store: Store{db: s.db, q: tx, d: s.d}, tx: tx}, nil
}

// WithTx executes fn within a transaction, automatically handling commit/rollback.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.Tx(ctx)
	if err != nil {
		return err
	}

	// Ensure rollback is called if we panic or return early with error
	defer func() {
		_ = tx.Rollback() // safe to call even after commit
	}()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Users() store.Users                           { return &usersRepo{s.exec()} }
func (s *Store) MFA() store.MFA                               { return &mfaRepo{s.exec()} }
func (s *Store) Sessions() store.Sessions                     { return &sessionsRepo{s.exec()} }
func (s *Store) VerificationTokens() store.VerificationTokens { return &verificationRepo{s.exec()} }
func (s *Store) BackupCodes() store.BackupCodes               { return &backupCodesRepo{s.exec()} }
func (s *Store) LoginAttempts() store.LoginAttempts           { return &loginAttemptsRepo{s.exec()} }
func (s *Store) AuditLogs() store.AuditLogs                   { return &auditLogsRepo{s.exec()} }

func (s *Store) exec() executor { return executor{q: s.q, d: s.d} }

type txStore struct {
	Store
	tx *sql.Tx
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // caller commits or rolls back, the pool stays open

// Ping is a no-op for transactions, the connection is already established.
func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, sql.ErrTxDone // nested transactions are not supported
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone // nested transactions are not supported
}

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx

// executor runs dialect-rebound queries and maps driver errors.
type executor struct {
	q querier
	d Dialect
}

func (e executor) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.q.ExecContext(ctx, e.rebind(query), args...)
	return res, e.mapErr(err)
}

// execOne is exec that expects exactly one affected row.
func (e executor) execOne(ctx context.Context, query string, args ...any) error {
	res, err := e.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (e executor) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return e.q.QueryRowContext(ctx, e.rebind(query), args...)
}

func (e executor) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.q.QueryContext(ctx, e.rebind(query), args...)
	return rows, e.mapErr(err)
}

func (e executor) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return store.ErrNotFound
	case e.d.IsUniqueViolation != nil && e.d.IsUniqueViolation(err):
		return fmt.Errorf("%w: %v", store.ErrAlreadyExists, err)
	default:
		return err
	}
}

func (e executor) rebind(query string) string {
	if !e.d.NumberedPlaceholders {
		return query
	}
	return Rebind(query)
}

// Rebind rewrites '?' placeholders into $1, $2, ... Queries in this package
// never contain a literal question mark.
func Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
