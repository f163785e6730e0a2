package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cswenor/conductor/internal/db/driver"
)

// TxRunner provides a transactional execution interface, allowing multi-table
// operations (event append + projection update) to commit or roll back as one.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(tx *TxOps) error) error
}

// TxOps provides database operations within a transaction. It mirrors the
// Store query surface but routes everything through the transaction, carrying
// the context the transaction was opened with.
type TxOps struct {
	tx  driver.Tx
	ctx context.Context
}

// Exec executes a query within the transaction.
func (t *TxOps) Exec(query string, args ...any) (sql.Result, error) {
	return t.tx.Exec(t.ctx, query, args...)
}

// Query executes a query that returns rows within the transaction.
func (t *TxOps) Query(query string, args ...any) (*sql.Rows, error) {
	return t.tx.Query(t.ctx, query, args...)
}

// QueryRow executes a query that returns at most one row within the transaction.
func (t *TxOps) QueryRow(query string, args ...any) *sql.Row {
	return t.tx.QueryRow(t.ctx, query, args...)
}

// Context returns the context associated with this transaction.
func (t *TxOps) Context() context.Context {
	return t.ctx
}

// Store provides operations on the conductor database.
type Store struct {
	*DB
}

// OpenStore opens (and migrates) the conductor database at the given path
// using SQLite.
func OpenStore(path string) (*Store, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate conductor db: %w", err)
	}
	return &Store{DB: db}, nil
}

// OpenStoreWithDialect opens (and migrates) the conductor database with a
// specific dialect.
func OpenStoreWithDialect(dsn string, dialect driver.Dialect) (*Store, error) {
	db, err := OpenWithDialect(dsn, dialect)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate conductor db: %w", err)
	}
	return &Store{DB: db}, nil
}

// OpenStoreInMemory opens a migrated in-memory store. Each call is isolated.
func OpenStoreInMemory() (*Store, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate conductor db: %w", err)
	}
	return &Store{DB: db}, nil
}

// RunInTx executes fn within a database transaction. An error from fn rolls
// the transaction back; nil commits it.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *TxOps) error) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txOps := &TxOps{tx: tx, ctx: ctx}

	if err := fn(txOps); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ensure Store implements TxRunner.
var _ TxRunner = (*Store)(nil)
