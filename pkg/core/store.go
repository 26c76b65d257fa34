package core

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver
)

// Store is an embedded object store layered over SQLite. Objects belong to
// registered types, carry a mix of column-backed and blob-backed attributes,
// and can be found by attribute constraints or ranked keyword search.
//
// All operations execute synchronously on one connection inside a long-lived
// transaction; writes become durable on Commit (or Close).
type Store struct {
	db     *sql.DB
	tx     *sql.Tx
	config Config
	logger Logger
	mu     sync.Mutex
	closed bool
	types  map[string]*typeDef
}

// New creates a new store for the given database path.
func New(path string) (*Store, error) {
	config := DefaultConfig()
	config.Path = path
	return NewWithConfig(config)
}

// NewWithConfig creates a new store with custom configuration.
func NewWithConfig(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, wrapError("init", fmt.Errorf("database path cannot be empty"))
	}
	if config.Logger == nil {
		config.Logger = NopLogger()
	}
	return &Store{
		config: config,
		logger: config.Logger,
		types:  make(map[string]*typeDef),
	}, nil
}

// conn returns the current transaction, beginning one if none is open.
func (s *Store) conn(ctx context.Context) (*sql.Tx, error) {
	if s.tx == nil {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		s.tx = tx
	}
	return s.tx, nil
}

// exec runs a statement on the current transaction.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return tx.ExecContext(ctx, query, args...)
}

// queryRows runs a query on the current transaction.
func (s *Store) queryRows(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return tx.QueryContext(ctx, query, args...)
}

// queryRow runs a single-row query on the current transaction.
func (s *Store) queryRow(ctx context.Context, query string, args ...any) (*sql.Row, error) {
	tx, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return tx.QueryRowContext(ctx, query, args...), nil
}

// Commit makes all writes since the previous commit durable. Commits are
// caller-driven so that bulk writes can be batched into one transaction.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return wrapError("commit", ErrStoreClosed)
	}
	return wrapError("commit", s.commitLocked())
}

func (s *Store) commitLocked() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// Close commits pending writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.db == nil {
		return nil
	}
	if err := s.commitLocked(); err != nil {
		s.db.Close()
		return wrapError("close", err)
	}
	return wrapError("close", s.db.Close())
}
