// Package store is the canonical PostgreSQL-backed repository for instances,
// credentials, accounts, sync sessions, classifications and tasks.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/whalefall/accountsync/internal/database/adapter"
	"github.com/whalefall/accountsync/internal/database/common"
	"github.com/whalefall/accountsync/pkg/logger"
)

// Store wraps the canonical database pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// New creates a store on top of an existing pool.
func New(pool *pgxpool.Pool, log *logger.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: log.Named("store"),
	}
}

// Pool exposes the underlying pool for components that manage their own
// transactions.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyStoreErr("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classifyStoreErr("commit", err)
	}
	return nil
}

// classifyStoreErr maps canonical-store failures onto the shared taxonomy so
// retry policy can key off the kind.
func classifyStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return adapter.NewError(adapter.KindSerializationConflict, common.DialectPostgreSQL, op, err)
		case "57014": // query cancelled
			return adapter.NewError(adapter.KindCancelled, common.DialectPostgreSQL, op, err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return adapter.NewError(adapter.KindCancelled, common.DialectPostgreSQL, op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return adapter.NewError(adapter.KindTimeout, common.DialectPostgreSQL, op, err)
	}
	return fmt.Errorf("store %s: %w", op, err)
}

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

func notFoundOr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return classifyStoreErr(op, err)
}
