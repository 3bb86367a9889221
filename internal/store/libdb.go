package store

import (
	"context"
	"database/sql"
	"errors"
)

// Errors returned by the executors. Driver errors are translated into these
// so callers never need to import a driver package.
var (
	ErrNotFound            = errors.New("store: not found")
	ErrUniqueViolation     = errors.New("store: unique constraint violation")
	ErrForeignKeyViolation = errors.New("store: foreign key violation")
	ErrNotNullViolation    = errors.New("store: not null violation")
	ErrCheckViolation      = errors.New("store: check constraint violation")
	ErrConstraintViolation = errors.New("store: constraint violation")
	ErrDeadlockDetected    = errors.New("store: deadlock detected")
	ErrQueryCanceled       = errors.New("store: query canceled")
	ErrTxFailed            = errors.New("store: transaction failed")
	ErrUnavailable         = errors.New("store: database not connected")
)

// QueryRower scans a single row.
type QueryRower interface {
	Scan(dest ...any) error
}

// Exec runs statements either directly on the pool or inside a transaction.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// CommitTx commits the transaction it was returned with.
type CommitTx func(ctx context.Context) error

// ReleaseTx rolls back unless the transaction was committed. Safe to defer.
type ReleaseTx func() error

// DBManager owns a connection pool.
type DBManager interface {
	WithoutTransaction() Exec
	WithTransaction(ctx context.Context) (Exec, CommitTx, ReleaseTx, error)
	Close() error
}

// beginTx wraps a *sql.Tx into the executor, commit and release triple.
func beginTx(ctx context.Context, db *sql.DB, translate func(error) error) (Exec, CommitTx, ReleaseTx, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, func() error { return nil }, errors.Join(ErrTxFailed, translate(err))
	}

	commit := func(commitCtx context.Context) error {
		if ctxErr := commitCtx.Err(); ctxErr != nil {
			return errors.Join(ErrTxFailed, ctxErr)
		}
		if err := tx.Commit(); err != nil {
			return errors.Join(ErrTxFailed, translate(err))
		}
		return nil
	}

	release := func() error {
		err := tx.Rollback()
		if err != nil && !errors.Is(err, sql.ErrTxDone) {
			return errors.Join(ErrTxFailed, translate(err))
		}
		return nil
	}

	return &txAwareDB{tx: tx, errTranslate: translate}, commit, release, nil
}

// txAwareDB delegates to a *sql.DB or *sql.Tx and translates errors with the
// driver's translator.
type txAwareDB struct {
	db           *sql.DB
	tx           *sql.Tx
	errTranslate func(error) error
}

func (s *txAwareDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	var err error
	switch {
	case s.tx != nil:
		res, err = s.tx.ExecContext(ctx, query, args...)
	case s.db != nil:
		res, err = s.db.ExecContext(ctx, query, args...)
	default:
		return nil, errors.New("store: Exec called on uninitialized executor")
	}
	return res, s.errTranslate(err)
}

func (s *txAwareDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	switch {
	case s.tx != nil:
		rows, err = s.tx.QueryContext(ctx, query, args...)
	case s.db != nil:
		rows, err = s.db.QueryContext(ctx, query, args...)
	default:
		return nil, errors.New("store: Query called on uninitialized executor")
	}
	if err != nil {
		return nil, s.errTranslate(err)
	}
	return rows, nil
}

func (s *txAwareDB) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	var r *sql.Row
	switch {
	case s.tx != nil:
		r = s.tx.QueryRowContext(ctx, query, args...)
	case s.db != nil:
		r = s.db.QueryRowContext(ctx, query, args...)
	default:
		return &row{err: errors.New("store: QueryRow called on uninitialized executor")}
	}
	return &row{inner: r, errTranslate: s.errTranslate}
}

type row struct {
	inner        *sql.Row
	err          error
	errTranslate func(error) error
}

func (r *row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return r.errTranslate(r.inner.Scan(dest...))
}
