package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

type postgresDBManager struct {
	db *sql.DB
}

// NewPostgresDBManager opens a PostgreSQL pool, verifies it and applies schema
// when it is non-empty.
func NewPostgresDBManager(ctx context.Context, dsn, schema string) (DBManager, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", translatePostgresError(err))
	}

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database connection failed: %w", translatePostgresError(err))
	}

	if schema != "" {
		if _, err = db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", translatePostgresError(err))
		}
	}

	return &postgresDBManager{db: db}, nil
}

func (m *postgresDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: m.db, errTranslate: translatePostgresError}
}

func (m *postgresDBManager) WithTransaction(ctx context.Context) (Exec, CommitTx, ReleaseTx, error) {
	return beginTx(ctx, m.db, translatePostgresError)
}

func (m *postgresDBManager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

func translatePostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrUniqueViolation
		case "23503":
			return ErrForeignKeyViolation
		case "23502":
			return ErrNotNullViolation
		case "23514":
			return ErrCheckViolation
		case "40P01":
			return ErrDeadlockDetected
		case "57014":
			return fmt.Errorf("%w: %s", ErrQueryCanceled, pqErr.Message)
		default:
			if pqErr.Code.Class() == "23" {
				return fmt.Errorf("%w: %s", ErrConstraintViolation, pqErr.Message)
			}
			return fmt.Errorf("store: postgres error: code=%s message=%q: %w", pqErr.Code, pqErr.Message, err)
		}
	}

	return fmt.Errorf("store: unexpected database error: %w", err)
}
