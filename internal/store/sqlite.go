package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteDBManager struct {
	db *sql.DB
}

// NewSQLiteDBManager opens a SQLite database at path, creating its parent
// directory, and applies schema when it is non-empty.
func NewSQLiteDBManager(ctx context.Context, path, schema string) (DBManager, error) {
	if err := ensureSQLiteParentDir(path); err != nil {
		return nil, fmt.Errorf("sqlite parent dir: %w", err)
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", translateSQLiteError(err))
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite connection failed: %w", translateSQLiteError(err))
	}

	if schema != "" {
		if _, err = db.ExecContext(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to initialize sqlite schema: %w", translateSQLiteError(err))
		}
	}

	return &sqliteDBManager{db: db}, nil
}

func (m *sqliteDBManager) WithoutTransaction() Exec {
	return &txAwareDB{db: m.db, errTranslate: translateSQLiteError}
}

func (m *sqliteDBManager) WithTransaction(ctx context.Context) (Exec, CommitTx, ReleaseTx, error) {
	return beginTx(ctx, m.db, translateSQLiteError)
}

func (m *sqliteDBManager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// sqliteDSN asks the driver to store times in a sortable text layout.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_time_format=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_time_format=sqlite"
}

func translateSQLiteError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrQueryCanceled, err)
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "UNIQUE constraint"):
		return ErrUniqueViolation
	case strings.Contains(s, "FOREIGN KEY constraint"):
		return ErrForeignKeyViolation
	case strings.Contains(s, "NOT NULL constraint"):
		return ErrNotNullViolation
	case strings.Contains(s, "CHECK constraint"):
		return ErrCheckViolation
	}
	return fmt.Errorf("store: sqlite error: %w", err)
}

func ensureSQLiteParentDir(path string) error {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file::memory") {
		return nil
	}
	fsPath := path
	if strings.HasPrefix(fsPath, "file:") {
		fsPath = strings.TrimPrefix(fsPath, "file:")
	}
	if before, _, ok := strings.Cut(fsPath, "?"); ok {
		fsPath = before
	}
	dir := filepath.Dir(fsPath)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
