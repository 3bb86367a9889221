// Package store persists users, downloads and the blacklist. PostgreSQL is
// used in production and SQLite for single-host installs; without either the
// bot runs on a no-op store.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"
)

//go:embed schema.sql
var Schema string

//go:embed schema_sqlite.sql
var SchemaSQLite string

// Driver names accepted by Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverNone     = ""
)

// Download is one delivered artifact.
type Download struct {
	CreatedAt time.Time
	UserPhone string
	AppID     string
	AppName   string
	FileType  string
	FileSize  int64
}

// AppCount is an app with its download count.
type AppCount struct {
	AppName string
	Count   int64
}

// Stats summarizes the whole database.
type Stats struct {
	TopApps        []AppCount
	Users          int64
	Downloads      int64
	TodayDownloads int64
	TotalBytes     int64
	BlockedUsers   int64
}

// Store is the persistence surface of the bot.
type Store interface {
	// Enabled reports whether a database backs the store.
	Enabled() bool
	TouchUser(ctx context.Context, phone, username string) error
	LogDownload(ctx context.Context, d Download) error
	Stats(ctx context.Context) (Stats, error)
	History(ctx context.Context, phone string, limit int) ([]Download, error)
	UserPhones(ctx context.Context) ([]string, error)
	IsBlacklisted(ctx context.Context, phone string) (bool, error)
	AddToBlacklist(ctx context.Context, phone, reason string) error
	RemoveFromBlacklist(ctx context.Context, phone string) error
	Close() error
}

// Open connects to the configured driver. An empty driver returns Noop.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		db  DBManager
		err error
	)
	switch driver {
	case DriverNone:
		return Noop{}, nil
	case DriverPostgres:
		db, err = NewPostgresDBManager(ctx, dsn, Schema)
	case DriverSQLite:
		db, err = NewSQLiteDBManager(ctx, dsn, SchemaSQLite)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// SQLStore implements Store on a DBManager.
type SQLStore struct {
	db  DBManager
	now func() time.Time
}

// New wraps db.
func New(db DBManager) *SQLStore {
	if db == nil {
		panic("store.New called with nil DBManager")
	}
	return &SQLStore{db: db, now: time.Now}
}

// WithClock replaces the clock used for timestamps and returns s.
func (s *SQLStore) WithClock(now func() time.Time) *SQLStore {
	s.now = now
	return s
}

func (s *SQLStore) Enabled() bool { return true }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) stamp() time.Time {
	return s.now().UTC()
}

// TouchUser records activity for phone, creating the user on first sight.
func (s *SQLStore) TouchUser(ctx context.Context, phone, username string) error {
	now := s.stamp()
	_, err := s.db.WithoutTransaction().ExecContext(ctx, `
		INSERT INTO users (phone_number, username, first_seen, last_activity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (phone_number) DO UPDATE
		SET last_activity = excluded.last_activity, username = excluded.username`,
		phone, username, now, now)
	if err != nil {
		return fmt.Errorf("touch user: %w", err)
	}
	return nil
}

// LogDownload inserts d and bumps the user's download counter atomically.
func (s *SQLStore) LogDownload(ctx context.Context, d Download) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.stamp()
	}

	exec, commit, release, err := s.db.WithTransaction(ctx)
	if err != nil {
		return fmt.Errorf("log download: %w", err)
	}
	defer func() { _ = release() }()

	if _, err := exec.ExecContext(ctx, `
		INSERT INTO downloads (user_phone, app_id, app_name, file_type, file_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		d.UserPhone, d.AppID, d.AppName, d.FileType, d.FileSize, d.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert download: %w", err)
	}
	if _, err := exec.ExecContext(ctx,
		`UPDATE users SET total_downloads = total_downloads + 1 WHERE phone_number = $1`,
		d.UserPhone); err != nil {
		return fmt.Errorf("count download: %w", err)
	}
	return commit(ctx)
}

// Stats aggregates users, downloads and the blacklist. "Today" starts at
// local midnight.
func (s *SQLStore) Stats(ctx context.Context) (Stats, error) {
	exec := s.db.WithoutTransaction()
	var st Stats

	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&st.Users); err != nil {
		return Stats{}, fmt.Errorf("count users: %w", err)
	}
	if err := exec.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM downloads`).Scan(&st.Downloads, &st.TotalBytes); err != nil {
		return Stats{}, fmt.Errorf("count downloads: %w", err)
	}

	now := s.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UTC()
	if err := exec.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM downloads WHERE created_at >= $1`, midnight).Scan(&st.TodayDownloads); err != nil {
		return Stats{}, fmt.Errorf("count today's downloads: %w", err)
	}
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM blacklist`).Scan(&st.BlockedUsers); err != nil {
		return Stats{}, fmt.Errorf("count blacklist: %w", err)
	}

	rows, err := exec.QueryContext(ctx, `
		SELECT app_name, COUNT(*) AS cnt FROM downloads
		GROUP BY app_name
		ORDER BY cnt DESC, app_name ASC
		LIMIT 5`)
	if err != nil {
		return Stats{}, fmt.Errorf("top apps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ac AppCount
		if err := rows.Scan(&ac.AppName, &ac.Count); err != nil {
			return Stats{}, fmt.Errorf("scan top app: %w", err)
		}
		st.TopApps = append(st.TopApps, ac)
	}
	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("top apps: %w", err)
	}
	return st, nil
}

// History returns the newest downloads of phone, newest first.
func (s *SQLStore) History(ctx context.Context, phone string, limit int) ([]Download, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.WithoutTransaction().QueryContext(ctx, `
		SELECT app_id, app_name, file_type, file_size, created_at FROM downloads
		WHERE user_phone = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		d := Download{UserPhone: phone}
		if err := rows.Scan(&d.AppID, &d.AppName, &d.FileType, &d.FileSize, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// UserPhones lists every known user.
func (s *SQLStore) UserPhones(ctx context.Context) ([]string, error) {
	rows, err := s.db.WithoutTransaction().QueryContext(ctx,
		`SELECT phone_number FROM users ORDER BY first_seen ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var phones []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		phones = append(phones, p)
	}
	return phones, rows.Err()
}

// IsBlacklisted reports whether phone is banned.
func (s *SQLStore) IsBlacklisted(ctx context.Context, phone string) (bool, error) {
	var found string
	err := s.db.WithoutTransaction().QueryRowContext(ctx,
		`SELECT phone_number FROM blacklist WHERE phone_number = $1`, phone).Scan(&found)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return true, nil
}

// AddToBlacklist bans phone. Banning twice keeps the first reason.
func (s *SQLStore) AddToBlacklist(ctx context.Context, phone, reason string) error {
	_, err := s.db.WithoutTransaction().ExecContext(ctx, `
		INSERT INTO blacklist (phone_number, reason, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (phone_number) DO NOTHING`, phone, reason, s.stamp())
	if err != nil {
		return fmt.Errorf("add to blacklist: %w", err)
	}
	return nil
}

// RemoveFromBlacklist lifts a ban. Removing an unknown phone is not an error.
func (s *SQLStore) RemoveFromBlacklist(ctx context.Context, phone string) error {
	if _, err := s.db.WithoutTransaction().ExecContext(ctx,
		`DELETE FROM blacklist WHERE phone_number = $1`, phone); err != nil {
		return fmt.Errorf("remove from blacklist: %w", err)
	}
	return nil
}
