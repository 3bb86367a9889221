package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/store"
)

func setupSQLiteStore(t *testing.T) (context.Context, *store.SQLStore) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "appbot.db")
	db, err := store.NewSQLiteDBManager(ctx, path, store.SchemaSQLite)
	require.NoError(t, err)
	s := store.New(db)
	t.Cleanup(func() { _ = s.Close() })
	return ctx, s
}

// exerciseStore runs the same scenario against any backend.
func exerciseStore(t *testing.T, ctx context.Context, s *store.SQLStore) {
	t.Helper()
	now := time.Now()
	clock := now
	s.WithClock(func() time.Time { return clock })

	require.True(t, s.Enabled())

	require.NoError(t, s.TouchUser(ctx, "212600000001", "Omar"))
	require.NoError(t, s.TouchUser(ctx, "212600000002", "Sara"))
	clock = now.Add(time.Minute)
	require.NoError(t, s.TouchUser(ctx, "212600000001", "Omar K"))

	phones, err := s.UserPhones(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"212600000001", "212600000002"}, phones)

	yesterday := now.Add(-48 * time.Hour)
	downloads := []store.Download{
		{UserPhone: "212600000001", AppID: "com.whatsapp", AppName: "WhatsApp", FileType: "apk", FileSize: 1000, CreatedAt: yesterday},
		{UserPhone: "212600000001", AppID: "com.whatsapp", AppName: "WhatsApp", FileType: "apk", FileSize: 2000, CreatedAt: now.Add(-time.Second)},
		{UserPhone: "212600000001", AppID: "com.pubg", AppName: "PUBG", FileType: "xapk", FileSize: 3000},
		{UserPhone: "212600000002", AppID: "org.telegram.messenger", AppName: "Telegram", FileType: "apk", FileSize: 500},
	}
	for _, d := range downloads {
		require.NoError(t, s.LogDownload(ctx, d))
	}

	history, err := s.History(ctx, "212600000001", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "PUBG", history[0].AppName)
	assert.Equal(t, "xapk", history[0].FileType)
	assert.Equal(t, "WhatsApp", history[2].AppName)
	assert.WithinDuration(t, yesterday, history[2].CreatedAt, time.Second)

	limited, err := s.History(ctx, "212600000001", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	empty, err := s.History(ctx, "212600000009", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, s.AddToBlacklist(ctx, "212699999999", "spam"))
	require.NoError(t, s.AddToBlacklist(ctx, "212699999999", "again"))

	banned, err := s.IsBlacklisted(ctx, "212699999999")
	require.NoError(t, err)
	assert.True(t, banned)
	banned, err = s.IsBlacklisted(ctx, "212600000001")
	require.NoError(t, err)
	assert.False(t, banned)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Users)
	assert.Equal(t, int64(4), stats.Downloads)
	assert.Equal(t, int64(6500), stats.TotalBytes)
	assert.Equal(t, int64(1), stats.BlockedUsers)
	assert.GreaterOrEqual(t, stats.TodayDownloads, int64(2))
	assert.LessOrEqual(t, stats.TodayDownloads, int64(3))
	require.NotEmpty(t, stats.TopApps)
	assert.Equal(t, store.AppCount{AppName: "WhatsApp", Count: 2}, stats.TopApps[0])
	assert.Len(t, stats.TopApps, 3)

	require.NoError(t, s.RemoveFromBlacklist(ctx, "212699999999"))
	require.NoError(t, s.RemoveFromBlacklist(ctx, "212699999999"))
	banned, err = s.IsBlacklisted(ctx, "212699999999")
	require.NoError(t, err)
	assert.False(t, banned)
}

func TestSQLStore_SQLite(t *testing.T) {
	ctx, s := setupSQLiteStore(t)
	exerciseStore(t, ctx, s)
}

func TestSQLStore_EmptyStats(t *testing.T) {
	ctx, s := setupSQLiteStore(t)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Users)
	assert.Zero(t, stats.TotalBytes)
	assert.Empty(t, stats.TopApps)
}

func TestSQLStore_TopAppsCappedAtFive(t *testing.T) {
	ctx, s := setupSQLiteStore(t)
	require.NoError(t, s.TouchUser(ctx, "212600000001", "u"))

	for i, name := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		for range i + 1 {
			require.NoError(t, s.LogDownload(ctx, store.Download{
				UserPhone: "212600000001", AppID: "id." + name, AppName: name, FileType: "apk",
			}))
		}
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.TopApps, 5)
	assert.Equal(t, "G", stats.TopApps[0].AppName)
	assert.Equal(t, int64(7), stats.TopApps[0].Count)
	assert.Equal(t, "C", stats.TopApps[4].AppName)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, store.DriverNone, "")
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	s, err = store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	assert.True(t, s.Enabled())
	require.NoError(t, s.Close())

	_, err = store.Open(ctx, "mysql", "")
	assert.Error(t, err)
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var s store.Store = store.Noop{}

	assert.False(t, s.Enabled())
	assert.NoError(t, s.TouchUser(ctx, "1", "x"))
	assert.NoError(t, s.LogDownload(ctx, store.Download{}))
	assert.NoError(t, s.AddToBlacklist(ctx, "1", "r"))
	assert.NoError(t, s.RemoveFromBlacklist(ctx, "1"))

	banned, err := s.IsBlacklisted(ctx, "1")
	assert.NoError(t, err)
	assert.False(t, banned)

	_, err = s.Stats(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	_, err = s.UserPhones(ctx)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestSQLiteUniqueViolationTranslated(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "u.db"), store.SchemaSQLite)
	require.NoError(t, err)
	defer db.Close()

	exec := db.WithoutTransaction()
	insert := `INSERT INTO blacklist (phone_number, reason, created_at) VALUES ($1, $2, $3)`
	_, err = exec.ExecContext(ctx, insert, "1", "r", time.Now().UTC())
	require.NoError(t, err)
	_, err = exec.ExecContext(ctx, insert, "1", "r", time.Now().UTC())
	assert.ErrorIs(t, err, store.ErrUniqueViolation)

	var reason string
	err = exec.QueryRowContext(ctx, `SELECT reason FROM blacklist WHERE phone_number = $1`, "2").Scan(&reason)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	db, err := store.NewSQLiteDBManager(ctx, filepath.Join(t.TempDir(), "tx.db"), store.SchemaSQLite)
	require.NoError(t, err)
	defer db.Close()

	exec, _, release, err := db.WithTransaction(ctx)
	require.NoError(t, err)
	_, err = exec.ExecContext(ctx,
		`INSERT INTO blacklist (phone_number, reason, created_at) VALUES ($1, $2, $3)`, "1", "r", time.Now().UTC())
	require.NoError(t, err)
	require.NoError(t, release())
	require.NoError(t, release(), "release after rollback must be a no-op")

	banned, err := store.New(db).IsBlacklisted(ctx, "1")
	require.NoError(t, err)
	assert.False(t, banned)
}
