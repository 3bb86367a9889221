package bot_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/bot"
)

func TestProfileImageDownloadsOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("\xff\xd8\xff picture"))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "assets", "profile.jpg")
	p := bot.NewProfileImage(path, srv.URL, srv.Client(), nil)

	got, ok := p.Path(context.Background())
	require.True(t, ok)
	assert.Equal(t, path, got)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8\xff picture", string(data))

	_, ok = p.Path(context.Background())
	assert.True(t, ok)
	assert.Equal(t, int32(1), hits.Load())

	// A fresh instance reuses the file on disk.
	again := bot.NewProfileImage(path, srv.URL, srv.Client(), nil)
	_, ok = again.Path(context.Background())
	assert.True(t, ok)
	assert.Equal(t, int32(1), hits.Load())
}

func TestProfileImageUnavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "profile.jpg")
	p := bot.NewProfileImage(path, srv.URL, srv.Client(), nil)

	_, ok := p.Path(context.Background())
	assert.False(t, ok)
	assert.NoFileExists(t, path)

	_, ok = p.Path(context.Background())
	assert.False(t, ok)
	assert.Equal(t, int32(2), hits.Load(), "failures are retried on the next call")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files are cleaned up")
}

func TestProfileImageWithoutSource(t *testing.T) {
	var nilImage *bot.ProfileImage
	_, ok := nilImage.Path(context.Background())
	assert.False(t, ok)

	_, ok = bot.NewProfileImage("", "http://example.invalid", nil, nil).Path(context.Background())
	assert.False(t, ok)

	_, ok = bot.NewProfileImage(filepath.Join(t.TempDir(), "none.jpg"), "", nil, nil).Path(context.Background())
	assert.False(t, ok)
}
