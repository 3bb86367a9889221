package download_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/download"
)

func TestSpool_CreateUniqueNames(t *testing.T) {
	s := newSpool(t)

	a, err := s.Create("apk")
	require.NoError(t, err)
	b, err := s.Create(".apk")
	require.NoError(t, err)
	defer func() { _ = a.Close(); _ = b.Close() }()

	assert.NotEqual(t, a.Name(), b.Name())
	assert.True(t, strings.HasSuffix(a.Name(), ".apk"))
	assert.True(t, strings.HasSuffix(b.Name(), ".apk"))
	assert.False(t, strings.HasSuffix(b.Name(), "..apk"))
	assert.Equal(t, s.Dir(), filepath.Dir(a.Name()))
}

func TestSpool_CreateRejectsPathsInExtension(t *testing.T) {
	s := newSpool(t)
	for _, ext := range []string{"apk/../../escaped", `apk\x`, ".."} {
		f, err := s.Create(ext)
		assert.Error(t, err, ext)
		assert.Nil(t, f)
	}
	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpool_Adopt(t *testing.T) {
	s := newSpool(t)
	src := filepath.Join(t.TempDir(), "helper-output.xapk")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o600))

	dst, err := s.Adopt(src)
	require.NoError(t, err)

	assert.Equal(t, s.Dir(), filepath.Dir(dst))
	assert.Equal(t, ".xapk", filepath.Ext(dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestSpool_AdoptMissingSource(t *testing.T) {
	s := newSpool(t)
	_, err := s.Adopt(filepath.Join(t.TempDir(), "missing.apk"))
	require.Error(t, err)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSpool_Remove(t *testing.T) {
	s := newSpool(t)
	f, err := s.Create("png")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.Remove(f.Name()))
	require.NoError(t, s.Remove(f.Name()), "removing twice is fine")

	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))
	assert.Error(t, s.Remove(outside))
	assert.Error(t, s.Remove(filepath.Join(s.Dir(), "..", "escape")))
	assert.Error(t, s.Remove(s.Dir()))
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestSpool_Sweep(t *testing.T) {
	s := newSpool(t)

	oldFile, err := s.Create("apk")
	require.NoError(t, err)
	require.NoError(t, oldFile.Close())
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldFile.Name(), past, past))

	fresh, err := s.Create("apk")
	require.NoError(t, err)
	require.NoError(t, fresh.Close())

	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "subdir"), 0o755))

	assert.Equal(t, 1, s.Sweep(30*time.Minute))
	_, err = os.Stat(oldFile.Name())
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh.Name())
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(s.Dir(), "subdir"))
	assert.NoError(t, err)

	assert.Equal(t, 0, s.Sweep(30*time.Minute))
}
