package download_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/download"
)

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestScriptFallback(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		script  string
		want    string
		wantErr string
	}{
		{
			name:   "last line is the path",
			script: "echo \"fetching $1\"\necho progress >&2\necho /tmp/$1.apk\n",
			want:   "/tmp/com.example.apk",
		},
		{
			name:   "relative path resolves against dir",
			script: "echo out/$1.xapk\n",
			want:   filepath.Join(dir, "out", "com.example.xapk"),
		},
		{
			name:    "no output",
			script:  "exit 0\n",
			wantErr: "printed no path",
		},
		{
			name:    "non-zero exit",
			script:  "echo boom >&2\nexit 3\n",
			wantErr: "exit code 3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := download.NewScriptFallback(writeScript(t, dir, tt.script), dir)
			fb.Interpreter = "sh"

			got, err := fb.Fetch(context.Background(), "com.example")
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScriptFallback_Timeout(t *testing.T) {
	dir := t.TempDir()
	fb := download.NewScriptFallback(writeScript(t, dir, "exec sleep 5\necho /tmp/x.apk\n"), dir)
	fb.Interpreter = "sh"
	fb.Timeout = 100 * time.Millisecond

	start := time.Now()
	_, err := fb.Fetch(context.Background(), "com.slow")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}
