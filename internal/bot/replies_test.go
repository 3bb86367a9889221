package bot_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/bot"
	"github.com/Veraticus/appbot/internal/catalog"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

func TestDefaultRepliesAppendFooter(t *testing.T) {
	r, err := bot.DefaultReplies(bot.Vars{Instagram: "https://instagram.com/example", Version: "9.9.9"})
	require.NoError(t, err)

	text, err := r.Render("info", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(text, footer))
	assert.Contains(t, text, "9.9.9")

	text, err = r.Render("dev", nil)
	require.NoError(t, err)
	assert.Contains(t, text, "https://instagram.com/example")
}

func TestRenderResults(t *testing.T) {
	r, err := bot.DefaultReplies(bot.Vars{})
	require.NoError(t, err)

	text, err := r.Render("results", map[string]any{"Results": []catalog.Entry{
		{Title: "One", Index: 1},
		{Title: "Eleven", Index: 11},
	}})
	require.NoError(t, err)
	assert.Contains(t, text, "1️⃣ → One\n")
	assert.Contains(t, text, "11→ → Eleven\n")
	assert.Contains(t, text, "(1-2)")
}

func TestRenderErrors(t *testing.T) {
	r, err := bot.DefaultReplies(bot.Vars{})
	require.NoError(t, err)

	_, err = r.Render("nope", nil)
	assert.ErrorContains(t, err, `unknown reply "nope"`)

	_, err = r.Render("welcome", map[string]any{})
	assert.Error(t, err, "missing keys fail instead of rendering <no value>")
}

func TestParseReplies(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "bad yaml", data: "welcome: [", wantErr: "parse replies"},
		{name: "bad template", data: "welcome: '{{.Name'", wantErr: `parse reply "welcome"`},
		{name: "missing entries", data: "footer: x\nwelcome: hi", wantErr: "replies missing: vip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := bot.ParseReplies([]byte(tt.data), bot.Vars{})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadRepliesOverridesCatalogue(t *testing.T) {
	defaults, err := os.ReadFile("replies.yaml")
	require.NoError(t, err)
	custom := strings.Replace(string(defaults), `footer: "\n\n_Powered by AppOmar_"`, `footer: " -- custom"`, 1)
	path := filepath.Join(t.TempDir(), "replies.yaml")
	require.NoError(t, writeFile(path, custom))

	r, err := bot.LoadReplies(path, bot.Vars{})
	require.NoError(t, err)
	text, err := r.Render("wait", nil)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(text, " -- custom"))

	_, err = bot.LoadReplies(filepath.Join(t.TempDir(), "missing.yaml"), bot.Vars{})
	assert.ErrorContains(t, err, "read replies")
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1536, "1.5 KB"},
		{150 << 20, "150.0 MB"},
		{3 << 29, "1.50 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bot.FormatSize(tt.in), "FormatSize(%d)", tt.in)
	}
}

func TestListEmoji(t *testing.T) {
	assert.Equal(t, "1️⃣", bot.ListEmoji(1))
	assert.Equal(t, "🔟", bot.ListEmoji(10))
	assert.Equal(t, "11→", bot.ListEmoji(11))
	assert.Equal(t, "0→", bot.ListEmoji(0))
}
