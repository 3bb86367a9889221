package bot_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/mocks"
	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/store"
)

var asDeveloper = mocks.WithChat(mocks.DeveloperJID)

func TestStatsCommand(t *testing.T) {
	h := newHarness(t, withSQLiteStore(t))
	ctx := context.Background()
	require.NoError(t, h.store.TouchUser(ctx, mocks.UserPhone, "User"))
	for _, name := range []string{"Alpha", "Alpha", "Beta"} {
		require.NoError(t, h.store.LogDownload(ctx, store.Download{
			UserPhone: mocks.UserPhone, AppID: strings.ToLower(name), AppName: name, FileType: "apk", FileSize: 1 << 29,
		}))
	}
	require.NoError(t, h.store.AddToBlacklist(ctx, "212600000099", "test"))

	h.send("/stats", asDeveloper)

	text := h.lastText()
	assert.True(t, strings.HasPrefix(text, "📊 *إحصائيات البوت*\n\n"))
	assert.Contains(t, text, "→ المستخدمين: 2")
	assert.Contains(t, text, "→ التحميلات: 3")
	assert.Contains(t, text, "→ تحميلات اليوم: 3")
	assert.Contains(t, text, "→ الحجم الكلي: 1.50 GB")
	assert.Contains(t, text, "→ المحظورين: 1")
	assert.Contains(t, text, "🔥 *أكثر التطبيقات تحميلاً:*\n1→ Alpha (2)\n2→ Beta (1)"+footer)
}

func TestStatsWithoutStore(t *testing.T) {
	h := newHarness(t)
	h.send("/stats", asDeveloper)
	assert.Equal(t, "❌ قاعدة البيانات غير متصلة"+footer, h.lastText())
}

func TestAdminCommandsNeedDeveloper(t *testing.T) {
	h := newHarness(t, withSQLiteStore(t))
	h.send("/stats")
	h.send("/block 212600000002")

	assert.Equal(t, []string{"/stats", "/block 212600000002"}, h.catalog.Searches())
	assert.Empty(t, h.events.Bans())
}

func TestAdminCommandsAreCaseSensitive(t *testing.T) {
	h := newHarness(t)
	h.send("/ADMIN", asDeveloper)
	assert.Equal(t, []string{"/ADMIN"}, h.catalog.Searches())

	h.send("/admin", asDeveloper)
	assert.Contains(t, h.lastText(), "🔧 *أوامر المطور*")
}

func TestBlockAndUnblock(t *testing.T) {
	h := newHarness(t, withSQLiteStore(t))
	ctx := context.Background()

	h.send("/block +212 600-000001", asDeveloper)
	assert.Equal(t, "✅ تم حظر 212600000001"+footer, h.lastText())
	banned, err := h.store.IsBlacklisted(ctx, mocks.UserPhone)
	require.NoError(t, err)
	assert.True(t, banned)

	bans := h.events.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, moderation.ReasonManual, bans[0].Reason)

	h.messenger.Clear()
	h.send("/ping")
	assert.Empty(t, h.messenger.Sent())

	h.send("/unblock 212600000001", asDeveloper)
	assert.Equal(t, "✅ تم إلغاء حظر 212600000001"+footer, h.lastText())
	banned, err = h.store.IsBlacklisted(ctx, mocks.UserPhone)
	require.NoError(t, err)
	assert.False(t, banned)

	h.messenger.Clear()
	h.send("/ping")
	assert.Contains(t, h.lastText(), "PONG")
}

func TestBroadcast(t *testing.T) {
	h := newHarness(t, withSQLiteStore(t))
	ctx := context.Background()
	require.NoError(t, h.store.TouchUser(ctx, mocks.UserPhone, "User"))
	require.NoError(t, h.store.TouchUser(ctx, "212600000002", "Other"))
	require.NoError(t, h.store.TouchUser(ctx, "12", "Short"))

	h.send("/broadcast   Update is live  ", asDeveloper)

	message := "📢 *رسالة من المطور*\n\nUpdate is live" + footer
	var recipients []string
	for _, a := range h.messenger.Sent() {
		if a.Text() == message {
			recipients = append(recipients, a.JID)
			assert.Nil(t, a.Quoted)
		}
	}
	assert.ElementsMatch(t,
		[]string{mocks.UserJID, "212600000002@s.whatsapp.net", mocks.DeveloperJID},
		recipients)

	texts := h.messenger.SentTexts()
	assert.Contains(t, texts, "📤 جاري إرسال الرسالة..."+footer)
	assert.Equal(t, "✅ تم الإرسال\n\n✓ نجح: 3\n✗ فشل: 1"+footer, h.lastText())
}

func TestBroadcastEdgeCases(t *testing.T) {
	t.Run("no store", func(t *testing.T) {
		h := newHarness(t)
		h.send("/broadcast hello", asDeveloper)
		assert.Equal(t, "❌ قاعدة البيانات غير متصلة"+footer, h.lastText())
	})

	t.Run("bare command is a search", func(t *testing.T) {
		h := newHarness(t, withSQLiteStore(t))
		h.send("/broadcast   ", asDeveloper)
		assert.Equal(t, []string{"/broadcast"}, h.catalog.Searches())
		for _, text := range h.messenger.SentTexts() {
			assert.NotContains(t, text, "📤")
		}
	})
}
