package bot_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/download"
	"github.com/Veraticus/appbot/internal/mocks"
	"github.com/Veraticus/appbot/internal/moderation"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// blockDownloads makes every fetch wait until the returned release func is called.
func blockDownloads(h *harness) (release func()) {
	gate := make(chan struct{})
	h.downloader.FetchFunc = func(ctx context.Context, appID, title string) (*download.Artifact, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, download.ErrNoArtifact
	}
	return func() { close(gate) }
}

func startBlockedDownload(t *testing.T, h *harness, opts ...mocks.MessageOption) (release func()) {
	t.Helper()
	entries := mocks.Entries("app", 1)
	h.catalog.AddResults("app", entries...)
	h.catalog.AddDetails(mocks.DetailsFor(entries[0], ""))
	release = blockDownloads(h)

	h.send("app", opts...)
	h.post("1", opts...)
	require.Eventually(t, func() bool { return len(h.downloader.Fetched()) == 1 }, 5*time.Second, 5*time.Millisecond)
	h.messenger.Clear()
	return release
}

func TestMessagesDuringDownloadGetWaitReply(t *testing.T) {
	h := newHarness(t)
	release := startBlockedDownload(t, h)

	for range 3 {
		h.post("are you there")
	}
	require.True(t, h.messenger.WaitForSends(3, 5*time.Second))
	for _, text := range h.messenger.SentTexts() {
		assert.Equal(t, "⏳ *انتظر قليلاً*\n\nجاري إرسال التطبيق..."+footer, text)
	}
	assert.Empty(t, h.events.Bans())

	release()
	h.waitIdle()
	assert.Equal(t, []string{"app"}, h.catalog.Searches(), "messages during a download are not searched")
}

func TestBurstDuringDownloadBans(t *testing.T) {
	h := newHarness(t)
	release := startBlockedDownload(t, h)

	for range 5 {
		h.post("hurry")
	}
	require.True(t, h.messenger.WaitForSends(5, 5*time.Second))
	assert.Empty(t, h.events.Bans())

	h.post("hurry")
	h.waitForText("📊 الحد: 10 تحميلات متسارعة")

	bans := h.events.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, mocks.UserPhone, bans[0].Phone)
	assert.Equal(t, moderation.ReasonBurst, bans[0].Reason)

	release()
	h.waitIdle()
	h.messenger.Clear()

	h.send("/ping")
	assert.Empty(t, h.messenger.Sent(), "banned users are ignored")
}

func TestBurstExemptions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
		opts  []mocks.MessageOption
	}{
		{name: "vip", setup: func(h *harness) { h.vips.Grant(mocks.UserPhone) }},
		{name: "developer", opts: []mocks.MessageOption{mocks.WithChat(mocks.DeveloperJID)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}
			release := startBlockedDownload(t, h, tt.opts...)
			for range 8 {
				h.post("hurry", tt.opts...)
			}
			release()
			h.waitIdle()

			assert.Empty(t, h.events.Bans())
		})
	}
}

func TestHourlyLimitBans(t *testing.T) {
	h := newHarness(t)
	for range 25 {
		h.post("nothing here")
	}
	h.waitIdle()
	assert.Empty(t, h.events.Bans())
	sentBefore := len(h.messenger.Sent())

	h.post("one more")
	h.waitForText("📊 الحد: 25 رسالة في الساعة الواحدة")

	bans := h.events.Bans()
	require.Len(t, bans, 1)
	assert.Equal(t, moderation.ReasonHourly, bans[0].Reason)
	assert.Len(t, h.messenger.Sent(), sentBefore+1)
	assert.Len(t, h.catalog.Searches(), 25)
}

func TestDevelopersBypassHourlyLimit(t *testing.T) {
	h := newHarness(t)
	for range 30 {
		h.post("nothing here", mocks.WithChat(mocks.DeveloperJID))
	}
	h.waitIdle()

	assert.Empty(t, h.events.Bans())
	assert.Len(t, h.catalog.Searches(), 30)
}

func TestHandleCall(t *testing.T) {
	tests := []struct {
		name       string
		call       *whatsapp.Call
		wantReject bool
	}{
		{name: "user offer", call: &whatsapp.Call{ID: "c1", From: mocks.UserJID, Status: whatsapp.CallOffer}, wantReject: true},
		{name: "developer offer", call: &whatsapp.Call{ID: "c2", From: mocks.DeveloperJID, Status: whatsapp.CallOffer}},
		{name: "not an offer", call: &whatsapp.Call{ID: "c3", From: mocks.UserJID, Status: "accept"}},
		{name: "nil", call: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.HandleCall(context.Background(), tt.call)

			if !tt.wantReject {
				time.Sleep(20 * time.Millisecond)
				assert.Empty(t, h.messenger.Actions())
				assert.Empty(t, h.events.Bans())
				return
			}

			h.waitForText("المكالمات غير مسموحة.")
			rejects := h.messenger.ActionsOf(mocks.ActionRejectCall)
			require.Len(t, rejects, 1)
			assert.Equal(t, "c1", rejects[0].Value)
			assert.Equal(t, mocks.UserJID, rejects[0].JID)

			bans := h.events.Bans()
			require.Len(t, bans, 1)
			assert.Equal(t, moderation.ReasonCall, bans[0].Reason)

			sent := h.messenger.Sent()
			assert.Equal(t, mocks.UserJID, sent[len(sent)-1].JID)
			assert.Nil(t, sent[len(sent)-1].Quoted)
		})
	}
}

func TestVIPPasswordDuringDownloadIsThrottled(t *testing.T) {
	h := newHarness(t)
	release := startBlockedDownload(t, h)

	h.post("Omar")
	h.waitForText("⏳ *انتظر قليلاً*")
	release()
	h.waitIdle()
	assert.False(t, h.vips.Has(mocks.UserPhone))

	h.send("Omar")
	assert.True(t, h.vips.Has(mocks.UserPhone))
}
