package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/events"
)

func TestRecorder(t *testing.T) {
	r := events.NewRecorder()
	ctx := context.Background()

	require.NoError(t, r.PublishDownload(ctx, events.Download{Phone: "212600000001", AppID: "com.whatsapp"}))
	require.NoError(t, r.PublishBan(ctx, events.Ban{Phone: "212600000002", Reason: "spam", Banned: true}))

	require.Len(t, r.Downloads(), 1)
	assert.Equal(t, "com.whatsapp", r.Downloads()[0].AppID)
	require.Len(t, r.Bans(), 1)
	assert.True(t, r.Bans()[0].Banned)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, r.PublishBan(canceled, events.Ban{}), context.Canceled)

	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.PublishDownload(ctx, events.Download{}), events.ErrConnectionClosed)
	assert.Len(t, r.Downloads(), 1)
}

func TestNoop(t *testing.T) {
	var p events.Publisher = events.Noop{}
	assert.NoError(t, p.PublishDownload(context.Background(), events.Download{At: time.Now()}))
	assert.NoError(t, p.PublishBan(context.Background(), events.Ban{}))
	assert.NoError(t, p.Close())
}
