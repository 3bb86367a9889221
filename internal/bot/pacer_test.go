package bot_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/appbot/internal/bot"
	"github.com/Veraticus/appbot/internal/mocks"
	"github.com/Veraticus/appbot/internal/whatsapp"
)

// lowJitter always picks the low bound, so typing lasts exactly one second.
func lowJitter(lo, _ time.Duration) time.Duration { return lo }

func kindsAndValues(actions []mocks.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.Kind+":"+a.Value)
	}
	return out
}

func TestPacerSendTypesFirst(t *testing.T) {
	m := mocks.NewMockMessenger()
	p := bot.NewPacer(m, bot.WithJitter(lowJitter))

	start := time.Now()
	_, err := p.Send(context.Background(), mocks.UserJID, whatsapp.TextContent("hi"), nil)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{
		"presenceSubscribe:",
		"presence:" + whatsapp.PresenceComposing,
		"presence:" + whatsapp.PresencePaused,
		"send:",
	}, kindsAndValues(m.Actions()))
	for _, a := range m.Actions() {
		assert.Equal(t, mocks.UserJID, a.JID)
	}
}

func TestPacerDisabledOnlySends(t *testing.T) {
	m := mocks.NewMockMessenger()
	p := bot.NewPacer(m, bot.WithPacing(false))

	_, err := p.Send(context.Background(), mocks.UserJID, whatsapp.TextContent("hi"), nil)
	require.NoError(t, err)
	require.NoError(t, p.Typing(context.Background(), mocks.UserJID))
	require.NoError(t, p.Pause(context.Background(), time.Hour, time.Hour))

	assert.Equal(t, []string{"send:"}, kindsAndValues(m.Actions()))
}

func TestPacerPresenceFailuresStillSend(t *testing.T) {
	m := mocks.NewMockMessenger()
	m.SetError(mocks.ActionPresenceSubscribe, errors.New("offline"))
	p := bot.NewPacer(m, bot.WithJitter(noJitter))

	_, err := p.Send(context.Background(), mocks.UserJID, whatsapp.TextContent("hi"), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"presenceSubscribe:", "send:"}, kindsAndValues(m.Actions()))
}

func TestPacerStopsWithContext(t *testing.T) {
	m := mocks.NewMockMessenger()
	p := bot.NewPacer(m, bot.WithJitter(lowJitter))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Send(ctx, mocks.UserJID, whatsapp.TextContent("hi"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, m.Sent())
}

func TestJitterBounds(t *testing.T) {
	for range 100 {
		d := bot.Jitter(10*time.Millisecond, 20*time.Millisecond)
		assert.GreaterOrEqual(t, d, 10*time.Millisecond)
		assert.LessOrEqual(t, d, 20*time.Millisecond)
	}
	assert.Equal(t, 5*time.Second, bot.Jitter(5*time.Second, time.Second))
}
