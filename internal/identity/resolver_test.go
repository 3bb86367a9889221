package identity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/appbot/internal/identity"
)

type memMirror struct {
	mu      sync.Mutex
	data    map[string]string
	failGet bool
}

func newMemMirror() *memMirror {
	return &memMirror{data: make(map[string]string)}
}

func (m *memMirror) Load(_ context.Context, opaque string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", false, errors.New("connection refused")
	}
	v, ok := m.data[opaque]
	return v, ok, nil
}

func (m *memMirror) Store(_ context.Context, opaque, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[opaque] = phone
	return nil
}

func (m *memMirror) Delete(_ context.Context, opaque string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, opaque)
	return nil
}

func TestResolver_PhoneJID(t *testing.T) {
	r := identity.NewResolver()
	got := r.Resolve(context.Background(), identity.Sender{Chat: "212600000000@s.whatsapp.net"})
	assert.Equal(t, "212600000000", got)
}

func TestResolver_GroupUsesParticipant(t *testing.T) {
	r := identity.NewResolver()
	got := r.Resolve(context.Background(), identity.Sender{
		Chat:        "1203630@g.us",
		Participant: "212611111111:4@s.whatsapp.net",
	})
	assert.Equal(t, "212611111111", got)
}

func TestResolver_LIDCachedFromCompanion(t *testing.T) {
	ctx := context.Background()
	r := identity.NewResolver()

	first := r.Resolve(ctx, identity.Sender{
		Chat:    "98765432123456@lid",
		ChatAlt: "212622222222@s.whatsapp.net",
	})
	assert.Equal(t, "212622222222", first)

	// Same rotating id without a companion reuses the cached mapping.
	again := r.Resolve(ctx, identity.Sender{Chat: "98765432123456@lid"})
	assert.Equal(t, "212622222222", again)
	assert.Equal(t, 1, r.Len())
}

func TestResolver_GroupLIDUsesParticipantAlt(t *testing.T) {
	r := identity.NewResolver()
	got := r.Resolve(context.Background(), identity.Sender{
		Chat:           "1203630@g.us",
		Participant:    "555000111@lid",
		ParticipantAlt: "212633333333@s.whatsapp.net",
	})
	assert.Equal(t, "212633333333", got)
}

func TestResolver_UnknownLIDFallsBackToOwnUser(t *testing.T) {
	r := identity.NewResolver()
	got := r.Resolve(context.Background(), identity.Sender{Chat: "555000111@lid"})
	assert.Equal(t, "555000111", got)

	// A companion that is not a phone jid is ignored.
	got = r.Resolve(context.Background(), identity.Sender{Chat: "555000111@lid", ChatAlt: "777@lid"})
	assert.Equal(t, "555000111", got)
	assert.Equal(t, 0, r.Len())
}

func TestResolver_MalformedInput(t *testing.T) {
	r := identity.NewResolver()
	assert.Equal(t, "justtext", r.Resolve(context.Background(), identity.Sender{Chat: "justtext"}))
	assert.Equal(t, "", r.Resolve(context.Background(), identity.Sender{}))
}

func TestResolver_MirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	mirror := newMemMirror()

	writer := identity.NewResolver(identity.WithMirror(mirror))
	writer.Resolve(ctx, identity.Sender{Chat: "1@lid", ChatAlt: "212644444444@s.whatsapp.net"})

	// A fresh process sees the mapping through the mirror.
	reader := identity.NewResolver(identity.WithMirror(mirror))
	assert.Equal(t, "212644444444", reader.ResolveJID(ctx, "1@lid"))

	reader.Forget(ctx, "1@lid")
	other := identity.NewResolver(identity.WithMirror(mirror))
	assert.Equal(t, "1", other.ResolveJID(ctx, "1@lid"))
}

func TestResolver_MirrorErrorsAreSwallowed(t *testing.T) {
	mirror := newMemMirror()
	mirror.failGet = true
	r := identity.NewResolver(identity.WithMirror(mirror))
	assert.Equal(t, "1", r.ResolveJID(context.Background(), "1@lid"))
}

func TestResolver_EvictionHook(t *testing.T) {
	var evicted []string
	r := identity.NewResolver(
		identity.WithCapacity(1),
		identity.WithEvictionHook(func(opaque, _ string) { evicted = append(evicted, opaque) }),
	)
	ctx := context.Background()
	r.Resolve(ctx, identity.Sender{Chat: "1@lid", ChatAlt: "212600000001@s.whatsapp.net"})
	r.Resolve(ctx, identity.Sender{Chat: "2@lid", ChatAlt: "212600000002@s.whatsapp.net"})

	assert.Equal(t, []string{"1@lid"}, evicted)
	assert.Equal(t, "1", r.ResolveJID(ctx, "1@lid"))
}
