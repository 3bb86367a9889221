package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

const defaultMirrorPrefix = "appbot:lid:"

// ValkeyMirror keeps opaque-to-phone mappings in Valkey so they survive
// restarts and are shared between bot instances.
type ValkeyMirror struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyMirror connects to the Valkey server at addr.
func NewValkeyMirror(addr, password string, ttl time.Duration) (*ValkeyMirror, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey at %s: %w", addr, err)
	}
	return NewValkeyMirrorFromClient(client, ttl), nil
}

// NewValkeyMirrorFromClient wraps an existing client.
func NewValkeyMirrorFromClient(client valkey.Client, ttl time.Duration) *ValkeyMirror {
	return &ValkeyMirror{client: client, prefix: defaultMirrorPrefix, ttl: ttl}
}

// Load implements Mirror.
func (m *ValkeyMirror) Load(ctx context.Context, opaque string) (string, bool, error) {
	phone, err := m.client.Do(ctx, m.client.B().Get().Key(m.key(opaque)).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("valkey get: %w", err)
	}
	return phone, true, nil
}

// Store implements Mirror.
func (m *ValkeyMirror) Store(ctx context.Context, opaque, phone string) error {
	var cmd valkey.Completed
	if m.ttl > 0 {
		cmd = m.client.B().Set().Key(m.key(opaque)).Value(phone).ExSeconds(int64(m.ttl / time.Second)).Build()
	} else {
		cmd = m.client.B().Set().Key(m.key(opaque)).Value(phone).Build()
	}
	if err := m.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

// Delete implements Mirror.
func (m *ValkeyMirror) Delete(ctx context.Context, opaque string) error {
	if err := m.client.Do(ctx, m.client.B().Del().Key(m.key(opaque)).Build()).Error(); err != nil {
		return fmt.Errorf("valkey del: %w", err)
	}
	return nil
}

// Close releases the client.
func (m *ValkeyMirror) Close() {
	m.client.Close()
}

func (m *ValkeyMirror) key(opaque string) string {
	return m.prefix + opaque
}
