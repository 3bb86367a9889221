package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Veraticus/appbot/internal/identity"
)

func TestParseJID(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		want   identity.JID
		wantOK bool
	}{
		{
			name:   "phone jid",
			raw:    "212600000000@s.whatsapp.net",
			want:   identity.JID{User: "212600000000", Server: "s.whatsapp.net"},
			wantOK: true,
		},
		{
			name:   "device and agent stripped",
			raw:    "212600000000_1:23@s.whatsapp.net",
			want:   identity.JID{User: "212600000000", Server: "s.whatsapp.net", Device: "23"},
			wantOK: true,
		},
		{
			name:   "lid",
			raw:    "98765432123456@lid",
			want:   identity.JID{User: "98765432123456", Server: "lid"},
			wantOK: true,
		},
		{
			name:   "no server",
			raw:    "garbage",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := identity.ParseJID(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestConversationKey(t *testing.T) {
	assert.Equal(t, "111@s.whatsapp.net", identity.ConversationKey("123-456@g.us", "111@s.whatsapp.net"))
	assert.Equal(t, "123-456@g.us", identity.ConversationKey("123-456@g.us", ""))
	assert.Equal(t, "222@s.whatsapp.net", identity.ConversationKey("222@s.whatsapp.net", "ignored"))
}

func TestValidPhone(t *testing.T) {
	assert.True(t, identity.ValidPhone("212718938088"))
	assert.True(t, identity.ValidPhone("+212 718-938-088"))
	assert.False(t, identity.ValidPhone("12345"))
	assert.False(t, identity.ValidPhone("1234567890123456"))
	assert.False(t, identity.ValidPhone(""))
}
