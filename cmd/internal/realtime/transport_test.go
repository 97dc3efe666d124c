package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		name string
		base string
		want string
	}{
		{name: "https api", base: "https://host/api", want: "wss://host/ws?token=T"},
		{name: "trailing slash", base: "https://host/api/", want: "wss://host/ws?token=T"},
		{name: "http with port", base: "http://localhost:8080/api", want: "ws://localhost:8080/ws?token=T"},
		{name: "no api suffix", base: "http://localhost:8080", want: "ws://localhost:8080/ws?token=T"},
		{name: "nested prefix", base: "https://host/v2/api", want: "wss://host/v2/ws?token=T"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WebSocketURL(tt.base, "T")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWebSocketURL_escapes_token(t *testing.T) {
	got, err := WebSocketURL("https://host/api", "a b&c")
	require.NoError(t, err)
	assert.Equal(t, "wss://host/ws?token=a+b%26c", got)
}

func TestWebSocketURL_rejects_bad_base(t *testing.T) {
	for _, base := range []string{"", "ftp://host/api", "https:///api"} {
		_, err := WebSocketURL(base, "T")
		assert.Error(t, err, base)
	}
}

func TestBackoff_caps_at_max(t *testing.T) {
	assert.Equal(t, DefaultBaseDelay, Backoff(1, 0, 0))
	assert.Equal(t, DefaultBaseDelay, Backoff(0, 0, 0))
	assert.Equal(t, DefaultMaxDelay, Backoff(10, 0, 0))
	assert.Equal(t, DefaultMaxDelay, Backoff(50, 0, 0))
}
