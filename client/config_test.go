package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", deriveSocketURL("http://localhost:8080"))
	assert.Equal(t, "wss://chat.example.com/ws", deriveSocketURL("https://chat.example.com/"))
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		cfg := &Config{ServerURL: "http://localhost:8080", SocketURL: "ws://localhost:8080/ws"}
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing server url", func(t *testing.T) {
		cfg := &Config{SocketURL: "ws://localhost:8080/ws"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, FormatValidationErrors(err), "serverurl")
	})

	t.Run("server url must be http", func(t *testing.T) {
		cfg := &Config{ServerURL: "not-a-url", SocketURL: "ws://x/ws"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, FormatValidationErrors(err), "http(s)")
	})
}
