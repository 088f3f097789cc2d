package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cafeprint.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "12212", cfg.Server.Port)
	assert.Equal(t, "58mm", cfg.Paper.Receipt)
	assert.Equal(t, "ble", cfg.Bluetooth.Backend)
	assert.NotEmpty(t, cfg.USB.VendorIDs)
	assert.Greater(t, cfg.USB.ChunkSize, cfg.Bluetooth.ChunkSize)
	assert.False(t, cfg.Relay.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
terminal:
  id: till-2
paper:
  receipt: 80mm
usb:
  vendor_ids: [0x04b8]
  chunk_size: 256
  chunk_delay: 15ms
bluetooth:
  backend: serial
  reconnect_delay: 3s
relay:
  enabled: true
  transport: nats
  url: nats://relay.local:4222
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "80mm", cfg.Paper.Receipt)
	assert.Equal(t, "58mm", cfg.Paper.Kitchen)
	assert.Equal(t, []uint16{0x04b8}, cfg.USB.VendorIDs)
	assert.Equal(t, 256, cfg.USB.ChunkSize)
	assert.Equal(t, 15*time.Millisecond, cfg.USB.ChunkDelay)
	assert.Equal(t, "serial", cfg.Bluetooth.Backend)
	assert.Equal(t, 3*time.Second, cfg.Bluetooth.ReconnectDelay)
	assert.Equal(t, "nats", cfg.Relay.Transport)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "7777")
	t.Setenv("CAFEPRINT_TERMINAL_ID", "till-9")
	t.Setenv("CAFEPRINT_RELAY_URL", "ws://relay.local/terminal")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7777", cfg.Server.Port)
	assert.Equal(t, "till-9", cfg.Terminal.ID)
	assert.True(t, cfg.Relay.Enabled)
	assert.Equal(t, "ws://relay.local/terminal", cfg.Relay.URL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad paper", func(c *Config) { c.Paper.Receipt = "100mm" }},
		{"zero usb chunk", func(c *Config) { c.USB.ChunkSize = 0 }},
		{"negative radio chunk", func(c *Config) { c.Bluetooth.ChunkSize = -1 }},
		{"no vendors", func(c *Config) { c.USB.VendorIDs = nil }},
		{"bad backend", func(c *Config) { c.Bluetooth.Backend = "infrared" }},
		{"relay without url", func(c *Config) { c.Relay.Enabled = true; c.Terminal.ID = "t" }},
		{"relay without terminal", func(c *Config) { c.Relay.Enabled = true; c.Relay.URL = "ws://x" }},
		{"bad transport", func(c *Config) {
			c.Relay.Enabled = true
			c.Relay.URL = "ws://x"
			c.Terminal.ID = "t"
			c.Relay.Transport = "carrier-pigeon"
		}},
		{"shrinking backoff", func(c *Config) { c.Relay.Reconnect.Multiplier = 0.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
