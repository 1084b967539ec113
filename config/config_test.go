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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
radio:
  port: /dev/ttyUSB1:57600:8E1
  variant: s1
  timeout: 750ms
xtp:
  chunk_size: 4096
  discovery_timeout: 1m
  directory: /srv/inbox
link:
  socks_proxy: 127.0.0.1:9050
stats:
  backend: etcd
  endpoints: [10.0.0.1:2379, 10.0.0.2:2379]
logging:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB1:57600:8E1", cfg.Radio.Port)
	assert.Equal(t, "s1", cfg.Radio.Variant)
	assert.Equal(t, 750*time.Millisecond, cfg.Radio.Timeout)
	assert.Equal(t, 3, cfg.Radio.MaxPending, "unset fields keep defaults")
	assert.Equal(t, 4096, cfg.XTP.ChunkSize)
	assert.Equal(t, time.Minute, cfg.XTP.DiscoveryTimeout)
	assert.Equal(t, "/srv/inbox", cfg.XTP.Directory)
	assert.Equal(t, "127.0.0.1:9050", cfg.Link.SocksProxy)
	assert.Equal(t, []string{"10.0.0.1:2379", "10.0.0.2:2379"}, cfg.Stats.Endpoints)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 750*time.Millisecond, cfg.TransportConfig().Timeout)
	assert.Equal(t, 4096, cfg.XTPConfig().ChunkSize)
	assert.Equal(t, "etcd", cfg.StatsOptions().Backend)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "radio: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown variant", func(c *Config) { c.Radio.Variant = "zigbee" }},
		{"bad port", func(c *Config) { c.Radio.Port = "/dev/ttyUSB0" }},
		{"zero timeout", func(c *Config) { c.Radio.Timeout = 0 }},
		{"huge chunk", func(c *Config) { c.XTP.ChunkSize = 1 << 20 }},
		{"zero retries", func(c *Config) { c.XTP.Retries = 0 }},
		{"negative throttle", func(c *Config) { c.Link.Throttle = -time.Second }},
		{"postgres without dsn", func(c *Config) { c.Stats.Backend = "postgres" }},
		{"etcd without endpoints", func(c *Config) { c.Stats.Backend = "etcd" }},
		{"unknown backend", func(c *Config) { c.Stats.Backend = "redis" }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestLoadValidates(t *testing.T) {
	_, err := Load(writeConfig(t, "xtp:\n  retries: -1\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDefaultPath(t *testing.T) {
	assert.Equal(t, "config.yaml", filepath.Base(DefaultPath()))
}
