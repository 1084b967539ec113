package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/stats"
	"github.com/opd-ai/radiolink/transport"
	"github.com/opd-ai/radiolink/xtp"
)

// ErrInvalid indicates a setting outside its allowed range.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of the configuration file.
type Config struct {
	Radio   Radio   `yaml:"radio"`
	XTP     XTP     `yaml:"xtp"`
	Link    Link    `yaml:"link"`
	Stats   Stats   `yaml:"stats"`
	Status  Status  `yaml:"status"`
	Logging Logging `yaml:"logging"`
}

// Radio configures the serial modem.
type Radio struct {
	// Port is "device:baud[:8N1]".
	Port                   string        `yaml:"port"`
	Variant                string        `yaml:"variant"`
	Escaped                bool          `yaml:"escaped"`
	Timeout                time.Duration `yaml:"timeout"`
	MaxPending             int           `yaml:"max_pending"`
	MaxConsecutiveTimeouts int           `yaml:"max_consecutive_timeouts"`
	RestartBackoff         time.Duration `yaml:"restart_backoff"`
}

// XTP configures the file transfer protocol.
type XTP struct {
	ChunkSize        int           `yaml:"chunk_size"`
	Retries          int           `yaml:"retries"`
	ChunkRetries     int           `yaml:"chunk_retries"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
	BeaconInterval   time.Duration `yaml:"beacon_interval"`
	HashPrefix       int64         `yaml:"hash_prefix"`
	ResponseTimeout  time.Duration `yaml:"response_timeout"`
	// Directory is where the receiver stores files.
	Directory string `yaml:"directory"`
}

// Link configures proxy endpoints.
type Link struct {
	Throttle         time.Duration `yaml:"throttle"`
	FragmentRetries  int           `yaml:"fragment_retries"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	// SocksProxy is an optional "host:port" SOCKS5 proxy for tcpclient links.
	SocksProxy string `yaml:"socks_proxy"`
}

// Stats selects the audit backend.
type Stats struct {
	Backend   string   `yaml:"backend"`
	DSN       string   `yaml:"dsn"`
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
	QueueSize int      `yaml:"queue_size"`
}

// Status configures the HTTP status endpoint. An empty Listen disables it.
type Status struct {
	Listen string `yaml:"listen"`
}

// Logging configures logrus.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tc := transport.DefaultConfig()
	xc := xtp.DefaultConfig()
	return &Config{
		Radio: Radio{
			Variant:                "900hp",
			Escaped:                tc.Escaped,
			Timeout:                tc.Timeout,
			MaxPending:             tc.MaxPending,
			MaxConsecutiveTimeouts: tc.MaxConsecutiveTimeouts,
			RestartBackoff:         transport.DefaultBackoff,
		},
		XTP: XTP{
			ChunkSize:        xc.ChunkSize,
			Retries:          xc.Retries,
			ChunkRetries:     xc.ChunkRetries,
			DiscoveryTimeout: xc.DiscoveryTimeout,
			BeaconInterval:   xc.BeaconInterval,
			HashPrefix:       xc.HashPrefix,
			Directory:        ".",
		},
		Link: Link{
			Throttle:         100 * time.Millisecond,
			FragmentRetries:  3,
			HandshakeTimeout: 5 * time.Second,
		},
		Stats: Stats{
			Backend:   "log",
			Prefix:    stats.DefaultEtcdPrefix,
			QueueSize: 256,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns ~/.radiolink/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".radiolink", "config.yaml")
	}
	return filepath.Join(home, ".radiolink", "config.yaml")
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
			}).Debug("No config file, using defaults")
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first setting out of range.
func (c *Config) Validate() error {
	if _, err := radio.Lookup(c.Radio.Variant); err != nil {
		return fmt.Errorf("%w: radio.variant: %w", ErrInvalid, err)
	}
	if c.Radio.Port != "" {
		if _, err := transport.ParseSerialSpec(c.Radio.Port); err != nil {
			return fmt.Errorf("%w: radio.port: %w", ErrInvalid, err)
		}
	}

	checks := []struct {
		name string
		bad  bool
	}{
		{"radio.timeout", c.Radio.Timeout <= 0},
		{"radio.max_pending", c.Radio.MaxPending <= 0},
		{"radio.max_consecutive_timeouts", c.Radio.MaxConsecutiveTimeouts <= 0},
		{"radio.restart_backoff", c.Radio.RestartBackoff < 0},
		{"xtp.chunk_size", c.XTP.ChunkSize <= 0 || c.XTP.ChunkSize > 65536},
		{"xtp.retries", c.XTP.Retries <= 0},
		{"xtp.chunk_retries", c.XTP.ChunkRetries <= 0},
		{"xtp.discovery_timeout", c.XTP.DiscoveryTimeout <= 0},
		{"xtp.beacon_interval", c.XTP.BeaconInterval <= 0},
		{"xtp.hash_prefix", c.XTP.HashPrefix <= 0},
		{"xtp.response_timeout", c.XTP.ResponseTimeout < 0},
		{"link.throttle", c.Link.Throttle < 0},
		{"link.fragment_retries", c.Link.FragmentRetries <= 0},
		{"link.handshake_timeout", c.Link.HandshakeTimeout <= 0},
		{"stats.queue_size", c.Stats.QueueSize <= 0},
	}
	for _, chk := range checks {
		if chk.bad {
			return fmt.Errorf("%w: %s out of range", ErrInvalid, chk.name)
		}
	}

	switch strings.ToLower(c.Stats.Backend) {
	case "", "none", "log", "memory":
	case "postgres":
		if c.Stats.DSN == "" {
			return fmt.Errorf("%w: stats.dsn required for postgres", ErrInvalid)
		}
	case "etcd":
		if len(c.Stats.Endpoints) == 0 {
			return fmt.Errorf("%w: stats.endpoints required for etcd", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: stats.backend %q", ErrInvalid, c.Stats.Backend)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", ErrInvalid, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalid, c.Logging.Format)
	}
	return nil
}

// TransportConfig converts the radio section.
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.Timeout = c.Radio.Timeout
	tc.MaxPending = c.Radio.MaxPending
	tc.MaxConsecutiveTimeouts = c.Radio.MaxConsecutiveTimeouts
	tc.Escaped = c.Radio.Escaped
	return tc
}

// XTPConfig converts the xtp section.
func (c *Config) XTPConfig() xtp.Config {
	return xtp.Config{
		ChunkSize:        c.XTP.ChunkSize,
		Retries:          c.XTP.Retries,
		ChunkRetries:     c.XTP.ChunkRetries,
		DiscoveryTimeout: c.XTP.DiscoveryTimeout,
		BeaconInterval:   c.XTP.BeaconInterval,
		HashPrefix:       c.XTP.HashPrefix,
		ResponseTimeout:  c.XTP.ResponseTimeout,
	}
}

// StatsOptions converts the stats section.
func (c *Config) StatsOptions() stats.Options {
	return stats.Options{
		Backend:   c.Stats.Backend,
		DSN:       c.Stats.DSN,
		Endpoints: c.Stats.Endpoints,
		Prefix:    c.Stats.Prefix,
	}
}
