package xtp

import (
	"errors"
	"time"

	"github.com/opd-ai/radiolink/limits"
)

var (
	// ErrNoRemote indicates no HELLO beacon arrived within the discovery timeout.
	ErrNoRemote = errors.New("no remote discovered")

	// ErrBeginRefused indicates the receiver never answered a REQUEST.
	ErrBeginRefused = errors.New("remote did not begin transfer")

	// ErrNoAcks indicates the receiver never answered GET_ACKS.
	ErrNoAcks = errors.New("remote did not report acknowledgements")

	// ErrRetriesExhausted indicates fragments were still unacknowledged
	// when the round budget ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrPathTooLong indicates a remote path that does not fit in one frame.
	ErrPathTooLong = errors.New("remote path too long")

	// ErrFileTooLarge indicates a file whose size does not fit the 32-bit
	// offset fields.
	ErrFileTooLarge = errors.New("file too large")
)

// Config holds protocol tuning.
type Config struct {
	// ChunkSize is the number of file bytes sent per REQUEST.
	ChunkSize int
	// Retries bounds REQUEST, GET_ACKS and HASH_CHECK attempts and the
	// number of selective-repeat rounds per chunk.
	Retries int
	// ChunkRetries bounds how often a failed chunk is started over.
	ChunkRetries int
	// DiscoveryTimeout bounds the wait for a HELLO beacon.
	DiscoveryTimeout time.Duration
	// BeaconInterval is the quiet period after which the receiver beacons.
	BeaconInterval time.Duration
	// HashPrefix is the number of leading file bytes covered by HASH_CHECK.
	HashPrefix int64
	// ResponseTimeout bounds the wait for a reply message. Zero uses the
	// transport timeout.
	ResponseTimeout time.Duration
}

// DefaultConfig returns the standard protocol settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:        limits.DefaultChunkSize,
		Retries:          15,
		ChunkRetries:     5,
		DiscoveryTimeout: 30 * time.Second,
		BeaconInterval:   3 * time.Second,
		HashPrefix:       limits.HashPrefixSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.Retries <= 0 {
		c.Retries = d.Retries
	}
	if c.ChunkRetries <= 0 {
		c.ChunkRetries = d.ChunkRetries
	}
	if c.DiscoveryTimeout <= 0 {
		c.DiscoveryTimeout = d.DiscoveryTimeout
	}
	if c.BeaconInterval <= 0 {
		c.BeaconInterval = d.BeaconInterval
	}
	if c.HashPrefix <= 0 {
		c.HashPrefix = d.HashPrefix
	}
	return c
}
