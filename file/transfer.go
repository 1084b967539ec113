package file

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrDirectoryTraversal indicates an attempt to access files outside allowed directories.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// ErrChunkTooLarge indicates that a chunk exceeds the maximum allowed size.
var ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")

// MaxChunkSize is the maximum allowed chunk size to prevent resource exhaustion.
const MaxChunkSize = 65536

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// defaultTimeProvider is the package-level default time provider.
var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// ValidatePath checks if a file path is safe from directory traversal attacks.
// It returns the cleaned path or an error if the path contains traversal attempts.
func ValidatePath(path string) (string, error) {
	cleanedPath := filepath.Clean(filepath.FromSlash(path))

	for _, part := range strings.Split(cleanedPath, string(filepath.Separator)) {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	return cleanedPath, nil
}

// Meter measures transfer throughput.
type Meter struct {
	mu           sync.Mutex
	timeProvider TimeProvider
	start        time.Time
	lastChunk    time.Time
	bytes        uint64
	speed        float64 // bytes per second, smoothed
}

// NewMeter starts a meter at the current time.
func NewMeter() *Meter {
	return NewMeterWithTime(defaultTimeProvider)
}

// NewMeterWithTime starts a meter driven by tp.
func NewMeterWithTime(tp TimeProvider) *Meter {
	now := tp.Now()
	return &Meter{timeProvider: tp, start: now, lastChunk: now}
}

// Add records n transferred bytes.
func (m *Meter) Add(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.timeProvider.Now()
	duration := m.timeProvider.Since(m.lastChunk).Seconds()
	if duration > 0 {
		instantSpeed := float64(n) / duration

		// Exponential moving average with alpha = 0.3
		if m.speed == 0 {
			m.speed = instantSpeed
		} else {
			m.speed = 0.7*m.speed + 0.3*instantSpeed
		}
	}
	m.bytes += uint64(n)
	m.lastChunk = now
}

// Bytes returns the total recorded.
func (m *Meter) Bytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

// Elapsed returns the time since the meter started.
func (m *Meter) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeProvider.Since(m.start)
}

// Speed returns the smoothed rate in bytes per second.
func (m *Meter) Speed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed
}

// Kbps returns the average rate since start in kilobits per second.
func (m *Meter) Kbps() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Kbps(m.bytes, m.timeProvider.Since(m.start))
}

// Kbps converts a byte count over a duration to kilobits per second.
func Kbps(bytes uint64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(bytes) * 8 / 1000 / d.Seconds()
}
