package link

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/radiolink/transport"
)

func openFakeSerial(t *testing.T) (*Serial, *fakePort) {
	t.Helper()
	port := newFakePort()
	restore := useFakePort(port, nil)
	t.Cleanup(restore)

	cfg, err := transport.ParseSerialSpec("/dev/fake:9600")
	require.NoError(t, err)
	s, err := OpenSerial(cfg)
	require.NoError(t, err)
	return s, port
}

func TestSerialReadTimeoutFromBaud(t *testing.T) {
	_, port := openFakeSerial(t)
	// 800/9600 s is shorter than 100ms
	assert.InDelta(t, float64(83*time.Millisecond), float64(port.timeout), float64(time.Millisecond))
}

func TestSerialWrite(t *testing.T) {
	s, port := openFakeSerial(t)
	require.NoError(t, s.Write([]byte("abc")))
	require.NoError(t, s.Write([]byte("def")))
	assert.Equal(t, []byte("abcdef"), port.output())
	assert.Equal(t, "serial:/dev/fake:9600", s.String())
}

func TestSerialServeForwards(t *testing.T) {
	s, port := openFakeSerial(t)
	port.timeout = 5 * time.Millisecond
	peer := newRecorder("peer")
	s.Bind(peer)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- s.Serve(ctx) }()

	port.incoming <- []byte("one ")
	port.incoming <- []byte("two")
	assert.Eventually(t, func() bool { return string(peer.joined()) == "one two" }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-served)
}

func TestSerialServeStopsOnReadError(t *testing.T) {
	s, port := openFakeSerial(t)
	boom := errors.New("unplugged")
	port.readErr <- boom
	assert.ErrorIs(t, s.Serve(context.Background()), boom)
}

func TestOpenSerialFailure(t *testing.T) {
	boom := errors.New("no such device")
	restore := useFakePort(nil, boom)
	defer restore()

	cfg, err := transport.ParseSerialSpec("/dev/missing:9600")
	require.NoError(t, err)
	_, err = OpenSerial(cfg)
	assert.ErrorIs(t, err, boom)
}

func mustSerialConfig(t *testing.T, spec string) transport.SerialConfig {
	t.Helper()
	cfg, err := transport.ParseSerialSpec(spec)
	require.NoError(t, err)
	return cfg
}
