package link

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/radiolink/frag"
	"github.com/opd-ai/radiolink/sim"
)

const (
	baseAddr   uint64 = 0x0013A20040000010
	remoteAddr uint64 = 0x0013A20040000020
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Throttle = 0
	opts.HandshakeTimeout = time.Second
	return opts
}

type radioPair struct {
	net        *sim.Network
	base       *Radio
	remote     *Radio
	basePeer   *recorder
	remotePeer *recorder
}

func newRadioPair(t *testing.T, opts Options) *radioPair {
	t.Helper()
	n := sim.NewNetwork(sim.DefaultConfig())
	p := &radioPair{
		net:        n,
		base:       NewRadio(n.Attach(baseAddr), true, opts),
		remote:     NewRadio(n.Attach(remoteAddr), false, opts),
		basePeer:   newRecorder("base-peer"),
		remotePeer: newRecorder("remote-peer"),
	}
	p.base.Bind(p.basePeer)
	p.remote.Bind(p.remotePeer)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, r := range []*Radio{p.base, p.remote} {
		wg.Add(1)
		go func(r *Radio) {
			defer wg.Done()
			r.Serve(ctx)
		}(r)
	}
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		p.base.Close()
		p.remote.Close()
	})
	return p
}

func (p *radioPair) waitLinked(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, a := p.base.Remote()
		_, b := p.remote.Remote()
		return a && b
	}, 2*time.Second, 5*time.Millisecond)
}

func incompressible(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func TestRadioHandshake(t *testing.T) {
	p := newRadioPair(t, testOptions())
	p.waitLinked(t)

	addr, _ := p.base.Remote()
	assert.Equal(t, remoteAddr, addr)
	addr, _ = p.remote.Remote()
	assert.Equal(t, baseAddr, addr)
}

func TestRadioWriteBothDirections(t *testing.T) {
	p := newRadioPair(t, testOptions())
	p.waitLinked(t)

	big := incompressible(t, 5000)
	require.NoError(t, p.base.Write(big))
	require.Eventually(t, func() bool { return p.remotePeer.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, big, p.remotePeer.joined())

	small := []byte("status report")
	require.NoError(t, p.remote.Write(small))
	require.Eventually(t, func() bool { return p.basePeer.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, small, p.basePeer.joined())
}

func TestRadioCompressesPayload(t *testing.T) {
	p := newRadioPair(t, testOptions())
	p.waitLinked(t)
	p.net.ClearRecords()

	text := bytes.Repeat([]byte("all stations nominal. "), 200)
	require.NoError(t, p.base.Write(text))
	require.Eventually(t, func() bool { return p.remotePeer.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, text, p.remotePeer.joined())

	sent := 0
	for _, rec := range p.net.Records() {
		if rec.Src == baseAddr {
			sent += rec.Size
		}
	}
	assert.Less(t, sent, len(text)/4)
}

func TestRadioRetriesLostFragments(t *testing.T) {
	p := newRadioPair(t, testOptions())
	p.waitLinked(t)

	var mu sync.Mutex
	seen := make(map[uint16]int)
	p.net.SetDropPolicy(func(src, dst uint64, data []byte) bool {
		f, err := frag.Wide.Unmarshal(data)
		if err != nil {
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		seen[f.Index]++
		// first attempt of every odd fragment is lost
		return f.Index%2 == 1 && seen[f.Index] == 1
	})

	payload := incompressible(t, 3000)
	require.NoError(t, p.base.Write(payload))
	require.Eventually(t, func() bool { return p.remotePeer.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, payload, p.remotePeer.joined())
}

func TestRadioWriteAbortsAfterRetries(t *testing.T) {
	p := newRadioPair(t, testOptions())
	p.waitLinked(t)

	p.net.SetDropPolicy(func(src, dst uint64, data []byte) bool {
		_, err := frag.Wide.Unmarshal(data)
		return err == nil
	})
	assert.ErrorIs(t, p.base.Write([]byte("never arrives")), ErrWriteAborted)
}

func TestRadioWriteWithoutPeer(t *testing.T) {
	n := sim.NewNetwork(sim.DefaultConfig())
	opts := testOptions()
	opts.HandshakeTimeout = 30 * time.Millisecond
	lonely := NewRadio(n.Attach(baseAddr), true, opts)
	defer lonely.Close()

	assert.ErrorIs(t, lonely.Write([]byte("hello?")), ErrPeerUnavailable)
}

func TestRadioThrottle(t *testing.T) {
	opts := testOptions()
	opts.Throttle = 20 * time.Millisecond
	p := newRadioPair(t, opts)
	p.waitLinked(t)

	// three fragments need at least two throttle gaps
	payload := incompressible(t, 2*(sim.DefaultConfig().MTU-frag.Wide.HeaderSize()))
	start := time.Now()
	require.NoError(t, p.base.Write(payload))
	assert.GreaterOrEqual(t, time.Since(start), 2*opts.Throttle)
}

func TestGzipRoundTrip(t *testing.T) {
	packed, err := gzipBytes([]byte("abc"))
	require.NoError(t, err)
	out, err := gunzip(packed)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), out)

	_, err = gunzip([]byte("not gzip"))
	assert.Error(t, err)
}
