package xtp

import (
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/radiolink/file"
	"github.com/opd-ai/radiolink/sim"
	"github.com/opd-ai/radiolink/stats"
)

// harness wires a client and a serving receiver over a simulated network.
type harness struct {
	net      *sim.Network
	sender   *sim.Link
	receiver *sim.Link
	client   *Client
	server   *Server
	store    *file.Store
	audit    *stats.Memory
	logger   *stats.Logger

	cancel  context.CancelFunc
	serveWG sync.WaitGroup
	served  error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	h := &harness{net: sim.NewNetwork(sim.DefaultConfig())}
	h.sender = h.net.Attach(senderAddr)
	h.receiver = h.net.Attach(receiverAddr)
	h.store = file.NewStore(t.TempDir())
	h.audit = stats.NewMemory()
	h.logger = stats.NewLogger(h.audit, 1024)
	h.server = NewServer(h.store, cfg, h.logger)
	h.client = NewClient(h.sender, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.serveWG.Add(1)
	go func() {
		defer h.serveWG.Done()
		h.served = h.server.Serve(ctx, h.receiver)
	}()

	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	h.serveWG.Wait()
	h.sender.Close()
	h.receiver.Close()
	h.logger.Close()
}

// dataDropper loses chosen DATA transmissions from the sender. plan maps a
// fragment index to how many of its transmissions are lost.
type dataDropper struct {
	mu   sync.Mutex
	plan map[uint32]int
	sent map[uint32]int
}

func newDataDropper(plan map[uint32]int) *dataDropper {
	return &dataDropper{plan: plan, sent: make(map[uint32]int)}
}

func (d *dataDropper) drop(src, dst uint64, data []byte) bool {
	if src != senderAddr {
		return false
	}
	msg, err := Decode(data)
	if err != nil {
		return false
	}
	m, ok := msg.(Data)
	if !ok {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent[m.Index]++
	return d.sent[m.Index] <= d.plan[m.Index]
}

func (d *dataDropper) transmissions(i uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sent[i]
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
