package cli

import (
	"bytes"
	"context"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/radiolink/config"
	"github.com/opd-ai/radiolink/file"
	"github.com/opd-ai/radiolink/radio"
	"github.com/opd-ai/radiolink/sim"
	"github.com/opd-ai/radiolink/transport"
	"github.com/opd-ai/radiolink/xtp"
)

// resetFlags restores every flag variable so commands do not leak state
// between executions of the shared root command.
func resetFlags() {
	cfgFile, logLevel, portFlag, variantFlag = "", "", "", ""
	listenDir, listenStatus = "", ""
	archiveWatch, archiveSettle = false, DefaultSettle
	scanNodes, scanWait = false, 15*time.Second
	cfg = nil
}

func executeCommand(ctx context.Context, args ...string) (string, error) {
	resetFlags()
	buf := new(bytes.Buffer)
	root := RootCmd()
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return buf.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0o600))
	return path
}

// useTransport makes openTransport return link.
func useTransport(t *testing.T, link transport.Transport) {
	t.Helper()
	prev := openTransport
	openTransport = func(*config.Config) (transport.Transport, error) { return link, nil }
	t.Cleanup(func() { openTransport = prev })
}

// simPair is two attached links on a simulated medium.
type simPair struct {
	net      *sim.Network
	sender   *sim.Link
	receiver *sim.Link
}

func newSimPair(t *testing.T) *simPair {
	t.Helper()
	p := &simPair{net: sim.NewNetwork(sim.DefaultConfig())}
	p.sender = p.net.Attach(senderAddr)
	p.receiver = p.net.Attach(receiverAddr)
	t.Cleanup(func() {
		p.sender.Close()
		p.receiver.Close()
	})
	return p
}

func testXTPConfig() xtp.Config {
	cfg := xtp.DefaultConfig()
	cfg.ChunkRetries = 2
	cfg.DiscoveryTimeout = 2 * time.Second
	cfg.BeaconInterval = 20 * time.Millisecond
	cfg.ResponseTimeout = 200 * time.Millisecond
	return cfg
}

// serveReceiver runs an xtp server on the pair's receiver link and returns
// its storage directory.
func serveReceiver(t *testing.T, p *simPair) string {
	t.Helper()
	dir := t.TempDir()
	server := xtp.NewServer(file.NewStore(dir), testXTPConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Serve(ctx, p.receiver)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return dir
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return b
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// fakeSender records sends. Files named in unverified come back unverified;
// files named in failures fail with the given error.
type fakeSender struct {
	mu         sync.Mutex
	remotes    []string
	unverified map[string]bool
	failures   map[string]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{unverified: map[string]bool{}, failures: map[string]error{}}
}

func (f *fakeSender) SendFile(_ context.Context, path, remotePath string) (*xtp.FileResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes = append(f.remotes, remotePath)

	name := filepath.Base(path)
	if err := f.failures[name]; err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	return &xtp.FileResult{
		Path:       path,
		RemotePath: remotePath,
		Size:       info.Size(),
		Chunks:     1,
		Duration:   10 * time.Millisecond,
		Verified:   !f.unverified[name],
	}, nil
}

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.remotes...)
}

// fakeScanner answers AT commands with canned scan responses.
type fakeScanner struct {
	mu        sync.Mutex
	handler   transport.ScanHandler
	commands  []string
	responses map[string][]*radio.Response
	closed    bool
}

func (f *fakeScanner) Command(at string, _ []byte) (*transport.Pending, error) {
	f.mu.Lock()
	f.commands = append(f.commands, at)
	handler := f.handler
	responses := f.responses[at]
	f.mu.Unlock()

	for _, resp := range responses {
		if handler != nil {
			handler(resp)
		}
	}
	return nil, nil
}

func (f *fakeScanner) SetScanHandler(handler transport.ScanHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeScanner) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
