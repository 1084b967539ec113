package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/radiolink/xtp"
)

type fixedSource []xtp.SessionInfo

func (f fixedSource) Sessions() []xtp.SessionInfo { return f }

func TestSessionsEndpoint(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	src := fixedSource{{
		Source:    "0013a20040a1b2c3",
		Path:      "inbox/report.bin",
		Offset:    6144,
		TotalSize: 20000,
		Fragments: 24,
		Received:  20,
		State:     "begun",
		Started:   started,
		Updated:   started.Add(time.Second),
	}}

	rec := httptest.NewRecorder()
	NewHandler(src).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "inbox/report.bin", got[0]["path"])
	assert.Equal(t, "begun", got[0]["state"])
	assert.EqualValues(t, 6144, got[0]["offset"])
	assert.EqualValues(t, 20, got[0]["received"])
	assert.Equal(t, false, got[0]["crc_ok"])
}

func TestSessionsEndpointEmpty(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(fixedSource(nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandlerRoutes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		code   int
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"sessions post", http.MethodPost, "/sessions", http.StatusMethodNotAllowed},
		{"unknown", http.MethodGet, "/nope", http.StatusNotFound},
	}

	h := NewHandler(fixedSource(nil))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, addr, NewHandler(fixedSource(nil)))
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = Serve(context.Background(), ln.Addr().String(), NewHandler(fixedSource(nil)))
	assert.Error(t, err)
}
