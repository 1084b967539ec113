package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/radiolink/xtp"
)

// ShutdownTimeout bounds how long Serve waits for in-flight requests.
const ShutdownTimeout = 5 * time.Second

// SessionSource provides receiver session snapshots. *xtp.Server satisfies it.
type SessionSource interface {
	Sessions() []xtp.SessionInfo
}

// NewHandler returns the status mux for src.
func NewHandler(src SessionSource) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessions := src.Sessions()
		if sessions == nil {
			sessions = []xtp.SessionInfo{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(sessions); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "status.sessions",
				"error":    err.Error(),
			}).Warn("Failed to encode sessions")
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "status.Serve",
		"addr":     addr,
	})

	access := logrus.StandardLogger().WriterLevel(logrus.InfoLevel)
	defer access.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.CombinedLoggingHandler(access, h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("Status endpoint listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.WithField("error", err.Error()).Error("Status endpoint failed")
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithField("error", err.Error()).Warn("Status endpoint shutdown incomplete")
		return err
	}
	logger.Info("Status endpoint stopped")
	return nil
}
