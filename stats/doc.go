// Package stats records an audit trail of file transfers.
//
// The protocol talks to a Logger, which never blocks: BeginTransfer returns
// a token immediately and AppendEvent only enqueues. A single goroutine
// drains the queue into a Backend. Backend failures are logged and dropped.
//
// Backends:
//
//   - Nop discards everything
//   - LogBackend writes structured log lines through logrus
//   - Memory keeps transfers in memory (tests, status pages)
//   - Postgres stores transfers and events in two tables (lib/pq)
//   - Etcd stores JSON documents under a key prefix (etcd client v3)
//
// Example:
//
//	backend, err := stats.Open(stats.Options{Backend: "postgres", DSN: dsn})
//	logger := stats.NewLogger(backend, 256)
//	defer logger.Close()
//
//	tok := logger.BeginTransfer(stats.TransferInfo{Path: "a.txt", Fragments: 42})
//	logger.AppendEvent(tok, stats.EventAcks, "received 40/42", 40)
package stats
