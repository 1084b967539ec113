// Package status serves a small read-only HTTP view of the receiver.
//
//	GET /sessions  JSON array of the current receive sessions
//	GET /healthz   "ok"
//
// Requests are access-logged in combined log format through logrus.
package status
