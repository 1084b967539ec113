package stats

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS xtp_transfers.*CREATE TABLE IF NOT EXISTS xtp_events`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	p, err := newPostgresWithDB(db)
	require.NoError(t, err)
	return p, mock
}

func TestPostgresBeginInsertsTransfer(t *testing.T) {
	p, mock := newMockPostgres(t)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO xtp_transfers (token, source, path, "offset", total_size, fragments, started)`)).
		WithArgs("tok-1", "0013a20040a1b2c3", "logs/a.txt", int64(512), int64(4096), int64(16), started).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectClose()

	err := p.Begin(context.Background(), "tok-1", TransferInfo{
		Source:    "0013a20040a1b2c3",
		Path:      "logs/a.txt",
		Offset:    512,
		TotalSize: 4096,
		Fragments: 16,
		Started:   started,
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppendStoresValueAsJSON(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"counts", map[string]int{"received": 40, "missing": 2}, `{"missing":2,"received":40}`},
		{"scalar", 7, `7`},
		{"none", nil, `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, mock := newMockPostgres(t)
			at := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)

			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO xtp_events (token, type, message, value, created_at)`)).
				WithArgs("tok-1", "acks", "received 40/42", tt.want, at).
				WillReturnResult(sqlmock.NewResult(1, 1))

			err := p.Append(context.Background(), "tok-1", Event{
				Type:    EventAcks,
				Message: "received 40/42",
				Value:   tt.value,
				Time:    at,
			})
			require.NoError(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresInsertErrorsAreWrapped(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectExec("INSERT INTO xtp_events").WillReturnError(errors.New("relation does not exist"))

	err := p.Append(context.Background(), "tok-1", Event{Type: EventDone, Time: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: insert event")
	assert.Contains(t, err.Error(), "relation does not exist")
}

func TestPostgresSchemaFailureClosesPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS xtp_transfers").WillReturnError(errors.New("permission denied"))
	mock.ExpectClose()

	p, err := newPostgresWithDB(db)
	require.Error(t, err)
	assert.Nil(t, p)
	assert.Contains(t, err.Error(), "postgres: schema")
	assert.NoError(t, mock.ExpectationsWereMet())
}
