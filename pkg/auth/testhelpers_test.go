package auth

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const sqliteSchema = `
CREATE TABLE api_tokens (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	token_hash TEXT NOT NULL UNIQUE,
	token_prefix TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	expires_at TIMESTAMP,
	last_used_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	revoked_at TIMESTAMP,
	revoked_by INTEGER,
	revoke_reason TEXT
);

CREATE TABLE audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER,
	action TEXT NOT NULL,
	resource_type TEXT NOT NULL,
	resource_id TEXT,
	ip_address TEXT,
	user_agent TEXT,
	request_id TEXT,
	status TEXT NOT NULL,
	error_message TEXT,
	created_at TIMESTAMP NOT NULL
);
`

// setupTestDB creates an in-memory database with the auth schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return db
}

// clock is a settable time source for TokenStore.now
type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func withClock(s *TokenStore, c *clock) *TokenStore {
	s.now = c.now
	return s
}

func timeRef(t time.Time) *time.Time { return &t }
