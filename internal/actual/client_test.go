package actual_test

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guitarbeat/actual-ical/internal/actual"
)

const testSyncID = "9f2c1c70-budget"

// buildBudgetZip creates a minimal budget archive: db.sqlite with the
// schedule tables plus metadata.json.
func buildBudgetZip(t *testing.T, migrationID int64) []byte {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "db.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	require.NoError(t, err)

	stmts := []string{
		`CREATE TABLE __migrations (id INTEGER PRIMARY KEY)`,
		`CREATE TABLE schedules (
			id TEXT PRIMARY KEY, rule TEXT, active INTEGER DEFAULT 0,
			completed INTEGER DEFAULT 0, posts_transaction INTEGER DEFAULT 0,
			tombstone INTEGER DEFAULT 0, name TEXT)`,
		`CREATE TABLE schedules_next_date (
			id TEXT PRIMARY KEY, schedule_id TEXT,
			local_next_date INTEGER, base_next_date INTEGER,
			tombstone INTEGER DEFAULT 0)`,
		`CREATE TABLE rules (
			id TEXT PRIMARY KEY, stage TEXT, conditions TEXT, actions TEXT,
			tombstone INTEGER DEFAULT 0)`,
	}
	for _, s := range stmts {
		_, err := db.Exec(s)
		require.NoError(t, err)
	}

	_, err = db.Exec(`INSERT INTO __migrations (id) VALUES (?)`, migrationID)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO rules (id, stage, conditions) VALUES
		('r1', NULL, '[{"op":"is","field":"date","value":{"start":"2024-01-15","frequency":"monthly","endMode":"never"}},{"op":"isapprox","field":"amount","value":-12000}]'),
		('r2', NULL, '[{"op":"is","field":"date","value":"2024-07-01"},{"op":"is","field":"amount","value":5000}]')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO schedules (id, rule, name, tombstone) VALUES
		('s1', 'r1', 'Rent', 0),
		('s2', 'r2', 'Refund', 0),
		('s3', 'r1', 'Deleted', 1)`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO schedules_next_date (id, schedule_id, local_next_date) VALUES
		('n1', 's1', 20240615),
		('n2', 's2', 20240701)`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	raw, err := os.ReadFile(dbPath)
	require.NoError(t, err)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("db.sqlite")
	require.NoError(t, err)
	_, err = w.Write(raw)
	require.NoError(t, err)
	w, err = zw.Create("metadata.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"id":"My Budget"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func newBackend(t *testing.T, budget []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /account/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok","data":{"token":"tok-1"}}`))
	})
	mux.HandleFunc("GET /sync/download-user-file", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-ACTUAL-TOKEN") != "tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-ACTUAL-FILE-ID") != testSyncID {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(budget)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, serverURL string) *actual.Client {
	t.Helper()
	c := actual.NewClient(actual.Options{
		ServerURL: serverURL,
		Password:  "hunter2",
		SyncID:    testSyncID,
		CacheDir:  t.TempDir(),
		Location:  time.UTC,
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientPullAndQuerySchedules(t *testing.T) {
	srv := newBackend(t, buildBudgetZip(t, 1694360000000))
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx))
	require.NoError(t, c.Pull(ctx))

	schedules, err := c.Schedules(ctx)
	require.NoError(t, err)

	// The tombstoned schedule must not come back.
	require.Len(t, schedules, 2)

	rent := schedules[0]
	assert.Equal(t, "s1", rent.ID)
	assert.Equal(t, "Rent", rent.Name)
	assert.Equal(t, time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), rent.NextDate)
	require.NotNil(t, rent.Recur)
	assert.Equal(t, "monthly", rent.Recur.Frequency)
	assert.Equal(t, "-120.00", rent.Amount.String())

	refund := schedules[1]
	assert.Nil(t, refund.Recur, "string date value means one-shot")
	assert.Equal(t, "50.00", refund.Amount.String())
}

func TestClientRejectsTooNewMigrations(t *testing.T) {
	// A migration id far in the future marks a budget this client cannot
	// read; that is the migration-category failure the fetcher retries on.
	srv := newBackend(t, buildBudgetZip(t, 9999999999999))
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx))
	err := c.Pull(ctx)
	require.Error(t, err)

	assert.Equal(t, actual.CategoryMigration, actual.Classify(err))
}

func TestClientUnknownSyncID(t *testing.T) {
	srv := newBackend(t, buildBudgetZip(t, 1))
	c := actual.NewClient(actual.Options{
		ServerURL: srv.URL,
		Password:  "hunter2",
		SyncID:    "not-a-file",
		CacheDir:  t.TempDir(),
	})
	ctx := context.Background()

	require.NoError(t, c.Init(ctx))
	err := c.Pull(ctx)
	require.Error(t, err)

	assert.Equal(t, actual.CategorySyncID, actual.Classify(err))
}

func TestClientRejectedLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /account/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"error","reason":"invalid-password"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.Init(context.Background())
	require.Error(t, err)

	assert.Equal(t, actual.CategoryAuthentication, actual.Classify(err))
}

func TestClientRejectsNonHTTPServerURL(t *testing.T) {
	c := actual.NewClient(actual.Options{ServerURL: "ftp://example.com", Password: "x", SyncID: "y"})
	err := c.Init(context.Background())
	require.Error(t, err)

	assert.Equal(t, actual.CategoryServerURL, actual.Classify(err))
}

func TestClientEncryptedBudgetIsRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("metadata.json")
	require.NoError(t, err)
	_, err = w.Write([]byte(`{"id":"My Budget","encryptKeyId":"k1"}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := newBackend(t, buf.Bytes())
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx))
	err = c.Pull(ctx)
	require.Error(t, err)

	assert.Equal(t, actual.CategoryBudgetDownload, actual.Classify(err))
}
