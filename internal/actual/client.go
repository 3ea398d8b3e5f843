package actual

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	appLog "github.com/guitarbeat/actual-ical/internal/log"
	"github.com/guitarbeat/actual-ical/internal/model"
)

// maxSupportedMigration is the newest budget database migration this client
// understands. A downloaded database carrying a newer migration id means the
// server has moved ahead of us and the local cache is stale.
const maxSupportedMigration = 1722804019000

// maxDownloadSize caps the budget file download (64 MiB).
const maxDownloadSize = 64 << 20

// Options configures a backend session.
type Options struct {
	ServerURL    string
	Password     string
	SyncID       string
	SyncPassword string
	CacheDir     string

	// Location is the timezone schedule dates are anchored in; UTC when nil.
	Location *time.Location

	// HTTPClient may be injected for tests; a 30s-timeout client is used
	// when nil.
	HTTPClient *http.Client
}

// Client is one session against an Actual sync server plus the locally
// cached copy of the budget database. It is not safe for concurrent use;
// callers open one client per fetch.
type Client struct {
	opts  Options
	httpc *http.Client
	token string
	db    *sql.DB
}

// NewClient creates an unconnected session.
func NewClient(opts Options) *Client {
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{opts: opts, httpc: httpc}
}

// Init validates the server URL and logs in with the main password.
func (c *Client) Init(ctx context.Context) error {
	base, err := c.baseURL()
	if err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]string{
		"loginMethod": "password",
		"password":    c.opts.Password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/account/login", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{Reason: "invalid-password", Message: "login to the Actual server was rejected"}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{
			Reason:  "login-failure",
			Message: fmt.Sprintf("login returned unexpected status %d", resp.StatusCode),
			Details: readBodySnippet(resp.Body),
		}
	}

	var decoded struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
		Data   struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}
	if decoded.Status != "ok" || decoded.Data.Token == "" {
		reason := decoded.Reason
		if reason == "" {
			reason = "invalid-password"
		}
		return &Error{Reason: reason, Message: "login to the Actual server was rejected"}
	}

	c.token = decoded.Data.Token
	appLog.Debug("backend session established", "server", redactURL(c.opts.ServerURL))
	return nil
}

// Pull downloads the budget file named by the sync id into the cache
// directory and opens its database.
func (c *Client) Pull(ctx context.Context) error {
	if c.token == "" {
		return &Error{Reason: "login-failure", Message: "session is not initialized"}
	}
	base, err := c.baseURL()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/sync/download-user-file", nil)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	req.Header.Set("X-ACTUAL-TOKEN", c.token)
	req.Header.Set("X-ACTUAL-FILE-ID", c.opts.SyncID)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("download request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to extraction
	case http.StatusBadRequest, http.StatusNotFound:
		return &Error{
			Reason:  "file-not-found",
			Message: fmt.Sprintf("no budget file matches sync id %q", c.opts.SyncID),
			Details: readBodySnippet(resp.Body),
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Reason: "unauthorized", Message: "the download token was rejected"}
	default:
		return &Error{
			Reason:  "download-failure",
			Message: fmt.Sprintf("budget file download returned status %d", resp.StatusCode),
			Details: readBodySnippet(resp.Body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return fmt.Errorf("download budget file: %w", err)
	}

	dir := filepath.Join(c.opts.CacheDir, c.opts.SyncID)
	if err := extractBudget(body, dir); err != nil {
		return err
	}

	if keyID := readEncryptKeyID(dir); keyID != "" {
		return &Error{
			Reason:  "file-encrypted",
			Message: "the budget file is end-to-end encrypted and cannot be downloaded in clear",
			Details: "encryption key id " + keyID,
		}
	}

	return c.openDatabase(ctx, filepath.Join(dir, "db.sqlite"))
}

// Schedules queries the pulled budget for non-tombstoned schedule records,
// in backend-query order.
func (c *Client) Schedules(ctx context.Context) ([]model.Schedule, error) {
	if c.db == nil {
		return nil, &Error{Reason: "download-failure", Message: "no budget database has been pulled"}
	}
	loc := c.opts.Location
	if loc == nil {
		loc = time.UTC
	}

	const q = `
		SELECT s.id, COALESCE(s.name, ''), COALESCE(nd.local_next_date, 0), COALESCE(r.conditions, '[]')
		FROM schedules s
		LEFT JOIN schedules_next_date nd ON nd.schedule_id = s.id
		LEFT JOIN rules r ON r.id = s.rule
		WHERE s.tombstone = 0
		ORDER BY s.id`

	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	var out []model.Schedule
	for rows.Next() {
		var (
			id, name   string
			nextInt    int
			conditions string
		)
		if err := rows.Scan(&id, &name, &nextInt, &conditions); err != nil {
			return nil, fmt.Errorf("scan schedule row: %w", err)
		}

		recur, amount, err := parseRuleConditions([]byte(conditions), loc)
		if err != nil {
			appLog.Warn("skipping schedule with unparseable rule", "schedule", id, "reason", err.Error())
			continue
		}
		if name == "" {
			name = "Schedule"
		}

		out = append(out, model.Schedule{
			ID:       id,
			Name:     name,
			NextDate: dateFromInt(nextInt, loc),
			Amount:   amount,
			Recur:    recur,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read schedules: %w", err)
	}

	appLog.Debug("schedules loaded from budget", "count", len(out))
	return out, nil
}

// Close releases the database handle so the cache directory can be cleared.
func (c *Client) Close() error {
	if c.db == nil {
		return nil
	}
	db := c.db
	c.db = nil
	return db.Close()
}

func (c *Client) baseURL() (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", &Error{
			Reason:  "invalid-server-url",
			Message: "the configured server URL could not be parsed",
			Details: err.Error(),
		}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &Error{
			Reason:  "invalid-server-url",
			Message: fmt.Sprintf("the server URL must use http or https, got %q", u.Scheme),
		}
	}
	base := u.String()
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return base, nil
}

// openDatabase opens the extracted sqlite file and rejects databases whose
// migrations are newer than this client supports.
func (c *Client) openDatabase(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return &Error{Reason: "download-failure", Message: "the downloaded budget database could not be opened", Details: err.Error()}
	}

	var newest int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM __migrations`).Scan(&newest); err != nil {
		db.Close()
		return &Error{Reason: "download-failure", Message: "the downloaded budget database has no migration table", Details: err.Error()}
	}
	if newest > maxSupportedMigration {
		db.Close()
		return &Error{
			Reason:  "out-of-sync-migrations",
			Message: fmt.Sprintf("budget database migration %d is newer than the supported %d", newest, maxSupportedMigration),
		}
	}

	c.db = db
	return nil
}

// extractBudget unpacks the downloaded zip into dir. Only top-level entries
// are written; anything trying to escape the directory is rejected.
func extractBudget(payload []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		return &Error{Reason: "download-failure", Message: "the budget file download is not a valid zip archive", Details: err.Error()}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create budget dir: %w", err)
	}

	for _, f := range zr.File {
		name := filepath.Base(f.Name)
		if name == "." || name == ".." || f.FileInfo().IsDir() {
			continue
		}
		src, err := f.Open()
		if err != nil {
			return &Error{Reason: "download-failure", Message: "failed to unzip the budget file", Details: err.Error()}
		}
		data, err := io.ReadAll(io.LimitReader(src, maxDownloadSize))
		src.Close()
		if err != nil {
			return &Error{Reason: "download-failure", Message: "failed to unzip the budget file", Details: err.Error()}
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			return fmt.Errorf("write budget file %s: %w", name, err)
		}
	}
	return nil
}

// readEncryptKeyID returns the encryption key id from metadata.json, or ""
// when the file is absent, unreadable or the budget is not encrypted.
func readEncryptKeyID(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	if err != nil {
		return ""
	}
	var meta struct {
		EncryptKeyID string `json:"encryptKeyId"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return ""
	}
	return meta.EncryptKeyID
}

func readBodySnippet(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(bytes.TrimSpace(data))
}

// redactURL hides everything past the host when logging server URLs.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(redacted)"
	}
	return u.Scheme + "://" + u.Host
}
