package sched

import (
	"context"
	"fmt"
	"os"

	"github.com/guitarbeat/actual-ical/internal/actual"
	appLog "github.com/guitarbeat/actual-ical/internal/log"
	"github.com/guitarbeat/actual-ical/internal/model"
)

// Session is one connection to the budget backend. actual.Client implements
// it; tests substitute fakes.
type Session interface {
	// Init establishes client state against the remote endpoint.
	Init(ctx context.Context) error
	// Pull downloads the remote dataset into the cache directory.
	Pull(ctx context.Context) error
	// Schedules returns the non-deleted schedule records.
	Schedules(ctx context.Context) ([]model.Schedule, error)
	// Close releases any handle into the cache directory.
	Close() error
}

// SessionFunc opens a fresh Session. The fetcher opens one per attempt so a
// cache clear never races an open database handle.
type SessionFunc func() Session

// Failure is the structured error surfaced by Fetch. It is the only error
// shape that crosses the fetch boundary.
type Failure struct {
	Category actual.Category
	Message  string
}

func (f *Failure) Error() string {
	return f.Message
}

// Fetcher owns the cache directory lifecycle and the single guarded retry
// for migration-classified backend failures.
type Fetcher struct {
	cacheDir          string
	clearCacheOnError bool
	open              SessionFunc

	// clear destroys and recreates the cache directory; a field so tests
	// can observe and fail the clear step.
	clear func() error
}

// New creates a Fetcher.
func New(cacheDir string, clearCacheOnError bool, open SessionFunc) *Fetcher {
	f := &Fetcher{
		cacheDir:          cacheDir,
		clearCacheOnError: clearCacheOnError,
		open:              open,
	}
	f.clear = f.clearCache
	return f
}

// Fetch returns the active schedules from the backend.
//
// At most two attempts run: a migration-classified failure of the first
// attempt clears the cache directory (when enabled) and tries once more.
// Every other failure, and any failure of the second attempt, surfaces as a
// *Failure with a category-specific message.
func (f *Fetcher) Fetch(ctx context.Context) ([]model.Schedule, error) {
	for attempt := 0; ; attempt++ {
		schedules, err := f.attempt(ctx)
		if err == nil {
			return schedules, nil
		}

		category := actual.Classify(err)
		appLog.Error("schedule fetch attempt failed", err,
			"attempt", attempt, "category", string(category))

		if category == actual.CategoryMigration && attempt == 0 && f.clearCacheOnError {
			appLog.Info("clearing budget cache after migration failure", "dir", f.cacheDir)
			if clearErr := f.clear(); clearErr != nil {
				return nil, &Failure{
					Category: category,
					Message:  fmt.Sprintf("%s (cache clear failed: %v)", messageFor(category, err), clearErr),
				}
			}
			continue
		}

		return nil, &Failure{Category: category, Message: messageFor(category, err)}
	}
}

// attempt runs one full session: cache dir, init, pull, query.
func (f *Fetcher) attempt(ctx context.Context) ([]model.Schedule, error) {
	if err := os.MkdirAll(f.cacheDir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", f.cacheDir, err)
	}

	session := f.open()
	defer session.Close()

	if err := session.Init(ctx); err != nil {
		return nil, err
	}
	if err := session.Pull(ctx); err != nil {
		return nil, err
	}
	return session.Schedules(ctx)
}

// clearCache destroys and recreates the cache directory.
func (f *Fetcher) clearCache() error {
	if err := os.RemoveAll(f.cacheDir); err != nil {
		return err
	}
	return os.MkdirAll(f.cacheDir, 0o700)
}

// messageFor renders the category-specific human-readable message. Unknown
// categories fall back to the raw extracted failure text.
func messageFor(category actual.Category, err error) string {
	text := actual.FailureText(err)
	switch category {
	case actual.CategoryMigration:
		return "the cached budget is out of sync with the server: " + text
	case actual.CategoryNetwork:
		return "could not reach the Actual server: " + text
	case actual.CategoryAuthentication:
		return "authentication with the Actual server failed; check the configured password: " + text
	case actual.CategorySyncID:
		return "no budget matches the configured sync id: " + text
	case actual.CategoryServerURL:
		return "the configured Actual server URL is not usable: " + text
	case actual.CategoryBudgetDownload:
		return "the budget file could not be downloaded: " + text
	default:
		return text
	}
}
