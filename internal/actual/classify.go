package actual

import (
	"errors"
	"strings"
)

// Category tags a backend failure for retry logic and user-facing messaging.
type Category string

const (
	CategoryMigration      Category = "migration"
	CategoryNetwork        Category = "network"
	CategoryAuthentication Category = "authentication"
	CategorySyncID         Category = "sync_id"
	CategoryServerURL      Category = "server_url"
	CategoryBudgetDownload Category = "budget_download"
	CategoryUnknown        Category = "unknown"
)

// keywordSets is checked in order; the order is load-bearing. Migration
// vocabulary comes first so that messages mentioning both sync and migration
// resolve to CategoryMigration.
var keywordSets = []struct {
	category Category
	words    []string
}{
	{CategoryMigration, []string{
		"out-of-sync", "migration", "timestamp", "version",
	}},
	{CategoryNetwork, []string{
		"network", "timeout", "deadline", "connection refused", "connection reset",
		"no such host", "unreachable", "dial tcp", "socket", "econnrefused",
	}},
	{CategoryAuthentication, []string{
		"password", "unauthorized", "token", "401", "authentication", "credential",
	}},
	{CategorySyncID, []string{
		"sync id", "sync-id", "syncid", "file-not-found", "file not found",
		"user-file", "sync",
	}},
	{CategoryServerURL, []string{
		"server url", "server-url", "invalid url", "unsupported protocol",
		"missing protocol scheme",
	}},
	{CategoryBudgetDownload, []string{
		"download", "budget file", "zip", "encrypted", "file-encrypted",
	}},
}

// Classify inspects a failure and returns its best-effort category. Typed
// *Error values contribute their reason, message and details; anything else
// contributes err.Error(). False classification is possible and acceptable;
// the result is a heuristic, not a guaranteed taxonomy.
func Classify(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	text := strings.ToLower(FailureText(err))
	for _, set := range keywordSets {
		for _, w := range set.words {
			if strings.Contains(text, w) {
				return set.category
			}
		}
	}
	return CategoryUnknown
}

// FailureText extracts the best-available text from a failure value.
func FailureText(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Error()
	}
	return err.Error()
}
