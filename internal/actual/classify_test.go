package actual

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCategories(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Category
	}{
		{
			name: "typed migration error",
			err:  &Error{Reason: "out-of-sync-migrations", Message: "local database is behind the server"},
			want: CategoryMigration,
		},
		{
			name: "plain migration text",
			err:  errors.New("please run the latest migration before syncing"),
			want: CategoryMigration,
		},
		{
			name: "timestamp vocabulary",
			err:  errors.New("clock timestamp mismatch between client and server"),
			want: CategoryMigration,
		},
		{
			name: "connection refused",
			err:  errors.New("dial tcp 10.0.0.1:5006: connection refused"),
			want: CategoryNetwork,
		},
		{
			name: "request deadline",
			err:  fmt.Errorf("download request: %w", errors.New("context deadline exceeded")),
			want: CategoryNetwork,
		},
		{
			name: "invalid password",
			err:  &Error{Reason: "invalid-password", Message: "login to the Actual server was rejected"},
			want: CategoryAuthentication,
		},
		{
			name: "missing file",
			err:  &Error{Reason: "file-not-found", Message: `no budget file matches sync id "abc"`},
			want: CategorySyncID,
		},
		{
			name: "bad scheme",
			err:  &Error{Reason: "invalid-server-url", Message: `the server URL must use http or https, got "ftp"`},
			want: CategoryServerURL,
		},
		{
			name: "broken archive",
			err:  &Error{Reason: "download-failure", Message: "the budget file download is not a valid zip archive"},
			want: CategoryBudgetDownload,
		},
		{
			name: "unmatched text",
			err:  errors.New("weird internal state"),
			want: CategoryUnknown,
		},
		{
			name: "nil error",
			err:  nil,
			want: CategoryUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

// Messages mentioning both sync and migration vocabulary must resolve to
// migration; the keyword precedence is what guarantees it.
func TestClassifyMigrationWinsOverSync(t *testing.T) {
	err := errors.New("sync failed: local data requires a migration")
	assert.Equal(t, CategoryMigration, Classify(err))
}

func TestClassifyIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, CategoryMigration, Classify(errors.New("OUT-OF-SYNC-MIGRATIONS")))
	assert.Equal(t, CategoryNetwork, Classify(errors.New("Connection Refused by host")))
}

func TestFailureTextPrefersTypedError(t *testing.T) {
	inner := &Error{Reason: "file-encrypted", Message: "cannot decrypt", Details: "key id k1"}
	wrapped := fmt.Errorf("pull: %w", inner)

	text := FailureText(wrapped)
	assert.Contains(t, text, "file-encrypted")
	assert.Contains(t, text, "cannot decrypt")
	assert.Contains(t, text, "key id k1")
}
