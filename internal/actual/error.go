package actual

import "strings"

// Error is a typed failure raised at the backend client boundary. Known
// server failure shapes are mapped onto it explicitly so callers never have
// to introspect arbitrary error values.
type Error struct {
	// Reason is the machine-readable code, either straight from the server
	// (e.g. "invalid-password", "file-not-found") or assigned locally
	// (e.g. "out-of-sync-migrations").
	Reason string

	// Message is the human-readable description.
	Message string

	// Details carries any extra server-provided text.
	Details string
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Reason != "" {
		parts = append(parts, e.Reason)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Details != "" {
		parts = append(parts, e.Details)
	}
	if len(parts) == 0 {
		return "unknown backend failure"
	}
	return strings.Join(parts, ": ")
}
