package docstore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Host when nothing exists at a path. The
	// Client turns it into the found=false result of Read.
	ErrNotFound = errors.New("document not found")
	// ErrEntryNotFound is returned when no record inside a collection
	// matches the requested id.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrConflict means the precondition token supplied with a write no
	// longer matches the live file.
	ErrConflict = errors.New("document changed since it was read")
	// ErrExists is returned for a tokenless write to a path that already
	// has content.
	ErrExists = errors.New("document already exists")
	// ErrNotCollection is returned when a document has no array under the
	// expected items key.
	ErrNotCollection = errors.New("document is not a collection")
)

// HostError is a non-success response from the document host other than
// not-found and conflict.
type HostError struct {
	Status  int
	Message string
	// Hint is an optional, more actionable description added by the host
	// adapter (for example a permissions hint on 403).
	Hint string
	// Cause is the adapter's own error, when it has one.
	Cause error
}

func (e *HostError) Error() string {
	if e == nil {
		return ""
	}
	if e.Hint != "" {
		return fmt.Sprintf("host responded %d: %s (%s)", e.Status, e.Message, e.Hint)
	}
	return fmt.Sprintf("host responded %d: %s", e.Status, e.Message)
}

func (e *HostError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// StatusOf extracts the host status code carried by err, or 0.
func StatusOf(err error) int {
	var hostErr *HostError
	if errors.As(err, &hostErr) {
		return hostErr.Status
	}
	return 0
}
