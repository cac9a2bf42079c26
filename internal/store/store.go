// Package store persists attendance records. Records are append-only:
// rows are never rewritten except through Patch, which annotates a record
// at most once and only while it is still the subject's newest row for
// that day.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shiftgate/kiosk/internal/core"
)

var (
	// ErrNotFound means the record id does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrAlreadyPatched means the record was patched before, or a later
	// same-day record for the subject has sealed it.
	ErrAlreadyPatched = errors.New("store: record already patched")
)

// Patch carries the one-shot annotations a committed record may receive.
// Nil fields are left untouched.
type Patch struct {
	Location  *core.Location
	Emergency *core.Emergency
}

// RecordStore is the persistence driver interface. Implementations must
// assign strictly increasing ids in append order.
type RecordStore interface {
	// Append persists rec, assigns its id, and returns the stored copy.
	Append(ctx context.Context, rec core.AttendanceRecord) (core.AttendanceRecord, error)
	// Patch applies p to the record once. ErrNotFound if id is unknown,
	// ErrAlreadyPatched if patched before or sealed by a later record.
	Patch(ctx context.Context, id int64, p Patch) (core.AttendanceRecord, error)
	// Delete removes a record. ErrNotFound if id is unknown.
	Delete(ctx context.Context, id int64) error
	// ListForSubjectOn returns the subject's records on day's calendar
	// date, ordered by timestamp then id.
	ListForSubjectOn(ctx context.Context, subjectID string, day time.Time) ([]core.AttendanceRecord, error)
	// ListOn returns every record on day's calendar date, ordered by
	// timestamp then id.
	ListOn(ctx context.Context, day time.Time) ([]core.AttendanceRecord, error)
}

// TransientError marks a failure worth one retry: the write may succeed
// moments later (connection blips, lock timeouts). Anything else is
// treated as fatal by callers.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "store: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is worth a single retry.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
