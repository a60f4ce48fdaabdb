package optisync

import (
	"errors"
	"fmt"
)

var (
	ErrNoFetcher = errors.New("optisync: no fetcher registered for key")
	ErrClosed    = errors.New("optisync: cache closed")
)

type InvalidateError struct {
	Key      string
	BumpErr  error
	WriteErr error
}

func (e *InvalidateError) Error() string {
	switch {
	case e.BumpErr != nil && e.WriteErr != nil:
		return fmt.Sprintf("invalidate %q failed: gen bump and stale write failed: bump=%v; write=%v",
			e.Key, e.BumpErr, e.WriteErr)
	case e.BumpErr != nil:
		return fmt.Sprintf("invalidate %q: gen bump failed: %v", e.Key, e.BumpErr)
	case e.WriteErr != nil:
		return fmt.Sprintf("invalidate %q: stale write failed: %v", e.Key, e.WriteErr)
	default:
		return fmt.Sprintf("invalidate %q: unknown error", e.Key)
	}
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.BumpErr != nil {
		errs = append(errs, e.BumpErr)
	}
	if e.WriteErr != nil {
		errs = append(errs, e.WriteErr)
	}
	return errs
}

// RollbackError is returned when a mutation's remote call failed and the
// snapshot could not be written back either. errors.Is matches both causes.
type RollbackError struct {
	Key        string
	RemoteErr  error
	RestoreErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback %q: restore failed: %v (remote: %v)", e.Key, e.RestoreErr, e.RemoteErr)
}

func (e *RollbackError) Unwrap() []error {
	return []error{e.RemoteErr, e.RestoreErr}
}
