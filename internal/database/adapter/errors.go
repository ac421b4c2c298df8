package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/whalefall/accountsync/internal/database/common"
)

// Kind is the stable, machine-readable failure taxonomy shared by every
// adapter. Values are persisted in sync instance records, so they must not
// change.
type Kind string

const (
	KindConnectionRefused      Kind = "connection_refused"
	KindAuthenticationFailed   Kind = "authentication_failed"
	KindDatabaseNotFound       Kind = "database_not_found"
	KindPermissionDenied       Kind = "permission_denied"
	KindDriverMissing          Kind = "driver_missing"
	KindTimeout                Kind = "timeout"
	KindUnresolvableCredential Kind = "unresolvable_credential"
	KindSerializationConflict  Kind = "serialization_conflict"
	KindCancelled              Kind = "cancelled"
	KindOther                  Kind = "other"
)

// Retryable reports whether a failure of this kind may be retried with
// backoff.
func (k Kind) Retryable() bool {
	switch k {
	case KindConnectionRefused, KindTimeout, KindSerializationConflict:
		return true
	}
	return false
}

// MaxAttempts returns the total attempt budget for this kind (first try
// included).
func (k Kind) MaxAttempts() int {
	switch k {
	case KindConnectionRefused, KindTimeout:
		return 3
	case KindSerializationConflict:
		return 4
	}
	return 1
}

// Error is a classified adapter failure.
type Error struct {
	Kind    Kind
	Dialect common.Dialect
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed (%s)", e.Dialect, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Dialect, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Detail returns the human-readable portion of the failure.
func (e *Error) Detail() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// NewError builds a classified adapter error.
func NewError(kind Kind, dialect common.Dialect, op string, err error) *Error {
	return &Error{Kind: kind, Dialect: dialect, Op: op, Err: err}
}

// KindOf extracts the taxonomy kind from any error chain. Unclassified
// errors map to KindOther; context errors map to timeout/cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindOther
}

// ClassifyNetwork maps transport-level failures common to every driver.
// Returns KindOther when the error is not a recognizable network failure.
func ClassifyNetwork(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindConnectionRefused
	}
	return KindOther
}
