package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/hypetrack/internal/models"
)

// Kind classifies a fetch failure by how the caller should react.
type Kind int

const (
	// Transient failures (timeouts, rate limits, 5xx responses) may succeed
	// on a later retry; the cache layer is allowed to serve stale data for them.
	Transient Kind = iota
	// Permanent failures (malformed requests, auth/quota revocation, broken
	// payloads) will not resolve on their own and are surfaced immediately.
	Permanent
)

func (k Kind) String() string {
	if k == Permanent {
		return "permanent"
	}
	return "transient"
}

// Error is a typed fetch failure carrying the source, operation, and HTTP
// status (when one was received) so callers can log actionable context.
type Error struct {
	Source models.SourceID
	Op     string
	Kind   Kind
	Status int
	Err    error

	// retryAfter is the server-requested minimum wait, when one was sent.
	retryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s fetch %s (%s, status %d): %v", e.Source, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s fetch %s (%s): %v", e.Source, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable fetch failure.
func NewTransient(source models.SourceID, op string, err error) *Error {
	return &Error{Source: source, Op: op, Kind: Transient, Err: err}
}

// NewPermanent wraps err as a non-retryable fetch failure.
func NewPermanent(source models.SourceID, op string, err error) *Error {
	return &Error{Source: source, Op: op, Kind: Permanent, Err: err}
}

// IsTransient reports whether err is (or wraps) a transient fetch failure.
// Context cancellation also counts as transient: the data may well exist,
// this run just gave up waiting for it.
func IsTransient(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == Transient
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err is (or wraps) a permanent fetch failure.
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == Permanent
}
