package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicateAction = errors.New("action already queued")
)

// Kind classifies failures for retry decisions and user-facing messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindTimeout
	KindServer
	KindValidation
	KindAuth
	KindPermission
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindPermission:
		return "permission"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Retryable reports whether another attempt may succeed.
// Unclassified errors are retried so queued work is not discarded on a guess.
func (k Kind) Retryable() bool {
	switch k {
	case KindValidation, KindAuth, KindPermission, KindStorage:
		return false
	default:
		return true
	}
}

// Error carries a Kind alongside the failed operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind. A nil err stays nil.
func NewError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies err, looking through wrapping.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindNetwork
	}

	return KindUnknown
}

// IsRetryable is the predicate used by the queue drain.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}
