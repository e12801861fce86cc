package ai

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for the retry policy.
type ErrorKind int

const (
	// KindTransient covers timeouts, rate-limit responses and 5xx answers.
	// Transient errors are retried with backoff.
	KindTransient ErrorKind = iota + 1
	// KindPermanent covers auth failures and malformed requests. There is no
	// point retrying; the run is aborted.
	KindPermanent
	// KindParse covers responses that arrived but did not match the expected
	// schema. Parse failures are per-item and never abort a batch or run.
	KindParse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable provider failure.
func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

// Parse wraps err as a per-item schema failure.
func Parse(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

func kindOf(err error) ErrorKind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return 0
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool { return kindOf(err) == KindTransient }

// IsPermanent reports whether err aborts the run.
func IsPermanent(err error) bool { return kindOf(err) == KindPermanent }

// IsParse reports whether err is a per-item schema failure.
func IsParse(err error) bool { return kindOf(err) == KindParse }
