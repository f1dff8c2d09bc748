// Package apperr defines the error kinds shared by the checkout and webhook paths.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown               Kind = ""
	KindInvalidArgument       Kind = "invalid_argument"
	KindNotCompleted          Kind = "not_completed"
	KindMissingCorrelation    Kind = "missing_correlation"
	KindSignature             Kind = "signature_error"
	KindUpstreamTimeout       Kind = "upstream_timeout"
	KindUpstreamUnavailable   Kind = "upstream_unavailable"
	KindUpstreamRejected      Kind = "upstream_rejected"
	KindNotFound              Kind = "not_found"
	KindUnresolvedCorrelation Kind = "unresolved_correlation"
	KindPersistence           Kind = "persistence_error"
	KindMalformedEvent        Kind = "malformed_event"
)

// Error is the single error shape returned by public operations.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost *Error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether redelivering the same event may succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindUnresolvedCorrelation, KindMalformedEvent, KindSignature, KindInvalidArgument, KindNotFound, KindUpstreamRejected:
		return false
	default:
		return err != nil
	}
}
