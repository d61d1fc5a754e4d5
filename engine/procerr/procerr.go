// Package procerr classifies processing failures. Transient failures are
// retried up to the message's budget; permanent failures need manual
// remediation and are never picked up by the automatic retry scan.
package procerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
)

func (k Kind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

// Error wraps a cause with its failure classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Permanent marks err as a permanent business failure.
func Permanent(err error) *Error {
	return &Error{Kind: KindPermanent, Err: err}
}

// Permanentf is Permanent with formatting.
func Permanentf(format string, args ...interface{}) *Error {
	return Permanent(fmt.Errorf(format, args...))
}

// IsPermanent reports whether err carries a permanent classification.
func IsPermanent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindPermanent
}
