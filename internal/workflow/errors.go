package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrel4d/adpost/internal/listing"
	"github.com/kestrel4d/adpost/internal/locator"
)

// errManualLogin signals that no stored session can authenticate this run.
// It short-circuits the retry loop and maps to StateManualLoginRequired.
var errManualLogin = errors.New("no usable stored session, log in once with `adpost login`")

// stepError pins an explicit error kind onto a failure that the generic
// classifier could not derive from the error's type alone.
type stepError struct {
	kind listing.ErrorKind
	err  error
}

func (e *stepError) Error() string { return e.err.Error() }

func (e *stepError) Unwrap() error { return e.err }

func failKind(kind listing.ErrorKind, format string, args ...any) error {
	return &stepError{kind: kind, err: fmt.Errorf(format, args...)}
}

// classify maps a state handler's error to the kind recorded on the listing.
func classify(err error) listing.ErrorKind {
	var se *stepError
	if errors.As(err, &se) {
		return se.kind
	}
	var nf *locator.NotFoundError
	if errors.As(err, &nf) {
		return listing.ErrLocatorNotFound
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return listing.ErrNetworkTimeout
	}
	return listing.ErrUnknownPageState
}

// retryable reports whether a kind is worth re-entering the state for.
// Session problems go to manual handoff and rejections are terminal.
func retryable(kind listing.ErrorKind) bool {
	switch kind {
	case listing.ErrLocatorNotFound, listing.ErrNetworkTimeout, listing.ErrUnknownPageState:
		return true
	default:
		return false
	}
}
