package errorkinds

import (
	"errors"

	"github.com/Southclaws/fault/ftag"
)

// Tag kinds which are not provided by ftag.
const (
	NoKind             ftag.Kind = ""
	FailedPrecondition ftag.Kind = "FAILED_PRECONDITION"
	Unsupported        ftag.Kind = "UNSUPPORTED"
	Timeout            ftag.Kind = "TIMEOUT"
)

var (
	ErrNotFound        = errors.New("peripheral not found")
	ErrAdapterNotReady = errors.New("adapter is not powered on")
	ErrInvalidState    = errors.New("operation is invalid in the current connection state")
	ErrNotSupported    = errors.New("operation is not supported by the backend")
	ErrDecode          = errors.New("cannot decode characteristic value")
	ErrSessionNotExist = errors.New("session does not exist")
	ErrInvalidCommand  = errors.New("invalid command")
	ErrMethodCall      = errors.New("method call is invalid")
	ErrMethodTimeout   = errors.New("method call timed out")
)

// Kind returns the tag kind attached to the error, or derives one
// from the wrapped sentinel error.
func Kind(err error) ftag.Kind {
	if err == nil {
		return NoKind
	}

	if kind := ftag.Get(err); kind != NoKind && kind != ftag.Internal {
		return kind
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return ftag.NotFound

	case errors.Is(err, ErrAdapterNotReady), errors.Is(err, ErrInvalidState), errors.Is(err, ErrSessionNotExist):
		return FailedPrecondition

	case errors.Is(err, ErrInvalidCommand), errors.Is(err, ErrMethodCall), errors.Is(err, ErrDecode):
		return ftag.InvalidArgument

	case errors.Is(err, ErrNotSupported):
		return Unsupported

	case errors.Is(err, ErrMethodTimeout):
		return Timeout
	}

	return ftag.Internal
}

// IsPrecondition reports whether the error is a local precondition failure,
// as opposed to a hardware or internal failure.
func IsPrecondition(err error) bool {
	switch Kind(err) {
	case ftag.NotFound, FailedPrecondition:
		return true
	}

	return false
}
