// Package dberrors defines the error kinds shared across the catalog,
// dispatcher, gossip store, and wire session, so the wire layer can map any
// failure from lower layers to the right ErrorResponse without string
// sniffing.
package dberrors

import "fmt"

// Kind classifies a failure the way §7 of the design does: each component
// returns one of these, and the wire session maps it to an ErrorResponse.
type Kind string

const (
	Unsupported     Kind = "unsupported"
	NotFound        Kind = "not_found"
	AlreadyExists   Kind = "already_exists"
	InvalidArgument Kind = "invalid_argument"
	Storage         Kind = "storage_error"
	Dispatch        Kind = "dispatch_error"
	Protocol        Kind = "protocol_error"
	Internal        Kind = "internal_error"
)

// Error wraps an underlying cause with a Kind so callers can switch on it
// without parsing messages.
type Error struct {
	Cause   error
	Kind    Kind
	Message string
	// Peer is set only for Dispatch errors, carrying the offending address.
	Peer string
}

func (e *Error) Error() string {
	if e.Kind == Dispatch && e.Peer != "" {
		return fmt.Sprintf("%s: %s (peer %s)", e.Kind, e.Message, e.Peer)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFoundf(format string, args ...any) *Error        { return newf(NotFound, format, args...) }
func AlreadyExistsf(format string, args ...any) *Error    { return newf(AlreadyExists, format, args...) }
func Unsupportedf(format string, args ...any) *Error      { return newf(Unsupported, format, args...) }
func InvalidArgumentf(format string, args ...any) *Error  { return newf(InvalidArgument, format, args...) }
func Internalf(format string, args ...any) *Error         { return newf(Internal, format, args...) }
func Protocolf(format string, args ...any) *Error         { return newf(Protocol, format, args...) }

// Storagef wraps a lower-level storage fault (§4.1 StorageError).
func Storagef(cause error, format string, args ...any) *Error {
	e := newf(Storage, format, args...)
	e.Cause = cause
	return e
}

// Dispatchf reports a failed peer RPC, carrying the offending address.
func Dispatchf(peer string, cause error, format string, args ...any) *Error {
	e := newf(Dispatch, format, args...)
	e.Cause = cause
	e.Peer = peer
	return e
}

// KindOf extracts the Kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Internal
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
