package ponggame

import "fmt"

// ErrorKind classifies command rejections so the facade can map them onto
// error events without string matching.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindInvalidState     ErrorKind = "invalid_state"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindFull             ErrorKind = "full"
	KindAlreadyJoined    ErrorKind = "already_joined"
	KindAlreadyInSession ErrorKind = "already_in_session"
	KindExpiredWindow    ErrorKind = "expired_window"
)

// Error is a command rejection. Rejections never partially mutate state;
// preconditions are checked under the owning lock before any write.
type Error struct {
	Kind ErrorKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// NewError builds a command rejection of the given kind.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return NewError(kind, format, args...)
}

// KindOf extracts the rejection kind from err, or empty when err is not a
// command rejection.
func KindOf(err error) ErrorKind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return ""
}
