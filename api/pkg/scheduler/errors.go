package scheduler

import "fmt"

// ErrorKind classifies operation failures so the HTTP layer can map them to
// status codes without string matching.
type ErrorKind string

const (
	KindAuthRequired       ErrorKind = "auth-required"
	KindAuthInvalid        ErrorKind = "auth-invalid"
	KindForbidden          ErrorKind = "forbidden"
	KindBadRequest         ErrorKind = "bad-request"
	KindNotFound           ErrorKind = "not-found"
	KindDayNotOpen         ErrorKind = "day-not-open"
	KindReserved           ErrorKind = "reserved"
	KindInsufficientCredit ErrorKind = "insufficient-credit"
	KindNotOwner           ErrorKind = "not-owner"
	KindTooLateToRelease   ErrorKind = "too-late-to-release"
	KindConflict           ErrorKind = "conflict"
	KindInternal           ErrorKind = "internal"
)

// Error is a tagged operation failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	errAuthRequired = &Error{Kind: KindAuthRequired, Message: "Authentication required."}
	errAuthInvalid  = &Error{Kind: KindAuthInvalid, Message: "Invalid credentials."}
)
