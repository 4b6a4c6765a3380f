package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a user-facing error so the UI layer can decide how to
// present it. All kinds are surfaced as dismissible messages, never a crash.
type ErrorKind int

const (
	// KindValidation marks input rejected before any network call.
	KindValidation ErrorKind = iota
	// KindPermission marks owner-only actions attempted by a non-owner and
	// denied media access. Not retried.
	KindPermission
	// KindCapacity marks a room or XP cap violation. Carries the XP the
	// caller would need so the UI can explain the threshold.
	KindCapacity
	// KindTransport marks a failed REST call or realtime connection.
	KindTransport
	// KindNotFound marks an invalid invitation code or a deleted room.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindCapacity:
		return "capacity"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error is a classified user-facing error.
type Error struct {
	Kind ErrorKind
	msg  string
	// RequiredXP is the XP total that would satisfy the violated cap.
	// Only set when Kind is KindCapacity.
	RequiredXP int
	cause      error
}

func (e *Error) Error() string { return e.msg }

func (e *Error) Unwrap() error { return e.cause }

func NewValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, msg: msg}
}

func NewPermissionError(msg string) *Error {
	return &Error{Kind: KindPermission, msg: msg}
}

func NewCapacityError(msg string, requiredXP int) *Error {
	return &Error{Kind: KindCapacity, msg: msg, RequiredXP: requiredXP}
}

func NewNotFoundError(msg string) *Error {
	return &Error{Kind: KindNotFound, msg: msg}
}

func NewTransportError(msg string, cause error) *Error {
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &Error{Kind: KindTransport, msg: msg, cause: cause}
}

// KindOf reports the classification of err, or KindTransport and false when
// err carries no classification.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return KindTransport, false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

var (
	// ErrTimerRunning is returned when starting a timer that is not idle.
	ErrTimerRunning = errors.New("timer already running")
	// ErrTimerIdle is returned when stopping a timer that is not running.
	ErrTimerIdle = errors.New("timer not running")
	// ErrSessionActive is returned when starting a session while one is active.
	ErrSessionActive = errors.New("session already active")
	// ErrNoSession is returned when ending a session while none is active.
	ErrNoSession = errors.New("no active session")
	// ErrChannelClosed is returned when sending on a closed realtime channel.
	ErrChannelClosed = errors.New("channel closed")
	// ErrCallActive is returned when starting a call while one is active.
	ErrCallActive = errors.New("call already active")
	// ErrNoCall is returned for call operations that require an active call.
	ErrNoCall = errors.New("no active call")
)
