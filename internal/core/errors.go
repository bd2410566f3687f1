package core

import "errors"

// Error codes for domain errors.
const (
	ErrCodeAuthFailed           = "auth_failed"
	ErrCodeTransportUnavailable = "transport_unavailable"
	ErrCodeRoomNotFound         = "room_not_found"
	ErrCodeNotMember            = "not_member"
	ErrCodePublishFailed        = "publish_failed"
	ErrCodeResponderFailed      = "responder_failed"
	ErrCodeSessionClosed        = "session_closed"
	ErrCodeSessionNotFound      = "session_not_found"
	ErrCodeBadRequest           = "bad_request"
	ErrCodeInternal             = "internal"
)

var (
	ErrAuthFailed           = errors.New("authentication failed")
	ErrTransportUnavailable = errors.New("real-time unavailable")
	ErrRoomNotFound         = errors.New("room not found")
	ErrNotMember            = errors.New("not a member of room")
	ErrPublishFailed        = errors.New("publish failed")
	ErrResponderFailed      = errors.New("responder failed")
	ErrSessionClosed        = errors.New("session closed")
	ErrSessionNotFound      = errors.New("session not found")
	ErrBadRequest           = errors.New("bad request")
)

var codeBySentinel = []struct {
	err  error
	code string
}{
	{ErrAuthFailed, ErrCodeAuthFailed},
	{ErrTransportUnavailable, ErrCodeTransportUnavailable},
	{ErrRoomNotFound, ErrCodeRoomNotFound},
	{ErrNotMember, ErrCodeNotMember},
	{ErrPublishFailed, ErrCodePublishFailed},
	{ErrResponderFailed, ErrCodeResponderFailed},
	{ErrSessionClosed, ErrCodeSessionClosed},
	{ErrSessionNotFound, ErrCodeSessionNotFound},
	{ErrBadRequest, ErrCodeBadRequest},
}

// CoreError wraps a code, a human-readable message and the underlying cause.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// Wrap builds a CoreError whose code is derived from sentinel.
// The result matches both sentinel and cause with errors.Is.
func Wrap(sentinel error, cause error, msg string) *CoreError {
	err := sentinel
	if cause != nil {
		err = errors.Join(sentinel, cause)
	}
	if msg == "" {
		msg = sentinel.Error()
		if cause != nil {
			msg += ": " + cause.Error()
		}
	}
	return &CoreError{Code: CodeOf(sentinel), Message: msg, Err: err}
}

// CodeOf maps an error to its domain code, or ErrCodeInternal when unknown.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var ce *CoreError
	if errors.As(err, &ce) && ce.Code != "" && ce.Code != ErrCodeInternal {
		return ce.Code
	}
	for _, entry := range codeBySentinel {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ErrCodeInternal
}
