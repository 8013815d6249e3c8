package types

import "errors"

type ErrorCode string

const (
	CodeRoomNotFound      ErrorCode = "ROOM_NOT_FOUND"
	CodeDuplicateRoomCode ErrorCode = "DUPLICATE_ROOM_CODE"
	CodeMalformedMessage  ErrorCode = "MALFORMED_MESSAGE"
	CodeStalePhaseMessage ErrorCode = "STALE_PHASE_MESSAGE"
	CodeHostDisconnected  ErrorCode = "HOST_DISCONNECTED"
	CodeRoomClosed        ErrorCode = "ROOM_CLOSED"
)

var ErrMalformedMessage = errors.New("malformed message")

// CodedError ties a sentinel error to the wire code it is reported as.
type CodedError struct {
	Code ErrorCode
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }
func (e *CodedError) Unwrap() error { return e.Err }

// NewCoded returns a sentinel error that CodeOf maps back to code.
func NewCoded(code ErrorCode, msg string) error {
	return &CodedError{Code: code, Err: errors.New(msg)}
}

// CodeOf reports the wire code carried by err, if any.
func CodeOf(err error) (ErrorCode, bool) {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code, true
	}
	if errors.Is(err, ErrMalformedMessage) {
		return CodeMalformedMessage, true
	}
	return "", false
}
