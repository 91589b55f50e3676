package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies protocol and engine failures so the signaling layer
// can decide how each one surfaces on the wire: an explicit error event, a
// dedicated negative response, or a logged drop.
type ErrorCode string

const (
	ErrCodeEmptyRoomID       ErrorCode = "ROOM_EMPTY_ID"
	ErrCodeAlreadyJoined     ErrorCode = "ALREADY_JOINED"
	ErrCodeNotJoined         ErrorCode = "NOT_JOINED"
	ErrCodeRoomNotFound      ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomFull          ErrorCode = "ROOM_FULL"
	ErrCodePeerNotFound      ErrorCode = "PEER_NOT_FOUND"
	ErrCodeTransportNotFound ErrorCode = "TRANSPORT_NOT_FOUND"
	ErrCodeTransportState    ErrorCode = "TRANSPORT_STATE"
	ErrCodeProducerNotFound  ErrorCode = "PRODUCER_NOT_FOUND"
	ErrCodeConsumerNotFound  ErrorCode = "CONSUMER_NOT_FOUND"
	ErrCodeCannotConsume     ErrorCode = "CANNOT_CONSUME"
	ErrCodeInvalidPayload    ErrorCode = "INVALID_PAYLOAD"
	ErrCodeEngineFailure     ErrorCode = "ENGINE_FAILURE"
)

// AppError carries a protocol error code along with a human-readable message
// and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Newf creates an AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error.
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, Cause: err}
}

// CodeOf extracts the protocol error code from an error chain. Errors that
// carry no AppError map to ENGINE_FAILURE, the catch-all for collaborator
// faults.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeEngineFailure
}

// HasCode reports whether err carries the given protocol error code.
func HasCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
