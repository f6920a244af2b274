// Package services defines the business logic for authentication, room and
// direct messaging, and history replay. This file centralizes the
// service-level error model: every predictable failure carries a protocol
// error code so the transport layer can translate it into an ERROR frame
// without inspecting the cause.
package services

import (
	"errors"

	"github.com/tbourn/go-chat-server/internal/protocol"
	"github.com/tbourn/go-chat-server/internal/repo"
)

// CodedError is a service failure tagged with a wire error code. Message is
// safe to show to the client; Err retains the cause for logging.
type CodedError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *CodedError) Unwrap() error { return e.Err }

// coded builds a CodedError without a cause.
func coded(code, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// codedWrap builds a CodedError retaining the cause.
func codedWrap(code, message string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the wire code from a service error. Unrecognized errors
// map to INTERNAL_ERROR so unexpected failures never leak details.
func ErrorCode(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return protocol.CodeInternalError
}

// ErrorMessage extracts the client-safe message from a service error.
func ErrorMessage(err error) string {
	var ce *CodedError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return "internal server error"
}

// wrapStoreErr translates repository failures into coded service errors:
// invalid input becomes VALIDATION_ERROR, storage faults DATABASE_ERROR,
// anything else INTERNAL_ERROR.
func wrapStoreErr(err error, message string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrInvalidInput):
		return codedWrap(protocol.CodeValidationError, message, err)
	default:
		var se *repo.StorageError
		if errors.As(err, &se) {
			return codedWrap(protocol.CodeDatabaseError, "database error", err)
		}
		return codedWrap(protocol.CodeInternalError, "internal server error", err)
	}
}
