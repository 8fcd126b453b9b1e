package service

import (
	"errors"
	"fmt"
)

// Code is the caller-visible error category
type Code string

const (
	CodeInvalidArgument    Code = "invalid-argument"
	CodeUnauthenticated    Code = "unauthenticated"
	CodeNotFound           Code = "not-found"
	CodeFailedPrecondition Code = "failed-precondition"
	CodeInternal           Code = "internal"
)

// Error is a structured error whose Code and Message are returned to the caller verbatim.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Business-rule failures. Compare with errors.Is.
var (
	ErrUnauthenticated   = newError(CodeUnauthenticated, "Login required.")
	ErrUIDRequired       = newError(CodeInvalidArgument, "uid is required.")
	ErrItemIDRequired    = newError(CodeInvalidArgument, "itemId is required.")
	ErrDiaryIDRequired   = newError(CodeInvalidArgument, "Missing diaryId")
	ErrPromptEmpty       = newError(CodeInvalidArgument, "prompt is empty")
	ErrNegativePrice     = newError(CodeInvalidArgument, "price must be non-negative.")
	ErrIdempotencyKeyLen = newError(CodeInvalidArgument, "idempotencyKey must be at most 128 characters.")
	ErrIdempotencyReused = newError(CodeInvalidArgument, "idempotencyKey already used for another item.")
	ErrItemNotFound      = newError(CodeNotFound, "Market item not found.")
	ErrObjectNotFound    = newError(CodeNotFound, "Object not found.")
	ErrInvalidItemData   = newError(CodeFailedPrecondition, "Invalid item data.")
	ErrOwnItem           = newError(CodeFailedPrecondition, "You cannot buy your own item.")
	ErrItemNotAvailable  = newError(CodeFailedPrecondition, "Item is not available.")
	ErrBuyerNotFound     = newError(CodeFailedPrecondition, "Buyer profile not found.")
	ErrInsufficientCoins = newError(CodeFailedPrecondition, "Insufficient coins.")
	ErrListingIDTaken    = newError(CodeFailedPrecondition, "Listing id already in use, try again.")
)

// Internal wraps an unexpected failure. Only prefix and the cause's message reach the caller.
func Internal(prefix string, err error) *Error {
	return &Error{Code: CodeInternal, Message: prefix + err.Error(), Err: err}
}

// AsError returns the structured error in err's chain, or wraps err as internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return Internal("", err)
}

// IsClientError reports whether err was caused by the caller's input or state
// and must not be retried unchanged.
func IsClientError(err error) bool {
	var svcErr *Error
	if !errors.As(err, &svcErr) {
		return false
	}
	return svcErr.Code != CodeInternal
}
