package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for per-file operation failures. Collaborators wrap one of
// these so the quarantine record can carry a category.
var (
	ErrInvalidInput = errors.New("invalid input document")
	ErrOCR          = errors.New("ocr failed")
	ErrAPI          = errors.New("api call failed")
	ErrConvert      = errors.New("text conversion failed")
	ErrFormat       = errors.New("text formatting failed")
	ErrStorage      = errors.New("object storage failed")
	ErrVerify       = errors.New("verification failed")
)

var categories = []struct {
	err  error
	name string
}{
	{ErrInvalidInput, "invalid-input"},
	{ErrOCR, "ocr"},
	{ErrAPI, "api"},
	{ErrConvert, "convert"},
	{ErrFormat, "format"},
	{ErrStorage, "storage"},
	{ErrVerify, "verify"},
}

// ErrorCategory returns the short category name of err, or "operation" when
// err wraps none of the known sentinels.
func ErrorCategory(err error) string {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.name
		}
	}
	if errors.Is(err, errPanic) {
		return "panic"
	}
	return "operation"
}

var errPanic = errors.New("operation panicked")

// OperationError is a per-file failure. It never aborts a stage.
type OperationError struct {
	Stage Stage
	File  string
	Err   error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.File, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// Category is the quarantine category of the wrapped error.
func (e *OperationError) Category() string { return ErrorCategory(e.Err) }

// PanicError converts a recovered panic value into an error.
func PanicError(v any) error {
	return fmt.Errorf("%w: %v", errPanic, v)
}
