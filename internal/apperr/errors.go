// Package apperr defines the error kinds shared by the moltkeeper packages.
//
// Every concrete error type unwraps to one of the sentinel values below, so
// callers can branch with errors.Is and recover details with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error handling.
var (
	// ErrParse indicates a malformed input document or policy file.
	ErrParse = errors.New("parse error")

	// ErrNotFound indicates a missing input, policy or vault file.
	ErrNotFound = errors.New("not found")

	// ErrCorruptVault indicates vault storage exists but cannot be decoded.
	ErrCorruptVault = errors.New("corrupt vault")

	// ErrInvalidRequest indicates caller-supplied arguments are missing or invalid.
	ErrInvalidRequest = errors.New("invalid request")
)

// ParseError reports a document or policy that could not be parsed.
type ParseError struct {
	Source string // file path or a short description of the input
	Cause  error
}

func (e *ParseError) Error() string {
	if e.Source != "" && e.Cause != nil {
		return fmt.Sprintf("parse %s: %v", e.Source, e.Cause)
	}
	if e.Cause != nil {
		return fmt.Sprintf("parse: %v", e.Cause)
	}
	return "parse error"
}

func (e *ParseError) Unwrap() error { return ErrParse }

// NotFoundError reports a missing file on a path that requires it.
type NotFoundError struct {
	Kind string // "input", "policy", "vault", ...
	Path string
}

func (e *NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("not found: %s", e.Path)
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Path)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CorruptVaultError reports vault storage that exists but cannot be decoded.
// It is never recovered from automatically.
type CorruptVaultError struct {
	Location string
	Cause    error
}

func (e *CorruptVaultError) Error() string {
	return fmt.Sprintf("corrupt vault at %s: %v", e.Location, e.Cause)
}

func (e *CorruptVaultError) Unwrap() error { return ErrCorruptVault }

// InvalidRequestError reports a missing or invalid caller argument.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("missing required argument: %s", e.Field)
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Unwrap() error { return ErrInvalidRequest }

// Parse wraps cause as a ParseError for source.
func Parse(source string, cause error) error {
	return &ParseError{Source: source, Cause: cause}
}

// NotFound builds a NotFoundError.
func NotFound(kind, path string) error {
	return &NotFoundError{Kind: kind, Path: path}
}

// Missing builds an InvalidRequestError for an absent required field.
func Missing(field string) error {
	return &InvalidRequestError{Field: field}
}

// Invalid builds an InvalidRequestError with a reason.
func Invalid(field, reason string) error {
	return &InvalidRequestError{Field: field, Reason: reason}
}
