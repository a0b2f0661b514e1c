// Package apperr defines the error kinds shared by the certification engine.
// Callers match kinds with errors.Is and read context with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// Kinds. Every *Error carries exactly one of these.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrStateConflict    = errors.New("state conflict")
	ErrExpiredWindow    = errors.New("exam window expired")
	ErrTransientStorage = errors.New("transient storage error")
)

// Error is a kinded error with operation and field context.
type Error struct {
	Op      string // e.g. "progress.Complete"
	Kind    error
	Field   string // offending input, when the kind is ErrValidation
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind as well as the wrapped cause.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && errors.Is(e.Kind, target)
}

func Validation(op, field, msg string) error {
	return &Error{Op: op, Kind: ErrValidation, Field: field, Message: msg}
}

func NotFound(op, msg string) error {
	return &Error{Op: op, Kind: ErrNotFound, Message: msg}
}

func Conflict(op, msg string) error {
	return &Error{Op: op, Kind: ErrStateConflict, Message: msg}
}

func Expired(op, msg string) error {
	return &Error{Op: op, Kind: ErrExpiredWindow, Message: msg}
}

// Transient wraps a renderer or blob-store failure. Safe to retry.
func Transient(op, msg string, err error) error {
	return &Error{Op: op, Kind: ErrTransientStorage, Message: msg, Err: err}
}

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsConflict(err error) bool   { return errors.Is(err, ErrStateConflict) }
func IsExpired(err error) bool    { return errors.Is(err, ErrExpiredWindow) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransientStorage) }
