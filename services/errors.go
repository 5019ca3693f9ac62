package services

import (
	"errors"
	"fmt"

	"github.com/cppla/accesso/utils"
)

// Error kinds. Controllers map them to HTTP statuses with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrExpired           = errors.New("expired")
	ErrConflict          = errors.New("conflict")
	ErrUpstream          = errors.New("upstream failure")
	// ErrDisabled is a link switched off by an operator; it also matches ErrExpired.
	ErrDisabled          = fmt.Errorf("disabled: %w", ErrExpired)
	ErrPasswordRequired  = utils.ErrPasswordRequired
	ErrIncorrectPassword = utils.ErrIncorrectPassword
)

// Error carries a user-facing message together with its kind.
type Error struct {
	Kind    error
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

// Is matches the kind, including kinds the kind itself wraps.
func (e *Error) Is(target error) bool { return errors.Is(e.Kind, target) }

func (e *Error) Unwrap() error { return e.cause }

// PublicMessage returns the message safe to show to clients.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	switch {
	case errors.Is(err, ErrPasswordRequired):
		return "Password required"
	case errors.Is(err, ErrIncorrectPassword):
		return "Incorrect password"
	}
	return "Internal server error"
}

func invalid(msg string) error  { return &Error{Kind: ErrValidation, Message: msg} }
func notFound(msg string) error { return &Error{Kind: ErrNotFound, Message: msg} }
func expired(msg string) error  { return &Error{Kind: ErrExpired, Message: msg} }
func conflict(msg string) error { return &Error{Kind: ErrConflict, Message: msg} }
func disabled(msg string) error { return &Error{Kind: ErrDisabled, Message: msg} }

// upstream hides cause from clients; it is still reachable through errors.Unwrap for logging.
func upstream(msg string, cause error) error {
	return &Error{Kind: ErrUpstream, Message: msg, cause: cause}
}
