package aqi

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can pick retry, skip or abort.
type Kind string

const (
	KindTransient         Kind = "transient"
	KindPermanentProvider Kind = "permanent_provider"
	KindValidation        Kind = "validation"
	KindStorage           Kind = "storage"
	KindNotFound          Kind = "not_found"
)

// Sentinels for errors.Is against an *Error of the matching kind.
var (
	ErrTransient         = errors.New("transient network error")
	ErrPermanentProvider = errors.New("permanent provider error")
	ErrValidation        = errors.New("validation error")
	ErrStorage           = errors.New("storage error")
	ErrNotFound          = errors.New("record not found")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTransient:
		return ErrTransient
	case KindPermanentProvider:
		return ErrPermanentProvider
	case KindValidation:
		return ErrValidation
	case KindStorage:
		return ErrStorage
	case KindNotFound:
		return ErrNotFound
	}
	return nil
}

// Error is the error type returned across package boundaries.
type Error struct {
	Kind    Kind
	Source  string
	Message string
	Err     error
}

// NewError builds an *Error.
func NewError(kind Kind, source, message string, err error) *Error {
	return &Error{Kind: kind, Source: source, Message: message, Err: err}
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Source != "" {
		prefix = fmt.Sprintf("%s/%s", e.Kind, e.Source)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinel so errors.Is(err, ErrTransient) works on
// wrapped values.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
