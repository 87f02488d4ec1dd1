package chat

import (
	"errors"
	"fmt"
)

// Sentinel error kinds (stable for errors.Is and for mapping to API status codes).
var (
	// ErrValidation marks malformed or empty input. Reported to the caller, no retry.
	ErrValidation = errors.New("validation")
	// ErrNotFound marks a missing conversation or user. Also used when the
	// requester is not a participant, so non-members cannot probe for ids.
	ErrNotFound = errors.New("not_found")
	// ErrForbidden marks an operation the caller is not allowed to perform.
	ErrForbidden = errors.New("forbidden")
	// ErrPersistence marks a store failure or timeout. The caller may retry
	// the whole operation; nothing was stored.
	ErrPersistence = errors.New("persistence")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind must be one of the sentinel kinds above. Msg may carry human-readable
// context; never secrets or message bodies.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// NotFoundError reports a missing resource by logical name.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsForbidden reports whether err represents ErrForbidden.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsPersistence reports whether err represents ErrPersistence.
func IsPersistence(err error) bool { return errors.Is(err, ErrPersistence) }
