package app

import "errors"

var (
	// ErrInvalidPassword is the only failure reported for a bad admin login.
	ErrInvalidPassword = errors.New("invalid password")

	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrMessageNotFound = errors.New("message not found")
)

// ValidationError carries a message that is safe to return to the client.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
