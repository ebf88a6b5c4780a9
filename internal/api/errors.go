package api

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthorized matches any AuthError carrying HTTP 401.
var ErrUnauthorized = errors.New("unauthorized")

// AuthError is returned for rejected credentials and invalid or expired tokens.
// Message is the server-provided text, surfaced verbatim.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("authentication failed (status %d)", e.Status)
	}
	return e.Message
}

// Is lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// ValidationError is a local precondition failure caught before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TransportError wraps a network or connection failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("connection error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error: %d", e.Status)
	}
	return fmt.Sprintf("server error: %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is (or wraps) a 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsTransport reports whether err is (or wraps) a connection failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
