package server

import (
	"errors"
	"fmt"
	"net/http"
)

// OAuth error codes as constants
const (
	ErrorCodeInvalidRequest          = "invalid_request"
	ErrorCodeInvalidClient           = "invalid_client"
	ErrorCodeInvalidGrant            = "invalid_grant"
	ErrorCodeInvalidScope            = "invalid_scope"
	ErrorCodeUnsupportedGrantType    = "unsupported_grant_type"
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"
	ErrorCodeServerError             = "server_error"
)

// genericServerErrorDescription replaces internal error text in responses
const genericServerErrorDescription = "The server encountered an unexpected condition"

// Kind classifies an engine failure into the OAuth2 error vocabulary.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindInvalidClient
	KindInvalidGrant
	KindInvalidScope
	KindUnsupportedGrantType
	KindUnsupportedResponseType
	KindServerError
)

// Code returns the RFC 6749 error code for the kind
func (k Kind) Code() string {
	switch k {
	case KindInvalidRequest:
		return ErrorCodeInvalidRequest
	case KindInvalidClient:
		return ErrorCodeInvalidClient
	case KindInvalidGrant:
		return ErrorCodeInvalidGrant
	case KindInvalidScope:
		return ErrorCodeInvalidScope
	case KindUnsupportedGrantType:
		return ErrorCodeUnsupportedGrantType
	case KindUnsupportedResponseType:
		return ErrorCodeUnsupportedResponseType
	default:
		return ErrorCodeServerError
	}
}

// Status returns the HTTP status code for the kind
func (k Kind) Status() int {
	switch k {
	case KindInvalidClient:
		return http.StatusUnauthorized
	case KindServerError:
		return http.StatusInternalServerError
	case KindInvalidRequest, KindInvalidGrant, KindInvalidScope,
		KindUnsupportedGrantType, KindUnsupportedResponseType:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// String implements fmt.Stringer
func (k Kind) String() string {
	return k.Code()
}

// Error is a classified engine failure. It is the only error type handlers return.
type Error struct {
	Kind        Kind
	Description string // Human-readable description, safe to return to clients

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Description, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Description)
}

// Unwrap returns the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the OAuth error code
func (e *Error) Code() string {
	return e.Kind.Code()
}

// Status returns the HTTP status code
func (e *Error) Status() int {
	return e.Kind.Status()
}

// NewError creates a new classified error
func NewError(kind Kind, description string) *Error {
	return &Error{Kind: kind, Description: description}
}

// Common OAuth errors
var (
	// ErrInvalidRequest indicates the request is malformed or missing required parameters
	ErrInvalidRequest = func(desc string) *Error {
		return NewError(KindInvalidRequest, desc)
	}

	// ErrInvalidClient indicates client authentication failed
	ErrInvalidClient = func(desc string) *Error {
		return NewError(KindInvalidClient, desc)
	}

	// ErrInvalidGrant indicates the code or refresh token is invalid, expired, or mismatched
	ErrInvalidGrant = func(desc string) *Error {
		return NewError(KindInvalidGrant, desc)
	}

	// ErrInvalidScope indicates the requested scope is outside what may be granted
	ErrInvalidScope = func(desc string) *Error {
		return NewError(KindInvalidScope, desc)
	}

	// ErrUnsupportedGrantType indicates the grant type is not registered
	ErrUnsupportedGrantType = func(desc string) *Error {
		return NewError(KindUnsupportedGrantType, desc)
	}

	// ErrUnsupportedResponseType indicates the response type is not registered
	ErrUnsupportedResponseType = func(desc string) *Error {
		return NewError(KindUnsupportedResponseType, desc)
	}
)

// ErrServerError wraps an internal failure. The cause is kept for logging but never
// rendered to clients.
func ErrServerError(cause error) *Error {
	return &Error{Kind: KindServerError, Description: genericServerErrorDescription, cause: cause}
}

// Classify maps any error to exactly one classified error. A *Error anywhere in the chain is
// returned as is; anything else becomes server_error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrServerError(err)
}
