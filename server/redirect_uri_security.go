package server

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// RedirectURISecurityError represents a redirect URI validation error
// with detailed information for operators while keeping error messages generic for clients.
type RedirectURISecurityError struct {
	// Category is the error category for logging
	Category string
	// URI is the offending redirect URI (sanitized for logging)
	URI string
	// Reason is the detailed internal reason (for logs, not returned to client)
	Reason string
	// ClientMessage is the message safe to return to clients
	ClientMessage string
}

func (e *RedirectURISecurityError) Error() string {
	return e.ClientMessage
}

// Redirect URI security error categories
const (
	RedirectURIErrorCategoryInvalidFormat = "invalid_format"
	RedirectURIErrorCategoryNotAbsolute   = "not_absolute"
	RedirectURIErrorCategoryFragment      = "fragment_not_allowed"
	RedirectURIErrorCategoryBlockedScheme = "blocked_scheme"
)

// blockedRedirectSchemes can execute content in the user agent and are never redirect targets
var blockedRedirectSchemes = []string{"javascript", "data", "vbscript", "file"}

// ValidateRedirectURISecurity checks that uri can serve as a redirect target: it must be
// an absolute URI without a fragment (RFC 6749 Section 3.1.2) and must not use a scheme
// that executes content. It applies to registered URIs and to URIs sent with requests.
func ValidateRedirectURISecurity(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryInvalidFormat,
			URI:           sanitizeURIForLogging(uri),
			Reason:        fmt.Sprintf("URL parse error: %v", err),
			ClientMessage: "redirect_uri: invalid URI format",
		}
	}

	if !parsed.IsAbs() {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryNotAbsolute,
			URI:           sanitizeURIForLogging(uri),
			Reason:        "URI has no scheme",
			ClientMessage: "redirect_uri: must be an absolute URI",
		}
	}

	// A fragment would be overwritten by the implicit flow response.
	if parsed.Fragment != "" || strings.Contains(uri, "#") {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryFragment,
			URI:           sanitizeURIForLogging(uri),
			Reason:        "URI contains a fragment",
			ClientMessage: "redirect_uri: fragments are not allowed",
		}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if slices.Contains(blockedRedirectSchemes, scheme) {
		return &RedirectURISecurityError{
			Category:      RedirectURIErrorCategoryBlockedScheme,
			URI:           sanitizeURIForLogging(uri),
			Reason:        fmt.Sprintf("scheme '%s' is in blocked list", scheme),
			ClientMessage: fmt.Sprintf("redirect_uri: scheme '%s' is blocked for security reasons", scheme),
		}
	}

	return nil
}

// sanitizeURIForLogging removes potentially sensitive information from URIs for logging.
func sanitizeURIForLogging(uri string) string {
	parsed, err := url.Parse(uri)
	if err != nil {
		// If we can't parse it, truncate for safety
		if len(uri) > 100 {
			return uri[:100] + "...[truncated]"
		}
		return uri
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.User = nil

	return parsed.String()
}

// GetRedirectURIErrorCategory returns the error category if err is a RedirectURISecurityError.
func GetRedirectURIErrorCategory(err error) string {
	var secErr *RedirectURISecurityError
	if errors.As(err, &secErr) {
		return secErr.Category
	}
	return ""
}
