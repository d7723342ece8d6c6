package server

import (
	"context"
	"net/url"
	"strings"
)

// ResponseType identifies an authorization endpoint flow
type ResponseType string

const (
	ResponseTypeCode  ResponseType = "code"
	ResponseTypeToken ResponseType = "token"
)

// GrantType identifies a token endpoint flow
type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypePassword          GrantType = "password"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// knownResponseTypes and knownGrantTypes enumerate the tags a registry may hold
var (
	knownResponseTypes = []ResponseType{ResponseTypeCode, ResponseTypeToken}
	knownGrantTypes    = []GrantType{
		GrantTypeAuthorizationCode,
		GrantTypePassword,
		GrantTypeClientCredentials,
		GrantTypeRefreshToken,
	}
)

// AuthorizeRequest holds the authorization endpoint parameters
type AuthorizeRequest struct {
	ResponseType string
	ClientID     string
	RedirectURI  string // optional
	Scope        string // optional, space-delimited
	State        string // optional, echoed verbatim
}

// ResourceOwner is the end user authenticated by the HTTP layer
type ResourceOwner struct {
	Username string
}

// AuthorizeResponse is a successful authorization endpoint result
type AuthorizeResponse struct {
	// Location is the full redirect target, including code or token parameters
	Location string

	ClientID string
	Scopes   []string
}

// TokenRequest holds the token endpoint parameters (excluding client credentials)
type TokenRequest struct {
	GrantType    string
	Code         string
	RedirectURI  string
	Username     string
	Password     string
	RefreshToken string
	Scope        string
}

// ClientIdentity is an authenticated client
type ClientIdentity struct {
	ClientID string
}

// ClientCredentials carries everything the token endpoint received to identify a client.
// At most one of the Basic and POST channels may be used.
type ClientCredentials struct {
	BasicPresent bool
	BasicID      string
	BasicSecret  string

	PostID     string
	PostSecret string

	// Upstream is a client identity already established before the request reached the
	// engine. It is honored for the authorization_code grant only.
	Upstream *ClientIdentity
}

// postPresent reports whether any POST credential field was sent
func (c ClientCredentials) postPresent() bool {
	return c.PostID != "" || c.PostSecret != ""
}

// TokenResponse is the JSON token endpoint response (RFC 6749 Section 5.1).
// Scope is always present, possibly empty.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

// ResponseTypeHandler implements one authorization endpoint flow
type ResponseTypeHandler interface {
	HandleAuthorize(ctx context.Context, s *Server, req *AuthorizeRequest, owner ResourceOwner) (*AuthorizeResponse, error)
}

// GrantTypeHandler implements one token endpoint flow
type GrantTypeHandler interface {
	HandleToken(ctx context.Context, s *Server, req *TokenRequest, client ClientIdentity) (*TokenResponse, error)
}

// RedirectError is an authorization endpoint failure that can be reported to the client
// by redirecting to its resolved redirect URI.
type RedirectError struct {
	Err         *Error
	RedirectURI string
	State       string

	// Fragment places the error parameters in the URI fragment (implicit flow)
	Fragment bool
}

// Error implements the error interface
func (e *RedirectError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the classified error
func (e *RedirectError) Unwrap() error {
	return e.Err
}

// Location returns the redirect target carrying error, error_description, and state
func (e *RedirectError) Location() string {
	params := url.Values{}
	params.Set("error", e.Err.Code())
	if e.Err.Description != "" {
		params.Set("error_description", e.Err.Description)
	}
	if e.State != "" {
		params.Set(ParamState, e.State)
	}
	if e.Fragment {
		return withFragment(e.RedirectURI, params)
	}
	return withQuery(e.RedirectURI, params)
}

// withQuery appends params to the query of uri, keeping any query already present
func withQuery(uri string, params url.Values) string {
	u, err := url.Parse(uri)
	if err != nil {
		sep := "?"
		if strings.Contains(uri, "?") {
			sep = "&"
		}
		return uri + sep + params.Encode()
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// withFragment replaces the fragment of uri with the encoded params
func withFragment(uri string, params url.Values) string {
	if i := strings.IndexByte(uri, '#'); i >= 0 {
		uri = uri[:i]
	}
	return uri + "#" + params.Encode()
}
