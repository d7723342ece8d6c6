// Package storage defines the persistence contracts consumed by the authorization engine.
// It supports various backend implementations including in-memory, SQL, and Valkey.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by storage implementations. Callers match them with errors.Is;
// implementations may wrap them with additional context.
var (
	ErrClientNotFound        = errors.New("client not found")
	ErrCodeNotFound          = errors.New("authorization code not found")
	ErrTokenNotFound         = errors.New("token not found")
	ErrAuthorizationNotFound = errors.New("authorization not found")
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")

	// ErrDuplicate is returned when a record with the same identifier already exists.
	// The issuer treats it as an identifier collision and regenerates.
	ErrDuplicate = errors.New("duplicate record")
)

// TokenTypeBearer is the only token type issued by this server.
const TokenTypeBearer = "bearer"

// ClientStore looks up registered clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// GetClient retrieves a client by ID. Returns ErrClientNotFound if absent.
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// AuthorizationStore looks up standing resource-owner consents.
type AuthorizationStore interface {
	// GetAuthorization retrieves the consent for a client/user pair.
	// An empty username addresses the client's own (client_credentials) consent.
	// Returns ErrAuthorizationNotFound if absent.
	GetAuthorization(ctx context.Context, clientID, username string) (*Authorization, error)
}

// ScopeStore lists the server-wide supported scopes.
type ScopeStore interface {
	ListScopes(ctx context.Context) ([]string, error)
}

// CodeStore persists authorization codes.
type CodeStore interface {
	// SaveCode persists a new code. Returns ErrDuplicate if the value is taken.
	SaveCode(ctx context.Context, code *Code) error

	// GetCode retrieves a code by value without consuming it.
	// Expired codes are still returned; expiry is the caller's decision.
	GetCode(ctx context.Context, code string) (*Code, error)

	// ConsumeCode removes a code so it can never be redeemed again.
	// SECURITY: This operation MUST be atomic. Exactly one of any number of concurrent
	// callers receives nil; all others receive ErrCodeNotFound.
	ConsumeCode(ctx context.Context, code string) error
}

// TokenStore persists access and refresh tokens.
type TokenStore interface {
	// SaveAccessToken persists a new access token. Returns ErrDuplicate if the value is taken.
	SaveAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token by value. Returns ErrTokenNotFound if absent.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// SaveRefreshToken persists a new refresh token. Returns ErrDuplicate if the value is taken.
	SaveRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token by value. Returns ErrTokenNotFound if absent.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken removes a refresh token when it is rotated.
	// SECURITY: This operation MUST be atomic. Exactly one of any number of concurrent
	// callers receives nil; all others receive ErrTokenNotFound.
	ConsumeRefreshToken(ctx context.Context, token string) error
}

// UserAuthenticator verifies resource-owner credentials.
type UserAuthenticator interface {
	// AuthenticateUser returns nil when the password matches.
	// Returns ErrInvalidCredentials for unknown users and wrong passwords alike.
	AuthenticateUser(ctx context.Context, username, password string) error
}

// Store is the full set of collaborators the engine consumes.
type Store interface {
	ClientStore
	AuthorizationStore
	ScopeStore
	CodeStore
	TokenStore
	UserAuthenticator
}

// Seeder writes the reference data a deployment starts with. It is not used by the engine;
// it exists so fixtures can be loaded into any backend.
type Seeder interface {
	SaveClient(ctx context.Context, client *Client) error
	SaveUser(ctx context.Context, user *User) error
	SaveScope(ctx context.Context, scope string) error
	SaveAuthorization(ctx context.Context, authorization *Authorization) error
}

// Client represents a registered OAuth client
type Client struct {
	ClientID    string
	SecretHash  string // bcrypt hash, never the plain secret
	RedirectURI string // may be empty
}

// User represents a resource owner known to the server
type User struct {
	Username     string
	PasswordHash string // bcrypt hash
}

// Authorization is a standing consent of a user (or of the client itself when Username is empty)
// for a set of scopes.
type Authorization struct {
	ClientID string
	Username string
	Scopes   []string
}

// Code represents an issued authorization code
type Code struct {
	Code        string
	ClientID    string
	RedirectURI string // redirect URI resolved at issuance
	Username    string
	Scopes      []string
	ExpiresAt   time.Time
}

// AccessToken represents an issued access token
type AccessToken struct {
	Token     string
	TokenType string
	ClientID  string
	Username  string // empty for client-only credentials
	Scopes    []string
	ExpiresAt time.Time
}

// RefreshToken represents an issued refresh token
type RefreshToken struct {
	Token     string
	ClientID  string
	Username  string
	Scopes    []string
	ExpiresAt time.Time
}
