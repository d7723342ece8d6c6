package server

import (
	"log/slog"
	"time"
)

// ClientCredentialsScopePolicy selects what a client_credentials request may be granted.
type ClientCredentialsScopePolicy string

const (
	// ScopePolicyAuthorized limits scopes to the client's own standing authorization
	// (the authorization whose username is empty).
	ScopePolicyAuthorized ClientCredentialsScopePolicy = "authorized"

	// ScopePolicyUnrestricted allows any supported scope.
	ScopePolicyUnrestricted ClientCredentialsScopePolicy = "unrestricted"
)

// Default lifetimes in seconds
const (
	DefaultAuthorizationCodeTTL = 600     // 10 minutes
	DefaultAccessTokenTTL       = 3600    // 1 hour
	DefaultRefreshTokenTTL      = 1209600 // 14 days
)

// Config holds OAuth server configuration
type Config struct {
	// AuthorizationCodeTTL is how long authorization codes are valid
	AuthorizationCodeTTL int64 // seconds, default: 600 (10 minutes)

	// AccessTokenTTL is how long access tokens are valid
	AccessTokenTTL int64 // seconds, default: 3600 (1 hour)

	// RefreshTokenTTL is how long refresh tokens are valid
	RefreshTokenTTL int64 // seconds, default: 1209600 (14 days)

	// RotateRefreshTokens issues a new refresh token on every refresh_token grant
	// and deletes the old one. When false the old refresh token is echoed back.
	// Default: false
	RotateRefreshTokens bool

	// ClientCredentialsScopePolicy controls scope resolution for client_credentials.
	// Default: "authorized"
	ClientCredentialsScopePolicy ClientCredentialsScopePolicy

	// UnknownClientError is the error kind returned by the authorize endpoint for an
	// unknown client_id. Only KindInvalidClient and KindInvalidRequest are accepted.
	// Default: KindInvalidClient
	UnknownClientError Kind

	// ClockSkewGracePeriod is the grace period for expiration checks (in seconds)
	// Default: 0 (expiry is exact)
	ClockSkewGracePeriod int64

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// DefaultConfig returns a configuration with all defaults applied
func DefaultConfig() *Config {
	return applySecureDefaults(&Config{}, slog.Default())
}

func (c *Config) codeTTL() time.Duration {
	return time.Duration(c.AuthorizationCodeTTL) * time.Second
}

func (c *Config) accessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTL) * time.Second
}

func (c *Config) refreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTL) * time.Second
}

func (c *Config) gracePeriod() time.Duration {
	return time.Duration(c.ClockSkewGracePeriod) * time.Second
}
