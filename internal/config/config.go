// Package config loads the oauth2-server binary configuration from defaults, a TOML
// file, and command line flags.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/giantswarm/oauth2-server/server"
	"github.com/giantswarm/oauth2-server/storage"
)

// Storage drivers
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverValkey = "valkey"
)

// Config is the complete binary configuration
type Config struct {
	ListenAddr      string
	LogLevel        string
	ShutdownTimeout time.Duration

	HTTP      HTTPConfig
	OAuth     OAuthConfig
	Telemetry TelemetryConfig
	Storage   StorageConfig

	// DemoFixtures seeds the built-in demo data when Fixtures is empty
	DemoFixtures bool
	Fixtures     storage.Fixtures
}

// HTTPConfig configures the HTTP adapter
type HTTPConfig struct {
	Issuer            string `toml:"issuer"`
	TrustProxy        bool   `toml:"trust_proxy"`
	TrustedProxyCount int    `toml:"trusted_proxy_count"`
}

// OAuthConfig configures the authorization server engine. Lifetimes are in seconds.
type OAuthConfig struct {
	AuthorizationCodeTTL         int64  `toml:"authorization_code_ttl"`
	AccessTokenTTL               int64  `toml:"access_token_ttl"`
	RefreshTokenTTL              int64  `toml:"refresh_token_ttl"`
	RotateRefreshTokens          bool   `toml:"rotate_refresh_tokens"`
	ClientCredentialsScopePolicy string `toml:"client_credentials_scope_policy"`
	UnknownClientError           string `toml:"unknown_client_error"`
	ClockSkewGracePeriod         int64  `toml:"clock_skew_grace_period"`
}

// TelemetryConfig configures OpenTelemetry
type TelemetryConfig struct {
	Enabled        bool   `toml:"enabled"`
	ServiceName    string `toml:"service_name"`
	ServiceVersion string `toml:"service_version"`
}

// StorageConfig selects a storage driver. Driver settings stay raw until the selected
// driver decodes them.
type StorageConfig struct {
	Driver  string                    `toml:"driver"`
	Drivers map[string]map[string]any `toml:"drivers"`
}

// Default returns the configuration used before any file or flag is applied
func Default() *Config {
	return &Config{
		ListenAddr:      ":8080",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		HTTP: HTTPConfig{
			TrustedProxyCount: 1,
		},
		OAuth: OAuthConfig{
			AuthorizationCodeTTL:         server.DefaultAuthorizationCodeTTL,
			AccessTokenTTL:               server.DefaultAccessTokenTTL,
			RefreshTokenTTL:              server.DefaultRefreshTokenTTL,
			ClientCredentialsScopePolicy: string(server.ScopePolicyAuthorized),
			UnknownClientError:           server.ErrorCodeInvalidClient,
		},
		Storage: StorageConfig{
			Driver: DriverMemory,
		},
	}
}

// ServerConfig converts the engine settings. The configuration must have been validated.
func (c *Config) ServerConfig() *server.Config {
	kind, _ := parseUnknownClientError(c.OAuth.UnknownClientError)

	return &server.Config{
		AuthorizationCodeTTL:         c.OAuth.AuthorizationCodeTTL,
		AccessTokenTTL:               c.OAuth.AccessTokenTTL,
		RefreshTokenTTL:              c.OAuth.RefreshTokenTTL,
		RotateRefreshTokens:          c.OAuth.RotateRefreshTokens,
		ClientCredentialsScopePolicy: server.ClientCredentialsScopePolicy(c.OAuth.ClientCredentialsScopePolicy),
		UnknownClientError:           kind,
		ClockSkewGracePeriod:         c.OAuth.ClockSkewGracePeriod,
	}
}

// SeedFixtures returns the fixtures to seed: the configured ones, or the demo data when
// none are configured and demo fixtures are enabled.
func (c *Config) SeedFixtures() storage.Fixtures {
	if c.Fixtures.IsEmpty() && c.DemoFixtures {
		return storage.DemoFixtures()
	}
	return c.Fixtures
}

// ParseLogLevel parses a slog level name such as "debug" or "WARN"
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", s)
	}
	return level, nil
}

func parseUnknownClientError(code string) (server.Kind, error) {
	switch code {
	case server.ErrorCodeInvalidClient:
		return server.KindInvalidClient, nil
	case server.ErrorCodeInvalidRequest:
		return server.KindInvalidRequest, nil
	default:
		return 0, fmt.Errorf("invalid unknown_client_error %q: must be invalid_client or invalid_request", code)
	}
}
