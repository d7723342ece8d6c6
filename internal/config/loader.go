package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/giantswarm/oauth2-server/server"
	"github.com/giantswarm/oauth2-server/storage"
)

// LoaderOptions controls how configuration is loaded.
type LoaderOptions struct {
	// ConfigPath is the path to a TOML config file (optional).
	// If provided but file is missing or invalid, loading fails.
	ConfigPath string

	// FlagOverrides are CLI flag values that override config file values.
	FlagOverrides FlagOverrides

	// Logger is used for warning messages (e.g., undecoded keys).
	// If nil, slog.Default() is used.
	Logger *slog.Logger
}

// FlagOverrides holds CLI flag values that override config file values.
// A nil field was not set on the command line.
type FlagOverrides struct {
	ListenAddr    *string
	LogLevel      *string
	StorageDriver *string
}

// fileConfig mirrors Config with pointer fields to detect presence.
type fileConfig struct {
	ListenAddr             string `toml:"listen_addr"`
	LogLevel               string `toml:"log_level"`
	ShutdownTimeoutSeconds int    `toml:"shutdown_timeout_seconds"`
	DemoFixtures           *bool  `toml:"demo_fixtures"`

	HTTP      *httpFileConfig  `toml:"http"`
	OAuth     *oauthFileConfig `toml:"oauth"`
	Telemetry *TelemetryConfig `toml:"telemetry"`
	Storage   *StorageConfig   `toml:"storage"`
	Fixtures  *storage.Fixtures `toml:"fixtures"`
}

type httpFileConfig struct {
	Issuer            string `toml:"issuer"`
	TrustProxy        *bool  `toml:"trust_proxy"`
	TrustedProxyCount int    `toml:"trusted_proxy_count"`
}

type oauthFileConfig struct {
	AuthorizationCodeTTL         int64  `toml:"authorization_code_ttl"`
	AccessTokenTTL               int64  `toml:"access_token_ttl"`
	RefreshTokenTTL              int64  `toml:"refresh_token_ttl"`
	RotateRefreshTokens          *bool  `toml:"rotate_refresh_tokens"`
	ClientCredentialsScopePolicy string `toml:"client_credentials_scope_policy"`
	UnknownClientError           string `toml:"unknown_client_error"`
	ClockSkewGracePeriod         *int64 `toml:"clock_skew_grace_period"`
}

// Load loads configuration with the following precedence:
//  1. Start from Default()
//  2. Overlay TOML config file values
//  3. Overlay CLI flags
//  4. Validate
//
// If ConfigPath is provided but the file is missing, unreadable, or invalid TOML,
// Load returns an error (fail fast). Unknown/undecoded TOML keys produce a warning
// but do not fail the load.
func Load(opts LoaderOptions) (*Config, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := Default()

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigPath, err)
		}

		var fc fileConfig
		md, err := toml.Decode(string(data), &fc)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", opts.ConfigPath, err)
		}

		// Driver tables are decoded later by the selected driver.
		if undecoded := undecodedKeys(md); len(undecoded) > 0 {
			logger.Warn("config file contains undecoded keys", "path", opts.ConfigPath, "keys", undecoded)
		}

		overlayFileConfig(cfg, &fc)
	}

	overlayFlags(cfg, opts.FlagOverrides)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func undecodedKeys(md toml.MetaData) []string {
	var keys []string
	for _, k := range md.Undecoded() {
		if len(k) > 2 && k[0] == "storage" && k[1] == "drivers" {
			continue
		}
		keys = append(keys, k.String())
	}
	return keys
}

func overlayFileConfig(cfg *Config, fc *fileConfig) {
	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.ShutdownTimeoutSeconds > 0 {
		cfg.ShutdownTimeout = time.Duration(fc.ShutdownTimeoutSeconds) * time.Second
	}
	if fc.DemoFixtures != nil {
		cfg.DemoFixtures = *fc.DemoFixtures
	}

	if h := fc.HTTP; h != nil {
		if h.Issuer != "" {
			cfg.HTTP.Issuer = h.Issuer
		}
		if h.TrustProxy != nil {
			cfg.HTTP.TrustProxy = *h.TrustProxy
		}
		if h.TrustedProxyCount > 0 {
			cfg.HTTP.TrustedProxyCount = h.TrustedProxyCount
		}
	}

	if o := fc.OAuth; o != nil {
		if o.AuthorizationCodeTTL != 0 {
			cfg.OAuth.AuthorizationCodeTTL = o.AuthorizationCodeTTL
		}
		if o.AccessTokenTTL != 0 {
			cfg.OAuth.AccessTokenTTL = o.AccessTokenTTL
		}
		if o.RefreshTokenTTL != 0 {
			cfg.OAuth.RefreshTokenTTL = o.RefreshTokenTTL
		}
		if o.RotateRefreshTokens != nil {
			cfg.OAuth.RotateRefreshTokens = *o.RotateRefreshTokens
		}
		if o.ClientCredentialsScopePolicy != "" {
			cfg.OAuth.ClientCredentialsScopePolicy = o.ClientCredentialsScopePolicy
		}
		if o.UnknownClientError != "" {
			cfg.OAuth.UnknownClientError = o.UnknownClientError
		}
		if o.ClockSkewGracePeriod != nil {
			cfg.OAuth.ClockSkewGracePeriod = *o.ClockSkewGracePeriod
		}
	}

	if fc.Telemetry != nil {
		cfg.Telemetry = *fc.Telemetry
	}

	if s := fc.Storage; s != nil {
		if s.Driver != "" {
			cfg.Storage.Driver = s.Driver
		}
		if s.Drivers != nil {
			cfg.Storage.Drivers = s.Drivers
		}
	}

	if fc.Fixtures != nil {
		cfg.Fixtures = *fc.Fixtures
	}
}

func overlayFlags(cfg *Config, flags FlagOverrides) {
	if flags.ListenAddr != nil && *flags.ListenAddr != "" {
		cfg.ListenAddr = *flags.ListenAddr
	}
	if flags.LogLevel != nil && *flags.LogLevel != "" {
		cfg.LogLevel = *flags.LogLevel
	}
	if flags.StorageDriver != nil && *flags.StorageDriver != "" {
		cfg.Storage.Driver = *flags.StorageDriver
	}
}

// Validate checks enum fields, lifetimes, and fixtures. All problems are reported together.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if !slices.Contains([]string{DriverMemory, DriverSQLite, DriverValkey}, cfg.Storage.Driver) {
		errs = append(errs, fmt.Errorf("invalid storage driver %q: must be one of memory, sqlite, valkey", cfg.Storage.Driver))
	}

	switch server.ClientCredentialsScopePolicy(cfg.OAuth.ClientCredentialsScopePolicy) {
	case server.ScopePolicyAuthorized, server.ScopePolicyUnrestricted:
	default:
		errs = append(errs, fmt.Errorf("invalid client_credentials_scope_policy %q: must be authorized or unrestricted",
			cfg.OAuth.ClientCredentialsScopePolicy))
	}

	if _, err := parseUnknownClientError(cfg.OAuth.UnknownClientError); err != nil {
		errs = append(errs, err)
	}

	for name, ttl := range map[string]int64{
		"authorization_code_ttl": cfg.OAuth.AuthorizationCodeTTL,
		"access_token_ttl":       cfg.OAuth.AccessTokenTTL,
		"refresh_token_ttl":      cfg.OAuth.RefreshTokenTTL,
	} {
		if ttl <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, ttl))
		}
	}
	if cfg.OAuth.ClockSkewGracePeriod < 0 {
		errs = append(errs, fmt.Errorf("clock_skew_grace_period must not be negative"))
	}

	errs = append(errs, validateFixtures(cfg.Fixtures)...)

	return errors.Join(errs...)
}

// validateFixtures rejects fixtures the engine could never serve
func validateFixtures(f storage.Fixtures) []error {
	var errs []error

	for _, scope := range f.Scopes {
		if !server.Validate(server.ParamScope, scope) || strings.ContainsAny(scope, " \t") {
			errs = append(errs, fmt.Errorf("fixture scope %q is not a valid scope name", scope))
		}
	}

	seen := make(map[string]bool, len(f.Clients))
	for _, c := range f.Clients {
		switch {
		case !server.Validate(server.ParamClientID, c.ClientID):
			errs = append(errs, fmt.Errorf("fixture client_id %q is invalid", c.ClientID))
		case seen[c.ClientID]:
			errs = append(errs, fmt.Errorf("fixture client %q is defined twice", c.ClientID))
		case c.Secret == "":
			errs = append(errs, fmt.Errorf("fixture client %q has no secret", c.ClientID))
		}
		seen[c.ClientID] = true

		if c.RedirectURI != "" {
			if err := server.ValidateRedirectURISecurity(c.RedirectURI); err != nil {
				errs = append(errs, fmt.Errorf("fixture client %q: %w", c.ClientID, err))
			}
		}
	}

	for _, u := range f.Users {
		if !server.Validate(server.ParamUsername, u.Username) || u.Password == "" {
			errs = append(errs, fmt.Errorf("fixture user %q needs a valid username and a password", u.Username))
		}
	}

	for _, a := range f.Authorizations {
		if !seen[a.ClientID] {
			errs = append(errs, fmt.Errorf("fixture authorization references unknown client %q", a.ClientID))
		}
	}

	return errs
}
