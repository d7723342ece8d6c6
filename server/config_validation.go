package server

import (
	"log/slog"
	"time"
)

const (
	// maxRecommendedGracePeriod is the largest clock skew allowance that still keeps
	// short-lived codes meaningful
	maxRecommendedGracePeriod = 300

	// minRecommendedAccessTokenTTL is the shortest access token lifetime worth issuing
	minRecommendedAccessTokenTTL = 60
)

// applySecureDefaults applies secure-by-default configuration values.
//
// Zero values receive defaults; invalid enumerated settings are replaced with their
// defaults and logged. Warnings are logged for settings that weaken security.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	// Apply time-based defaults
	applyTimeDefaults(config)

	// Validate enumerated settings
	applyPolicyDefaults(config, logger)

	logSecurityWarnings(config, logger)

	return config
}

// applyTimeDefaults sets default values for time-based configuration.
func applyTimeDefaults(config *Config) {
	if config.AuthorizationCodeTTL <= 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL <= 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL <= 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.ClockSkewGracePeriod < 0 {
		config.ClockSkewGracePeriod = 0
	}
	if config.Now == nil {
		config.Now = time.Now
	}
}

// applyPolicyDefaults validates enumerated settings, logging when one is replaced
func applyPolicyDefaults(config *Config, logger *slog.Logger) {
	switch config.ClientCredentialsScopePolicy {
	case ScopePolicyAuthorized, ScopePolicyUnrestricted:
	case "":
		config.ClientCredentialsScopePolicy = ScopePolicyAuthorized
	default:
		logger.Warn("Unknown client credentials scope policy, using default",
			"policy", config.ClientCredentialsScopePolicy,
			"default", ScopePolicyAuthorized)
		config.ClientCredentialsScopePolicy = ScopePolicyAuthorized
	}

	switch config.UnknownClientError {
	case KindInvalidClient, KindInvalidRequest:
	case 0:
		config.UnknownClientError = KindInvalidClient
	default:
		logger.Warn("Unsupported unknown-client error kind, using invalid_client",
			"kind", config.UnknownClientError.Code())
		config.UnknownClientError = KindInvalidClient
	}
}

// logSecurityWarnings logs warnings for insecure configuration settings.
// This is called after applying defaults.
func logSecurityWarnings(config *Config, logger *slog.Logger) {
	if config.ClientCredentialsScopePolicy == ScopePolicyUnrestricted {
		logger.Warn("SECURITY NOTICE: client_credentials may request any supported scope",
			"risk", "Clients obtain scopes nobody authorized for them",
			"recommendation", "Use the authorized policy and seed client authorizations")
	}
	if config.ClockSkewGracePeriod > maxRecommendedGracePeriod {
		logger.Warn("SECURITY WARNING: Clock skew grace period is very long",
			"grace_period_seconds", config.ClockSkewGracePeriod,
			"risk", "Expired codes and tokens stay usable",
			"recommendation", "Keep ClockSkewGracePeriod at a few seconds")
	}
	if config.AuthorizationCodeTTL > DefaultAuthorizationCodeTTL {
		logger.Warn("SECURITY WARNING: Authorization code lifetime exceeds 10 minutes",
			"ttl_seconds", config.AuthorizationCodeTTL,
			"learn_more", "https://datatracker.ietf.org/doc/html/rfc6749#section-4.1.2")
	}
	if config.AccessTokenTTL < minRecommendedAccessTokenTTL {
		logger.Warn("CONFIGURATION WARNING: Access token lifetime is very short",
			"ttl_seconds", config.AccessTokenTTL)
	}
	if config.RefreshTokenTTL < config.AccessTokenTTL {
		logger.Warn("CONFIGURATION WARNING: Refresh tokens expire before access tokens",
			"refresh_ttl_seconds", config.RefreshTokenTTL,
			"access_ttl_seconds", config.AccessTokenTTL)
	}
	if config.RotateRefreshTokens {
		logger.Debug("Refresh token rotation enabled")
	}
}
