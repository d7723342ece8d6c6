package oauth

// DefaultRealm is the realm advertised in WWW-Authenticate challenges
const DefaultRealm = "oauth2"

// defaultMaxFormBytes bounds request bodies parsed by the endpoints
const defaultMaxFormBytes = 64 << 10

// Config holds the HTTP handler configuration
type Config struct {
	// Issuer is the public base URL of the server. When it uses https, responses carry
	// Strict-Transport-Security.
	Issuer string

	// Realm is the realm of Basic and Bearer challenges.
	// Default: "oauth2"
	Realm string

	// TrustProxy enables trusting X-Forwarded-For and X-Real-IP headers when logging the
	// client IP.
	// WARNING: Only enable if behind a trusted reverse proxy (nginx, HAProxy, etc.)
	// Default: false
	TrustProxy bool

	// TrustedProxyCount is the number of trusted proxies in front of this server
	// The client IP will be extracted as: ips[len(ips) - TrustedProxyCount - 1]
	// Default: 1
	TrustedProxyCount int

	// MaxFormBytes limits the size of request bodies.
	// Default: 64 KiB
	MaxFormBytes int64
}

// applyDefaults fills zero values of config
func applyDefaults(config *Config) *Config {
	if config == nil {
		config = &Config{}
	}
	if config.Realm == "" {
		config.Realm = DefaultRealm
	}
	if config.TrustedProxyCount <= 0 {
		config.TrustedProxyCount = 1
	}
	if config.MaxFormBytes <= 0 {
		config.MaxFormBytes = defaultMaxFormBytes
	}
	return config
}
