package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/giantswarm/oauth2-server/server"
	"github.com/giantswarm/oauth2-server/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"debug", "debug", slog.LevelDebug, false},
		{"info", "info", slog.LevelInfo, false},
		{"uppercase", "WARN", slog.LevelWarn, false},
		{"whitespace", "  error  ", slog.LevelError, false},
		{"invalid", "verbose", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	cfg, err := Load(LoaderOptions{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("expected listen :8080, got %s", cfg.ListenAddr)
	}
	if cfg.Storage.Driver != DriverMemory {
		t.Errorf("expected driver memory, got %s", cfg.Storage.Driver)
	}
	if !cfg.Fixtures.IsEmpty() {
		t.Errorf("expected no fixtures, got %+v", cfg.Fixtures)
	}

	sc := cfg.ServerConfig()
	if sc.AccessTokenTTL != server.DefaultAccessTokenTTL {
		t.Errorf("expected access token TTL %d, got %d", server.DefaultAccessTokenTTL, sc.AccessTokenTTL)
	}
	if sc.UnknownClientError != server.KindInvalidClient {
		t.Errorf("expected unknown client kind invalid_client, got %v", sc.UnknownClientError)
	}
	if sc.RotateRefreshTokens {
		t.Error("expected refresh token rotation disabled by default")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	configPath := writeConfig(t, `
listen_addr = ":9443"
log_level = "debug"
shutdown_timeout_seconds = 3

[http]
issuer = "https://auth.example.com"
trust_proxy = true
trusted_proxy_count = 2

[oauth]
access_token_ttl = 60
rotate_refresh_tokens = true
client_credentials_scope_policy = "unrestricted"
unknown_client_error = "invalid_request"
clock_skew_grace_period = 5

[storage]
driver = "sqlite"

[storage.drivers.sqlite]
dsn = "/var/lib/oauth2/oauth2.db"

[[fixtures.clients]]
client_id = "https://app.example.com/"
secret = "s3cret"
redirect_uri = "https://app.example.com/callback"

[[fixtures.users]]
username = "alice"
password = "wonderland"

[[fixtures.authorizations]]
client_id = "https://app.example.com/"
username = "alice"
scopes = ["read"]
`)

	cfg, err := Load(LoaderOptions{ConfigPath: configPath})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddr != ":9443" {
		t.Errorf("expected listen :9443, got %s", cfg.ListenAddr)
	}
	if cfg.ShutdownTimeout.Seconds() != 3 {
		t.Errorf("expected shutdown timeout 3s, got %s", cfg.ShutdownTimeout)
	}
	if cfg.HTTP.Issuer != "https://auth.example.com" || !cfg.HTTP.TrustProxy || cfg.HTTP.TrustedProxyCount != 2 {
		t.Errorf("unexpected http config %+v", cfg.HTTP)
	}

	sc := cfg.ServerConfig()
	if sc.AccessTokenTTL != 60 {
		t.Errorf("expected access token TTL 60, got %d", sc.AccessTokenTTL)
	}
	if sc.RefreshTokenTTL != server.DefaultRefreshTokenTTL {
		t.Errorf("expected default refresh token TTL, got %d", sc.RefreshTokenTTL)
	}
	if !sc.RotateRefreshTokens {
		t.Error("expected refresh token rotation enabled")
	}
	if sc.ClientCredentialsScopePolicy != server.ScopePolicyUnrestricted {
		t.Errorf("expected unrestricted policy, got %s", sc.ClientCredentialsScopePolicy)
	}
	if sc.UnknownClientError != server.KindInvalidRequest {
		t.Errorf("expected unknown client kind invalid_request, got %v", sc.UnknownClientError)
	}
	if sc.ClockSkewGracePeriod != 5 {
		t.Errorf("expected grace period 5, got %d", sc.ClockSkewGracePeriod)
	}

	if cfg.Storage.Driver != DriverSQLite {
		t.Errorf("expected driver sqlite, got %s", cfg.Storage.Driver)
	}
	sqlCfg, err := cfg.SQL(nil)
	if err != nil {
		t.Fatalf("SQL() error = %v", err)
	}
	if sqlCfg.DSN != "/var/lib/oauth2/oauth2.db" {
		t.Errorf("expected dsn from file, got %s", sqlCfg.DSN)
	}

	if len(cfg.Fixtures.Clients) != 1 || cfg.Fixtures.Clients[0].Secret != "s3cret" {
		t.Errorf("unexpected fixture clients %+v", cfg.Fixtures.Clients)
	}
	if len(cfg.Fixtures.Authorizations) != 1 || cfg.Fixtures.Authorizations[0].Scopes[0] != "read" {
		t.Errorf("unexpected fixture authorizations %+v", cfg.Fixtures.Authorizations)
	}
}

func TestLoad_Precedence_FlagsOverrideConfigFile(t *testing.T) {
	configPath := writeConfig(t, `
listen_addr = ":9000"
log_level = "warn"

[storage]
driver = "sqlite"
`)

	listen := ":7000"
	driver := DriverValkey
	empty := ""
	cfg, err := Load(LoaderOptions{
		ConfigPath: configPath,
		FlagOverrides: FlagOverrides{
			ListenAddr:    &listen,
			LogLevel:      &empty,
			StorageDriver: &driver,
		},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ListenAddr != ":7000" {
		t.Errorf("expected flag listen :7000, got %s", cfg.ListenAddr)
	}
	// Empty flag values do not override.
	if cfg.LogLevel != "warn" {
		t.Errorf("expected log level warn from TOML, got %s", cfg.LogLevel)
	}
	if cfg.Storage.Driver != DriverValkey {
		t.Errorf("expected flag driver valkey, got %s", cfg.Storage.Driver)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(LoaderOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")})
	if err == nil || !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("expected read error, got %v", err)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	configPath := writeConfig(t, `listen_addr = `)

	_, err := Load(LoaderOptions{ConfigPath: configPath})
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoad_UndecodedKeysWarning(t *testing.T) {
	configPath := writeConfig(t, `
listen_addr = ":8080"
unknown_key = "value"

[storage.drivers.valkey]
address = "valkey:6379"
`)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	if _, err := Load(LoaderOptions{ConfigPath: configPath, Logger: logger}); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "undecoded keys") || !strings.Contains(out, "unknown_key") {
		t.Errorf("expected undecoded key warning, got %q", out)
	}
	// Driver tables are decoded on demand and never reported here.
	if strings.Contains(out, "address") {
		t.Errorf("driver keys should not be reported, got %q", out)
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "unknown driver",
			content: "[storage]\ndriver = \"postgres\"\n",
			wantErr: "invalid storage driver",
		},
		{
			name:    "bad log level",
			content: "log_level = \"loud\"\n",
			wantErr: "invalid log level",
		},
		{
			name:    "bad scope policy",
			content: "[oauth]\nclient_credentials_scope_policy = \"any\"\n",
			wantErr: "client_credentials_scope_policy",
		},
		{
			name:    "bad unknown client error",
			content: "[oauth]\nunknown_client_error = \"unauthorized_client\"\n",
			wantErr: "unknown_client_error",
		},
		{
			name:    "negative ttl",
			content: "[oauth]\naccess_token_ttl = -1\n",
			wantErr: "access_token_ttl must be positive",
		},
		{
			name:    "negative grace",
			content: "[oauth]\nclock_skew_grace_period = -1\n",
			wantErr: "clock_skew_grace_period",
		},
		{
			name:    "client without secret",
			content: "[[fixtures.clients]]\nclient_id = \"app\"\n",
			wantErr: "has no secret",
		},
		{
			name:    "duplicate client",
			content: "[[fixtures.clients]]\nclient_id = \"app\"\nsecret = \"a\"\n[[fixtures.clients]]\nclient_id = \"app\"\nsecret = \"b\"\n",
			wantErr: "defined twice",
		},
		{
			name:    "blocked redirect scheme",
			content: "[[fixtures.clients]]\nclient_id = \"app\"\nsecret = \"a\"\nredirect_uri = \"javascript:alert(1)\"\n",
			wantErr: "blocked",
		},
		{
			name:    "relative redirect",
			content: "[[fixtures.clients]]\nclient_id = \"app\"\nsecret = \"a\"\nredirect_uri = \"/callback\"\n",
			wantErr: "absolute URI",
		},
		{
			name:    "scope with space",
			content: "[fixtures]\nscopes = [\"read write\"]\n",
			wantErr: "not a valid scope name",
		},
		{
			name:    "authorization for unknown client",
			content: "[[fixtures.authorizations]]\nclient_id = \"ghost\"\nscopes = [\"read\"]\n",
			wantErr: "unknown client",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(LoaderOptions{ConfigPath: writeConfig(t, tt.content)})
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_SeedFixtures(t *testing.T) {
	tests := []struct {
		name        string
		demo        bool
		fixtures    storage.Fixtures
		wantClients int
	}{
		{"nothing configured", false, storage.Fixtures{}, 0},
		{"demo data", true, storage.Fixtures{}, len(storage.DemoFixtures().Clients)},
		{
			name:        "explicit fixtures win over demo data",
			demo:        true,
			fixtures:    storage.Fixtures{Clients: []storage.ClientFixture{{ClientID: "app", Secret: "s"}}},
			wantClients: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.DemoFixtures = tt.demo
			cfg.Fixtures = tt.fixtures

			if got := len(cfg.SeedFixtures().Clients); got != tt.wantClients {
				t.Errorf("SeedFixtures() clients = %d, want %d", got, tt.wantClients)
			}
		})
	}
}
