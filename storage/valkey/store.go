package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys
	DefaultKeyPrefix = "oauth2:"

	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	// connectionVerifyTimeout is the timeout for initial connection verification
	connectionVerifyTimeout = 5 * time.Second

	// expiredRecordRetention keeps codes and tokens readable for a while after they
	// expire so callers can tell "expired" apart from "unknown".
	expiredRecordRetention = 5 * time.Minute

	// MaxRecordSize is the maximum size of a serialized record (64KB)
	MaxRecordSize = 64 * 1024
)

var errInputTooLarge = fmt.Errorf("input exceeds maximum allowed size")

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g., "localhost:6379"
	Address string

	// Password is the optional password for Valkey authentication
	Password string

	// DB is the optional database number (default 0)
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2:")
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections
	TLS *tls.Config

	// DisableCache turns off client-side caching, which requires CLIENT TRACKING
	// support on the server.
	DisableCache bool

	// Logger is the optional structured logger (default: slog.Default())
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of all storage interfaces.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger

	// encryptor provides optional record encryption at rest
	// Access must be synchronized via encryptorMu
	encryptor   *security.Encryptor
	encryptorMu sync.RWMutex
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Seeder = (*Store)(nil)
)

// New creates a new Valkey-backed storage instance.
// Returns an error if the connection cannot be established.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress:  []string{cfg.Address},
		SelectDB:     cfg.DB,
		DisableCache: cfg.DisableCache,
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("Connected to Valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("Valkey storage connection closed")
}

// SetLogger sets a custom logger for the store.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SetEncryptor sets the record encryptor for encryption at rest.
// When set, every stored record payload is sealed with AES-256-GCM.
// Keys (client IDs, token values) are not encrypted.
func (s *Store) SetEncryptor(enc *security.Encryptor) {
	s.encryptorMu.Lock()
	defer s.encryptorMu.Unlock()
	s.encryptor = enc
	if enc != nil && enc.IsEnabled() {
		s.logger.Info("Record encryption at rest enabled for Valkey storage")
	}
}

// getEncryptor returns the current encryptor (thread-safe)
func (s *Store) getEncryptor() *security.Encryptor {
	s.encryptorMu.RLock()
	defer s.encryptorMu.RUnlock()
	return s.encryptor
}

// ============================================================
// Key helpers
// ============================================================

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) userKey(username string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, username)
}

func (s *Store) scopesKey() string {
	return s.prefix + "scopes"
}

// authorizationKey length-prefixes the client ID because client IDs are URLs and may
// contain the separator.
func (s *Store) authorizationKey(clientID, username string) string {
	return fmt.Sprintf("%sauthorization:%d:%s:%s", s.prefix, len(clientID), clientID, username)
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

func (s *Store) accessTokenKey(token string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, token)
}

func (s *Store) refreshTokenKey(token string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, token)
}

// ============================================================
// Helper methods
// ============================================================

// isNilError reports whether err is a Valkey nil reply
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

// encode marshals v and, when encryption is enabled, seals it bound to key.
func (s *Store) encode(key string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	if len(data) > MaxRecordSize {
		return "", errInputTooLarge
	}

	if enc := s.getEncryptor(); enc != nil {
		return enc.Seal(data, []byte(key))
	}
	return string(data), nil
}

// decode opens data read from key when encryption is enabled and unmarshals it into v.
// A record sealed under a different key fails to open.
func (s *Store) decode(key, data string, v any) error {
	raw := []byte(data)
	if enc := s.getEncryptor(); enc != nil {
		plain, err := enc.Open(data, []byte(key))
		if err != nil {
			return fmt.Errorf("failed to decrypt record: %w", err)
		}
		raw = plain
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return nil
}

// set writes value unconditionally.
func (s *Store) set(ctx context.Context, key, value string) error {
	return s.client.Do(ctx, s.client.B().Set().Key(key).Value(value).Build()).Error()
}

// setNew writes value only when key is absent and returns storage.ErrDuplicate otherwise.
// A zero ttl stores the record without expiry.
func (s *Store) setNew(ctx context.Context, key, value string, ttl time.Duration) error {
	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(value).Nx().Ex(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(value).Nx().Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isNilError(err) {
			return storage.ErrDuplicate
		}
		return err
	}
	return nil
}

// getAndDecode is a generic helper for fetching a key from Valkey,
// decoding the record, and converting to the target type.
func getAndDecode[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := s.decode(key, data, &j); err != nil {
		return nil, err
	}

	return fromJSON(&j), nil
}

// recordTTL calculates the TTL for a code or token record.
// Returns 0 (no expiry) for a zero expiry time.
func recordTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	ttl := time.Until(expiresAt) + expiredRecordRetention
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

// Expiry is stored in milliseconds so records expire when their memory and sql
// counterparts do.
func toUnixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ============================================================
// JSON Serialization Helpers
// ============================================================

type clientJSON struct {
	ClientID    string `json:"client_id"`
	SecretHash  string `json:"secret_hash"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

func fromClientJSON(j *clientJSON) *storage.Client {
	return &storage.Client{
		ClientID:    j.ClientID,
		SecretHash:  j.SecretHash,
		RedirectURI: j.RedirectURI,
	}
}

type userJSON struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

type authorizationJSON struct {
	ClientID string   `json:"client_id"`
	Username string   `json:"username"`
	Scopes   []string `json:"scopes,omitempty"`
}

func fromAuthorizationJSON(j *authorizationJSON) *storage.Authorization {
	return &storage.Authorization{
		ClientID: j.ClientID,
		Username: j.Username,
		Scopes:   j.Scopes,
	}
}

type codeJSON struct {
	Code        string   `json:"code"`
	ClientID    string   `json:"client_id"`
	RedirectURI string   `json:"redirect_uri,omitempty"`
	Username    string   `json:"username,omitempty"`
	Scopes      []string `json:"scopes,omitempty"`
	ExpiresAt   int64    `json:"expires_at_ms"`
}

func toCodeJSON(c *storage.Code) *codeJSON {
	return &codeJSON{
		Code:        c.Code,
		ClientID:    c.ClientID,
		RedirectURI: c.RedirectURI,
		Username:    c.Username,
		Scopes:      c.Scopes,
		ExpiresAt:   toUnixMilli(c.ExpiresAt),
	}
}

func fromCodeJSON(j *codeJSON) *storage.Code {
	return &storage.Code{
		Code:        j.Code,
		ClientID:    j.ClientID,
		RedirectURI: j.RedirectURI,
		Username:    j.Username,
		Scopes:      j.Scopes,
		ExpiresAt:   fromUnixMilli(j.ExpiresAt),
	}
}

type accessTokenJSON struct {
	Token     string   `json:"token"`
	TokenType string   `json:"token_type"`
	ClientID  string   `json:"client_id"`
	Username  string   `json:"username,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt int64    `json:"expires_at_ms"`
}

func toAccessTokenJSON(t *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:     t.Token,
		TokenType: t.TokenType,
		ClientID:  t.ClientID,
		Username:  t.Username,
		Scopes:    t.Scopes,
		ExpiresAt: toUnixMilli(t.ExpiresAt),
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	return &storage.AccessToken{
		Token:     j.Token,
		TokenType: j.TokenType,
		ClientID:  j.ClientID,
		Username:  j.Username,
		Scopes:    j.Scopes,
		ExpiresAt: fromUnixMilli(j.ExpiresAt),
	}
}

type refreshTokenJSON struct {
	Token     string   `json:"token"`
	ClientID  string   `json:"client_id"`
	Username  string   `json:"username,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	ExpiresAt int64    `json:"expires_at_ms"`
}

func toRefreshTokenJSON(t *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:     t.Token,
		ClientID:  t.ClientID,
		Username:  t.Username,
		Scopes:    t.Scopes,
		ExpiresAt: toUnixMilli(t.ExpiresAt),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	return &storage.RefreshToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		Username:  j.Username,
		Scopes:    j.Scopes,
		ExpiresAt: fromUnixMilli(j.ExpiresAt),
	}
}
