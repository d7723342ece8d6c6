package memory

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/oauth2-server/instrumentation"
	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

const (
	// tokenIDLogLength is the number of characters to include when logging token IDs
	tokenIDLogLength = 8

	storageType = "memory"
)

// authorizationKey indexes consents by client and user
type authorizationKey struct {
	clientID string
	username string
}

// Store is an in-memory implementation of all storage interfaces.
// Records are copied on the way in and out so callers never share memory with the store.
type Store struct {
	mu sync.RWMutex

	clients        map[string]*storage.Client
	users          map[string]*storage.User
	scopes         []string
	authorizations map[authorizationKey]*storage.Authorization

	codes         map[string]*storage.Code
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken

	instrumentation *instrumentation.Instrumentation
	tracer          trace.Tracer
	logger          *slog.Logger
}

// Compile-time interface checks to ensure Store implements all storage interfaces
var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Seeder = (*Store)(nil)
)

// New creates a new empty in-memory store
func New() *Store {
	return &Store{
		clients:        make(map[string]*storage.Client),
		users:          make(map[string]*storage.User),
		authorizations: make(map[authorizationKey]*storage.Authorization),
		codes:          make(map[string]*storage.Code),
		accessTokens:   make(map[string]*storage.AccessToken),
		refreshTokens:  make(map[string]*storage.RefreshToken),
		logger:         slog.Default(),
	}
}

// SetLogger sets a custom logger for the store
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// SetInstrumentation sets OpenTelemetry instrumentation for the store
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instrumentation = inst
	if inst != nil {
		s.tracer = inst.Tracer("storage")
	}
}

// ============================================================
// Seeder Implementation
// ============================================================

// SaveClient saves a client, replacing any client with the same ID
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[client.ClientID] = &c
	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// SaveUser saves a resource owner, replacing any user with the same name
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("invalid user")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	s.users[user.Username] = &u
	return nil
}

// SaveScope adds a scope to the supported set
func (s *Store) SaveScope(ctx context.Context, scope string) error {
	if scope == "" {
		return fmt.Errorf("invalid scope")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.scopes, scope) {
		s.scopes = append(s.scopes, scope)
	}
	return nil
}

// SaveAuthorization saves a standing consent, replacing any consent for the same pair
func (s *Store) SaveAuthorization(ctx context.Context, authorization *storage.Authorization) error {
	if authorization == nil || authorization.ClientID == "" {
		return fmt.Errorf("invalid authorization")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a := *authorization
	a.Scopes = slices.Clone(authorization.Scopes)
	s.authorizations[authorizationKey{authorization.ClientID, authorization.Username}] = &a
	return nil
}

// ============================================================
// Lookup Implementation
// ============================================================

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	ctx, span := s.startStorageSpan(ctx, "get_client")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_client", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		err = storage.ErrClientNotFound
		return nil, err
	}

	c := *client
	return &c, nil
}

// GetAuthorization retrieves the standing consent for a client/user pair
func (s *Store) GetAuthorization(ctx context.Context, clientID, username string) (*storage.Authorization, error) {
	ctx, span := s.startStorageSpan(ctx, "get_authorization")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_authorization", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	authorization, ok := s.authorizations[authorizationKey{clientID, username}]
	if !ok {
		err = storage.ErrAuthorizationNotFound
		return nil, err
	}

	a := *authorization
	a.Scopes = slices.Clone(authorization.Scopes)
	return &a, nil
}

// ListScopes returns the supported scopes in insertion order
func (s *Store) ListScopes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.scopes), nil
}

// AuthenticateUser verifies a resource owner's password using bcrypt.
// Unknown users are compared against a dummy hash to keep timing uniform.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) error {
	ctx, span := s.startStorageSpan(ctx, "authenticate_user")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "authenticate_user", err, startTime)
	}()

	s.mu.RLock()
	hash := ""
	if user, ok := s.users[username]; ok {
		hash = user.PasswordHash
	}
	s.mu.RUnlock()

	if !security.CompareSecret(hash, password) {
		err = storage.ErrInvalidCredentials
		return err
	}
	return nil
}

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveCode persists a newly issued authorization code
func (s *Store) SaveCode(ctx context.Context, code *storage.Code) error {
	ctx, span := s.startStorageSpan(ctx, "save_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_code", err, startTime)
	}()

	if code == nil || code.Code == "" {
		err = fmt.Errorf("invalid authorization code")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.codes[code.Code]; exists {
		err = storage.ErrDuplicate
		return err
	}

	c := *code
	c.Scopes = slices.Clone(code.Scopes)
	s.codes[code.Code] = &c
	s.logger.Debug("Saved authorization code", "code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetCode retrieves an authorization code without consuming it
func (s *Store) GetCode(ctx context.Context, code string) (*storage.Code, error) {
	ctx, span := s.startStorageSpan(ctx, "get_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_code", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.codes[code]
	if !ok {
		err = storage.ErrCodeNotFound
		return nil, err
	}

	c := *authCode
	c.Scopes = slices.Clone(authCode.Scopes)
	return &c, nil
}

// ConsumeCode atomically removes an authorization code.
// SECURITY: Only ONE concurrent caller can succeed; the write lock serializes the
// check and the delete.
func (s *Store) ConsumeCode(ctx context.Context, code string) error {
	ctx, span := s.startStorageSpan(ctx, "consume_code")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_code", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code]; !ok {
		err = storage.ErrCodeNotFound
		return err
	}

	delete(s.codes, code)
	s.logger.Debug("Consumed authorization code", "code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return nil
}

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken persists a newly issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_access_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid access token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accessTokens[token.Token]; exists {
		err = storage.ErrDuplicate
		return err
	}

	t := *token
	t.Scopes = slices.Clone(token.Scopes)
	s.accessTokens[token.Token] = &t
	s.logger.Debug("Saved access token", "token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetAccessToken retrieves an access token by value
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_access_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_access_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	accessToken, ok := s.accessTokens[token]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	t := *accessToken
	t.Scopes = slices.Clone(accessToken.Scopes)
	return &t, nil
}

// SaveRefreshToken persists a newly issued refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	ctx, span := s.startStorageSpan(ctx, "save_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "save_refresh_token", err, startTime)
	}()

	if token == nil || token.Token == "" {
		err = fmt.Errorf("invalid refresh token")
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.refreshTokens[token.Token]; exists {
		err = storage.ErrDuplicate
		return err
	}

	t := *token
	t.Scopes = slices.Clone(token.Scopes)
	s.refreshTokens[token.Token] = &t
	s.logger.Debug("Saved refresh token", "token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token by value
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	ctx, span := s.startStorageSpan(ctx, "get_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "get_refresh_token", err, startTime)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()

	refreshToken, ok := s.refreshTokens[token]
	if !ok {
		err = storage.ErrTokenNotFound
		return nil, err
	}

	t := *refreshToken
	t.Scopes = slices.Clone(refreshToken.Scopes)
	return &t, nil
}

// ConsumeRefreshToken atomically removes a refresh token.
// SECURITY: Only ONE concurrent caller can succeed.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) error {
	ctx, span := s.startStorageSpan(ctx, "consume_refresh_token")
	defer span.End()

	startTime := time.Now()
	var err error

	defer func() {
		s.recordStorageOperation(ctx, span, "consume_refresh_token", err, startTime)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.refreshTokens[token]; !ok {
		err = storage.ErrTokenNotFound
		return err
	}

	delete(s.refreshTokens, token)
	s.logger.Debug("Consumed refresh token", "token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return nil
}

// ============================================================
// Instrumentation Helpers
// ============================================================

// startStorageSpan starts a new span for a storage operation
func (s *Store) startStorageSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return s.tracer.Start(ctx, fmt.Sprintf("storage.%s", operation),
		trace.WithAttributes(
			attribute.String(instrumentation.AttrStorageOperation, operation),
			attribute.String(instrumentation.AttrStorageType, storageType),
		))
}

// recordStorageOperation records metrics for a storage operation and sets span status
func (s *Store) recordStorageOperation(ctx context.Context, span trace.Span, operation string, err error, startTime time.Time) {
	if s.instrumentation == nil {
		return
	}

	durationMs := float64(time.Since(startTime).Microseconds()) / 1000
	result := "success"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	s.instrumentation.Metrics().RecordStorageOperation(ctx, operation, result, durationMs)
}
