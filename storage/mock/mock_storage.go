// Package mock provides a failure-injecting storage implementation for testing.
package mock

import (
	"context"
	"sync"

	"github.com/giantswarm/oauth2-server/storage"
)

// Store wraps a real storage.Store and lets tests override individual operations.
// A nil override delegates to the wrapped store. Every call is counted.
type Store struct {
	next storage.Store

	GetClientFunc           func(ctx context.Context, clientID string) (*storage.Client, error)
	GetAuthorizationFunc    func(ctx context.Context, clientID, username string) (*storage.Authorization, error)
	ListScopesFunc          func(ctx context.Context) ([]string, error)
	AuthenticateUserFunc    func(ctx context.Context, username, password string) error
	SaveCodeFunc            func(ctx context.Context, code *storage.Code) error
	GetCodeFunc             func(ctx context.Context, code string) (*storage.Code, error)
	ConsumeCodeFunc         func(ctx context.Context, code string) error
	SaveAccessTokenFunc     func(ctx context.Context, token *storage.AccessToken) error
	GetAccessTokenFunc      func(ctx context.Context, token string) (*storage.AccessToken, error)
	SaveRefreshTokenFunc    func(ctx context.Context, token *storage.RefreshToken) error
	GetRefreshTokenFunc     func(ctx context.Context, token string) (*storage.RefreshToken, error)
	ConsumeRefreshTokenFunc func(ctx context.Context, token string) error

	mu         sync.Mutex
	callCounts map[string]int
}

var _ storage.Store = (*Store)(nil)

// New creates a mock store delegating to next
func New(next storage.Store) *Store {
	return &Store{
		next:       next,
		callCounts: make(map[string]int),
	}
}

// CallCount returns how many times the named method was called
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCounts[method]
}

// ResetCallCounts clears all call counters
func (m *Store) ResetCallCounts() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts = make(map[string]int)
}

func (m *Store) count(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCounts[method]++
}

// GetClient retrieves a client by ID
func (m *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	m.count("GetClient")
	if m.GetClientFunc != nil {
		return m.GetClientFunc(ctx, clientID)
	}
	return m.next.GetClient(ctx, clientID)
}

// GetAuthorization retrieves a standing consent
func (m *Store) GetAuthorization(ctx context.Context, clientID, username string) (*storage.Authorization, error) {
	m.count("GetAuthorization")
	if m.GetAuthorizationFunc != nil {
		return m.GetAuthorizationFunc(ctx, clientID, username)
	}
	return m.next.GetAuthorization(ctx, clientID, username)
}

// ListScopes lists the supported scopes
func (m *Store) ListScopes(ctx context.Context) ([]string, error) {
	m.count("ListScopes")
	if m.ListScopesFunc != nil {
		return m.ListScopesFunc(ctx)
	}
	return m.next.ListScopes(ctx)
}

// AuthenticateUser verifies resource-owner credentials
func (m *Store) AuthenticateUser(ctx context.Context, username, password string) error {
	m.count("AuthenticateUser")
	if m.AuthenticateUserFunc != nil {
		return m.AuthenticateUserFunc(ctx, username, password)
	}
	return m.next.AuthenticateUser(ctx, username, password)
}

// SaveCode persists an authorization code
func (m *Store) SaveCode(ctx context.Context, code *storage.Code) error {
	m.count("SaveCode")
	if m.SaveCodeFunc != nil {
		return m.SaveCodeFunc(ctx, code)
	}
	return m.next.SaveCode(ctx, code)
}

// GetCode retrieves an authorization code
func (m *Store) GetCode(ctx context.Context, code string) (*storage.Code, error) {
	m.count("GetCode")
	if m.GetCodeFunc != nil {
		return m.GetCodeFunc(ctx, code)
	}
	return m.next.GetCode(ctx, code)
}

// ConsumeCode removes an authorization code
func (m *Store) ConsumeCode(ctx context.Context, code string) error {
	m.count("ConsumeCode")
	if m.ConsumeCodeFunc != nil {
		return m.ConsumeCodeFunc(ctx, code)
	}
	return m.next.ConsumeCode(ctx, code)
}

// SaveAccessToken persists an access token
func (m *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	m.count("SaveAccessToken")
	if m.SaveAccessTokenFunc != nil {
		return m.SaveAccessTokenFunc(ctx, token)
	}
	return m.next.SaveAccessToken(ctx, token)
}

// GetAccessToken retrieves an access token
func (m *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	m.count("GetAccessToken")
	if m.GetAccessTokenFunc != nil {
		return m.GetAccessTokenFunc(ctx, token)
	}
	return m.next.GetAccessToken(ctx, token)
}

// SaveRefreshToken persists a refresh token
func (m *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	m.count("SaveRefreshToken")
	if m.SaveRefreshTokenFunc != nil {
		return m.SaveRefreshTokenFunc(ctx, token)
	}
	return m.next.SaveRefreshToken(ctx, token)
}

// GetRefreshToken retrieves a refresh token
func (m *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	m.count("GetRefreshToken")
	if m.GetRefreshTokenFunc != nil {
		return m.GetRefreshTokenFunc(ctx, token)
	}
	return m.next.GetRefreshToken(ctx, token)
}

// ConsumeRefreshToken consumes a refresh token
func (m *Store) ConsumeRefreshToken(ctx context.Context, token string) error {
	m.count("ConsumeRefreshToken")
	if m.ConsumeRefreshTokenFunc != nil {
		return m.ConsumeRefreshTokenFunc(ctx, token)
	}
	return m.next.ConsumeRefreshToken(ctx, token)
}
