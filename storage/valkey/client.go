package valkey

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// ============================================================
// Seeder Implementation
// ============================================================

// SaveClient saves a registered client
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ClientID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := s.encode(s.clientKey(client.ClientID), &clientJSON{
		ClientID:    client.ClientID,
		SecretHash:  client.SecretHash,
		RedirectURI: client.RedirectURI,
	})
	if err != nil {
		return err
	}

	if err := s.set(ctx, s.clientKey(client.ClientID), data); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// SaveUser saves a resource owner
func (s *Store) SaveUser(ctx context.Context, user *storage.User) error {
	if user == nil || user.Username == "" {
		return fmt.Errorf("invalid user")
	}

	data, err := s.encode(s.userKey(user.Username), &userJSON{Username: user.Username, PasswordHash: user.PasswordHash})
	if err != nil {
		return err
	}

	if err := s.set(ctx, s.userKey(user.Username), data); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// SaveScope adds a scope to the supported set
func (s *Store) SaveScope(ctx context.Context, scope string) error {
	if scope == "" {
		return fmt.Errorf("invalid scope")
	}

	if err := s.client.Do(ctx, s.client.B().Sadd().Key(s.scopesKey()).Member(scope).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save scope: %w", err)
	}
	return nil
}

// SaveAuthorization saves a standing consent, replacing any consent for the same pair
func (s *Store) SaveAuthorization(ctx context.Context, authorization *storage.Authorization) error {
	if authorization == nil || authorization.ClientID == "" {
		return fmt.Errorf("invalid authorization")
	}

	key := s.authorizationKey(authorization.ClientID, authorization.Username)
	data, err := s.encode(key, &authorizationJSON{
		ClientID: authorization.ClientID,
		Username: authorization.Username,
		Scopes:   authorization.Scopes,
	})
	if err != nil {
		return err
	}

	if err := s.set(ctx, key, data); err != nil {
		return fmt.Errorf("failed to save authorization: %w", err)
	}
	return nil
}

// ============================================================
// Lookup Implementation
// ============================================================

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return getAndDecode(ctx, s, s.clientKey(clientID), storage.ErrClientNotFound, fromClientJSON)
}

// GetAuthorization retrieves the standing consent for a client/user pair
func (s *Store) GetAuthorization(ctx context.Context, clientID, username string) (*storage.Authorization, error) {
	key := s.authorizationKey(clientID, username)
	return getAndDecode(ctx, s, key, storage.ErrAuthorizationNotFound, fromAuthorizationJSON)
}

// ListScopes returns the supported scopes sorted by name. Valkey sets are unordered.
func (s *Store) ListScopes(ctx context.Context) ([]string, error) {
	scopes, err := s.client.Do(ctx, s.client.B().Smembers().Key(s.scopesKey()).Build()).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	slices.Sort(scopes)
	return scopes, nil
}

// AuthenticateUser verifies a resource owner's password using bcrypt.
// Unknown users are compared against a dummy hash to keep timing uniform.
func (s *Store) AuthenticateUser(ctx context.Context, username, password string) error {
	user, err := getAndDecode(ctx, s, s.userKey(username), storage.ErrUserNotFound,
		func(j *userJSON) *storage.User {
			return &storage.User{Username: j.Username, PasswordHash: j.PasswordHash}
		})

	hash := ""
	switch {
	case err == nil:
		hash = user.PasswordHash
	case !errors.Is(err, storage.ErrUserNotFound):
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !security.CompareSecret(hash, password) {
		return storage.ErrInvalidCredentials
	}
	return nil
}
