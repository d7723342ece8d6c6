package valkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/storage"
)

// ============================================================
// TokenStore Implementation
// ============================================================

// SaveAccessToken persists a newly issued access token
func (s *Store) SaveAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	key := s.accessTokenKey(token.Token)
	data, err := s.encode(key, toAccessTokenJSON(token))
	if err != nil {
		return err
	}

	if err := s.setNew(ctx, key, data, recordTTL(token.ExpiresAt)); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to save access token: %w", err)
	}

	s.logger.Debug("Saved access token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetAccessToken retrieves an access token by value
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	return getAndDecode(ctx, s, s.accessTokenKey(token), storage.ErrTokenNotFound, fromAccessTokenJSON)
}

// SaveRefreshToken persists a newly issued refresh token
func (s *Store) SaveRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	key := s.refreshTokenKey(token.Token)
	data, err := s.encode(key, toRefreshTokenJSON(token))
	if err != nil {
		return err
	}

	if err := s.setNew(ctx, key, data, recordTTL(token.ExpiresAt)); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to save refresh token: %w", err)
	}

	s.logger.Debug("Saved refresh token",
		"token_prefix", util.SafeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token by value
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	return getAndDecode(ctx, s, s.refreshTokenKey(token), storage.ErrTokenNotFound, fromRefreshTokenJSON)
}

// ConsumeRefreshToken atomically removes a refresh token. Only the caller whose DEL
// removed the key succeeds; the rest receive ErrTokenNotFound.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) error {
	removed, err := s.client.Do(ctx, s.client.B().Del().Key(s.refreshTokenKey(token)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to consume refresh token: %w", err)
	}
	if removed == 0 {
		return storage.ErrTokenNotFound
	}

	s.logger.Debug("Consumed refresh token",
		"token_prefix", util.SafeTruncate(token, tokenIDLogLength))
	return nil
}
