package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/giantswarm/oauth2-server/storage"
)

const (
	// tokenBytes is the entropy of every code and token (128 bits)
	tokenBytes = 16

	// maxIssueAttempts bounds regeneration after identifier collisions
	maxIssueAttempts = 3
)

// Issuer mints codes and tokens and persists them. Each successful call performs exactly
// one storage write.
type Issuer struct {
	codes  storage.CodeStore
	tokens storage.TokenStore
	config *Config
	random io.Reader
}

// NewIssuer creates an issuer. config must already have defaults applied.
func NewIssuer(codes storage.CodeStore, tokens storage.TokenStore, config *Config) *Issuer {
	return &Issuer{
		codes:  codes,
		tokens: tokens,
		config: config,
		random: rand.Reader,
	}
}

// generateToken returns 16 random bytes hex-encoded to 32 characters
func (i *Issuer) generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(i.random, b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// IssueCode mints an authorization code bound to redirectURI
func (i *Issuer) IssueCode(ctx context.Context, clientID, redirectURI, username string, scopes []string) (*storage.Code, error) {
	expiresAt := i.config.Now().Add(i.config.codeTTL())
	return issue(ctx, i, func(id string) *storage.Code {
		return &storage.Code{
			Code:        id,
			ClientID:    clientID,
			RedirectURI: redirectURI,
			Username:    username,
			Scopes:      scopes,
			ExpiresAt:   expiresAt,
		}
	}, i.codes.SaveCode)
}

// IssueAccessToken mints a bearer access token
func (i *Issuer) IssueAccessToken(ctx context.Context, clientID, username string, scopes []string) (*storage.AccessToken, error) {
	expiresAt := i.config.Now().Add(i.config.accessTokenTTL())
	return issue(ctx, i, func(id string) *storage.AccessToken {
		return &storage.AccessToken{
			Token:     id,
			TokenType: storage.TokenTypeBearer,
			ClientID:  clientID,
			Username:  username,
			Scopes:    scopes,
			ExpiresAt: expiresAt,
		}
	}, i.tokens.SaveAccessToken)
}

// IssueRefreshToken mints a refresh token
func (i *Issuer) IssueRefreshToken(ctx context.Context, clientID, username string, scopes []string) (*storage.RefreshToken, error) {
	expiresAt := i.config.Now().Add(i.config.refreshTokenTTL())
	return issue(ctx, i, func(id string) *storage.RefreshToken {
		return &storage.RefreshToken{
			Token:     id,
			ClientID:  clientID,
			Username:  username,
			Scopes:    scopes,
			ExpiresAt: expiresAt,
		}
	}, i.tokens.SaveRefreshToken)
}

// issue generates an identifier, builds the record, and saves it, regenerating when the
// identifier is already taken. Any other failure, or exhausting the attempts, is a
// server_error.
func issue[T any](ctx context.Context, i *Issuer, build func(id string) *T, save func(context.Context, *T) error) (*T, error) {
	var lastErr error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		id, err := i.generateToken()
		if err != nil {
			return nil, ErrServerError(err)
		}

		record := build(id)
		err = save(ctx, record)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrServerError(fmt.Errorf("failed to save record: %w", err))
		}
		lastErr = err
	}
	return nil, ErrServerError(fmt.Errorf("identifier collision after %d attempts: %w", maxIssueAttempts, lastErr))
}
