package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// RefreshTokenGrant implements grant_type=refresh_token (RFC 6749 Section 6)
type RefreshTokenGrant struct{}

// HandleToken issues a new access token from a refresh token. The requested scope may
// narrow, never widen, the scope of the original grant. With Config.RotateRefreshTokens
// the refresh token is replaced; otherwise the same one is returned.
func (RefreshTokenGrant) HandleToken(ctx context.Context, s *Server, req *TokenRequest, client ClientIdentity) (*TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, ErrInvalidRequest("refresh_token is required")
	}
	if !Validate(ParamRefreshToken, req.RefreshToken) {
		return nil, ErrInvalidRequest("refresh_token is malformed")
	}

	original, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeRefreshToken, "token_not_found",
				"refresh token is invalid")
		}
		return nil, ErrServerError(fmt.Errorf("failed to get refresh token: %w", err))
	}
	if original.ClientID != client.ClientID {
		return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeRefreshToken, "client_mismatch",
			"refresh token was issued to another client")
	}
	if s.isExpired(original.ExpiresAt) {
		return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeRefreshToken, "token_expired",
			"refresh token has expired")
	}

	scopes := slices.Clone(original.Scopes)
	if req.Scope != "" {
		scopes, err = ResolveWithin(req.Scope, original.Scopes)
		if err != nil {
			return nil, err
		}
	}

	// Rotation consumes the old token before issuing; losing the race is invalid_grant.
	rotated := s.Config.RotateRefreshTokens
	if rotated {
		if err := s.store.ConsumeRefreshToken(ctx, original.Token); err != nil {
			if errors.Is(err, storage.ErrTokenNotFound) {
				return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeRefreshToken, "token_not_found",
					"refresh token is invalid")
			}
			return nil, ErrServerError(fmt.Errorf("failed to consume refresh token: %w", err))
		}
	}

	accessToken, err := s.issuer.IssueAccessToken(ctx, client.ClientID, original.Username, scopes)
	if err != nil {
		return nil, err
	}
	resp := s.tokenResponse(accessToken)
	resp.RefreshToken = original.Token

	if rotated {
		// The replacement keeps the original grant so later refreshes may ask for it again.
		refreshToken, err := s.issuer.IssueRefreshToken(ctx, client.ClientID, original.Username, original.Scopes)
		if err != nil {
			return nil, err
		}
		resp.RefreshToken = refreshToken.Token
	}

	requestID := security.GetRequestID(ctx)
	s.Auditor.LogTokenRefreshed(original.Username, client.ClientID, requestID, rotated)
	s.Auditor.LogTokenIssued(original.Username, client.ClientID, requestID, string(GrantTypeRefreshToken), resp.Scope)
	s.metrics.RecordTokenRefreshed(ctx, rotated)
	s.metrics.RecordTokenIssued(ctx, string(GrantTypeRefreshToken))
	s.Logger.Info("Refreshed access token",
		"client_id", client.ClientID,
		"rotated", rotated,
		"token_prefix", util.SafeTruncate(accessToken.Token, tokenLogPrefix))

	return resp, nil
}
