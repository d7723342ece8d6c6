package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// PasswordGrant implements grant_type=password (RFC 6749 Section 4.3)
type PasswordGrant struct{}

// HandleToken exchanges resource-owner credentials for an access and refresh token.
// Nothing is written to storage when the credentials are rejected.
func (PasswordGrant) HandleToken(ctx context.Context, s *Server, req *TokenRequest, client ClientIdentity) (*TokenResponse, error) {
	if req.Username == "" {
		return nil, ErrInvalidRequest("username is required")
	}
	if req.Password == "" {
		return nil, ErrInvalidRequest("password is required")
	}
	if !Validate(ParamUsername, req.Username) {
		return nil, ErrInvalidRequest("username is malformed")
	}
	if !Validate(ParamPassword, req.Password) {
		return nil, ErrInvalidRequest("password is malformed")
	}

	err := s.store.AuthenticateUser(ctx, req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrInvalidCredentials), errors.Is(err, storage.ErrUserNotFound):
		s.Auditor.LogAuthFailure(req.Username, client.ClientID, security.GetRequestID(ctx), "invalid_resource_owner_credentials")
		return nil, s.rejectGrant(ctx, client.ClientID, GrantTypePassword, "invalid_credentials",
			"resource owner credentials are invalid")
	default:
		return nil, ErrServerError(fmt.Errorf("failed to authenticate user: %w", err))
	}

	scopes, err := s.scopes.Resolve(ctx, req.Scope, client.ClientID, req.Username)
	if err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, GrantTypePassword, client.ClientID, req.Username, scopes, true)
}
