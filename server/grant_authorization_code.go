package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// AuthorizationCodeGrant implements grant_type=authorization_code (RFC 6749 Section 4.1.3)
type AuthorizationCodeGrant struct{}

// HandleToken redeems an authorization code for an access and refresh token.
//
// SECURITY: The code is consumed before any other check, so a code presented with the
// wrong client, the wrong redirect URI, or after expiry can never be retried.
func (AuthorizationCodeGrant) HandleToken(ctx context.Context, s *Server, req *TokenRequest, client ClientIdentity) (*TokenResponse, error) {
	if req.Code == "" {
		return nil, ErrInvalidRequest("code is required")
	}
	if !Validate(ParamCode, req.Code) {
		return nil, ErrInvalidRequest("code is malformed")
	}

	code, err := s.store.GetCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeAuthorizationCode, "code_not_found",
				"authorization code is invalid")
		}
		return nil, ErrServerError(fmt.Errorf("failed to get code: %w", err))
	}

	if err := s.store.ConsumeCode(ctx, code.Code); err != nil {
		if errors.Is(err, storage.ErrCodeNotFound) {
			// Another request redeemed the code between lookup and consume.
			s.Auditor.LogCodeReuse(client.ClientID, security.GetRequestID(ctx))
			s.metrics.RecordCodeReuseDetected(ctx)
			s.Logger.Warn("Authorization code reuse detected",
				"client_id", client.ClientID,
				"code_prefix", util.SafeTruncate(code.Code, tokenLogPrefix))
			return nil, ErrInvalidGrant("authorization code is invalid")
		}
		return nil, ErrServerError(fmt.Errorf("failed to consume code: %w", err))
	}

	if code.ClientID != client.ClientID {
		return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeAuthorizationCode, "client_mismatch",
			"authorization code was issued to another client")
	}
	if s.isExpired(code.ExpiresAt) {
		return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeAuthorizationCode, "code_expired",
			"authorization code has expired")
	}

	// A pre-authenticated client may be absent from storage; it then has no stored URI.
	storedURI := ""
	registered, err := s.store.GetClient(ctx, client.ClientID)
	switch {
	case err == nil:
		storedURI = registered.RedirectURI
	case errors.Is(err, storage.ErrClientNotFound):
	default:
		return nil, ErrServerError(fmt.Errorf("failed to get client: %w", err))
	}

	redirectURI, err := ResolveRedirectURI(req.RedirectURI, storedURI)
	if err != nil {
		return nil, err
	}
	if redirectURI != code.RedirectURI {
		return nil, s.rejectGrant(ctx, client.ClientID, GrantTypeAuthorizationCode, "redirect_uri_mismatch",
			"redirect_uri does not match the authorization request")
	}

	resp, err := s.issueTokens(ctx, GrantTypeAuthorizationCode, client.ClientID, code.Username, code.Scopes, true)
	if err != nil {
		return nil, err
	}

	s.Auditor.LogCodeConsumed(code.Username, client.ClientID, security.GetRequestID(ctx))
	s.metrics.RecordCodeExchanged(ctx, client.ClientID)
	return resp, nil
}
