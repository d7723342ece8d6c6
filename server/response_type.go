package server

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// CodeResponseType implements response_type=code (RFC 6749 Section 4.1)
type CodeResponseType struct{}

// TokenResponseType implements response_type=token (RFC 6749 Section 4.2)
type TokenResponseType struct{}

// authorizeGrant is what both response types establish before issuing anything
type authorizeGrant struct {
	clientID    string
	redirectURI string
	scopes      []string
}

// HandleAuthorize issues an authorization code and redirects with it in the query
func (CodeResponseType) HandleAuthorize(ctx context.Context, s *Server, req *AuthorizeRequest, owner ResourceOwner) (*AuthorizeResponse, error) {
	grant, err := s.prepareAuthorize(ctx, req, owner, false)
	if err != nil {
		return nil, err
	}

	code, err := s.issuer.IssueCode(ctx, grant.clientID, grant.redirectURI, owner.Username, grant.scopes)
	if err != nil {
		return nil, redirectError(err, grant.redirectURI, req.State, false)
	}

	s.Auditor.LogCodeIssued(owner.Username, grant.clientID, security.GetRequestID(ctx), util.JoinScopes(grant.scopes))
	s.metrics.RecordCodeIssued(ctx, grant.clientID)
	s.Logger.Info("Issued authorization code",
		"client_id", grant.clientID,
		"code_prefix", util.SafeTruncate(code.Code, tokenLogPrefix))

	params := url.Values{}
	params.Set(ParamCode, code.Code)
	if req.State != "" {
		params.Set(ParamState, req.State)
	}

	return &AuthorizeResponse{
		Location: withQuery(grant.redirectURI, params),
		ClientID: grant.clientID,
		Scopes:   grant.scopes,
	}, nil
}

// HandleAuthorize issues an access token and redirects with it in the fragment.
// No refresh token is issued to the implicit flow.
func (TokenResponseType) HandleAuthorize(ctx context.Context, s *Server, req *AuthorizeRequest, owner ResourceOwner) (*AuthorizeResponse, error) {
	grant, err := s.prepareAuthorize(ctx, req, owner, true)
	if err != nil {
		return nil, err
	}

	resp, err := s.issueTokens(ctx, grantTypeImplicit, grant.clientID, owner.Username, grant.scopes, false)
	if err != nil {
		return nil, redirectError(err, grant.redirectURI, req.State, true)
	}

	params := url.Values{}
	params.Set(ParamAccessToken, resp.AccessToken)
	params.Set("token_type", resp.TokenType)
	params.Set("expires_in", strconv.FormatInt(resp.ExpiresIn, 10))
	params.Set(ParamScope, resp.Scope)
	if req.State != "" {
		params.Set(ParamState, req.State)
	}

	return &AuthorizeResponse{
		Location: withFragment(grant.redirectURI, params),
		ClientID: grant.clientID,
		Scopes:   grant.scopes,
	}, nil
}

// prepareAuthorize checks the client, redirect URI, state, and scope shared by both
// response types. Errors raised after the redirect URI is known are *RedirectError.
func (s *Server) prepareAuthorize(ctx context.Context, req *AuthorizeRequest, owner ResourceOwner, fragment bool) (*authorizeGrant, error) {
	if owner.Username == "" {
		return nil, ErrInvalidRequest("resource owner is not authenticated")
	}
	if req.ClientID == "" {
		return nil, ErrInvalidRequest("client_id is required")
	}
	if !Validate(ParamClientID, req.ClientID) {
		return nil, ErrInvalidRequest("client_id is malformed")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return nil, NewError(s.Config.UnknownClientError, "unknown client")
		}
		return nil, ErrServerError(fmt.Errorf("failed to get client: %w", err))
	}

	redirectURI, err := ResolveRedirectURI(req.RedirectURI, client.RedirectURI)
	if err != nil {
		return nil, err
	}

	if req.State != "" && !Validate(ParamState, req.State) {
		return nil, redirectError(ErrInvalidRequest("state is malformed"), redirectURI, "", fragment)
	}

	scopes, err := s.scopes.Resolve(ctx, req.Scope, client.ClientID, owner.Username)
	if err != nil {
		return nil, redirectError(err, redirectURI, req.State, fragment)
	}

	return &authorizeGrant{
		clientID:    client.ClientID,
		redirectURI: redirectURI,
		scopes:      scopes,
	}, nil
}

func redirectError(err error, redirectURI, state string, fragment bool) *RedirectError {
	return &RedirectError{
		Err:         Classify(err),
		RedirectURI: redirectURI,
		State:       state,
		Fragment:    fragment,
	}
}
