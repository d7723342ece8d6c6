package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-server/security"
	"github.com/giantswarm/oauth2-server/storage"
)

// Client authentication failure reasons, used for audit and metrics only
const (
	authFailureAmbiguous      = "ambiguous_credentials"
	authFailureMissing        = "missing_credentials"
	authFailureUnknownClient  = "unknown_client"
	authFailureBadSecret      = "bad_secret"
	authFailureUpstreamDenied = "upstream_not_allowed"
	authFailureConflict       = "conflicting_identity"
)

// AuthenticateClient identifies the client behind a token request.
//
// Exactly one channel may carry credentials: HTTP Basic or the client_id/client_secret
// form fields. An upstream identity replaces both for the authorization_code grant;
// credentials sent alongside it must name the same client and are still verified.
//
// SECURITY: The secret is always compared with bcrypt, against a dummy hash for unknown
// clients, so response timing does not reveal which client IDs exist.
func (s *Server) AuthenticateClient(ctx context.Context, creds ClientCredentials, grantType GrantType) (ClientIdentity, error) {
	requestID := security.GetRequestID(ctx)

	if creds.BasicPresent && creds.postPresent() {
		s.recordAuthFailure(ctx, creds.BasicID, requestID, authFailureAmbiguous)
		return ClientIdentity{}, ErrInvalidRequest("client credentials must be sent using exactly one method")
	}

	clientID, secret, present := creds.PostID, creds.PostSecret, creds.postPresent()
	if creds.BasicPresent {
		clientID, secret, present = creds.BasicID, creds.BasicSecret, true
	}

	if creds.Upstream != nil {
		if grantType != GrantTypeAuthorizationCode {
			s.recordAuthFailure(ctx, creds.Upstream.ClientID, requestID, authFailureUpstreamDenied)
			return ClientIdentity{}, ErrInvalidClient("pre-authenticated clients may only redeem authorization codes")
		}
		if !present {
			return *creds.Upstream, nil
		}
		if clientID != creds.Upstream.ClientID {
			s.recordAuthFailure(ctx, clientID, requestID, authFailureConflict)
			return ClientIdentity{}, ErrInvalidRequest("client credentials conflict with the authenticated client")
		}
	}

	if !present {
		s.recordAuthFailure(ctx, "", requestID, authFailureMissing)
		return ClientIdentity{}, ErrInvalidClient("client authentication is required")
	}
	if !Validate(ParamClientID, clientID) {
		s.recordAuthFailure(ctx, "", requestID, authFailureUnknownClient)
		return ClientIdentity{}, ErrInvalidClient("client authentication failed")
	}

	hash := ""
	client, err := s.store.GetClient(ctx, clientID)
	switch {
	case err == nil:
		hash = client.SecretHash
	case errors.Is(err, storage.ErrClientNotFound):
	default:
		return ClientIdentity{}, ErrServerError(fmt.Errorf("failed to get client: %w", err))
	}

	// ALWAYS run the comparison before deciding anything about the client.
	secretOK := security.CompareSecret(hash, secret)

	if client == nil {
		s.recordAuthFailure(ctx, clientID, requestID, authFailureUnknownClient)
		return ClientIdentity{}, ErrInvalidClient("client authentication failed")
	}
	if !secretOK {
		s.recordAuthFailure(ctx, clientID, requestID, authFailureBadSecret)
		return ClientIdentity{}, ErrInvalidClient("client authentication failed")
	}

	return ClientIdentity{ClientID: client.ClientID}, nil
}

func (s *Server) recordAuthFailure(ctx context.Context, clientID, requestID, reason string) {
	s.Auditor.LogAuthFailure("", clientID, requestID, reason)
	s.metrics.RecordClientAuthFailed(ctx, reason)
	s.Logger.Debug("Client authentication failed", "client_id", clientID, "reason", reason)
}
