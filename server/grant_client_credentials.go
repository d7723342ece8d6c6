package server

import "context"

// ClientCredentialsGrant implements grant_type=client_credentials (RFC 6749 Section 4.4).
// Tokens carry no username.
type ClientCredentialsGrant struct{}

// HandleToken issues tokens to the client acting on its own behalf. Scope resolution
// follows Config.ClientCredentialsScopePolicy.
func (ClientCredentialsGrant) HandleToken(ctx context.Context, s *Server, req *TokenRequest, client ClientIdentity) (*TokenResponse, error) {
	var (
		scopes []string
		err    error
	)
	switch s.Config.ClientCredentialsScopePolicy {
	case ScopePolicyUnrestricted:
		scopes, err = s.scopes.ResolveSupported(ctx, req.Scope)
	default:
		scopes, err = s.scopes.Resolve(ctx, req.Scope, client.ClientID, "")
	}
	if err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, GrantTypeClientCredentials, client.ClientID, "", scopes, true)
}
