package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/storage"
)

// ScopeResolver narrows a requested scope string to what a client may be granted.
type ScopeResolver struct {
	authorizations storage.AuthorizationStore
	scopes         storage.ScopeStore
}

// NewScopeResolver creates a scope resolver over the given stores
func NewScopeResolver(authorizations storage.AuthorizationStore, scopes storage.ScopeStore) *ScopeResolver {
	return &ScopeResolver{authorizations: authorizations, scopes: scopes}
}

// Resolve validates raw against the standing authorization for (clientID, username) and
// the server-wide supported scopes. Every requested name must appear in both sets; order
// does not matter. The result keeps the requested order without duplicates.
// An empty request resolves to no scopes.
func (r *ScopeResolver) Resolve(ctx context.Context, raw, clientID, username string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if !Validate(ParamScope, raw) {
		return nil, ErrInvalidRequest("scope is malformed")
	}

	var authorized []string
	authorization, err := r.authorizations.GetAuthorization(ctx, clientID, username)
	switch {
	case err == nil:
		authorized = authorization.Scopes
	case errors.Is(err, storage.ErrAuthorizationNotFound):
		// No standing consent: nothing is authorized.
	default:
		return nil, ErrServerError(fmt.Errorf("failed to get authorization: %w", err))
	}

	supported, err := r.supported(ctx)
	if err != nil {
		return nil, err
	}

	return ResolveWithin(raw, authorized, supported)
}

// ResolveSupported validates raw against the supported scopes only.
func (r *ScopeResolver) ResolveSupported(ctx context.Context, raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if !Validate(ParamScope, raw) {
		return nil, ErrInvalidRequest("scope is malformed")
	}

	supported, err := r.supported(ctx)
	if err != nil {
		return nil, err
	}
	return ResolveWithin(raw, supported)
}

func (r *ScopeResolver) supported(ctx context.Context) ([]string, error) {
	supported, err := r.scopes.ListScopes(ctx)
	if err != nil {
		return nil, ErrServerError(fmt.Errorf("failed to list scopes: %w", err))
	}
	return supported, nil
}

// ResolveWithin validates raw against explicit scope sets. Every requested name must be a
// member of every set.
func ResolveWithin(raw string, allowed ...[]string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	if !Validate(ParamScope, raw) {
		return nil, ErrInvalidRequest("scope is malformed")
	}

	requested := util.SplitScopes(raw)
	resolved := make([]string, 0, len(requested))
	for _, name := range requested {
		if slices.Contains(resolved, name) {
			continue
		}
		for _, set := range allowed {
			if !slices.Contains(set, name) {
				return nil, ErrInvalidScope(fmt.Sprintf("scope %q is not permitted", name))
			}
		}
		resolved = append(resolved, name)
	}
	return resolved, nil
}
