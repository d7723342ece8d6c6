package server

import (
	"fmt"
	"maps"
	"slices"
)

// Registry maps response_type and grant_type values to their handlers.
// It is read-only after construction and safe for concurrent use.
type Registry struct {
	responseTypes map[ResponseType]ResponseTypeHandler
	grantTypes    map[GrantType]GrantTypeHandler
}

// NewRegistry validates and copies the handler tables. Every tag must be a known response
// or grant type, no handler may be nil, and at least one handler must be registered.
func NewRegistry(responseTypes map[ResponseType]ResponseTypeHandler, grantTypes map[GrantType]GrantTypeHandler) (*Registry, error) {
	if len(responseTypes) == 0 && len(grantTypes) == 0 {
		return nil, fmt.Errorf("at least one handler is required")
	}

	r := &Registry{
		responseTypes: make(map[ResponseType]ResponseTypeHandler, len(responseTypes)),
		grantTypes:    make(map[GrantType]GrantTypeHandler, len(grantTypes)),
	}

	for tag, handler := range responseTypes {
		if !slices.Contains(knownResponseTypes, tag) {
			return nil, fmt.Errorf("unknown response type %q", tag)
		}
		if handler == nil {
			return nil, fmt.Errorf("handler for response type %q is nil", tag)
		}
		r.responseTypes[tag] = handler
	}

	for tag, handler := range grantTypes {
		if !slices.Contains(knownGrantTypes, tag) {
			return nil, fmt.Errorf("unknown grant type %q", tag)
		}
		if handler == nil {
			return nil, fmt.Errorf("handler for grant type %q is nil", tag)
		}
		r.grantTypes[tag] = handler
	}

	return r, nil
}

// DefaultRegistry returns a registry holding every built-in handler
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		map[ResponseType]ResponseTypeHandler{
			ResponseTypeCode:  CodeResponseType{},
			ResponseTypeToken: TokenResponseType{},
		},
		map[GrantType]GrantTypeHandler{
			GrantTypeAuthorizationCode: AuthorizationCodeGrant{},
			GrantTypePassword:          PasswordGrant{},
			GrantTypeClientCredentials: ClientCredentialsGrant{},
			GrantTypeRefreshToken:      RefreshTokenGrant{},
		},
	)
	if err != nil {
		panic(fmt.Sprintf("invalid default registry: %v", err))
	}
	return r
}

// ResponseType returns the handler registered for name
func (r *Registry) ResponseType(name string) (ResponseTypeHandler, bool) {
	h, ok := r.responseTypes[ResponseType(name)]
	return h, ok
}

// GrantType returns the handler registered for name
func (r *Registry) GrantType(name string) (GrantTypeHandler, bool) {
	h, ok := r.grantTypes[GrantType(name)]
	return h, ok
}

// ResponseTypes lists the registered response types in sorted order
func (r *Registry) ResponseTypes() []ResponseType {
	return slices.Sorted(maps.Keys(r.responseTypes))
}

// GrantTypes lists the registered grant types in sorted order
func (r *Registry) GrantTypes() []GrantType {
	return slices.Sorted(maps.Keys(r.grantTypes))
}
