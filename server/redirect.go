package server

import "strings"

// ResolveRedirectURI reconciles the redirect URI sent with a request against the one
// registered for the client.
//
// The stored URI acts as a prefix: a requested URI must start with it, compared
// case-insensitively. When only one side is present that side wins; when neither is,
// the request is invalid. A requested URI must also be a safe redirect target.
func ResolveRedirectURI(requested, stored string) (string, error) {
	switch {
	case requested == "" && stored == "":
		return "", ErrInvalidRequest("redirect_uri is required")
	case requested == "":
		return stored, nil
	case !Validate(ParamRedirectURI, requested):
		return "", ErrInvalidRequest("redirect_uri is malformed")
	}

	if err := ValidateRedirectURISecurity(requested); err != nil {
		return "", ErrInvalidRequest(err.Error())
	}

	if stored != "" && !strings.HasPrefix(strings.ToLower(requested), strings.ToLower(stored)) {
		return "", ErrInvalidRequest("redirect_uri does not match the registered redirect URI")
	}
	return requested, nil
}
