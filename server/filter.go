package server

import (
	"net/url"
	"regexp"
	"strings"
)

// Request parameter names (RFC 6749 Appendix A)
const (
	ParamResponseType = "response_type"
	ParamGrantType    = "grant_type"
	ParamClientID     = "client_id"
	ParamClientSecret = "client_secret"
	ParamRedirectURI  = "redirect_uri"
	ParamScope        = "scope"
	ParamState        = "state"
	ParamCode         = "code"
	ParamAccessToken  = "access_token"
	ParamRefreshToken = "refresh_token"
	ParamUsername     = "username"
	ParamPassword     = "password"
)

var (
	namePattern      = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)
	printablePattern = regexp.MustCompile(`^[\x20-\x7E]*[\x21-\x7E][\x20-\x7E]*$`)
	tokenPattern     = regexp.MustCompile(`^[0-9A-Fa-f]{32}$`)
	scopePattern     = regexp.MustCompile(`^\s*[\x21\x23-\x5B\x5D-\x7E]+(\s+[\x21\x23-\x5B\x5D-\x7E]+)*\s*$`)
	statePattern     = regexp.MustCompile(`^[\x20-\x7E]+$`)
	credentialChars  = regexp.MustCompile(`^[^\x00-\x1F\x7F]+$`)
)

// validators maps each parameter to its syntax check
var validators = map[string]func(string) bool{
	ParamResponseType: isNameOrAbsoluteURI,
	ParamGrantType:    isNameOrAbsoluteURI,
	ParamClientID:     printablePattern.MatchString,
	ParamRedirectURI:  printablePattern.MatchString,
	ParamCode:         tokenPattern.MatchString,
	ParamAccessToken:  tokenPattern.MatchString,
	ParamRefreshToken: tokenPattern.MatchString,
	ParamScope:        scopePattern.MatchString,
	ParamState:        statePattern.MatchString,
	ParamUsername:     credentialChars.MatchString,
	ParamPassword:     credentialChars.MatchString,
}

// Validate reports whether value is syntactically valid for the named parameter.
// Unknown parameter names and empty values are never valid.
func Validate(field, value string) bool {
	if value == "" {
		return false
	}
	check, ok := validators[field]
	if !ok {
		return false
	}
	return check(value)
}

// isNameOrAbsoluteURI accepts registered flow names and extension grants identified by URI
func isNameOrAbsoluteURI(value string) bool {
	if namePattern.MatchString(value) {
		return true
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return false
	}
	u, err := url.Parse(value)
	return err == nil && u.IsAbs() && u.Opaque+u.Host+u.Path != ""
}
