package oauth

// ErrorResponse represents an OAuth error response
type ErrorResponse struct {
	// Error is the error code
	Error string `json:"error"`

	// ErrorDescription provides additional information
	ErrorDescription string `json:"error_description,omitempty"`
}

// TokenInfo is the debug endpoint response describing a valid access token
type TokenInfo struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ClientID    string `json:"client_id"`

	// Username is empty for tokens issued to the client itself
	Username string `json:"username"`

	// Expires is the expiry as Unix seconds
	Expires int64 `json:"expires"`

	// Scope is space-delimited, possibly empty
	Scope string `json:"scope"`
}
