package security

// Event type constants for security audit logging.
const (
	// EventTokenIssued is logged when a token endpoint grant issues an access token
	EventTokenIssued = "token_issued"

	// EventTokenRefreshed is logged when an access token is minted from a refresh token
	EventTokenRefreshed = "token_refreshed"

	// EventImplicitTokenIssued is logged when the authorization endpoint issues an access token directly
	EventImplicitTokenIssued = "implicit_token_issued"

	// EventAuthorizationCodeIssued is logged when an authorization code is issued
	EventAuthorizationCodeIssued = "authorization_code_issued"

	// EventAuthorizationCodeConsumed is logged when an authorization code is redeemed
	EventAuthorizationCodeConsumed = "authorization_code_consumed"

	// EventAuthorizationCodeReuseDetected is logged when a redemption loses the single-use race
	EventAuthorizationCodeReuseDetected = "authorization_code_reuse_detected"

	// EventAuthFailure is logged for failed client or resource-owner authentication
	EventAuthFailure = "auth_failure"

	// EventInvalidGrant is logged when a code or refresh token is rejected
	EventInvalidGrant = "invalid_grant"
)
