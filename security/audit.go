package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor handles security event logging with PII protection.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates a new security auditor
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event represents a security audit event
type Event struct {
	Type      string
	Username  string
	ClientID  string
	RequestID string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent logs a security event with the username hashed
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"username_hash", hashForLogging(event.Username),
		"client_id", event.ClientID,
		"request_id", event.RequestID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogTokenIssued logs when a token is issued
func (a *Auditor) LogTokenIssued(username, clientID, requestID, grantType, scope string) {
	a.LogEvent(Event{
		Type:      EventTokenIssued,
		Username:  username,
		ClientID:  clientID,
		RequestID: requestID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogImplicitTokenIssued logs when the authorization endpoint issues an access token
func (a *Auditor) LogImplicitTokenIssued(username, clientID, requestID, scope string) {
	a.LogEvent(Event{
		Type:      EventImplicitTokenIssued,
		Username:  username,
		ClientID:  clientID,
		RequestID: requestID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenRefreshed logs when a token is refreshed
func (a *Auditor) LogTokenRefreshed(username, clientID, requestID string, rotated bool) {
	a.LogEvent(Event{
		Type:      EventTokenRefreshed,
		Username:  username,
		ClientID:  clientID,
		RequestID: requestID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogCodeIssued logs when an authorization code is issued
func (a *Auditor) LogCodeIssued(username, clientID, requestID, scope string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeIssued,
		Username:  username,
		ClientID:  clientID,
		RequestID: requestID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogCodeConsumed logs a successful authorization code redemption
func (a *Auditor) LogCodeConsumed(username, clientID, requestID string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeConsumed,
		Username:  username,
		ClientID:  clientID,
		RequestID: requestID,
	})
}

// LogCodeReuse logs a redemption of an already consumed authorization code
func (a *Auditor) LogCodeReuse(clientID, requestID string) {
	a.LogEvent(Event{
		Type:      EventAuthorizationCodeReuseDetected,
		ClientID:  clientID,
		RequestID: requestID,
	})
}

// LogAuthFailure logs an authentication failure
func (a *Auditor) LogAuthFailure(username, clientID, requestID, reason string) {
	a.LogEvent(Event{
		Type:      EventAuthFailure,
		Username:  username,
		ClientID:  clientID,
		RequestID: requestID,
		Details: map[string]any{
			"reason": reason,
		},
	})
}

// LogInvalidGrant logs a rejected code or refresh token
func (a *Auditor) LogInvalidGrant(clientID, requestID, grantType, reason string) {
	a.LogEvent(Event{
		Type:      EventInvalidGrant,
		ClientID:  clientID,
		RequestID: requestID,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// hashForLogging creates a SHA256 hash of sensitive data for logging
func hashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}
