package util

import "strings"

// SafeTruncate safely truncates a string to maxLen characters without panicking.
// It is used when logging tokens and codes, where only a prefix may be shown.
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("eeb5aa92bbb4b56373b9e0d00bc02d93", 8) // Returns: "eeb5aa92"
//	SafeTruncate("short", 10)                          // Returns: "short"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// SplitScopes splits a scope parameter on runs of whitespace, keeping order.
// Returns nil for an empty or blank string.
func SplitScopes(scope string) []string {
	fields := strings.Fields(scope)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// JoinScopes joins scopes into the space-delimited wire form.
func JoinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
