package security

import "time"

// IsExpired reports whether expiresAt lies before now.
// A zero expiresAt never expires.
func IsExpired(expiresAt, now time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, now, 0)
}

// IsExpiredWithGracePeriod reports whether expiresAt lies before now by more than gracePeriod.
// The grace period absorbs clock drift between nodes sharing a storage backend.
func IsExpiredWithGracePeriod(expiresAt, now time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}

	return now.After(expiresAt.Add(gracePeriod))
}
