// Package security provides security-related functionality for the authorization server:
// credential hashing, expiry checks, audit logging, record encryption, client IP
// extraction, security headers, and request IDs.
//
// # Credential hashing
//
// Client secrets and user passwords are stored as bcrypt hashes. CompareSecret always
// performs a bcrypt comparison, falling back to a fixed dummy hash when no stored hash
// exists, so response timing does not reveal whether a client or user is known.
//
// # Audit logging
//
// The Auditor writes security events through slog. Usernames are hashed before logging;
// tokens, codes, and secrets are never part of an event.
//
// # Encryption at rest
//
// Encryptor seals storage records with AES-256-GCM, binding each record to the key it is
// stored under.
package security
