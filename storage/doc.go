// Package storage provides interfaces and shared types for client, consent, scope, code, and
// token persistence.
//
// The engine consumes the narrow interfaces:
//   - ClientStore: registered clients
//   - AuthorizationStore: standing client/user consents
//   - ScopeStore: the server-wide supported scope set
//   - CodeStore: authorization codes, including atomic single-use consumption
//   - TokenStore: access and refresh tokens
//   - UserAuthenticator: resource-owner password verification
//
// Implementations are provided in subpackages:
//   - storage/memory: In-memory storage for development and testing
//   - storage/sql: gorm-backed SQL storage (SQLite)
//   - storage/valkey: Valkey/Redis-compatible distributed storage
//
// storage/storagetest holds a conformance suite every implementation runs.
package storage
