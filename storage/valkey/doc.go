// Package valkey provides a Valkey storage backend for the authorization server.
//
// Valkey is a high-performance key-value store that is wire-compatible with Redis.
// Store implements storage.Store and storage.Seeder, making it suitable for
// deployments where several server instances share one set of codes and tokens.
//
// # Key Schema
//
// All keys use a configurable prefix (default "oauth2:"):
//
//	{prefix}client:{clientID}                        -> JSON(Client)
//	{prefix}user:{username}                          -> JSON(User)
//	{prefix}scopes                                   -> SET of scope names
//	{prefix}authorization:{len}:{clientID}:{user}    -> JSON(Authorization)
//	{prefix}code:{code}                              -> JSON(Code) (with TTL)
//	{prefix}access:{token}                           -> JSON(AccessToken) (with TTL)
//	{prefix}refresh:{token}                          -> JSON(RefreshToken) (with TTL)
//
// # Atomic Operations
//
// Codes and tokens are written with SET NX, so an identifier collision surfaces as
// storage.ErrDuplicate. ConsumeCode and ConsumeRefreshToken rely on DEL returning
// the number of removed keys: exactly one concurrent caller sees 1.
//
// Code and token keys expire a few minutes after the record itself so an expired
// record can still be reported as expired rather than unknown.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "oauth2:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// # Encryption at Rest
//
// Record payloads can be sealed with AES-256-GCM. Each payload is bound to the key it
// is stored under, so a record copied to another key fails to open:
//
//	key, _ := security.GenerateKey()
//	encryptor, _ := security.NewEncryptor(key)
//	store.SetEncryptor(encryptor)
package valkey
