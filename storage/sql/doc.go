// Package sql provides a gorm-backed implementation of the storage interfaces on SQLite.
//
// Rows carry scopes as JSON text. Authorization codes are consumed with a single
// DELETE whose affected-row count decides which concurrent redeemer wins, and all
// identifiers are inserted with ON CONFLICT DO NOTHING so collisions surface as
// storage.ErrDuplicate.
//
// Example usage:
//
//	store, err := sql.New(ctx, sql.Config{DSN: "/var/lib/oauth2/oauth.db"})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package sql
