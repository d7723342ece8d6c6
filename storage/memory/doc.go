// Package memory provides an in-memory implementation of the storage interfaces.
//
// Store implements storage.Store and storage.Seeder using Go maps guarded by a
// sync.RWMutex. It is suitable for development, testing, and single-instance
// deployments where persistence is not required.
//
// For persistence use storage/sql; for multi-instance deployments use storage/valkey.
//
// Example usage:
//
//	store := memory.New()
//	if err := storage.Seed(ctx, store, storage.DemoFixtures(), 0); err != nil {
//		return err
//	}
//	srv, err := server.New(store, server.DefaultConfig(), logger)
package memory
