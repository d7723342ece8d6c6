package valkey

import (
	"context"
	"errors"
	"fmt"

	"github.com/giantswarm/oauth2-server/internal/util"
	"github.com/giantswarm/oauth2-server/storage"
)

// ============================================================
// CodeStore Implementation
// ============================================================

// SaveCode persists a newly issued authorization code.
// The key outlives the code's expiry by a short retention window.
func (s *Store) SaveCode(ctx context.Context, code *storage.Code) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	key := s.codeKey(code.Code)
	data, err := s.encode(key, toCodeJSON(code))
	if err != nil {
		return err
	}

	if err := s.setNew(ctx, key, data, recordTTL(code.ExpiresAt)); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	s.logger.Debug("Saved authorization code",
		"code_prefix", util.SafeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetCode retrieves an authorization code without consuming it
func (s *Store) GetCode(ctx context.Context, code string) (*storage.Code, error) {
	return getAndDecode(ctx, s, s.codeKey(code), storage.ErrCodeNotFound, fromCodeJSON)
}

// ConsumeCode atomically removes an authorization code.
//
// SECURITY: DEL is atomic on the server; only ONE concurrent caller observes a
// removed key count of 1. Every other caller receives ErrCodeNotFound.
func (s *Store) ConsumeCode(ctx context.Context, code string) error {
	removed, err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).AsInt64()
	if err != nil {
		return fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if removed == 0 {
		return storage.ErrCodeNotFound
	}

	s.logger.Debug("Consumed authorization code",
		"code_prefix", util.SafeTruncate(code, tokenIDLogLength))
	return nil
}
