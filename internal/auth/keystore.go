package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const keyQuery = `
SELECT EXISTS (
	SELECT 1 FROM relay_keys
	WHERE key_hash = $1 AND role = $2 AND revoked_at IS NULL
)`

// Querier is the subset of a pgx pool the key store needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// KeyStore accepts handshakes whose "key" field matches an unrevoked row of
// relay_keys for the requested role. Keys are stored as SHA-256 hex digests.
type KeyStore struct {
	db Querier
}

// NewKeyStore creates a key store backed by db.
func NewKeyStore(db Querier) *KeyStore {
	return &KeyStore{db: db}
}

// Authenticate looks the payload's key up for the requested role.
func (s *KeyStore) Authenticate(ctx context.Context, payload json.RawMessage) (bool, error) {
	key := field(payload, "key")
	if key == "" {
		return false, nil
	}

	var ok bool
	if err := s.db.QueryRow(ctx, keyQuery, HashKey(key), field(payload, "role")).Scan(&ok); err != nil {
		return false, fmt.Errorf("lookup relay key: %w", err)
	}
	return ok, nil
}

// HashKey returns the stored form of a relay key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
