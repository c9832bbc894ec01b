// Package kvstore is a key-value store backed by a single session.Session:
// every read and write goes through Submit instead of a raw pool
// connection, so the table's transaction framing is whatever the owning
// session is already doing.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key is not found in the store.
var ErrNotFound = errors.New("key not found")

// Encryptor encrypts and decrypts values before they reach PostgresStore's
// JSONB/BYTEA column. Implementations must be safe for concurrent use.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}
