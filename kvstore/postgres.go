package kvstore

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/erlorenz/pgsession/session"
	"github.com/erlorenz/pgsession/sqlbuilder"
)

// PostgresStore is a key-value store built directly on top of a
// session.Session rather than a raw pool connection: every read and write
// is a Submit call, and Update strings several submissions
// together across one session-managed transaction (BEGIN is issued
// automatically by the session the moment the first statement finds the
// connection IDLE; Update issues its own COMMIT/ROLLBACK as plain SQL).
// It uses FNV-1a hashing for fast lookups with a BIGINT primary key,
// storing the actual key for collision detection. Values can be stored as
// JSONB (default) or BYTEA (for encryption or binary data).
type PostgresStore struct {
	sess      *session.Session
	tableName string
	schema    string
	format    string // "JSONB" or "BYTEA"
	unlogged  bool
	keyIndex  bool
	encryptor Encryptor

	cleanupDone  chan struct{}
	cleanupClose chan struct{}
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithTableName sets the table name for the store.
// Default: auto-generated based on configuration.
func WithTableName(name string) PostgresOption {
	return func(s *PostgresStore) { s.tableName = name }
}

// WithSchema sets the PostgreSQL schema for the table. Default: "public".
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) { s.schema = schema }
}

// WithFormat sets the storage format for values: "JSONB" (default) or
// "BYTEA".
func WithFormat(format string) PostgresOption {
	return func(s *PostgresStore) { s.format = format }
}

// WithEncryption enables encryption for all values using the provided
// Encryptor, defaulting the format to BYTEA unless WithFormat overrides it.
func WithEncryption(encryptor Encryptor) PostgresOption {
	return func(s *PostgresStore) {
		s.encryptor = encryptor
		if s.format == "" {
			s.format = "BYTEA"
		}
	}
}

// WithUnlogged creates an UNLOGGED table for better write throughput, at the
// cost of losing all data on a crash. Default: false.
func WithUnlogged(unlogged bool) PostgresOption {
	return func(s *PostgresStore) { s.unlogged = unlogged }
}

// WithKeyIndex creates an index on the key column for fast prefix searches.
// Default: false.
func WithKeyIndex(enabled bool) PostgresOption {
	return func(s *PostgresStore) { s.keyIndex = enabled }
}

// WithCleanup enables automatic cleanup of expired entries at interval.
func WithCleanup(interval time.Duration) PostgresOption {
	return func(s *PostgresStore) {
		if interval > 0 {
			go s.cleanupLoop(interval)
		}
	}
}

// NewPostgresStore creates a store backed by sess. The table must be
// created using CreateTable() before use.
func NewPostgresStore(sess *session.Session, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{
		sess:         sess,
		schema:       "public",
		cleanupClose: make(chan struct{}),
		cleanupDone:  make(chan struct{}),
	}
	close(s.cleanupDone)

	for _, opt := range opts {
		opt(s)
	}

	if s.format == "" {
		s.format = "JSONB"
	}

	if s.tableName == "" {
		s.tableName = s.defaultTableName()
	}

	return s
}

func (s *PostgresStore) defaultTableName() string {
	base := "kv_store"
	if s.encryptor != nil {
		base = "kv_store_encrypted"
	}
	if s.unlogged {
		base += "_unlogged"
	}
	return base
}

// CreateTable creates the key-value table with TTL support, via sqlbuilder.
func (s *PostgresStore) CreateTable(ctx context.Context) error {
	valueType := s.format
	if valueType == "" {
		valueType = "JSONB"
	}

	create := sqlbuilder.CreateTable{
		Schema:   s.schema,
		Table:    s.tableName,
		Unlogged: s.unlogged,
		Columns: []sqlbuilder.Column{
			{Name: "key_hash", Type: "BIGINT", PrimaryKey: true},
			{Name: "key", Type: "TEXT", NotNull: true},
			{Name: "value", Type: valueType, NotNull: true},
			{Name: "expires_at", Type: "TIMESTAMPTZ"},
			{Name: "updated_at", Type: "TIMESTAMPTZ", NotNull: true, Default: "NOW()"},
		},
	}
	if err := s.exec(ctx, create.SQL()); err != nil {
		return err
	}

	expiresIdx := sqlbuilder.CreateIndex{
		Name:      s.tableName + "_expires_idx",
		Schema:    s.schema,
		Table:     s.tableName,
		Column:    "expires_at",
		Predicate: "expires_at IS NOT NULL",
	}
	if err := s.exec(ctx, expiresIdx.SQL()); err != nil {
		return err
	}

	if s.keyIndex {
		keyIdx := sqlbuilder.CreateIndex{
			Name:    s.tableName + "_key_idx",
			Schema:  s.schema,
			Table:   s.tableName,
			Column:  "key",
			OpClass: "text_pattern_ops",
		}
		if err := s.exec(ctx, keyIdx.SQL()); err != nil {
			return err
		}
	}

	return nil
}

// exec runs sql for its side effects only, discarding any rows.
func (s *PostgresStore) exec(ctx context.Context, sql string, params ...any) error {
	return s.sess.Submit(sql, params...).Collect(func(session.ResultEvent) {})
}

func (s *PostgresStore) fullTableName() string {
	return pgx.Identifier{s.schema, s.tableName}.Sanitize()
}

// hashKey creates a deterministic 64-bit hash from a key string using
// FNV-1a.
func hashKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

// Get retrieves a value by key. Returns ErrNotFound if the key doesn't
// exist or has expired. Decrypts the value if encryption is enabled.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key_hash = $1
		AND key = $2
		AND (expires_at IS NULL OR expires_at > NOW())
	`, s.fullTableName())

	var data []byte
	var found bool
	err := s.sess.Submit(query, hashKey(key), key).Collect(func(ev session.ResultEvent) {
		if ev.DataRow != nil {
			found = true
			data, _ = ev.DataRow.Values[0].([]byte)
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}

	if s.encryptor != nil {
		return s.encryptor.Decrypt(ctx, data)
	}
	return data, nil
}

// Set stores a value with the given key. If ttl is 0, the value never
// expires. Encrypts the value if encryption is enabled.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	dataToStore := value
	if s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(ctx, value)
		if err != nil {
			return fmt.Errorf("encryption failed: %w", err)
		}
		dataToStore = encrypted
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key_hash, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key_hash)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, s.fullTableName())

	return s.exec(ctx, query, hashKey(key), key, dataToStore, expiresAt)
}

// SetMany stores multiple key-value pairs with the same TTL in a single
// round trip.
func (s *PostgresStore) SetMany(ctx context.Context, items map[string][]byte, ttl time.Duration) error {
	if len(items) == 0 {
		return nil
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	args := make([]any, 0, len(items)*4)
	valueStrings := make([]string, 0, len(items))
	paramIdx := 1

	for key, value := range items {
		dataToStore := value
		if s.encryptor != nil {
			encrypted, err := s.encryptor.Encrypt(ctx, value)
			if err != nil {
				return fmt.Errorf("encryption failed for key %s: %w", key, err)
			}
			dataToStore = encrypted
		}

		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, NOW())",
			paramIdx, paramIdx+1, paramIdx+2, paramIdx+3))
		args = append(args, hashKey(key), key, dataToStore, expiresAt)
		paramIdx += 4
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (key_hash, key, value, expires_at, updated_at)
		VALUES %s
		ON CONFLICT (key_hash)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, s.fullTableName(), strings.Join(valueStrings, ", "))

	return s.exec(ctx, query, args...)
}

// Update atomically reads, modifies, and writes a value, using SELECT FOR
// UPDATE to lock the row for the lifetime of the session-managed
// transaction. fn's error aborts the update with an explicit ROLLBACK; any
// submission error does the same.
func (s *PostgresStore) Update(ctx context.Context, key string, ttl time.Duration, fn func(current []byte) ([]byte, error)) error {
	keyHash := hashKey(key)

	selectQuery := fmt.Sprintf(`
		SELECT value FROM %s
		WHERE key_hash = $1
		AND key = $2
		AND (expires_at IS NULL OR expires_at > NOW())
		FOR UPDATE
	`, s.fullTableName())

	var storedValue []byte
	var found bool
	err := s.sess.Submit(selectQuery, keyHash, key).Collect(func(ev session.ResultEvent) {
		if ev.DataRow != nil {
			found = true
			storedValue, _ = ev.DataRow.Values[0].([]byte)
		}
	})
	if err != nil {
		s.rollback(ctx)
		return err
	}

	var current []byte
	if found && s.encryptor != nil {
		current, err = s.encryptor.Decrypt(ctx, storedValue)
		if err != nil {
			s.rollback(ctx)
			return fmt.Errorf("decryption failed: %w", err)
		}
	} else if found {
		current = storedValue
	}

	newValue, err := fn(current)
	if err != nil {
		s.rollback(ctx)
		return err
	}

	dataToStore := newValue
	if s.encryptor != nil {
		encrypted, err := s.encryptor.Encrypt(ctx, newValue)
		if err != nil {
			s.rollback(ctx)
			return fmt.Errorf("encryption failed: %w", err)
		}
		dataToStore = encrypted
	}

	var expiresAt any
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	upsertQuery := fmt.Sprintf(`
		INSERT INTO %s (key_hash, key, value, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (key_hash)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()
	`, s.fullTableName())

	if err := s.exec(ctx, upsertQuery, keyHash, key, dataToStore, expiresAt); err != nil {
		s.rollback(ctx)
		return err
	}

	return s.exec(ctx, "COMMIT")
}

// rollback issues a best-effort ROLLBACK; its own error is swallowed since
// the caller already has the original failure to report.
func (s *PostgresStore) rollback(ctx context.Context) {
	_ = s.exec(ctx, "ROLLBACK")
}

// Delete removes a value by key. Returns nil if the key doesn't exist.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key_hash = $1 AND key = $2`, s.fullTableName())
	return s.exec(ctx, query, hashKey(key), key)
}

// Keys returns all keys matching the given prefix. If prefix is empty,
// returns all keys (excluding expired entries).
func (s *PostgresStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var query string
	var args []any

	if prefix == "" {
		query = fmt.Sprintf(`
			SELECT key FROM %s
			WHERE expires_at IS NULL OR expires_at > NOW()
			ORDER BY key
		`, s.fullTableName())
	} else {
		query = fmt.Sprintf(`
			SELECT key FROM %s
			WHERE key LIKE $1 || '%%'
			AND (expires_at IS NULL OR expires_at > NOW())
			ORDER BY key
		`, s.fullTableName())
		args = append(args, prefix)
	}

	keys := make([]string, 0)
	err := s.sess.Submit(query, args...).Collect(func(ev session.ResultEvent) {
		if ev.DataRow != nil {
			if k, ok := ev.DataRow.Values[0].(string); ok {
				keys = append(keys, k)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Cleanup removes expired entries from the store and returns the number
// deleted.
func (s *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE expires_at IS NOT NULL AND expires_at <= NOW()
	`, s.fullTableName())

	var deleted int64
	err := s.sess.Submit(query).Collect(func(ev session.ResultEvent) {
		if ev.CommandStatus != nil {
			deleted = ev.CommandStatus.UpdateCount
		}
	})
	return deleted, err
}

// cleanupLoop runs cleanup at the specified interval.
func (s *PostgresStore) cleanupLoop(interval time.Duration) {
	s.cleanupDone = make(chan struct{})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(s.cleanupDone)

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.Cleanup(ctx)
			cancel()
		case <-s.cleanupClose:
			return
		}
	}
}

// Close stops any background cleanup goroutine and closes the underlying
// session. Note: it does not close any shared pool the session came from.
func (s *PostgresStore) Close() error {
	close(s.cleanupClose)
	<-s.cleanupDone
	s.sess.Close()
	return nil
}
