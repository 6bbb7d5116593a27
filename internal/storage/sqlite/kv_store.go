package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/studyloop/internal/cache"
)

// KVStore implements cache.Cache on the cache_entries table.
type KVStore struct {
	db  *DB
	now func() time.Time
}

// NewKVStore creates a SQLite-backed cache.
func NewKVStore(db *DB) *KVStore {
	return &KVStore{db: db, now: time.Now}
}

func (s *KVStore) Get(key cache.Key, v any) error {
	var raw string
	err := s.db.QueryRow(
		"SELECT value FROM cache_entries WHERE kind = ? AND id = ?", key.Kind, key.ID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.ErrMiss
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("%w: %s: %v", cache.ErrCorrupt, key, err)
	}
	return nil
}

func (s *KVStore) Put(key cache.Key, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO cache_entries (kind, id, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			value=excluded.value, updated_at=excluded.updated_at`,
		key.Kind, key.ID, string(raw), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(key cache.Key) error {
	result, err := s.db.Exec("DELETE FROM cache_entries WHERE kind = ? AND id = ?", key.Kind, key.ID)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return cache.ErrMiss
	}
	return nil
}

// putRaw writes an undecoded value. Tests use it to plant corrupt entries.
func (s *KVStore) putRaw(key cache.Key, raw string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO cache_entries (kind, id, value, updated_at) VALUES (?, ?, ?, ?)",
		key.Kind, key.ID, raw, s.now().UTC(),
	)
	return err
}

var _ cache.Cache = (*KVStore)(nil)
