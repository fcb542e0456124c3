package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCacheEntry returns the payload stored under key if it has not expired.
// Expired entries are treated as absent.
func (db *DB) GetCacheEntry(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	var expiresAt time.Time
	err := db.queryRow(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE cache_key = $1`, key,
	).Scan(&payload, &expiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get cache entry: %w", err)
	}
	if time.Now().UTC().After(expiresAt) {
		return nil, ErrNotFound
	}
	return payload, nil
}

// PutCacheEntry stores payload under key with the given TTL, replacing any
// existing entry.
func (db *DB) PutCacheEntry(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	return db.withTx(ctx, func(tx *Tx) error {
		if _, err := tx.exec(ctx,
			`DELETE FROM cache_entries WHERE cache_key = $1`, key); err != nil {
			return fmt.Errorf("storage: clear cache entry: %w", err)
		}
		if _, err := tx.exec(ctx,
			`INSERT INTO cache_entries (cache_key, payload, created_at, expires_at)
			 VALUES ($1, $2, $3, $4)`,
			key, payload, now, now.Add(ttl)); err != nil {
			return fmt.Errorf("storage: put cache entry: %w", err)
		}
		return nil
	})
}

// PurgeExpiredCache removes entries past their expiry and returns the count.
func (db *DB) PurgeExpiredCache(ctx context.Context) (int64, error) {
	res, err := db.exec(ctx,
		`DELETE FROM cache_entries WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("storage: purge cache: %w", err)
	}
	return res.RowsAffected()
}
