// Package cache provides a content-addressed response cache for external
// data sources and LLM calls. Keys are derived from the canonical JSON of
// the request parameters, so identical requests share one entry, and
// concurrent fetches for the same key are collapsed with singleflight.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/threatveil/threatveil/internal/storage"
)

// Default TTLs per namespace.
const (
	TTLExternal = 24 * time.Hour
	TTLLLM      = 12 * time.Hour
)

// Cache wraps the storage-backed entry table with key derivation and
// fetch deduplication.
type Cache struct {
	db     *storage.DB
	group  singleflight.Group
	logger *slog.Logger
}

// New creates a Cache over the given storage layer.
func New(db *storage.DB, logger *slog.Logger) *Cache {
	return &Cache{db: db, logger: logger}
}

// Key derives a deterministic cache key from a namespace and the request
// parameters. Params are serialized as canonical JSON (sorted keys) and
// hashed; the first 24 hex chars keep keys short but collision-safe.
func Key(namespace string, params map[string]any) string {
	canonical := canonicalJSON(params)
	sum := sha256.Sum256([]byte(canonical))
	return namespace + ":" + hex.EncodeToString(sum[:])[:24]
}

// canonicalJSON renders params with sorted keys at every level. json.Marshal
// already sorts map keys, so marshaling the map directly is canonical as
// long as nested values are maps, slices, and scalars.
func canonicalJSON(params map[string]any) string {
	if params == nil {
		params = map[string]any{}
	}
	b, err := json.Marshal(params)
	if err != nil {
		// Fall back to a stable rendering of the keys. Unmarshalable values
		// in cache params indicate a programming error, not user input.
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return strings.Join(keys, ",")
	}
	return string(b)
}

// GetOrFetch returns the cached payload for key, or runs fetch exactly once
// across concurrent callers, stores the result with the given TTL, and
// returns it. Cache read/write failures degrade to a direct fetch; a probe
// must never fail because the cache did.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	if payload, err := c.db.GetCacheEntry(ctx, key); err == nil {
		return payload, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		c.logger.Warn("cache read failed, fetching directly", "key", key, "error", err)
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight lock: another caller may have just
		// populated the entry.
		if payload, err := c.db.GetCacheEntry(ctx, key); err == nil {
			return payload, nil
		}
		payload, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.db.PutCacheEntry(ctx, key, payload, ttl); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
		return payload, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache: fetch %s: %w", key, err)
	}
	return v.([]byte), nil
}

// GetOrFetchJSON is GetOrFetch for JSON-shaped values: out is filled from
// the cached payload or from the marshaled result of fetch.
func GetOrFetchJSON[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fetch func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	payload, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return zero, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, nil
}
