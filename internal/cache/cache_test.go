package cache_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatveil/threatveil/internal/cache"
	"github.com/threatveil/threatveil/internal/storage"
	"github.com/threatveil/threatveil/migrations"
)

func newCache(t *testing.T) *cache.Cache {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	db, err := storage.Open(ctx, "", ":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.RunMigrations(ctx, migrations.FS))
	return cache.New(db, logger)
}

func TestKeyDeterministic(t *testing.T) {
	k1 := cache.Key("nvd", map[string]any{"product": "nginx", "version": "1.25"})
	k2 := cache.Key("nvd", map[string]any{"version": "1.25", "product": "nginx"})
	assert.Equal(t, k1, k2)
	assert.True(t, len(k1) == len("nvd:")+24)

	k3 := cache.Key("nvd", map[string]any{"product": "nginx", "version": "1.26"})
	assert.NotEqual(t, k1, k3)

	k4 := cache.Key("otx", map[string]any{"product": "nginx", "version": "1.25"})
	assert.NotEqual(t, k1, k4)
}

func TestGetOrFetchCaches(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	key := cache.Key("test", map[string]any{"q": "a"})

	var calls atomic.Int32
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		return []byte(`{"ok":true}`), nil
	}

	got, err := c.GetOrFetch(ctx, key, time.Hour, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))

	got, err = c.GetOrFetch(ctx, key, time.Hour, fetch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrFetchError(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	key := cache.Key("test", map[string]any{"q": "fail"})

	wantErr := errors.New("upstream down")
	_, err := c.GetOrFetch(ctx, key, time.Hour, func(ctx context.Context) ([]byte, error) {
		return nil, wantErr
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)

	// Failures are not cached; the next fetch runs again and can succeed.
	got, err := c.GetOrFetch(ctx, key, time.Hour, func(ctx context.Context) ([]byte, error) {
		return []byte(`{}`), nil
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(got))
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	key := cache.Key("test", map[string]any{"q": "concurrent"})

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte(`{"n":1}`), nil
	}

	const workers = 8
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.GetOrFetch(ctx, key, time.Hour, fetch)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"n":1}`, string(got))
		}()
	}
	// Give the goroutines a moment to pile onto the same flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrFetchJSON(t *testing.T) {
	c := newCache(t)
	ctx := context.Background()
	key := cache.Key("test", map[string]any{"q": "typed"})

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	got, err := cache.GetOrFetchJSON(ctx, c, key, time.Hour, func(ctx context.Context) (payload, error) {
		return payload{Name: "x", Count: 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "x", Count: 3}, got)

	// Second read comes from the cache.
	got, err = cache.GetOrFetchJSON(ctx, c, key, time.Hour, func(ctx context.Context) (payload, error) {
		return payload{}, errors.New("should not be called")
	})
	require.NoError(t, err)
	assert.Equal(t, payload{Name: "x", Count: 3}, got)
}
