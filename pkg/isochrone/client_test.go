package isochrone

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memCache is an in-memory Cache for tests.
type memCache struct {
	entries map[string][]byte
	getErr  error
	puts    int
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]byte{}}
}

func cacheEntryKey(locationID, profile string, rangeSeconds int) string {
	return fmt.Sprintf("%s|%s|%d", locationID, profile, rangeSeconds)
}

func (m *memCache) GetIsochrone(_ context.Context, locationID, profile string, rangeSeconds int) ([]byte, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	raw, ok := m.entries[cacheEntryKey(locationID, profile, rangeSeconds)]
	return raw, ok, nil
}

func (m *memCache) PutIsochrone(_ context.Context, locationID, profile string, rangeSeconds int, geojson []byte) error {
	m.puts++
	m.entries[cacheEntryKey(locationID, profile, rangeSeconds)] = geojson
	return nil
}

func TestFetch_CacheHitSkipsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected network call on cache hit")
	}))
	defer srv.Close()

	cache := newMemCache()
	cache.entries[cacheEntryKey("hosp-1", "driving-car", 2700)] = []byte(orsFixture)

	c := newTestClient(srv.URL, WithCache(cache))
	iso, err := c.Fetch(context.Background(), testLocation(), 2700)

	require.NoError(t, err)
	assert.True(t, iso.FromCache)
	assert.Equal(t, orsFixture, string(iso.GeoJSON))
	assert.NotNil(t, iso.Geom)
	assert.Zero(t, cache.puts)
}

func TestFetch_CacheMissStoresResponse(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, orsFixture)
	}))
	defer srv.Close()

	cache := newMemCache()
	c := newTestClient(srv.URL, WithCache(cache))
	iso, err := c.Fetch(context.Background(), testLocation(), 2700)

	require.NoError(t, err)
	assert.False(t, iso.FromCache)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, cache.puts)
	assert.Equal(t, orsFixture, string(cache.entries[cacheEntryKey("hosp-1", "driving-car", 2700)]))
}

func TestFetch_CorruptCacheEntryRefetched(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, orsFixture)
	}))
	defer srv.Close()

	cache := newMemCache()
	cache.entries[cacheEntryKey("hosp-1", "driving-car", 2700)] = []byte(`not geojson`)

	c := newTestClient(srv.URL, WithCache(cache))
	iso, err := c.Fetch(context.Background(), testLocation(), 2700)

	require.NoError(t, err)
	assert.False(t, iso.FromCache)
	assert.Equal(t, 1, calls)

	// The fresh response replaces the corrupt entry.
	assert.Equal(t, orsFixture, string(cache.entries[cacheEntryKey("hosp-1", "driving-car", 2700)]))
}

func TestFetch_CacheLookupErrorFallsThrough(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.WriteString(w, orsFixture)
	}))
	defer srv.Close()

	cache := newMemCache()
	cache.getErr = eris.New("connection refused")

	c := newTestClient(srv.URL, WithCache(cache))
	iso, err := c.Fetch(context.Background(), testLocation(), 2700)

	require.NoError(t, err)
	assert.False(t, iso.FromCache)
	assert.Equal(t, 1, calls)
}
