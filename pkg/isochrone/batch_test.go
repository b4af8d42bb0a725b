package isochrone

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careatlas/reachstat/internal/model"
)

func testLocations(n int) []model.Location {
	locs := make([]model.Location, n)
	for i := range locs {
		locs[i] = model.Location{
			ID:        string(rune('a'+i)) + "-hosp",
			Longitude: -86.0 - float64(i),
			Latitude:  33.0,
			Geocoded:  true,
		}
	}
	return locs
}

func TestFetchBatch_PartialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req isochroneRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		// The second location sits outside the routable network.
		if len(req.Locations) == 1 && req.Locations[0][0] == -87.0 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error": {"code": 3099, "message": "point not found within routable network"}}`)
			return
		}
		_, _ = io.WriteString(w, orsFixture)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	res, err := c.FetchBatch(context.Background(), testLocations(3), 2700)

	require.NoError(t, err)
	require.Len(t, res.Isochrones, 2)
	require.Len(t, res.Failed, 1)

	assert.Equal(t, "a-hosp", res.Isochrones[0].LocationID)
	assert.Equal(t, "c-hosp", res.Isochrones[1].LocationID)
	assert.Equal(t, "b-hosp", res.Failed[0].Location.ID)
	assert.ErrorContains(t, res.Failed[0].Err, "routable network")
}

func TestFetchBatch_AllCached(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("unexpected network call when every entry is cached")
	}))
	defer srv.Close()

	locs := testLocations(2)
	cache := newMemCache()
	for _, loc := range locs {
		cache.entries[cacheEntryKey(loc.ID, "driving-car", 2700)] = []byte(orsFixture)
	}

	c := newTestClient(srv.URL, WithCache(cache))
	res, err := c.FetchBatch(context.Background(), locs, 2700)

	require.NoError(t, err)
	require.Len(t, res.Isochrones, 2)
	assert.Empty(t, res.Failed)
	for _, iso := range res.Isochrones {
		assert.True(t, iso.FromCache)
	}
}

func TestFetchBatch_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		_, _ = io.WriteString(w, orsFixture)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, WithConcurrency(2))
	res, err := c.FetchBatch(context.Background(), testLocations(6), 2700)

	require.NoError(t, err)
	assert.Len(t, res.Isochrones, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetchBatch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, orsFixture)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := newTestClient(srv.URL)
	res, err := c.FetchBatch(ctx, testLocations(3), 2700)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestFetchBatch_Empty(t *testing.T) {
	c := newTestClient("http://unreachable.invalid")
	res, err := c.FetchBatch(context.Background(), nil, 2700)

	require.NoError(t, err)
	assert.Empty(t, res.Isochrones)
	assert.Empty(t, res.Failed)
}
