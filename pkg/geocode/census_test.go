package geocode

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// newTestClient builds a client pointed at a test server with no rate limit.
func newTestClient(baseURL string, opts ...Option) *client {
	c := NewClient(append([]Option{WithBaseURL(baseURL)}, opts...)...).(*client)
	c.limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

func TestGeocodeOneline_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, onelinePath, r.URL.Path)
		assert.Equal(t, "Public_AR_Current", r.URL.Query().Get("benchmark"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"result": {
				"addressMatches": [{
					"coordinates": {"x": -86.8025, "y": 33.5050},
					"matchedAddress": "1802 6TH AVE S, BIRMINGHAM, AL, 35233"
				}]
			}
		}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Geocode(context.Background(), AddressInput{
		Street: "1802 6th Ave S", City: "Birmingham", State: "AL", ZipCode: "35233",
	})

	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.InDelta(t, 33.5050, result.Latitude, 0.0001)
	assert.InDelta(t, -86.8025, result.Longitude, 0.0001)
	assert.Equal(t, "census", result.Source)
	assert.Equal(t, "rooftop", result.Quality)
}

func TestGeocodeOneline_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"result": {"addressMatches": []}}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	result, err := c.Geocode(context.Background(), AddressInput{
		Street: "123 Nowhere St", City: "Faketown", State: "XX", ZipCode: "00000",
	})

	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, "census", result.Source)
}

func TestGeocodeOneline_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Geocode(context.Background(), AddressInput{Street: "1802 6th Ave S", City: "Birmingham", State: "AL"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestBatchGeocode_MixedResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, batchPath, r.URL.Path)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, `"0","1802 6th Ave S, Birmingham, AL, 35233","Match","Exact","1802 6TH AVE S, BIRMINGHAM, AL, 35233","-86.8025,33.5050","635050","L"
"1","123 Nowhere St, Faketown, XX, 00000","No_Match"`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	results, err := c.BatchGeocode(context.Background(), []AddressInput{
		{ID: "0", Street: "1802 6th Ave S", City: "Birmingham", State: "AL", ZipCode: "35233"},
		{ID: "1", Street: "123 Nowhere St", City: "Faketown", State: "XX", ZipCode: "00000"},
	})

	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Matched)
	assert.InDelta(t, 33.5050, results[0].Latitude, 0.0001)
	assert.InDelta(t, -86.8025, results[0].Longitude, 0.0001)
	assert.Equal(t, "rooftop", results[0].Quality)

	assert.False(t, results[1].Matched)
}

func TestBatchGeocode_FallsBackToSingleOnBatchError(t *testing.T) {
	var onelineCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case batchPath:
			w.WriteHeader(http.StatusServiceUnavailable)
		case onelinePath:
			onelineCalls++
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{
				"result": {
					"addressMatches": [{"coordinates": {"x": -84.3733, "y": 33.7490}}]
				}
			}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	results, err := c.BatchGeocode(context.Background(), []AddressInput{
		{Street: "80 Jesse Hill Jr Dr SE", City: "Atlanta", State: "GA"},
		{Street: "550 Peachtree St NE", City: "Atlanta", State: "GA"},
	})

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, onelineCalls)
	assert.True(t, results[0].Matched)
	assert.True(t, results[1].Matched)
}

func TestBatchGeocode_Empty(t *testing.T) {
	c := NewClient().(*client)
	results, err := c.BatchGeocode(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
}

func TestParseCensusBatchResponse(t *testing.T) {
	body := `"0","input addr","Match","Non_Exact","matched","-73.9857,40.7484","999","R"
"1","input addr","No_Match"`

	idToIdx := map[string]int{"0": 0, "1": 1}
	results, err := parseCensusBatchResponse(body, idToIdx, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.True(t, results[0].Matched)
	assert.Equal(t, "range", results[0].Quality) // Non_Exact -> range
	assert.InDelta(t, 40.7484, results[0].Latitude, 0.0001)
	assert.InDelta(t, -73.9857, results[0].Longitude, 0.0001)

	assert.False(t, results[1].Matched)
}

func TestFormatOneLine(t *testing.T) {
	tests := []struct {
		addr     AddressInput
		expected string
	}{
		{
			AddressInput{Street: "1802 6th Ave S", City: "Birmingham", State: "AL", ZipCode: "35233"},
			"1802 6th Ave S, Birmingham, AL, 35233",
		},
		{
			AddressInput{Street: "80 Jesse Hill Jr Dr SE", City: "Atlanta", State: "GA"},
			"80 Jesse Hill Jr Dr SE, Atlanta, GA",
		},
		{
			AddressInput{City: "Nashville", State: "TN", ZipCode: "37232"},
			"Nashville, TN, 37232",
		},
		{
			AddressInput{},
			"",
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatOneLine(tt.addr))
	}
}
