// Package isochrone fetches drive-time polygons from an
// openrouteservice-compatible API. Responses are cached as raw GeoJSON
// keyed by location, travel profile, and range so repeated runs against
// the same facility roster do not re-query the upstream.
package isochrone

import (
	"context"
	"net/http"
	"time"

	"github.com/ctessum/geom"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/resilience"
)

const (
	// Default base URL for the public openrouteservice API.
	defaultBaseURL = "https://api.openrouteservice.org"

	// Default travel profile. Stroke-center coverage uses car travel.
	defaultProfile = "driving-car"

	// The public API allows 20 isochrone requests per minute.
	defaultRatePerSec = 0.33
	defaultBurst      = 1

	defaultConcurrency = 4
)

// Client fetches drive-time isochrones for facility locations.
type Client interface {
	// Fetch returns the isochrone polygon reachable from loc within
	// rangeSeconds of travel, consulting the cache first.
	Fetch(ctx context.Context, loc model.Location, rangeSeconds int) (*Isochrone, error)

	// FetchBatch fetches isochrones for all locations concurrently.
	// Individual failures never abort the batch; they are collected in
	// the result alongside the successes.
	FetchBatch(ctx context.Context, locs []model.Location, rangeSeconds int) (*BatchResult, error)
}

// Cache stores raw isochrone GeoJSON between runs. Implementations
// decide the TTL policy; a stale or missing entry reports ok=false.
type Cache interface {
	GetIsochrone(ctx context.Context, locationID, profile string, rangeSeconds int) (geojson []byte, ok bool, err error)
	PutIsochrone(ctx context.Context, locationID, profile string, rangeSeconds int, geojson []byte) error
}

// Isochrone is one fetched drive-time polygon.
type Isochrone struct {
	LocationID   string
	Profile      string
	RangeSeconds int
	FromCache    bool

	// GeoJSON is the raw FeatureCollection as returned by the
	// provider, suitable for caching and map export.
	GeoJSON []byte

	// Geom is the parsed polygon in WGS84 coordinates.
	Geom geom.Polygonal
}

// Region converts the isochrone into the coverage pipeline's
// reachability region type.
func (iso *Isochrone) Region() coverage.ReachabilityRegion {
	return coverage.ReachabilityRegion{
		LocationID: iso.LocationID,
		Minutes:    iso.RangeSeconds / 60,
		Geom:       iso.Geom,
	}
}

// FailedFetch records one location whose isochrone could not be
// fetched, with the terminal error after retries.
type FailedFetch struct {
	Location model.Location
	Err      error
}

// BatchResult holds the outcome of a FetchBatch call. Both slices are
// sorted by location ID.
type BatchResult struct {
	Isochrones []Isochrone
	Failed     []FailedFetch
}

// Option configures the orsClient.
type Option func(*orsClient)

// WithBaseURL overrides the default API base URL, e.g. for a
// self-hosted openrouteservice instance.
func WithBaseURL(url string) Option {
	return func(c *orsClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *orsClient) {
		c.http = hc
	}
}

// WithProfile sets the travel profile (driving-car, cycling-regular, ...).
func WithProfile(profile string) Option {
	return func(c *orsClient) {
		c.profile = profile
	}
}

// WithRateLimit adjusts the request rate limiter. Self-hosted
// instances can run far above the public API's allowance.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *orsClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetry replaces the retry policy for upstream calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *orsClient) {
		c.retry = cfg
	}
}

// WithBreaker guards upstream calls with a circuit breaker. A tripped
// breaker fails fast without consuming retry attempts.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *orsClient) {
		c.breaker = cb
	}
}

// WithCache enables the GeoJSON response cache.
func WithCache(cache Cache) Option {
	return func(c *orsClient) {
		c.cache = cache
	}
}

// WithConcurrency caps the number of in-flight requests in FetchBatch.
func WithConcurrency(n int) Option {
	return func(c *orsClient) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// orsClient implements Client against the openrouteservice API.
type orsClient struct {
	apiKey      string
	baseURL     string
	profile     string
	http        *http.Client
	limiter     *rate.Limiter
	retry       resilience.RetryConfig
	breaker     *resilience.CircuitBreaker
	cache       Cache
	concurrency int
}

// NewClient creates an openrouteservice isochrone client.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("openrouteservice", "fetch_isochrone")

	c := &orsClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		profile: defaultProfile,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:     rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultBurst),
		retry:       retry,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *orsClient) Fetch(ctx context.Context, loc model.Location, rangeSeconds int) (*Isochrone, error) {
	if !loc.HasCoordinates() {
		return nil, eris.Errorf("isochrone: location %s has no coordinates", loc.ID)
	}
	if rangeSeconds <= 0 {
		return nil, eris.Errorf("isochrone: invalid range %d seconds", rangeSeconds)
	}

	if c.cache != nil {
		raw, ok, err := c.cache.GetIsochrone(ctx, loc.ID, c.profile, rangeSeconds)
		if err != nil {
			zap.L().Warn("isochrone: cache lookup failed",
				zap.String("location_id", loc.ID),
				zap.Error(err),
			)
		} else if ok {
			g, perr := ParseFeatureCollection(raw)
			if perr == nil {
				return &Isochrone{
					LocationID:   loc.ID,
					Profile:      c.profile,
					RangeSeconds: rangeSeconds,
					FromCache:    true,
					GeoJSON:      raw,
					Geom:         g,
				}, nil
			}
			zap.L().Warn("isochrone: cached entry unreadable, refetching",
				zap.String("location_id", loc.ID),
				zap.Error(perr),
			)
		}
	}

	raw, err := c.fetchRemote(ctx, loc, rangeSeconds)
	if err != nil {
		return nil, err
	}
	g, err := ParseFeatureCollection(raw)
	if err != nil {
		return nil, eris.Wrapf(err, "isochrone: response for location %s", loc.ID)
	}

	if c.cache != nil {
		if err := c.cache.PutIsochrone(ctx, loc.ID, c.profile, rangeSeconds, raw); err != nil {
			zap.L().Warn("isochrone: cache store failed",
				zap.String("location_id", loc.ID),
				zap.Error(err),
			)
		}
	}

	return &Isochrone{
		LocationID:   loc.ID,
		Profile:      c.profile,
		RangeSeconds: rangeSeconds,
		GeoJSON:      raw,
		Geom:         g,
	}, nil
}

// fetchRemote runs the upstream call under the retry policy, with the
// circuit breaker innermost so a tripped breaker surfaces as a
// non-transient error and stops the retry loop immediately.
func (c *orsClient) fetchRemote(ctx context.Context, loc model.Location, rangeSeconds int) ([]byte, error) {
	call := func(ctx context.Context) ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "isochrone: rate limiter")
		}
		return c.requestIsochrone(ctx, loc, rangeSeconds)
	}
	if c.breaker != nil {
		inner := call
		call = func(ctx context.Context) ([]byte, error) {
			return resilience.ExecuteVal(ctx, c.breaker, inner)
		}
	}
	return resilience.DoVal(ctx, c.retry, call)
}
