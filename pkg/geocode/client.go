// Package geocode resolves facility addresses to coordinates through the
// Census Bureau geocoder, and coordinates to state and county FIPS through
// its geographies endpoint.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/careatlas/reachstat/internal/db"
)

const (
	defaultBaseURL   = "https://geocoding.geo.census.gov"
	defaultBenchmark = "Public_AR_Current"
	defaultVintage   = "Current_Current"

	onelinePath = "/geocoder/locations/onelineaddress"
	batchPath   = "/geocoder/locations/addressbatch"
	reversePath = "/geocoder/geographies/coordinates"
)

// Client geocodes facility addresses and reverse-resolves coordinates to
// Census geography identifiers.
type Client interface {
	// Geocode geocodes a single address.
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)

	// BatchGeocode geocodes multiple addresses, preserving input order.
	BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error)

	// ReverseGeocode resolves a lon/lat to state and county FIPS.
	ReverseGeocode(ctx context.Context, lon, lat float64) (*ReverseResult, error)
}

// AddressInput represents an address to geocode.
type AddressInput struct {
	ID      string // Optional identifier for batch correlation
	Street  string
	City    string
	State   string
	ZipCode string
}

// Result holds the geocoding output for an address.
type Result struct {
	Latitude  float64
	Longitude float64
	Quality   string // "rooftop" (exact) or "range" (interpolated)
	Matched   bool
	Source    string // "census" or "cache"
}

// ReverseResult identifies the Census geography containing a point.
type ReverseResult struct {
	StateFIPS  string
	StateAbbr  string
	StateName  string
	CountyFIPS string // 5-digit state+county
	CountyName string
}

// Option configures the geocoder.
type Option func(*client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the geocoder host, mostly for tests.
func WithBaseURL(u string) Option {
	return func(c *client) {
		c.baseURL = u
	}
}

// WithBenchmark sets the Census benchmark dataset.
func WithBenchmark(b string) Option {
	return func(c *client) {
		if b != "" {
			c.benchmark = b
		}
	}
}

// WithVintage sets the geography vintage used for reverse lookups.
func WithVintage(v string) Option {
	return func(c *client) {
		if v != "" {
			c.vintage = v
		}
	}
}

// WithRateLimit sets the requests-per-second limit for geocoder calls.
func WithRateLimit(rps float64) Option {
	return func(c *client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps))
		}
	}
}

// WithCache enables the PostGIS-backed address cache. Hits, including
// negative ones, skip the network entirely; ttlDays <= 0 means entries
// never expire.
func WithCache(pool db.Pool, ttlDays int) Option {
	return func(c *client) {
		c.pool = pool
		c.cacheTTLDays = ttlDays
	}
}

type client struct {
	httpClient   *http.Client
	baseURL      string
	benchmark    string
	vintage      string
	limiter      *rate.Limiter
	pool         db.Pool
	cacheTTLDays int
}

// NewClient creates a Census geocoding Client with the given options.
func NewClient(opts ...Option) Client {
	c := &client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		benchmark:  defaultBenchmark,
		vintage:    defaultVintage,
		limiter:    rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Geocode geocodes a single address, consulting the cache first. A cached
// non-match short-circuits without a network call. No match is not an
// error; the result comes back with Matched=false.
func (c *client) Geocode(ctx context.Context, addr AddressInput) (*Result, error) {
	oneLine := formatOneLine(addr)
	if oneLine == "" {
		return &Result{Matched: false, Source: "census"}, nil
	}

	key := cacheKey(addr)
	if c.pool != nil {
		cached, err := c.checkCache(ctx, key)
		if err == nil && cached != nil {
			return cached, nil
		}
	}

	result, err := c.geocodeOneline(ctx, oneLine)
	if err != nil {
		return nil, err
	}

	if c.pool != nil {
		if err := c.storeCache(ctx, key, result); err != nil {
			zap.L().Warn("geocode: cache store failed", zap.Error(err))
		}
	}
	return result, nil
}

// BatchGeocode geocodes addresses through the Census batch endpoint. Cached
// addresses never reach the network; if the batch endpoint fails, the
// remaining addresses fall back to one-by-one geocoding.
func (c *client) BatchGeocode(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if len(addrs) == 0 {
		return nil, nil
	}

	// Assign IDs for batch correlation if not set.
	for i := range addrs {
		if addrs[i].ID == "" {
			addrs[i].ID = fmt.Sprintf("%d", i)
		}
	}

	results := make([]Result, len(addrs))
	var misses []AddressInput
	missIdx := make(map[string]int, len(addrs))

	for i, addr := range addrs {
		if c.pool != nil {
			cached, err := c.checkCache(ctx, cacheKey(addr))
			if err == nil && cached != nil {
				results[i] = *cached
				continue
			}
		}
		misses = append(misses, addr)
		missIdx[addr.ID] = i
	}

	if len(misses) == 0 {
		return results, nil
	}

	batchResults, err := c.batchGeocodeCensus(ctx, misses)
	if err != nil {
		zap.L().Warn("geocode: batch endpoint failed, falling back to single requests",
			zap.Int("addresses", len(misses)),
			zap.Error(err),
		)
		for _, addr := range misses {
			r, gcErr := c.Geocode(ctx, addr)
			if gcErr != nil {
				zap.L().Warn("geocode: address failed",
					zap.String("id", addr.ID),
					zap.Error(gcErr),
				)
				results[missIdx[addr.ID]] = Result{Matched: false, Source: "census"}
				continue
			}
			results[missIdx[addr.ID]] = *r
		}
		return results, nil
	}

	for i, r := range batchResults {
		idx := missIdx[misses[i].ID]
		results[idx] = r
		if c.pool != nil {
			if err := c.storeCache(ctx, cacheKey(misses[i]), &r); err != nil {
				zap.L().Warn("geocode: cache store failed", zap.Error(err))
			}
		}
	}
	return results, nil
}
