// Package census fetches population estimates from the Census Bureau
// data API. The coverage pipeline pulls ACS 5-year total population per
// block group and joins it against TIGER boundaries by GEOID.
package census

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/resilience"
)

const (
	defaultBaseURL = "https://api.census.gov"
	defaultDataset = "acs/acs5"
	defaultYear    = 2023

	// populationVariable is the ACS total population estimate.
	populationVariable = "B01003_001E"

	// Keyless access is capped at 500 requests per day, so the default
	// rate stays conservative even with a key configured.
	defaultRatePerSec = 2
	defaultBurst      = 1
)

// Client fetches block-group population counts.
type Client interface {
	// BlockGroupPopulation returns total population for every block
	// group in one state, keyed by 12-digit GEOID.
	BlockGroupPopulation(ctx context.Context, stateFIPS string) ([]coverage.PopulationRecord, error)

	// ForStates merges BlockGroupPopulation across several states.
	ForStates(ctx context.Context, stateFIPS []string) ([]coverage.PopulationRecord, error)
}

// Option configures the acsClient.
type Option func(*acsClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *acsClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *acsClient) {
		c.http = hc
	}
}

// WithDataset selects the dataset path, e.g. "acs/acs5" or "dec/pl".
func WithDataset(dataset string) Option {
	return func(c *acsClient) {
		if dataset != "" {
			c.dataset = dataset
		}
	}
}

// WithYear selects the estimate vintage.
func WithYear(year int) Option {
	return func(c *acsClient) {
		if year > 0 {
			c.year = year
		}
	}
}

// WithRateLimit adjusts the request rate limiter.
func WithRateLimit(rps float64) Option {
	return func(c *acsClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), defaultBurst)
	}
}

// WithRetry replaces the retry policy for API calls.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *acsClient) {
		c.retry = cfg
	}
}

// WithBreaker guards API calls with a circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *acsClient) {
		c.breaker = cb
	}
}

// acsClient implements Client against api.census.gov.
type acsClient struct {
	apiKey  string
	baseURL string
	dataset string
	year    int
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a Census data API client. The key may be empty for
// low-volume keyless access.
func NewClient(apiKey string, opts ...Option) Client {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("census-api", "fetch_population")

	c := &acsClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		dataset: defaultDataset,
		year:    defaultYear,
		http: &http.Client{
			Timeout: 120 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRatePerSec), defaultBurst),
		retry:   retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
