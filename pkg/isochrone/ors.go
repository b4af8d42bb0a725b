package isochrone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rotisserie/eris"

	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/internal/resilience"
)

// isochroneRequest is the body for POST /v2/isochrones/{profile}.
// Locations are [longitude, latitude] pairs and ranges are in seconds.
type isochroneRequest struct {
	Locations [][]float64 `json:"locations"`
	Range     []int       `json:"range"`
	RangeType string      `json:"range_type,omitempty"`
}

// APIError is returned when the isochrone provider responds with a
// non-2xx status. The body carries the provider's error message, which
// distinguishes routable-network failures from rate limiting.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openrouteservice: HTTP %d: %s", e.StatusCode, e.Body)
}

// requestIsochrone performs one POST against the isochrones endpoint
// and returns the raw GeoJSON body. Retryable statuses come back
// wrapped as transient so the retry policy picks them up.
func (c *orsClient) requestIsochrone(ctx context.Context, loc model.Location, rangeSeconds int) ([]byte, error) {
	body := isochroneRequest{
		Locations: [][]float64{{loc.Longitude, loc.Latitude}},
		Range:     []int{rangeSeconds},
		RangeType: "time",
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: marshal request")
	}

	url := fmt.Sprintf("%s/v2/isochrones/%s", c.baseURL, c.profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "isochrone: read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	return data, nil
}
