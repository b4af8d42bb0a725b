package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

// reverseGeography is one geography record in a geographies response. The
// layer keys vary by vintage ("States", "Counties", "2020 Census Blocks"),
// but these fields are stable across layers.
type reverseGeography struct {
	GEOID  string `json:"GEOID"`
	Name   string `json:"NAME"`
	State  string `json:"STATE"`
	County string `json:"COUNTY"`
	Stusab string `json:"STUSAB"`
}

type reverseResponse struct {
	Result struct {
		Geographies map[string][]reverseGeography `json:"geographies"`
	} `json:"result"`
}

// ReverseGeocode resolves a lon/lat to its containing state and county via
// the Census geographies endpoint. Points outside the United States return
// an error.
func (c *client) ReverseGeocode(ctx context.Context, lon, lat float64) (*ReverseResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: reverse rate limit")
	}

	params := url.Values{
		"x":         {strconv.FormatFloat(lon, 'f', -1, 64)},
		"y":         {strconv.FormatFloat(lat, 'f', -1, 64)},
		"benchmark": {c.benchmark},
		"vintage":   {c.vintage},
		"format":    {"json"},
	}

	reqURL := c.baseURL + reversePath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: reverse build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: reverse request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: reverse endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: reverse read body")
	}

	var revResp reverseResponse
	if err := json.Unmarshal(body, &revResp); err != nil {
		return nil, eris.Wrap(err, "geocode: reverse parse response")
	}

	states := revResp.Result.Geographies["States"]
	if len(states) == 0 {
		return nil, eris.Errorf("geocode: no state geography at %f,%f", lon, lat)
	}

	result := &ReverseResult{
		StateFIPS: states[0].State,
		StateAbbr: states[0].Stusab,
		StateName: states[0].Name,
	}
	if result.StateFIPS == "" {
		result.StateFIPS = states[0].GEOID
	}

	if counties := revResp.Result.Geographies["Counties"]; len(counties) > 0 {
		result.CountyFIPS = counties[0].GEOID
		result.CountyName = counties[0].Name
	}

	return result, nil
}
