package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// censusOneLineResponse is the JSON response from the one-line address API.
type censusOneLineResponse struct {
	Result struct {
		AddressMatches []censusAddressMatch `json:"addressMatches"`
	} `json:"result"`
}

type censusAddressMatch struct {
	Coordinates struct {
		X float64 `json:"x"` // longitude
		Y float64 `json:"y"` // latitude
	} `json:"coordinates"`
	MatchedAddress string `json:"matchedAddress"`
}

// geocodeOneline geocodes a single one-line address.
func (c *client) geocodeOneline(ctx context.Context, oneLine string) (*Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	params := url.Values{
		"address":   {oneLine},
		"benchmark": {c.benchmark},
		"format":    {"json"},
	}

	reqURL := c.baseURL + onelinePath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: geocoder returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var censusResp censusOneLineResponse
	if err := json.Unmarshal(body, &censusResp); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}

	if len(censusResp.Result.AddressMatches) == 0 {
		return &Result{Matched: false, Source: "census"}, nil
	}

	match := censusResp.Result.AddressMatches[0]
	return &Result{
		Latitude:  match.Coordinates.Y,
		Longitude: match.Coordinates.X,
		Source:    "census",
		Quality:   "rooftop", // one-line matches are exact
		Matched:   true,
	}, nil
}

// batchGeocodeCensus geocodes up to 10,000 addresses via the batch endpoint,
// which takes a CSV upload and returns a CSV of matches.
func (c *client) batchGeocodeCensus(ctx context.Context, addrs []AddressInput) ([]Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: batch rate limit")
	}

	// Build CSV content: id,street,city,state,zip
	var csv strings.Builder
	idToIdx := make(map[string]int, len(addrs))
	for i, addr := range addrs {
		id := addr.ID
		if id == "" {
			id = fmt.Sprintf("%d", i)
		}
		idToIdx[id] = i
		fmt.Fprintf(&csv, "%s,%s,%s,%s,%s\n", id, addr.Street, addr.City, addr.State, addr.ZipCode)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("benchmark", c.benchmark); err != nil {
		return nil, eris.Wrap(err, "geocode: batch write benchmark")
	}

	part, err := writer.CreateFormFile("addressFile", "addresses.csv")
	if err != nil {
		return nil, eris.Wrap(err, "geocode: batch create form file")
	}
	if _, err := part.Write([]byte(csv.String())); err != nil {
		return nil, eris.Wrap(err, "geocode: batch write csv")
	}
	if err := writer.Close(); err != nil {
		return nil, eris.Wrap(err, "geocode: batch close writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+batchPath, &buf)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: batch build request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: batch request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: batch endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: batch read body")
	}

	return parseCensusBatchResponse(string(body), idToIdx, len(addrs))
}

// parseCensusBatchResponse parses the batch CSV response.
// Format: "id","input address","match","exact/non_exact","matched address","lon,lat",tigerlineid,side
func parseCensusBatchResponse(body string, idToIdx map[string]int, total int) ([]Result, error) {
	results := make([]Result, total)

	lines := strings.Split(strings.TrimSpace(body), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := splitCSVLine(line)
		if len(fields) < 3 {
			continue
		}

		id := strings.Trim(fields[0], "\"")
		idx, ok := idToIdx[id]
		if !ok {
			continue
		}

		matchType := strings.Trim(fields[2], "\"")
		if !strings.EqualFold(matchType, "Match") || len(fields) < 6 {
			results[idx] = Result{Matched: false, Source: "census"}
			continue
		}

		exactness := strings.Trim(fields[3], "\"")
		coords := strings.Trim(fields[5], "\"")
		lon, lat, parseErr := parseCensusCoords(coords)
		if parseErr != nil {
			results[idx] = Result{Matched: false, Source: "census"}
			continue
		}

		results[idx] = Result{
			Latitude:  lat,
			Longitude: lon,
			Source:    "census",
			Quality:   censusBatchQuality(exactness),
			Matched:   true,
		}
	}

	return results, nil
}

// censusBatchQuality maps batch match exactness to quality.
func censusBatchQuality(exactness string) string {
	if strings.EqualFold(strings.TrimSpace(exactness), "exact") {
		return "rooftop"
	}
	return "range"
}

// parseCensusCoords parses "lon,lat" from the batch response.
func parseCensusCoords(coords string) (lon, lat float64, err error) {
	parts := strings.SplitN(coords, ",", 2)
	if len(parts) != 2 {
		return 0, 0, eris.Errorf("geocode: invalid coords %q", coords)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse lon")
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, eris.Wrap(err, "geocode: parse lat")
	}
	return lon, lat, nil
}

// splitCSVLine splits a CSV line handling quoted fields.
func splitCSVLine(line string) []string {
	var fields []string
	var current strings.Builder
	inQuotes := false

	for _, ch := range line {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteRune(ch)
		case ch == ',' && !inQuotes:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	fields = append(fields, current.String())
	return fields
}

// formatOneLine formats an address as a single line for the geocoder.
func formatOneLine(addr AddressInput) string {
	parts := []string{addr.Street, addr.City, addr.State, addr.ZipCode}
	var nonEmpty []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
