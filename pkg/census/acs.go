package census

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/coverage"
	"github.com/careatlas/reachstat/internal/fetcher"
	"github.com/careatlas/reachstat/internal/resilience"
)

var stateFIPSPattern = regexp.MustCompile(`^\d{2}$`)

// APIError is returned when the data API responds with a non-200
// status. Census error bodies are short plain-text messages.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("census: HTTP %d: %s", e.StatusCode, e.Body)
}

func (c *acsClient) BlockGroupPopulation(ctx context.Context, stateFIPS string) ([]coverage.PopulationRecord, error) {
	if !stateFIPSPattern.MatchString(stateFIPS) {
		return nil, eris.Errorf("census: invalid state FIPS %q", stateFIPS)
	}

	call := func(ctx context.Context) ([][]string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "census: rate limiter")
		}
		return c.queryBlockGroups(ctx, stateFIPS)
	}
	if c.breaker != nil {
		inner := call
		call = func(ctx context.Context) ([][]string, error) {
			return resilience.ExecuteVal(ctx, c.breaker, inner)
		}
	}

	rows, err := resilience.DoVal(ctx, c.retry, call)
	if err != nil {
		return nil, err
	}
	return parseBlockGroupRows(rows, stateFIPS)
}

func (c *acsClient) ForStates(ctx context.Context, stateFIPS []string) ([]coverage.PopulationRecord, error) {
	var all []coverage.PopulationRecord
	seen := make(map[string]struct{}, len(stateFIPS))
	for _, fips := range stateFIPS {
		if _, dup := seen[fips]; dup {
			continue
		}
		seen[fips] = struct{}{}

		recs, err := c.BlockGroupPopulation(ctx, fips)
		if err != nil {
			return nil, eris.Wrapf(err, "census: state %s", fips)
		}
		all = append(all, recs...)
	}
	return all, nil
}

// queryBlockGroups performs one GET against the data API. The response
// is a JSON array of string arrays with a header row, e.g.
//
//	[["B01003_001E","state","county","tract","block group"],
//	 ["1712","01","073","000100","1"], ...]
func (c *acsClient) queryBlockGroups(ctx context.Context, stateFIPS string) ([][]string, error) {
	q := url.Values{}
	q.Set("get", populationVariable)
	q.Set("for", "block group:*")
	q.Set("in", fmt.Sprintf("state:%s county:*", stateFIPS))
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	u := fmt.Sprintf("%s/data/%d/%s?%s", c.baseURL, c.year, c.dataset, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "census: create request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "census: execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "census: read response body")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	rows, err := fetcher.DecodeJSONObject[[][]string](bytes.NewReader(data))
	if err != nil {
		return nil, eris.Wrap(err, "census: decode response")
	}
	return *rows, nil
}

// parseBlockGroupRows assembles 12-digit GEOIDs from the geography
// columns and drops rows whose estimate is missing or an annotation
// sentinel. Column positions come from the header row, not fixed
// offsets.
func parseBlockGroupRows(rows [][]string, stateFIPS string) ([]coverage.PopulationRecord, error) {
	if len(rows) < 1 {
		return nil, eris.New("census: empty response")
	}

	header := rows[0]
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, col := range []string{populationVariable, "state", "county", "tract", "block group"} {
		if _, ok := idx[col]; !ok {
			return nil, eris.Errorf("census: response missing column %q", col)
		}
	}

	records := make([]coverage.PopulationRecord, 0, len(rows)-1)
	skipped := 0
	for _, row := range rows[1:] {
		if len(row) < len(header) {
			skipped++
			continue
		}
		pop, ok := parseCount(row[idx[populationVariable]])
		if !ok {
			skipped++
			continue
		}
		geoid := row[idx["state"]] + row[idx["county"]] + row[idx["tract"]] + row[idx["block group"]]
		records = append(records, coverage.PopulationRecord{UnitID: geoid, Population: pop})
	}
	if skipped > 0 {
		zap.L().Warn("census: dropped rows without usable estimates",
			zap.String("state_fips", stateFIPS),
			zap.Int("dropped", skipped),
		)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].UnitID < records[j].UnitID })
	return records, nil
}

// parseCount rejects blanks, unparseable values, and the API's
// negative annotation sentinels such as -666666666.
func parseCount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
