package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/careatlas/reachstat/internal/fetcher"
	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/pkg/geocode"
)

// ReadRoster loads facility locations from a roster file. The format is
// chosen by extension: .csv, .xlsx, .json (array of location objects),
// .kml (placemarks), or .kmz (zipped KML).
func ReadRoster(ctx context.Context, path string) ([]model.Location, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSVRoster(ctx, path)
	case ".xlsx":
		return readXLSXRoster(path)
	case ".json":
		return readJSONRoster(ctx, path)
	case ".kml":
		return readKMLRoster(ctx, path)
	case ".kmz":
		return readKMZRoster(ctx, path)
	default:
		return nil, eris.Errorf("pipeline: unsupported roster format %q", filepath.Ext(path))
	}
}

// rosterColumns maps the header names we accept to canonical fields.
// Roster files come from many hands; be generous about spelling.
var rosterColumns = map[string]string{
	"id":          "id",
	"name":        "name",
	"facility":    "name",
	"hospital":    "name",
	"address":     "address",
	"street":      "address",
	"city":        "city",
	"state":       "state",
	"st":          "state",
	"zip":         "zip",
	"zipcode":     "zip",
	"zip_code":    "zip",
	"postal_code": "zip",
	"lon":         "lon",
	"lng":         "lon",
	"longitude":   "lon",
	"x":           "lon",
	"lat":         "lat",
	"latitude":    "lat",
	"y":           "lat",
}

func mapHeader(header []string) map[int]string {
	m := make(map[int]string, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if field, ok := rosterColumns[key]; ok {
			m[i] = field
		}
	}
	return m
}

func rowToLocation(row []string, fields map[int]string, ordinal int, source string) model.Location {
	loc := model.Location{Source: source}
	badCoord := false
	for i, field := range fields {
		if i >= len(row) {
			continue
		}
		val := strings.TrimSpace(row[i])
		switch field {
		case "id":
			loc.ID = val
		case "name":
			loc.Name = val
		case "address":
			loc.Address = val
		case "city":
			loc.City = val
		case "state":
			loc.State = strings.ToUpper(val)
		case "zip":
			loc.ZIP = val
		case "lon":
			loc.Longitude = parseCoordinate(val, "lon", ordinal, &badCoord)
		case "lat":
			loc.Latitude = parseCoordinate(val, "lat", ordinal, &badCoord)
		}
	}
	// A half-parsed pair would look like a valid coordinate at 0; treat
	// the whole pair as missing so the row goes through geocoding.
	if badCoord {
		loc.Longitude, loc.Latitude = 0, 0
	}
	if loc.ID == "" {
		loc.ID = syntheticID(loc.Name, ordinal)
	}
	return loc
}

// parseCoordinate parses a roster coordinate cell. A non-empty value
// that does not parse sets bad and logs a warning; blank cells are
// simply absent coordinates.
func parseCoordinate(val, field string, ordinal int, bad *bool) float64 {
	if val == "" {
		return 0
	}
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		zap.L().Warn("unparseable roster coordinate, row will be geocoded",
			zap.Int("row", ordinal),
			zap.String("field", field),
			zap.String("value", val),
		)
		*bad = true
		return 0
	}
	return v
}

// syntheticID builds a stable identifier for roster rows without one.
func syntheticID(name string, ordinal int) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return fmt.Sprintf("facility-%d", ordinal)
	}
	return slug
}

func readCSVRoster(ctx context.Context, path string) ([]model.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open roster %s", path)
	}
	defer func() { _ = f.Close() }()

	headerCh := make(chan []string, 1)
	rows, errs := fetcher.StreamCSV(ctx, f, fetcher.CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	var fields map[int]string
	var locs []model.Location
	base := filepath.Base(path)
	for row := range rows {
		if fields == nil {
			select {
			case header := <-headerCh:
				fields = mapHeader(header)
			default:
			}
			if fields == nil {
				return nil, eris.New("pipeline: roster header missing")
			}
		}
		locs = append(locs, rowToLocation(row, fields, len(locs)+1, base))
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrapf(err, "pipeline: read roster %s", path)
	}
	return locs, nil
}

func readXLSXRoster(path string) ([]model.Location, error) {
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: read roster %s", path)
	}
	if len(rows) == 0 {
		return nil, eris.New("pipeline: roster sheet empty")
	}

	fields := mapHeader(rows[0])
	base := filepath.Base(path)
	var locs []model.Location
	for _, row := range rows[1:] {
		locs = append(locs, rowToLocation(row, fields, len(locs)+1, base))
	}
	return locs, nil
}

func readJSONRoster(ctx context.Context, path string) ([]model.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open roster %s", path)
	}
	defer func() { _ = f.Close() }()

	items, errs := fetcher.DecodeJSONArray[model.Location](ctx, f)
	base := filepath.Base(path)
	var locs []model.Location
	for loc := range items {
		if loc.Source == "" {
			loc.Source = base
		}
		if loc.ID == "" {
			loc.ID = syntheticID(loc.Name, len(locs)+1)
		}
		locs = append(locs, loc)
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrapf(err, "pipeline: read roster %s", path)
	}
	return locs, nil
}

// kmlPlacemark is the subset of a KML Placemark the roster needs.
type kmlPlacemark struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	Address     string `xml:"address"`
	Point       struct {
		Coordinates string `xml:"coordinates"`
	} `xml:"Point"`
}

func readKMLRoster(ctx context.Context, path string) ([]model.Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open roster %s", path)
	}
	defer func() { _ = f.Close() }()

	marks, errs := fetcher.StreamXML[kmlPlacemark](ctx, f, "Placemark")
	base := filepath.Base(path)
	var locs []model.Location
	for pm := range marks {
		loc := model.Location{
			Name:    strings.TrimSpace(pm.Name),
			Address: strings.TrimSpace(pm.Address),
			Source:  base,
		}
		// KML coordinates are lon,lat[,alt].
		parts := strings.Split(strings.TrimSpace(pm.Point.Coordinates), ",")
		if len(parts) >= 2 {
			bad := false
			loc.Longitude = parseCoordinate(strings.TrimSpace(parts[0]), "lon", len(locs)+1, &bad)
			loc.Latitude = parseCoordinate(strings.TrimSpace(parts[1]), "lat", len(locs)+1, &bad)
			if bad {
				loc.Longitude, loc.Latitude = 0, 0
			}
		}
		loc.ID = syntheticID(loc.Name, len(locs)+1)
		locs = append(locs, loc)
	}
	if err := <-errs; err != nil {
		return nil, eris.Wrapf(err, "pipeline: read roster %s", path)
	}
	return locs, nil
}

// readKMZRoster extracts the single KML document from a KMZ archive
// into a temp directory and parses it like a plain KML roster. The
// source column keeps the KMZ's name, not the extracted file's.
func readKMZRoster(ctx context.Context, path string) ([]model.Location, error) {
	dir, err := os.MkdirTemp("", "roster-kmz-*")
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: temp dir for kmz roster")
	}
	defer func() { _ = os.RemoveAll(dir) }()

	kmlPath, err := fetcher.ExtractZIPSingle(path, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: extract roster %s", path)
	}

	locs, err := readKMLRoster(ctx, kmlPath)
	if err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	for i := range locs {
		locs[i].Source = base
	}
	return locs, nil
}

// GeocodeMissing fills in coordinates for roster rows that lack them.
// Rows whose address cannot be matched are dropped with a warning; a
// roster row with neither coordinates nor a matchable address cannot
// contribute an isochrone.
func GeocodeMissing(ctx context.Context, locs []model.Location, gc geocode.Client) ([]model.Location, int, error) {
	log := zap.L().With(zap.String("component", "pipeline.locations"))

	var need []int
	var addrs []geocode.AddressInput
	for i, loc := range locs {
		if loc.HasCoordinates() {
			continue
		}
		need = append(need, i)
		addrs = append(addrs, geocode.AddressInput{
			ID:      loc.ID,
			Street:  loc.Address,
			City:    loc.City,
			State:   loc.State,
			ZipCode: loc.ZIP,
		})
	}
	if len(need) == 0 {
		return locs, 0, nil
	}

	results, err := gc.BatchGeocode(ctx, addrs)
	if err != nil {
		return nil, 0, eris.Wrap(err, "pipeline: geocode roster")
	}

	geocoded := 0
	matched := make([]model.Location, 0, len(locs))
	unmatched := make(map[int]bool)
	for j, res := range results {
		i := need[j]
		if !res.Matched {
			log.Warn("dropping unmatched roster row",
				zap.String("id", locs[i].ID),
				zap.String("address", locs[i].FullAddress()),
			)
			unmatched[i] = true
			continue
		}
		locs[i].Longitude = res.Longitude
		locs[i].Latitude = res.Latitude
		locs[i].Geocoded = true
		geocoded++
	}
	for i, loc := range locs {
		if !unmatched[i] {
			matched = append(matched, loc)
		}
	}
	return matched, geocoded, nil
}

// ResolveStates reverse-geocodes each facility to its state FIPS and
// returns the distinct FIPS set, sorted. Used when the run does not
// name its states explicitly.
func ResolveStates(ctx context.Context, locs []model.Location, gc geocode.Client) ([]model.Location, []string, error) {
	seen := make(map[string]bool)
	for i, loc := range locs {
		if loc.StateFIPS == "" {
			rr, err := gc.ReverseGeocode(ctx, loc.Longitude, loc.Latitude)
			if err != nil {
				return nil, nil, eris.Wrapf(err, "pipeline: resolve state for %s", loc.ID)
			}
			locs[i].StateFIPS = rr.StateFIPS
			if loc.State == "" {
				locs[i].State = rr.StateAbbr
			}
		}
		seen[locs[i].StateFIPS] = true
	}

	states := make([]string, 0, len(seen))
	for fips := range seen {
		if fips != "" {
			states = append(states, fips)
		}
	}
	sort.Strings(states)
	return locs, states, nil
}
