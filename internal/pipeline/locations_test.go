package pipeline

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/careatlas/reachstat/internal/model"
	"github.com/careatlas/reachstat/pkg/geocode"
)

func writeRoster(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadRoster_CSV(t *testing.T) {
	path := writeRoster(t, "roster.csv",
		"Facility,Street,City,St,Zip,Longitude,Latitude\n"+
			"Mercy General,123 Main St,Nashville,tn,37201,-86.78,36.16\n"+
			"St Thomas West,456 Oak Ave,Nashville,TN,37205,,\n")

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 2)

	assert.Equal(t, "mercy-general", locs[0].ID)
	assert.Equal(t, "Mercy General", locs[0].Name)
	assert.Equal(t, "123 Main St", locs[0].Address)
	assert.Equal(t, "TN", locs[0].State)
	assert.Equal(t, "37201", locs[0].ZIP)
	assert.InDelta(t, -86.78, locs[0].Longitude, 1e-9)
	assert.InDelta(t, 36.16, locs[0].Latitude, 1e-9)
	assert.Equal(t, "roster.csv", locs[0].Source)
	assert.True(t, locs[0].HasCoordinates())

	assert.Equal(t, "st-thomas-west", locs[1].ID)
	assert.False(t, locs[1].HasCoordinates())
}

func TestReadRoster_CSVExplicitID(t *testing.T) {
	path := writeRoster(t, "roster.csv",
		"id,name,lon,lat\nfac-9,Riverside,-86.5,36.2\n")

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "fac-9", locs[0].ID)
}

func TestReadRoster_XLSX(t *testing.T) {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Facilities")
	require.NoError(t, err)
	for _, rowData := range [][]string{
		{"Name", "Lng", "Lat"},
		{"Unity Clinic", "-85.3", "35.04"},
	} {
		row := sheet.AddRow()
		for _, cell := range rowData {
			row.AddCell().SetString(cell)
		}
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	require.NoError(t, f.Save(path))

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "unity-clinic", locs[0].ID)
	assert.InDelta(t, -85.3, locs[0].Longitude, 1e-9)
	assert.InDelta(t, 35.04, locs[0].Latitude, 1e-9)
}

func TestReadRoster_JSON(t *testing.T) {
	path := writeRoster(t, "roster.json",
		`[{"id":"a1","name":"Alpha","longitude":-86.7,"latitude":36.1},
		  {"name":"Beta House","longitude":-87.0,"latitude":36.3}]`)

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 2)
	assert.Equal(t, "a1", locs[0].ID)
	assert.Equal(t, "beta-house", locs[1].ID)
	assert.Equal(t, "roster.json", locs[1].Source)
}

func TestReadRoster_KML(t *testing.T) {
	path := writeRoster(t, "roster.kml",
		`<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <name>Gamma Center</name>
      <address>1 Hill Rd</address>
      <Point><coordinates>-86.70,36.10,0</coordinates></Point>
    </Placemark>
  </Document>
</kml>`)

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "gamma-center", locs[0].ID)
	assert.Equal(t, "1 Hill Rd", locs[0].Address)
	assert.InDelta(t, -86.70, locs[0].Longitude, 1e-9)
	assert.InDelta(t, 36.10, locs[0].Latitude, 1e-9)
}

func TestReadRoster_KMZ(t *testing.T) {
	kml := `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <name>Delta Campus</name>
      <Point><coordinates>-85.90,35.50,0</coordinates></Point>
    </Placemark>
  </Document>
</kml>`

	path := filepath.Join(t.TempDir(), "roster.kmz")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("doc.kml")
	require.NoError(t, err)
	_, err = w.Write([]byte(kml))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "delta-campus", locs[0].ID)
	assert.InDelta(t, -85.90, locs[0].Longitude, 1e-9)
	assert.InDelta(t, 35.50, locs[0].Latitude, 1e-9)
	assert.Equal(t, "roster.kmz", locs[0].Source)
}

func TestReadRoster_CSVMalformedCoordinate(t *testing.T) {
	// A longitude that does not parse must not pair with a parsed
	// latitude; the row loses both and goes through geocoding.
	path := writeRoster(t, "roster.csv",
		"name,lon,lat\nEpsilon Clinic,not-a-number,36.16\n")

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.False(t, locs[0].HasCoordinates())
	assert.Zero(t, locs[0].Longitude)
	assert.Zero(t, locs[0].Latitude)
}

func TestReadRoster_KMLMalformedCoordinate(t *testing.T) {
	path := writeRoster(t, "roster.kml",
		`<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Placemark>
      <name>Zeta Center</name>
      <Point><coordinates>west-ish,36.10,0</coordinates></Point>
    </Placemark>
  </Document>
</kml>`)

	locs, err := ReadRoster(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.False(t, locs[0].HasCoordinates())
}

func TestReadRoster_UnsupportedFormat(t *testing.T) {
	_, err := ReadRoster(context.Background(), "roster.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported roster format")
}

func TestSyntheticID(t *testing.T) {
	assert.Equal(t, "mercy-general", syntheticID("Mercy General", 1))
	assert.Equal(t, "st-judes", syntheticID("St. Jude's", 2))
	assert.Equal(t, "facility-3", syntheticID("", 3))
	assert.Equal(t, "facility-4", syntheticID("###", 4))
}

func TestGeocodeMissing(t *testing.T) {
	locs := []model.Location{
		{ID: "a", Longitude: -86.7, Latitude: 36.1},
		{ID: "b", Address: "123 Main St", City: "Nashville", State: "TN"},
		{ID: "c", Address: "nowhere"},
	}

	gc := &mockGeocodeClient{}
	gc.On("BatchGeocode", mock.Anything, []geocode.AddressInput{
		{ID: "b", Street: "123 Main St", City: "Nashville", State: "TN"},
		{ID: "c", Street: "nowhere"},
	}).Return([]geocode.Result{
		{Matched: true, Longitude: -86.8, Latitude: 36.2},
		{Matched: false},
	}, nil)

	out, geocoded, err := GeocodeMissing(context.Background(), locs, gc)
	require.NoError(t, err)
	gc.AssertExpectations(t)

	assert.Equal(t, 1, geocoded)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.True(t, out[1].Geocoded)
	assert.InDelta(t, -86.8, out[1].Longitude, 1e-9)
}

func TestGeocodeMissing_AllHaveCoordinates(t *testing.T) {
	locs := []model.Location{{ID: "a", Longitude: -86.7, Latitude: 36.1}}

	gc := &mockGeocodeClient{}
	out, geocoded, err := GeocodeMissing(context.Background(), locs, gc)
	require.NoError(t, err)
	assert.Equal(t, 0, geocoded)
	assert.Equal(t, locs, out)
	gc.AssertNotCalled(t, "BatchGeocode", mock.Anything, mock.Anything)
}

func TestResolveStates(t *testing.T) {
	locs := []model.Location{
		{ID: "a", Longitude: -86.7, Latitude: 36.1},
		{ID: "b", Longitude: -84.5, Latitude: 38.0, StateFIPS: "21", State: "KY"},
		{ID: "c", Longitude: -86.5, Latitude: 36.3},
	}

	gc := &mockGeocodeClient{}
	gc.On("ReverseGeocode", mock.Anything, -86.7, 36.1).
		Return(&geocode.ReverseResult{StateFIPS: "47", StateAbbr: "TN"}, nil)
	gc.On("ReverseGeocode", mock.Anything, -86.5, 36.3).
		Return(&geocode.ReverseResult{StateFIPS: "47", StateAbbr: "TN"}, nil)

	out, states, err := ResolveStates(context.Background(), locs, gc)
	require.NoError(t, err)
	gc.AssertExpectations(t)

	assert.Equal(t, []string{"21", "47"}, states)
	assert.Equal(t, "47", out[0].StateFIPS)
	assert.Equal(t, "TN", out[0].State)
	assert.Equal(t, "21", out[1].StateFIPS)
}
