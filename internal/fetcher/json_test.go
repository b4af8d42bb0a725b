package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFacility struct {
	Name string  `json:"name"`
	Lon  float64 `json:"lon"`
	Lat  float64 `json:"lat"`
}

func TestDecodeJSONArray(t *testing.T) {
	input := `[
		{"name":"UAB Hospital","lon":-86.8025,"lat":33.5056},
		{"name":"Grady Memorial","lon":-84.3823,"lat":33.7525}
	]`

	ch, errCh := DecodeJSONArray[testFacility](context.Background(), strings.NewReader(input))

	var facilities []testFacility
	for f := range ch {
		facilities = append(facilities, f)
	}
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, facilities, 2)
	assert.Equal(t, "UAB Hospital", facilities[0].Name)
	assert.InDelta(t, -86.8025, facilities[0].Lon, 1e-9)
	assert.Equal(t, "Grady Memorial", facilities[1].Name)
}

func TestDecodeJSONArray_Empty(t *testing.T) {
	ch, errCh := DecodeJSONArray[testFacility](context.Background(), strings.NewReader("[]"))

	var facilities []testFacility
	for f := range ch {
		facilities = append(facilities, f)
	}
	for err := range errCh {
		require.NoError(t, err)
	}
	assert.Empty(t, facilities)
}

func TestDecodeJSONArray_NotAnArray(t *testing.T) {
	ch, errCh := DecodeJSONArray[testFacility](context.Background(), strings.NewReader(`{"name":"x"}`))

	for range ch {
	}
	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	require.Error(t, gotErr)
	assert.Contains(t, gotErr.Error(), "expected '['")
}

func TestDecodeJSONArray_Truncated(t *testing.T) {
	input := `[{"name":"UAB Hospital"},{"name":`
	ch, errCh := DecodeJSONArray[testFacility](context.Background(), strings.NewReader(input))

	var facilities []testFacility
	for f := range ch {
		facilities = append(facilities, f)
	}
	var gotErr error
	for err := range errCh {
		gotErr = err
	}
	require.Error(t, gotErr)
	assert.Len(t, facilities, 1)
}

func TestDecodeJSONObject_CensusTabular(t *testing.T) {
	// The Census API returns rows as an array of string arrays with a
	// header row first.
	input := `[
		["NAME","B01003_001E","state","county","tract","block group"],
		["Block Group 1","1204","01","073","000100","1"],
		["Block Group 2","856","01","073","000100","2"]
	]`

	table, err := DecodeJSONObject[[][]string](strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, *table, 3)
	assert.Equal(t, "B01003_001E", (*table)[0][1])
	assert.Equal(t, "1204", (*table)[1][1])
	assert.Equal(t, "2", (*table)[2][5])
}

func TestDecodeJSONObject_Invalid(t *testing.T) {
	_, err := DecodeJSONObject[[][]string](strings.NewReader("not json"))
	require.Error(t, err)
}
