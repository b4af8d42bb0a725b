package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careatlas/reachstat/internal/tiger"
)

func TestStoreUnitSource(t *testing.T) {
	geo := newFakeGeo()
	geo.units = computeFixture().Units

	src := &StoreUnitSource{Geo: geo}
	units, sr, err := src.Units(context.Background(), []string{"47"})
	require.NoError(t, err)
	assert.Len(t, units, 3)
	assert.Nil(t, sr, "stored boundaries are WGS84")
}

func TestStoreUnitSource_Error(t *testing.T) {
	geo := newFakeGeo()
	geo.loadErr = eris.New("connection refused")

	src := &StoreUnitSource{Geo: geo}
	_, _, err := src.Units(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load units from store")
}

func TestShapefileUnitSource_NoStates(t *testing.T) {
	src := &ShapefileUnitSource{
		Downloader: tiger.NewDownloader(tiger.DownloaderOptions{CacheDir: t.TempDir()}),
		Year:       2023,
	}
	_, _, err := src.Units(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no states")
}
