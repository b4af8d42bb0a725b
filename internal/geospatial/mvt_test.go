package geospatial

import (
	"context"
	"fmt"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLayers(t *testing.T) {
	layers := DefaultLayers()

	for _, name := range []string{"facilities", "isochrones", "block_groups", "counties", "states"} {
		layer, ok := layers[name]
		require.True(t, ok, "missing layer %s", name)
		assert.True(t, validMVTTables[layer.Table], "layer %s table %s not in allowlist", name, layer.Table)
		assert.Equal(t, "geom", layer.GeomColumn)
		assert.LessOrEqual(t, layer.MinZoom, layer.MaxZoom)
	}

	assert.True(t, layers["facilities"].IsPoint)
	assert.False(t, layers["isochrones"].IsPoint)
	assert.Equal(t, 0, layers["states"].MinZoom)
}

func TestGenerateMVT_RejectsUnknownTable(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = GenerateMVT(context.Background(), mock, LayerConfig{
		Table:      "coverage.secrets; DROP TABLE coverage.facilities",
		GeomColumn: "geom",
		Columns:    "id",
	}, 8, 60, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid MVT table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateMVT_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tile := []byte{0x1a, 0x02, 0x68, 0x69}
	mock.ExpectQuery(`SELECT ST_AsMVT\(q, 'default', 4096, 'geom'\)`).
		WithArgs(8, 60, 100).
		WillReturnRows(pgxmock.NewRows([]string{"st_asmvt"}).AddRow(tile))

	got, err := GenerateMVT(context.Background(), mock, DefaultLayers()["facilities"], 8, 60, 100)
	require.NoError(t, err)
	assert.Equal(t, tile, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateMVT_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT ST_AsMVT`).
		WithArgs(8, 60, 100).
		WillReturnError(fmt.Errorf("relation does not exist"))

	_, err = GenerateMVT(context.Background(), mock, DefaultLayers()["counties"], 8, 60, 100)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generate MVT")
}

func TestGenerateOverlapMVT_JoinsRunOverlaps(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tile := []byte{0x1a, 0x00}
	mock.ExpectQuery(`FROM coverage.unit_overlaps o\s+JOIN coverage.block_groups b`).
		WithArgs("run-1", 10, 270, 410).
		WillReturnRows(pgxmock.NewRows([]string{"st_asmvt"}).AddRow(tile))

	got, err := GenerateOverlapMVT(context.Background(), mock, "run-1", 10, 270, 410)
	require.NoError(t, err)
	assert.Equal(t, tile, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}
