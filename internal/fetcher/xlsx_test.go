package fetcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "roster.xlsx")
	err := f.Save(path)
	require.NoError(t, err)
	return path
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Facilities": {
			{"Name", "City", "State"},
			{"UAB Hospital", "Birmingham", "AL"},
			{"Grady Memorial", "Atlanta", "GA"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Name", "City", "State"}, rows[0])
	assert.Equal(t, []string{"UAB Hospital", "Birmingham", "AL"}, rows[1])
	assert.Equal(t, []string{"Grady Memorial", "Atlanta", "GA"}, rows[2])
}

func TestReadXLSX_SkipRows(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Facilities": {
			{"exported 2024-03-01", ""},
			{"Name", "State"},
			{"UAB Hospital", "AL"},
		},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SkipRows: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"UAB Hospital", "AL"}, rows[0])
}

func TestReadXLSX_SheetName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Notes":      {{"ignore me"}},
		"Facilities": {{"Name"}, {"UAB Hospital"}},
	})

	rows, err := ReadXLSX(path, XLSXOptions{SheetName: "Facilities"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"UAB Hospital"}, rows[1])
}

func TestReadXLSX_SheetNameNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Facilities": {{"Name"}},
	})

	_, err := ReadXLSX(path, XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func TestReadXLSX_SheetIndexOutOfRange(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Facilities": {{"Name"}},
	})

	_, err := ReadXLSX(path, XLSXOptions{SheetIndex: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestReadXLSX_MissingFile(t *testing.T) {
	_, err := ReadXLSX(filepath.Join(t.TempDir(), "nope.xlsx"), XLSXOptions{})
	require.Error(t, err)
}
