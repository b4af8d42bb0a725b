package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "test.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_ShapefileSidecars(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"tl_2023_01_bg.shp": "shape data",
		"tl_2023_01_bg.shx": "index data",
		"tl_2023_01_bg.dbf": "attribute data",
		"tl_2023_01_bg.prj": "GEOGCS[...]",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 4)

	data, err := os.ReadFile(filepath.Join(destDir, "tl_2023_01_bg.shp"))
	require.NoError(t, err)
	assert.Equal(t, "shape data", string(data))

	data, err = os.ReadFile(filepath.Join(destDir, "tl_2023_01_bg.dbf"))
	require.NoError(t, err)
	assert.Equal(t, "attribute data", string(data))
}

func TestExtractZIP_NestedDirectories(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"data/inner/file.txt": "nested",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	require.Len(t, extracted, 1)

	data, err := os.ReadFile(filepath.Join(destDir, "data", "inner", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestExtractZIP_ZipSlipRejected(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"../escape.txt": "evil",
	})

	destDir := t.TempDir()
	_, err := ExtractZIP(zipPath, destDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIPSingle_KMZ(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"doc.kml": "<kml></kml>",
	})

	destDir := t.TempDir()
	path, err := ExtractZIPSingle(zipPath, destDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(destDir, "doc.kml"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<kml></kml>", string(data))
}

func TestExtractZIPSingle_MultipleFiles(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"a.txt": "aaa",
		"b.txt": "bbb",
	})

	destDir := t.TempDir()
	_, err := ExtractZIPSingle(zipPath, destDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected exactly 1 file")
}

func TestExtractZIP_MissingArchive(t *testing.T) {
	_, err := ExtractZIP(filepath.Join(t.TempDir(), "nope.zip"), t.TempDir())
	require.Error(t, err)
}
