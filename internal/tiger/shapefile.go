package tiger

import (
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ParseShapefile reads a shapefile and returns rows suitable for COPY loading.
// Each row is []any matching product.Columns with a WKB-encoded geometry
// appended as the final element. Attribute values are strings except the
// bigint columns (aland, awater), which are parsed to int64. Records whose
// geometry cannot be encoded are skipped, not fatal: one mangled shape must
// not sink a whole state.
func ParseShapefile(shpPath string, product Product) ([][]any, error) {
	reader, err := shp.Open(shpPath)
	if err != nil {
		return nil, eris.Wrapf(err, "tiger: open shapefile %s", shpPath)
	}
	defer func() { _ = reader.Close() }()

	// Build field name → index map.
	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.TrimRight(f.String(), "\x00")
		fieldIdx[strings.ToLower(name)] = i
	}

	var rows [][]any
	var skipped int

	for reader.Next() {
		_, shape := reader.Shape()

		row := make([]any, 0, len(product.Columns)+1)
		for _, col := range product.Columns {
			idx, ok := fieldIdx[strings.ToLower(col)]
			if !ok {
				row = append(row, nil)
				continue
			}
			val := strings.TrimRight(reader.Attribute(idx), "\x00")
			val = strings.TrimSpace(val)
			if val == "" {
				row = append(row, nil)
				continue
			}
			if numericColumns[col] {
				n, parseErr := strconv.ParseInt(val, 10, 64)
				if parseErr != nil {
					row = append(row, nil)
					continue
				}
				row = append(row, n)
				continue
			}
			row = append(row, val)
		}

		if shape == nil {
			skipped++
			continue
		}
		wkb, encErr := EncodeWKB(shape)
		if encErr != nil || wkb == nil {
			skipped++
			continue
		}
		row = append(row, wkb)

		rows = append(rows, row)
	}

	if skipped > 0 {
		zap.L().Warn("tiger: skipped shapefile records",
			zap.String("product", product.Name),
			zap.String("path", shpPath),
			zap.Int("skipped", skipped),
		)
	}

	return rows, nil
}
