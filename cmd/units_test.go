//go:build !integration

package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/careatlas/reachstat/internal/tiger"
)

func TestFormatBoundaryStatus(t *testing.T) {
	rows := []tiger.StatusRow{
		{
			StateFIPS:  "47",
			StateAbbr:  "TN",
			TableName:  "tiger_bg",
			Year:       2023,
			RowCount:   4562,
			LoadedAt:   time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC),
			DurationMs: 31500,
		},
	}

	var buf bytes.Buffer
	formatBoundaryStatus(&buf, rows)

	output := buf.String()
	assert.Contains(t, output, "FIPS")
	assert.Contains(t, output, "47")
	assert.Contains(t, output, "TN")
	assert.Contains(t, output, "tiger_bg")
	assert.Contains(t, output, "4562")
	assert.Contains(t, output, "31.5s")
}

func TestFormatBoundaryStatus_Empty(t *testing.T) {
	var buf bytes.Buffer
	formatBoundaryStatus(&buf, nil)
	assert.Contains(t, buf.String(), "No boundary data loaded")
}
