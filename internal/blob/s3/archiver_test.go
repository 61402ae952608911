package s3blob

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayBounds(t *testing.T) {
	// A mid-day timestamp in a non-UTC zone maps onto its UTC calendar day.
	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2026, 8, 29, 3, 15, 0, 0, loc) // 2026-08-28 22:15 UTC

	start, end := dayBounds(at)

	assert.Equal(t, time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, start.Add(24*time.Hour-time.Nanosecond), end)
	assert.True(t, end.Before(start.Add(24*time.Hour)))
}

func TestArchivePath(t *testing.T) {
	day := time.Date(2026, 8, 29, 17, 0, 0, 0, time.UTC)

	assert.Equal(t, "archive/fills/2026-08-29", archivePath("fills", day))
	assert.Equal(t, "archive/reports/2026-08-29", archivePath("reports", day))
}

func TestMarshalJSONL(t *testing.T) {
	records := []fillRecord{
		{ID: "f1", MarketID: "m1", Side: "BUY", Price: 0.40, Size: 10},
		{ID: "f2", MarketID: "m1", Side: "SELL", Price: 0.55, Size: 4},
	}

	out, err := marshalJSONL(records)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"f1"`)
	assert.Contains(t, lines[1], `"side":"SELL"`)
}

func TestMarshalJSONLEmpty(t *testing.T) {
	out, err := marshalJSONL([]fillRecord{})
	require.NoError(t, err)
	assert.Empty(t, out)
}
