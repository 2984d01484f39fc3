package storage

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedStore(t *testing.T, publicURL string) *Store {
	t.Helper()
	s := New(t.TempDir(), publicURL)
	s.WithNow(func() time.Time { return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC) })
	return s
}

func TestParcelKey(t *testing.T) {
	s := fixedStore(t, "")
	key := s.ParcelKey("Gaston", "NC", "123/45 A", "naip_rgb.png")
	assert.Equal(t, "gaston_nc/123_45_A/2026-08-01/naip_rgb.png", key)

	key = s.ParcelKey("New Hanover", "NC", "99", "chart.svg")
	assert.Equal(t, "new_hanover_nc/99/2026-08-01/chart.svg", key)
}

func TestPointKey(t *testing.T) {
	s := fixedStore(t, "")
	key := s.PointKey(35.22714, -81.18432, "ndvi_trend.svg")
	assert.Equal(t, "points/35.2271_-81.1843/2026-08-01/ndvi_trend.svg", key)
}

func TestPutGet(t *testing.T) {
	s := fixedStore(t, "")
	key := s.PointKey(35.2, -81.1, "test.bin")

	url, err := s.Put(key, []byte("payload"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, filepath.FromSlash(key)))

	data, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
}

func TestPut_PublicURL(t *testing.T) {
	s := fixedStore(t, "https://cdn.example.com/")
	url, err := s.Put("a/b/c.png", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a/b/c.png", url)
}

func TestGet_Missing(t *testing.T) {
	s := fixedStore(t, "")
	_, err := s.Get("nope/missing.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage: read")
}

func TestTrendChartSVG(t *testing.T) {
	slope := 0.0123
	svg := string(TrendChartSVG([]TrendPoint{
		{Month: "2025-01", NDVI: 0.30},
		{Month: "2025-02", NDVI: 0.45},
		{Month: "2025-03", NDVI: 0.60},
	}, &slope))

	assert.Contains(t, svg, "<svg")
	assert.Contains(t, svg, "</svg>")
	assert.Contains(t, svg, "+0.0123/mo")
	assert.Contains(t, svg, "2025-01")
	assert.Equal(t, 3, strings.Count(svg, "<circle"))
}

func TestTrendChartSVG_Empty(t *testing.T) {
	svg := string(TrendChartSVG(nil, nil))
	assert.Contains(t, svg, "<svg")
	assert.NotContains(t, svg, "<circle")
}
