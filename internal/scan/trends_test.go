package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthly(values ...float64) []MonthlyValue {
	out := make([]MonthlyValue, len(values))
	for i, v := range values {
		out[i] = MonthlyValue{Month: "2025-01", NDVI: v}
	}
	return out
}

func TestAnalyzeTrend_Rising(t *testing.T) {
	series := AnalyzeTrend(monthly(0.30, 0.35, 0.40, 0.45, 0.50), "Sentinel-2")
	require.NotNil(t, series.Slope)
	assert.Equal(t, TrendRising, series.Direction)
	assert.InDelta(t, 0.05, *series.Slope, 1e-6)
	assert.Equal(t, 5, series.MonthsData)
	assert.InDelta(t, 0.40, *series.Mean, 1e-6)
	assert.InDelta(t, 0.50, *series.Latest, 1e-6)
	assert.InDelta(t, 0.30, *series.Earliest, 1e-6)
}

func TestAnalyzeTrend_Falling(t *testing.T) {
	series := AnalyzeTrend(monthly(0.50, 0.40, 0.30), "Landsat")
	assert.Equal(t, TrendFalling, series.Direction)
}

func TestAnalyzeTrend_Stable(t *testing.T) {
	series := AnalyzeTrend(monthly(0.40, 0.401, 0.399, 0.40), "Sentinel-2")
	assert.Equal(t, TrendStable, series.Direction)
}

func TestAnalyzeTrend_Insufficient(t *testing.T) {
	series := AnalyzeTrend(monthly(0.4, 0.5), "Sentinel-2")
	assert.Equal(t, TrendInsufficient, series.Direction)
	assert.Nil(t, series.Slope)
	// Summary stats still come through for two months.
	assert.NotNil(t, series.Latest)

	empty := AnalyzeTrend(nil, "")
	assert.Equal(t, TrendInsufficient, empty.Direction)
	assert.Nil(t, empty.Latest)
}

func TestTrendEvidence_Vocabulary(t *testing.T) {
	rising := AnalyzeTrend(monthly(0.30, 0.40, 0.50), "Sentinel-2")
	ev := rising.TrendEvidence()
	require.NotNil(t, ev)
	assert.Equal(t, "increasing", ev.Direction)

	falling := AnalyzeTrend(monthly(0.50, 0.40, 0.30), "Sentinel-2")
	assert.Equal(t, "decreasing", falling.TrendEvidence().Direction)

	assert.Nil(t, AnalyzeTrend(nil, "").TrendEvidence())
}
