package scan

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/pkg/landsat"
	"github.com/sells-group/distress-scanner/pkg/sentinelhub"
)

type fakePrimary struct {
	stats []sentinelhub.MonthlyNDVI
	err   error
	calls int
}

func (f *fakePrimary) MonthlyStats(_ context.Context, _ [4]float64, _, _ string) ([]sentinelhub.MonthlyNDVI, error) {
	f.calls++
	return f.stats, f.err
}

type fakeFallback struct {
	series []landsat.MonthlyNDVI
	err    error
	calls  int
}

func (f *fakeFallback) MonthlyNDVI(_ context.Context, _, _ float64, _ int) ([]landsat.MonthlyNDVI, error) {
	f.calls++
	return f.series, f.err
}

type fakeArtifacts struct {
	keys []string
}

func (f *fakeArtifacts) PointKey(_, _ float64, filename string) string {
	return "points/test/" + filename
}

func (f *fakeArtifacts) Put(key string, _ []byte) (string, error) {
	f.keys = append(f.keys, key)
	return "https://artifacts.test/" + key, nil
}

func months(values ...float64) []sentinelhub.MonthlyNDVI {
	out := make([]sentinelhub.MonthlyNDVI, len(values))
	for i := range values {
		out[i] = sentinelhub.MonthlyNDVI{Month: "2025-01", MeanNDVI: &values[i]}
	}
	return out
}

func fixedEnricher(primary SatelliteSource, fallback FallbackSource, store ArtifactStore) *Enricher {
	e := NewEnricher(primary, fallback, store)
	e.Now = func() time.Time { return time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC) }
	return e
}

func TestEnrich_PrimarySource(t *testing.T) {
	primary := &fakePrimary{stats: months(0.30, 0.40, 0.50)}
	fallback := &fakeFallback{}
	artifacts := &fakeArtifacts{}

	e := fixedEnricher(primary, fallback, artifacts)
	out := e.Enrich(context.Background(), 35.26, -81.18, 12)

	assert.Equal(t, "Sentinel-2", out.Trend.DataSource)
	assert.Equal(t, 3, out.Trend.MonthsData)
	assert.Equal(t, 0, fallback.calls, "fallback must not run when primary has data")
	assert.Contains(t, out.ChartURL, "ndvi_trend.svg")
	require.Len(t, artifacts.keys, 1)
}

func TestEnrich_FallbackOnPrimaryError(t *testing.T) {
	primary := &fakePrimary{err: eris.New("sentinelhub: status 429")}
	fallback := &fakeFallback{series: []landsat.MonthlyNDVI{
		{Month: "2025-01", NDVI: 0.4},
		{Month: "2025-02", NDVI: 0.45},
		{Month: "2025-03", NDVI: 0.5},
	}}

	e := fixedEnricher(primary, fallback, nil)
	out := e.Enrich(context.Background(), 35.26, -81.18, 12)

	assert.Equal(t, "Landsat", out.Trend.DataSource)
	assert.Equal(t, 1, fallback.calls)
	assert.NotEmpty(t, out.Errors)
}

func TestEnrich_FallbackOnPrimaryEmpty(t *testing.T) {
	primary := &fakePrimary{}
	fallback := &fakeFallback{series: []landsat.MonthlyNDVI{{Month: "2025-01", NDVI: 0.4}}}

	e := fixedEnricher(primary, fallback, nil)
	out := e.Enrich(context.Background(), 35.26, -81.18, 12)
	assert.Equal(t, "Landsat", out.Trend.DataSource)
}

func TestEnrich_BothEmpty(t *testing.T) {
	e := fixedEnricher(&fakePrimary{}, &fakeFallback{}, &fakeArtifacts{})
	out := e.Enrich(context.Background(), 35.26, -81.18, 12)
	assert.Equal(t, TrendInsufficient, out.Trend.Direction)
	assert.Empty(t, out.ChartURL, "no chart without data")
}

func TestRescore_AdvancesPass(t *testing.T) {
	primary := &fakePrimary{stats: months(0.55, 0.60, 0.68)}
	e := fixedEnricher(primary, nil, nil)

	parcel := model.Parcel{
		ParcelID:  "P9",
		County:    "Gaston",
		StateCode: "NC",
		NDVIScore: f64(0.70),
		FemaZone:  "AE",
		FemaRisk:  "high",
		FemaSFHA:  true,
	}
	enrichment := e.Enrich(context.Background(), 35.26, -81.18, 12)
	out := e.Rescore(parcel, enrichment)

	assert.Equal(t, int16(2), out.ScanPass)
	assert.Equal(t, TrendRising, out.TrendDirection)
	assert.Equal(t, int16(3), out.MonthsData)
	require.NotNil(t, out.DistressScore)
	// Flood flag must survive the rescore.
	assert.True(t, out.FlagFlood)
	assert.Greater(t, *out.DistressScore, 0.0)
}

func TestRescore_Idempotent(t *testing.T) {
	primary := &fakePrimary{stats: months(0.55, 0.60, 0.68)}
	e := fixedEnricher(primary, nil, nil)
	parcel := model.Parcel{ParcelID: "P9", County: "Gaston", NDVIScore: f64(0.70)}

	enrichment := e.Enrich(context.Background(), 35.26, -81.18, 12)
	assert.Equal(t, e.Rescore(parcel, enrichment), e.Rescore(parcel, enrichment))
}
