package scan

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/flags"
	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/score"
	"github.com/sells-group/distress-scanner/internal/storage"
	"github.com/sells-group/distress-scanner/pkg/landsat"
	"github.com/sells-group/distress-scanner/pkg/naip"
	"github.com/sells-group/distress-scanner/pkg/sentinelhub"
)

// SatelliteSource is the slice of the primary satellite client the enricher
// needs.
type SatelliteSource interface {
	MonthlyStats(ctx context.Context, bbox [4]float64, from, to string) ([]sentinelhub.MonthlyNDVI, error)
}

// FallbackSource is the free satellite fallback.
type FallbackSource interface {
	MonthlyNDVI(ctx context.Context, lat, lng float64, monthsBack int) ([]landsat.MonthlyNDVI, error)
}

// ArtifactStore is the slice of the artifact store the enricher needs.
type ArtifactStore interface {
	PointKey(lat, lng float64, filename string) string
	Put(key string, data []byte) (string, error)
}

// Enricher runs satellite trend enrichment with the free fallback.
type Enricher struct {
	Primary  SatelliteSource
	Fallback FallbackSource
	Store    ArtifactStore
	Now      func() time.Time
}

// NewEnricher wires the satellite enrichment pipeline.
func NewEnricher(primary SatelliteSource, fallback FallbackSource, store ArtifactStore) *Enricher {
	return &Enricher{Primary: primary, Fallback: fallback, Store: store, Now: time.Now}
}

// Enrichment is the satellite band for one parcel before persistence.
type Enrichment struct {
	Trend    TrendSeries
	ChartURL string
	Errors   []string
}

// Enrich computes monthly NDVI trends for a point: primary satellite first,
// fallback when the primary errors or returns empty, chart artifact last.
func (e *Enricher) Enrich(ctx context.Context, lat, lng float64, months int) Enrichment {
	out := Enrichment{}

	var monthly []MonthlyValue
	source := ""

	if e.Primary != nil {
		end := e.Now().UTC()
		start := end.AddDate(0, -months, 0)
		stats, err := e.Primary.MonthlyStats(ctx, naip.BBox(lat, lng, 50),
			start.Format("2006-01-02"), end.Format("2006-01-02"))
		if err != nil {
			out.Errors = append(out.Errors, "satellite: "+err.Error())
			zap.L().Warn("satellite stats failed",
				zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
		} else {
			for _, m := range stats {
				if m.MeanNDVI == nil {
					continue
				}
				monthly = append(monthly, MonthlyValue{Month: m.Month, NDVI: *m.MeanNDVI})
			}
			if len(monthly) > 0 {
				source = "Sentinel-2"
			}
		}
	}

	// Fallback: free 30m source, capped at 12 months to bound the call count.
	if len(monthly) == 0 && e.Fallback != nil {
		fallbackMonths := months
		if fallbackMonths > 12 {
			fallbackMonths = 12
		}
		series, err := e.Fallback.MonthlyNDVI(ctx, lat, lng, fallbackMonths)
		if err != nil {
			out.Errors = append(out.Errors, "fallback: "+err.Error())
		} else {
			for _, m := range series {
				monthly = append(monthly, MonthlyValue{Month: m.Month, NDVI: m.NDVI})
			}
			if len(monthly) > 0 {
				source = "Landsat"
			}
		}
	}

	out.Trend = AnalyzeTrend(monthly, source)

	if len(monthly) > 0 && e.Store != nil {
		chartPoints := make([]storage.TrendPoint, len(monthly))
		for i, m := range monthly {
			chartPoints[i] = storage.TrendPoint{Month: m.Month, NDVI: m.NDVI}
		}
		svg := storage.TrendChartSVG(chartPoints, out.Trend.Slope)
		key := e.Store.PointKey(lat, lng, "ndvi_trend.svg")
		url, err := e.Store.Put(key, svg)
		if err != nil {
			out.Errors = append(out.Errors, "chart: "+err.Error())
			zap.L().Warn("chart store failed", zap.Error(err))
		} else {
			out.ChartURL = url
		}
	}

	zap.L().Debug("enrich complete",
		zap.Float64("lat", lat), zap.Float64("lng", lng),
		zap.String("source", source),
		zap.Int("months", out.Trend.MonthsData),
		zap.String("direction", out.Trend.Direction))
	return out
}

// Rescore re-runs the evaluators for a parcel that already has Pass 1 data,
// now with trend evidence, and returns the satellite band plus the rescored
// flag set at scan pass 2.
func (e *Enricher) Rescore(p model.Parcel, enrichment Enrichment) model.SentinelResult {
	out := model.SentinelResult{
		ParcelID:       p.ParcelID,
		County:         p.County,
		StateCode:      p.StateCode,
		TrendDirection: enrichment.Trend.Direction,
		TrendSlope:     enrichment.Trend.Slope,
		LatestNDVI:     enrichment.Trend.Latest,
		MonthsData:     int16(enrichment.Trend.MonthsData),
		MeanNDVI:       enrichment.Trend.Mean,
		DataSource:     enrichment.Trend.DataSource,
		ChartURL:       enrichment.ChartURL,
		ScanDate:       e.Now().UTC(),
		ScanPass:       2,
	}

	var aerial *model.AerialEvidence
	if p.NDVIScore != nil {
		aerial = &model.AerialEvidence{CurrentNDVI: p.NDVIScore}
	}
	var flood *model.FloodEvidence
	if p.FemaZone != "" {
		flood = &model.FloodEvidence{
			Zone:      p.FemaZone,
			RiskLevel: p.FemaRisk,
			SFHA:      p.FemaSFHA,
		}
	}

	fired := flags.Evaluate(model.Evidence{
		Aerial: aerial,
		Trend:  enrichment.Trend.TrendEvidence(),
		Flood:  flood,
	})

	ds := score.Distress(fired)
	out.DistressScore = &ds
	applyFlags(&out.DistressFlags, &out.FlagVeg, &out.FlagFlood, &out.FlagStructural,
		&out.FlagNeglect, &out.VegConfidence, &out.FloodConfidence, fired)
	return out
}
