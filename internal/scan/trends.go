package scan

import (
	"math"

	"github.com/sells-group/distress-scanner/internal/model"
)

// Trend direction cutoffs: monthly slope beyond ±0.005 NDVI/month.
const trendSlopeThreshold = 0.005

// Trend directions persisted in the satellite band.
const (
	TrendRising       = "rising"
	TrendFalling      = "falling"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient"
)

// MonthlyValue is one month's mean NDVI from either satellite source.
type MonthlyValue struct {
	Month string
	NDVI  float64
}

// TrendSeries is the analyzed monthly NDVI series.
type TrendSeries struct {
	Monthly    []MonthlyValue
	Slope      *float64
	Direction  string
	Latest     *float64
	Earliest   *float64
	Mean       *float64
	MonthsData int
	DataSource string
}

// AnalyzeTrend fits a line to the monthly series (x = month index) and
// classifies the direction. Fewer than 3 months is insufficient.
func AnalyzeTrend(monthly []MonthlyValue, source string) TrendSeries {
	out := TrendSeries{
		Monthly:    monthly,
		Direction:  TrendInsufficient,
		MonthsData: len(monthly),
		DataSource: source,
	}
	if len(monthly) == 0 {
		return out
	}

	latest := monthly[len(monthly)-1].NDVI
	earliest := monthly[0].NDVI
	out.Latest = &latest
	out.Earliest = &earliest

	sum := 0.0
	for _, m := range monthly {
		sum += m.NDVI
	}
	mean := math.Round(sum/float64(len(monthly))*1e4) / 1e4
	out.Mean = &mean

	if len(monthly) < 3 {
		return out
	}

	n := float64(len(monthly))
	xMean := (n - 1) / 2
	var num, den float64
	for i, m := range monthly {
		num += (float64(i) - xMean) * (m.NDVI - mean)
		den += (float64(i) - xMean) * (float64(i) - xMean)
	}
	if den == 0 {
		return out
	}

	slope := math.Round(num/den*1e6) / 1e6
	out.Slope = &slope
	switch {
	case slope > trendSlopeThreshold:
		out.Direction = TrendRising
	case slope < -trendSlopeThreshold:
		out.Direction = TrendFalling
	default:
		out.Direction = TrendStable
	}
	return out
}

// TrendEvidence converts the series into evaluator evidence. The evaluators
// use the increasing/decreasing vocabulary; rising/falling is the persisted
// column vocabulary.
func (t TrendSeries) TrendEvidence() *model.TrendEvidence {
	if t.MonthsData == 0 {
		return nil
	}
	direction := ""
	switch t.Direction {
	case TrendRising:
		direction = "increasing"
	case TrendFalling:
		direction = "decreasing"
	case TrendStable:
		direction = "stable"
	default:
		direction = "insufficient_data"
	}
	return &model.TrendEvidence{
		Slope:        t.Slope,
		Direction:    direction,
		LatestNDVI:   t.Latest,
		EarliestNDVI: t.Earliest,
		MonthsData:   t.MonthsData,
	}
}
