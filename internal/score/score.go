// Package score implements the three scoring formulas: the per-parcel
// weighted distress score, the historical NDVI slope regression feeding the
// county composite, and the conviction fusion.
package score

import (
	"math"

	"github.com/sells-group/distress-scanner/internal/model"
)

// Signal weights applied to flag confidences when computing the distress score.
var SignalWeights = map[string]float64{
	"vegetation_overgrowth": 2.0,
	"vegetation_neglect":    1.5,
	"flood_risk":            1.5,
	"structural_change":     2.5,
	"usps_vacancy":          2.5,
}

// Distress computes the weighted distress score for a set of triggered
// flags, clamped to [0, 10]. Unknown codes weigh 1.0.
func Distress(flags []model.Flag) float64 {
	total := 0.0
	for _, f := range flags {
		weight, ok := SignalWeights[f.Code]
		if !ok {
			weight = 1.0
		}
		total += weight * f.Confidence
	}
	return round2(math.Min(total, 10.0))
}

// SlopePoint is one (year, NDVI) observation for the slope regression.
type SlopePoint struct {
	Year int
	NDVI float64
}

// Slope computes the NDVI change per year via ordinary least-squares linear
// regression. Returns nil with fewer than 2 points. A degenerate x-variance
// (all points in one year) yields 0.
func Slope(points []SlopePoint) *float64 {
	if len(points) < 2 {
		return nil
	}

	n := float64(len(points))
	var sumX, sumY, sumXY, sumX2 float64
	for _, p := range points {
		x := float64(p.Year)
		sumX += x
		sumY += p.NDVI
		sumXY += x * p.NDVI
		sumX2 += x * x
	}

	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		zero := 0.0
		return &zero
	}

	slope := (n*sumXY - sumX*sumY) / denom
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return nil
	}
	slope = math.Round(slope*1e6) / 1e6
	return &slope
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}
