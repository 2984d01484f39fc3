package naip

import (
	"context"
	"math"

	"go.uber.org/zap"
)

// FastResult is the single-call NDVI lookup used by bulk Pass 1 scanning:
// one identify request, no vintage history, no image export.
type FastResult struct {
	NDVI     *float64
	Date     string
	Category string
	Err      string
}

// NDVI category thresholds for distress classification.
const (
	categoryBareMax     = 0.10
	categoryMinimalMax  = 0.30
	categorySparseMax   = 0.50
	categoryModerateMax = 0.65
)

// Categorize maps an NDVI value to its distress category label.
func Categorize(ndvi *float64) string {
	switch {
	case ndvi == nil:
		return "no_data"
	case *ndvi < categoryBareMax:
		return "bare"
	case *ndvi < categoryMinimalMax:
		return "minimal"
	case *ndvi < categorySparseMax:
		return "sparse"
	case *ndvi < categoryModerateMax:
		return "moderate"
	default:
		return "dense"
	}
}

// FastNDVI is the bulk-scan variant: current NDVI and category only.
func (c *Client) FastNDVI(ctx context.Context, lat, lng float64) FastResult {
	reading, err := c.NDVIAtPoint(ctx, lat, lng)
	if err != nil {
		zap.L().Warn("naip fast ndvi failed",
			zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
		return FastResult{Category: "error", Err: err.Error()}
	}

	out := FastResult{Date: reading.AcquisitionDate, Err: reading.Err}
	if reading.NDVI != nil {
		rounded := math.Round(*reading.NDVI*1e4) / 1e4
		out.NDVI = &rounded
	}
	out.Category = Categorize(out.NDVI)
	return out
}

// BBox builds a bounding box around a point. bufferMeters=50 yields roughly
// a 100m × 100m box, about one parcel. Returns (minLng, minLat, maxLng, maxLat).
func BBox(lat, lng, bufferMeters float64) [4]float64 {
	latOffset := bufferMeters / 111_000
	lngOffset := bufferMeters / (111_000 * math.Cos(lat*math.Pi/180))
	return [4]float64{lng - lngOffset, lat - latOffset, lng + lngOffset, lat + latOffset}
}
