// Package scan runs the per-parcel evidence pipeline: client fan-in, flag
// evaluation, and score computation. Batch drivers in internal/pass call
// into this package; the HTTP query surface reuses the same entry points.
package scan

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/flags"
	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/score"
	"github.com/sells-group/distress-scanner/pkg/fema"
	"github.com/sells-group/distress-scanner/pkg/naip"
)

// AerialSource is the slice of the aerial client the scanner needs.
type AerialSource interface {
	FastNDVI(ctx context.Context, lat, lng float64) naip.FastResult
}

// FloodSource is the slice of the flood client the scanner needs.
type FloodSource interface {
	QueryZone(ctx context.Context, lat, lng float64) (*fema.Zone, error)
}

// Scanner runs free scans against the aerial and flood sources.
type Scanner struct {
	Aerial AerialSource
	Flood  FloodSource
	Now    func() time.Time
}

// NewScanner wires a scanner over the two free sources.
func NewScanner(aerial AerialSource, flood FloodSource) *Scanner {
	return &Scanner{Aerial: aerial, Flood: flood, Now: time.Now}
}

// FreeResult is one free scan outcome: evidence, flags, score, and the
// sentinel-worthy decision.
type FreeResult struct {
	Aerial         naip.FastResult
	Flood          *fema.Zone
	Flags          []model.Flag
	DistressScore  float64
	SentinelWorthy bool
	Errors         []string
}

// Free runs the Pass 1 scan for one point: aerial-fast + flood, evaluate
// flags, compute the distress score. A flood failure degrades the scan
// rather than failing it; an aerial failure leaves NDVI nil the same way.
func (s *Scanner) Free(ctx context.Context, lat, lng float64) FreeResult {
	out := FreeResult{}

	out.Aerial = s.Aerial.FastNDVI(ctx, lat, lng)
	if out.Aerial.Err != "" {
		out.Errors = append(out.Errors, "aerial: "+out.Aerial.Err)
	}

	zone, err := s.Flood.QueryZone(ctx, lat, lng)
	if err != nil {
		out.Errors = append(out.Errors, "flood: "+err.Error())
		zap.L().Warn("flood lookup failed", zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Error(err))
	} else {
		out.Flood = zone
	}

	ev := model.Evidence{
		Aerial: AerialEvidence(out.Aerial, nil),
		Flood:  FloodEvidence(out.Flood),
	}
	out.Flags = flags.Evaluate(ev)
	out.DistressScore = score.Distress(out.Flags)
	out.SentinelWorthy = SentinelWorthy(out.Aerial.NDVI, nil, out.Flood, out.Flags)

	return out
}

// AerialEvidence adapts a fast NDVI result (plus an optional historical
// mean) into evaluator evidence. Invariant guard: NDVI outside [-1, 1] is a
// diagnostic, and the aerial evaluators are skipped for that source.
func AerialEvidence(fast naip.FastResult, historicalMean *float64) *model.AerialEvidence {
	if fast.NDVI == nil {
		return nil
	}
	if *fast.NDVI < -1 || *fast.NDVI > 1 {
		zap.L().Error("ndvi out of range", zap.Float64("ndvi", *fast.NDVI))
		return &model.AerialEvidence{Err: "ndvi_out_of_range"}
	}
	return &model.AerialEvidence{
		CurrentNDVI:    fast.NDVI,
		HistoricalMean: historicalMean,
		Category:       fast.Category,
		Date:           fast.Date,
	}
}

// FloodEvidence adapts a flood zone into evaluator evidence.
func FloodEvidence(zone *fema.Zone) *model.FloodEvidence {
	if zone == nil {
		return nil
	}
	return &model.FloodEvidence{
		Zone:        zone.FloodZone,
		RiskLevel:   zone.RiskLevel,
		SFHA:        zone.SFHA,
		ZoneSubtype: zone.ZoneSubtype,
	}
}

// SentinelWorthy decides whether a parcel earns satellite enrichment:
// elevated NDVI, any fired flag, a large NDVI drop from baseline, or a
// high/moderate flood tier.
func SentinelWorthy(ndvi *float64, ndviChange *float64, zone *fema.Zone, fired []model.Flag) bool {
	if ndvi != nil && *ndvi > 0.50 {
		return true
	}
	if ndviChange != nil && *ndviChange < -0.20 {
		return true
	}
	if zone != nil && (zone.RiskLevel == fema.RiskHigh || zone.RiskLevel == fema.RiskModerate) {
		return true
	}
	return len(fired) > 0
}

// ToScanResult converts a free scan into the Pass 1 persistence band.
func (s *Scanner) ToScanResult(p model.Parcel, free FreeResult) model.ScanResult {
	out := model.ScanResult{
		ParcelID:       p.ParcelID,
		County:         p.County,
		StateCode:      p.StateCode,
		NDVIScore:      free.Aerial.NDVI,
		NDVIDate:       free.Aerial.Date,
		NDVICategory:   free.Aerial.Category,
		ScanDate:       s.Now().UTC(),
		ScanPass:       1,
		SentinelWorthy: free.SentinelWorthy,
	}
	// Total evidence failure still marks the parcel scanned (so selection
	// does not spin on it) with the error codes recorded on the row.
	if free.Aerial.NDVI == nil && free.Flood == nil && len(free.Errors) > 0 {
		out.ScanError = strings.Join(free.Errors, "; ")
	}
	if free.Flood != nil {
		out.FemaZone = free.Flood.FloodZone
		out.FemaRisk = free.Flood.RiskLevel
		out.FemaSFHA = free.Flood.SFHA
	}
	ds := free.DistressScore
	out.DistressScore = &ds
	applyFlags(&out.DistressFlags, &out.FlagVeg, &out.FlagFlood, &out.FlagStructural,
		&out.FlagNeglect, &out.VegConfidence, &out.FloodConfidence, free.Flags)
	return out
}

// applyFlags folds the fired flag set into the persisted booleans and
// confidences. Vegetation confidence takes the max of overgrowth and
// neglect — max, not or: a 0.0 confidence is a value.
func applyFlags(codes *string, veg, flood, structural, neglect *bool,
	vegConf, floodConf **float64, fired []model.Flag) {
	var names []string
	conf := map[string]float64{}
	for _, f := range fired {
		names = append(names, f.Code)
		conf[f.Code] = f.Confidence
	}
	sort.Strings(names)
	*codes = strings.Join(names, ",")

	_, hasOg := conf["vegetation_overgrowth"]
	_, hasFl := conf["flood_risk"]
	_, hasSt := conf["structural_change"]
	_, hasNg := conf["vegetation_neglect"]
	*veg = hasOg
	*flood = hasFl
	*structural = hasSt
	*neglect = hasNg

	og := conf["vegetation_overgrowth"]
	ng := conf["vegetation_neglect"]
	if hasOg || hasNg {
		v := og
		if ng > v {
			v = ng
		}
		*vegConf = &v
	}
	if fc, ok := conf["flood_risk"]; ok {
		*floodConf = &fc
	}
}
