// Package flags holds the distress flag evaluators. Each evaluator is a pure
// function of the evidence bundle returning a flag code, a confidence in
// [0, 1], and the evidence values that contributed.
package flags

import (
	"math"

	"github.com/sells-group/distress-scanner/internal/model"
)

// NDVI thresholds tuned for property-distress detection.
const (
	NDVINeglectMin = 0.10 // below this = impervious/rock, not neglect
	NDVINeglectMax = 0.30

	NDVIOvergrowthModerate = 0.50
	NDVIOvergrowthStrong   = 0.65
	NDVIOvergrowthChange   = 0.15 // delta above historical baseline

	NDVIDropThreshold = 0.20 // decrease indicating a structural event

	FloodHighConfidence     = 1.0
	FloodModerateConfidence = 0.6

	agreementBoost = 0.2 // aerial + satellite agreeing on direction
)

// VegetationOvergrowth detects overgrowth from the aerial baseline and the
// satellite trend. Two-tier: strong (NDVI ≥ 0.65) flags even without history
// at confidence 0.6; moderate (0.50-0.65) flags only when the historical
// delta confirms. Agreement between sources boosts confidence additively.
func VegetationOvergrowth(aerial *model.AerialEvidence, trend *model.TrendEvidence) (model.Flag, bool) {
	flag := model.Flag{Code: "vegetation_overgrowth", Evidence: map[string]any{}}

	aerialFired := false
	aerialConf := 0.0
	noBaseline := false

	if aerial != nil && aerial.Err == "" && aerial.CurrentNDVI != nil {
		current := *aerial.CurrentNDVI
		hist := aerial.HistoricalMean

		switch {
		case current >= NDVIOvergrowthStrong:
			if hist != nil && current > *hist+NDVIOvergrowthChange {
				aerialFired = true
				aerialConf = math.Min((current-*hist)/0.3, 1.0)
				flag.Evidence["aerial_ndvi"] = current
				flag.Evidence["historical_mean"] = *hist
				flag.Evidence["delta"] = round4(current - *hist)
				flag.Evidence["tier"] = "strong"
			} else if hist == nil {
				// No history but very high NDVI: flag at conservative confidence.
				aerialFired = true
				noBaseline = true
				aerialConf = 0.6
				flag.Evidence["aerial_ndvi"] = current
				flag.Evidence["note"] = "no_historical_baseline"
				flag.Evidence["tier"] = "strong"
			}
		case current >= NDVIOvergrowthModerate:
			if hist != nil && current > *hist+NDVIOvergrowthChange {
				aerialFired = true
				aerialConf = math.Min((current-*hist)/0.3, 0.8)
				flag.Evidence["aerial_ndvi"] = current
				flag.Evidence["historical_mean"] = *hist
				flag.Evidence["delta"] = round4(current - *hist)
				flag.Evidence["tier"] = "moderate"
			}
		}
	}

	trendFired := false
	trendConf := 0.0
	if trend != nil && trend.Err == "" && trend.Direction == "increasing" && trend.Slope != nil {
		if trend.LatestNDVI != nil && *trend.LatestNDVI > NDVIOvergrowthModerate {
			trendFired = true
			trendConf = math.Min(*trend.Slope/0.02, 1.0)
			flag.Evidence["trend_slope"] = *trend.Slope
			flag.Evidence["trend_direction"] = trend.Direction
			flag.Evidence["trend_latest_ndvi"] = *trend.LatestNDVI
		}
	}

	switch {
	case aerialFired && trendFired:
		flag.Confidence = math.Min(math.Max(aerialConf, trendConf)+agreementBoost, 1.0)
		flag.Evidence["agreement"] = "aerial_and_satellite"
	case aerialFired:
		if noBaseline {
			// Already conservative, no single-source discount.
			flag.Confidence = aerialConf
		} else {
			flag.Confidence = aerialConf * 0.8
		}
		flag.Evidence["source"] = "aerial_only"
	case trendFired:
		flag.Confidence = trendConf * 0.7
		flag.Evidence["source"] = "satellite_only"
	default:
		return model.Flag{}, false
	}

	return flag, true
}

// VegetationNeglect flags bare/abandoned lots (NDVI in the neglect band).
// Confidence is linear and inverse within the band; a high or moderate flood
// risk adds 0.15 (capped at 1.0). Signal combination elsewhere must use max,
// never logical-or: a 0.0 confidence is a value, not an absence.
func VegetationNeglect(aerial *model.AerialEvidence, flood *model.FloodEvidence) (model.Flag, bool) {
	if aerial == nil || aerial.Err != "" || aerial.CurrentNDVI == nil {
		return model.Flag{}, false
	}
	current := *aerial.CurrentNDVI
	if current < NDVINeglectMin || current > NDVINeglectMax {
		return model.Flag{}, false
	}

	// 0.10 -> 1.0, 0.30 -> 0.0
	conf := 1.0 - (current-NDVINeglectMin)/(NDVINeglectMax-NDVINeglectMin)
	conf = math.Round(conf*100) / 100

	flag := model.Flag{
		Code:       "vegetation_neglect",
		Confidence: conf,
		Evidence: map[string]any{
			"aerial_ndvi": current,
			"category":    "neglect",
		},
	}

	if flood != nil && flood.Err == "" {
		if flood.RiskLevel == "high" || flood.RiskLevel == "moderate" {
			flag.Confidence = math.Min(flag.Confidence+0.15, 1.0)
			flag.Evidence["flood_boost"] = true
			flag.Evidence["flood_risk"] = flood.RiskLevel
		}
	}

	return flag, true
}

// FloodRisk classifies by hazard zone: high/SFHA fires at 1.0, moderate at 0.6.
func FloodRisk(flood *model.FloodEvidence) (model.Flag, bool) {
	if flood == nil || flood.Err != "" {
		return model.Flag{}, false
	}

	flag := model.Flag{Code: "flood_risk"}
	switch {
	case flood.RiskLevel == "high" || flood.SFHA:
		flag.Confidence = FloodHighConfidence
	case flood.RiskLevel == "moderate":
		flag.Confidence = FloodModerateConfidence
	default:
		return model.Flag{}, false
	}

	flag.Evidence = map[string]any{
		"flood_zone":   flood.Zone,
		"risk_level":   flood.RiskLevel,
		"is_sfha":      flood.SFHA,
		"zone_subtype": flood.ZoneSubtype,
	}
	return flag, true
}

// StructuralChange detects demolition/fire/clearing: a large NDVI drop from
// the historical baseline, or a matching decreasing satellite trend.
func StructuralChange(aerial *model.AerialEvidence, trend *model.TrendEvidence) (model.Flag, bool) {
	flag := model.Flag{Code: "structural_change", Evidence: map[string]any{}}

	aerialFired := false
	aerialConf := 0.0
	if aerial != nil && aerial.Err == "" && aerial.CurrentNDVI != nil && aerial.HistoricalMean != nil {
		drop := *aerial.HistoricalMean - *aerial.CurrentNDVI
		if drop > NDVIDropThreshold {
			aerialFired = true
			aerialConf = math.Min(drop/0.4, 1.0)
			flag.Evidence["aerial_ndvi"] = *aerial.CurrentNDVI
			flag.Evidence["historical_mean"] = *aerial.HistoricalMean
			flag.Evidence["drop"] = round4(drop)
		}
	}

	trendFired := false
	trendConf := 0.0
	if trend != nil && trend.Err == "" && trend.Direction == "decreasing" && trend.Slope != nil {
		if trend.EarliestNDVI != nil && trend.LatestNDVI != nil &&
			*trend.EarliestNDVI-*trend.LatestNDVI > NDVIDropThreshold {
			trendFired = true
			trendConf = math.Min(math.Abs(*trend.Slope)/0.02, 1.0)
			flag.Evidence["trend_slope"] = *trend.Slope
			flag.Evidence["trend_drop"] = round4(*trend.EarliestNDVI - *trend.LatestNDVI)
			flag.Evidence["trend_latest_ndvi"] = *trend.LatestNDVI
		}
	}

	switch {
	case aerialFired && trendFired:
		flag.Confidence = math.Min(math.Max(aerialConf, trendConf)+agreementBoost, 1.0)
		flag.Evidence["agreement"] = "aerial_and_satellite"
	case aerialFired:
		flag.Confidence = aerialConf * 0.8
		flag.Evidence["source"] = "aerial_only"
	case trendFired:
		flag.Confidence = trendConf * 0.7
		flag.Evidence["source"] = "satellite_only"
	default:
		return model.Flag{}, false
	}

	return flag, true
}

// USPSVacancy evaluates the carrier-confirmed vacancy record. Confidence is
// 0.90 vacant+DPV-confirmed, 0.75 vacant with DPV unknown, capped at 0.70
// when the resolved address differs from the input.
func USPSVacancy(vacancy *model.VacancyEvidence) (model.Flag, bool) {
	if vacancy == nil || vacancy.Vacant == nil || !*vacancy.Vacant {
		return model.Flag{}, false
	}

	confidence := 0.75
	if vacancy.DPVConfirmed != nil && *vacancy.DPVConfirmed {
		confidence = 0.90
	}
	if vacancy.AddressMismatch {
		confidence = math.Min(confidence, 0.70)
	}

	return model.Flag{
		Code:       "usps_vacancy",
		Confidence: confidence,
		Evidence: map[string]any{
			"source":           "usps_address_api_v3",
			"vacant":           true,
			"dpv_confirmed":    vacancy.DPVConfirmed,
			"address_mismatch": vacancy.AddressMismatch,
			"usps_address":     vacancy.Address,
			"usps_city":        vacancy.City,
			"usps_zip":         vacancy.Zip,
			"carrier_route":    vacancy.CarrierRoute,
		},
	}, true
}

// Evaluate runs all evaluators against an evidence bundle and returns the
// triggered flags.
func Evaluate(ev model.Evidence) []model.Flag {
	var out []model.Flag
	if f, ok := VegetationOvergrowth(ev.Aerial, ev.Trend); ok {
		out = append(out, f)
	}
	if f, ok := VegetationNeglect(ev.Aerial, ev.Flood); ok {
		out = append(out, f)
	}
	if f, ok := FloodRisk(ev.Flood); ok {
		out = append(out, f)
	}
	if f, ok := StructuralChange(ev.Aerial, ev.Trend); ok {
		out = append(out, f)
	}
	if f, ok := USPSVacancy(ev.Vacancy); ok {
		out = append(out, f)
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
