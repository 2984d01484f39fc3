package flags

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distress-scanner/internal/model"
)

func f64(v float64) *float64 { return &v }
func b(v bool) *bool         { return &v }

func TestVegetationOvergrowth_StrongTierNoHistory(t *testing.T) {
	flag, ok := VegetationOvergrowth(&model.AerialEvidence{CurrentNDVI: f64(0.72)}, nil)
	require.True(t, ok)
	assert.Equal(t, "vegetation_overgrowth", flag.Code)
	assert.InDelta(t, 0.6, flag.Confidence, 0.001)
	assert.Equal(t, "no_historical_baseline", flag.Evidence["note"])
}

func TestVegetationOvergrowth_StrongBoundary(t *testing.T) {
	// Exactly 0.65 fires the strong tier.
	flag, ok := VegetationOvergrowth(&model.AerialEvidence{CurrentNDVI: f64(0.65)}, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.6, flag.Confidence, 0.001)

	// 0.6499 does not, absent a confirming historical delta.
	_, ok = VegetationOvergrowth(&model.AerialEvidence{CurrentNDVI: f64(0.6499)}, nil)
	assert.False(t, ok)

	// 0.6499 with delta > 0.15 fires the moderate tier.
	flag, ok = VegetationOvergrowth(&model.AerialEvidence{
		CurrentNDVI: f64(0.6499), HistoricalMean: f64(0.40),
	}, nil)
	require.True(t, ok)
	assert.Equal(t, "moderate", flag.Evidence["tier"])
	assert.Greater(t, flag.Confidence, 0.0)
}

func TestVegetationOvergrowth_ModerateNeedsDelta(t *testing.T) {
	// Moderate NDVI with insufficient delta: no flag.
	_, ok := VegetationOvergrowth(&model.AerialEvidence{
		CurrentNDVI: f64(0.55), HistoricalMean: f64(0.50),
	}, nil)
	assert.False(t, ok)

	// Moderate NDVI with no history at all: no flag.
	_, ok = VegetationOvergrowth(&model.AerialEvidence{CurrentNDVI: f64(0.55)}, nil)
	assert.False(t, ok)
}

func TestVegetationOvergrowth_AgreementBoost(t *testing.T) {
	aerial := &model.AerialEvidence{CurrentNDVI: f64(0.70), HistoricalMean: f64(0.45)}
	trend := &model.TrendEvidence{
		Direction: "increasing", Slope: f64(0.01), LatestNDVI: f64(0.68),
	}

	single, ok := VegetationOvergrowth(aerial, nil)
	require.True(t, ok)
	both, ok := VegetationOvergrowth(aerial, trend)
	require.True(t, ok)

	assert.Greater(t, both.Confidence, single.Confidence)
	assert.LessOrEqual(t, both.Confidence, 1.0)
	assert.Equal(t, "aerial_and_satellite", both.Evidence["agreement"])
}

func TestVegetationNeglect_LinearConfidence(t *testing.T) {
	tests := []struct {
		ndvi string
		v    float64
		want float64
	}{
		{"band_floor", 0.10, 1.0},
		{"mid_band", 0.20, 0.50},
		{"band_ceiling", 0.30, 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.ndvi, func(t *testing.T) {
			flag, ok := VegetationNeglect(&model.AerialEvidence{CurrentNDVI: f64(tt.v)}, nil)
			require.True(t, ok)
			assert.InDelta(t, tt.want, flag.Confidence, 0.001)
		})
	}
}

func TestVegetationNeglect_OutsideBand(t *testing.T) {
	for _, v := range []float64{0.05, 0.09, 0.31, 0.50} {
		_, ok := VegetationNeglect(&model.AerialEvidence{CurrentNDVI: f64(v)}, nil)
		assert.False(t, ok, "ndvi %v should not flag", v)
	}
}

func TestVegetationNeglect_FloodBoost(t *testing.T) {
	// NDVI 0.20 in a high-risk flood zone: 0.50 base + 0.15 boost.
	flag, ok := VegetationNeglect(
		&model.AerialEvidence{CurrentNDVI: f64(0.20)},
		&model.FloodEvidence{RiskLevel: "high", Zone: "AE", SFHA: true},
	)
	require.True(t, ok)
	assert.InDelta(t, 0.65, flag.Confidence, 0.001)
	assert.Equal(t, true, flag.Evidence["flood_boost"])
}

func TestVegetationNeglect_BoostCapped(t *testing.T) {
	flag, ok := VegetationNeglect(
		&model.AerialEvidence{CurrentNDVI: f64(0.10)},
		&model.FloodEvidence{RiskLevel: "moderate"},
	)
	require.True(t, ok)
	assert.InDelta(t, 1.0, flag.Confidence, 0.001)
}

func TestFloodRisk(t *testing.T) {
	tests := []struct {
		name     string
		flood    *model.FloodEvidence
		wantFlag bool
		wantConf float64
	}{
		{"high_zone", &model.FloodEvidence{RiskLevel: "high", Zone: "AE", SFHA: true}, true, 1.0},
		{"sfha_overrides", &model.FloodEvidence{RiskLevel: "low", SFHA: true}, true, 1.0},
		{"moderate", &model.FloodEvidence{RiskLevel: "moderate", Zone: "X"}, true, 0.6},
		{"low", &model.FloodEvidence{RiskLevel: "low", Zone: "X"}, false, 0},
		{"none", &model.FloodEvidence{RiskLevel: "none"}, false, 0},
		{"nil", nil, false, 0},
		{"errored", &model.FloodEvidence{RiskLevel: "high", Err: "timeout"}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag, ok := FloodRisk(tt.flood)
			assert.Equal(t, tt.wantFlag, ok)
			if ok {
				assert.InDelta(t, tt.wantConf, flag.Confidence, 0.001)
			}
		})
	}
}

func TestStructuralChange_Drop(t *testing.T) {
	flag, ok := StructuralChange(&model.AerialEvidence{
		CurrentNDVI: f64(0.20), HistoricalMean: f64(0.55),
	}, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.35/0.4*0.8, flag.Confidence, 0.001)

	// Drop below the threshold: no flag.
	_, ok = StructuralChange(&model.AerialEvidence{
		CurrentNDVI: f64(0.40), HistoricalMean: f64(0.55),
	}, nil)
	assert.False(t, ok)
}

func TestUSPSVacancy_ConfidenceLadder(t *testing.T) {
	tests := []struct {
		name string
		ev   *model.VacancyEvidence
		want float64
	}{
		{"vacant_dpv", &model.VacancyEvidence{Vacant: b(true), DPVConfirmed: b(true)}, 0.90},
		{"vacant_dpv_unknown", &model.VacancyEvidence{Vacant: b(true)}, 0.75},
		{"vacant_dpv_false", &model.VacancyEvidence{Vacant: b(true), DPVConfirmed: b(false)}, 0.75},
		{"mismatch_caps_dpv", &model.VacancyEvidence{
			Vacant: b(true), DPVConfirmed: b(true), AddressMismatch: true}, 0.70},
		{"mismatch_caps_unknown", &model.VacancyEvidence{
			Vacant: b(true), AddressMismatch: true}, 0.70},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag, ok := USPSVacancy(tt.ev)
			require.True(t, ok)
			assert.InDelta(t, tt.want, flag.Confidence, 0.001)
		})
	}
}

func TestUSPSVacancy_NotVacant(t *testing.T) {
	_, ok := USPSVacancy(&model.VacancyEvidence{Vacant: b(false)})
	assert.False(t, ok)
	_, ok = USPSVacancy(&model.VacancyEvidence{})
	assert.False(t, ok)
	_, ok = USPSVacancy(nil)
	assert.False(t, ok)
}

// Metamorphic check: a 0.0 confidence is a value, not an absence. The band
// ceiling yields a fired flag at confidence 0.0, and replacing a 0.15
// confidence with that 0.0 must not increase the combined result.
func TestNeglect_ZeroConfidenceNotTruthy(t *testing.T) {
	floor, ok := VegetationNeglect(&model.AerialEvidence{CurrentNDVI: f64(0.30)}, nil)
	require.True(t, ok, "band ceiling still fires, at zero confidence")
	assert.Equal(t, 0.0, floor.Confidence)

	low, ok := VegetationNeglect(&model.AerialEvidence{CurrentNDVI: f64(0.27)}, nil)
	require.True(t, ok)
	assert.InDelta(t, 0.15, low.Confidence, 0.001)

	// max-combination: swapping the 0.15 input for the 0.0 input can only
	// lower or hold the result, never raise it.
	combinedLow := max(low.Confidence, 0.0)
	combinedZero := max(floor.Confidence, 0.0)
	assert.GreaterOrEqual(t, combinedLow, combinedZero)
}

func TestEvaluate_AllSources(t *testing.T) {
	fired := Evaluate(model.Evidence{
		Aerial:  &model.AerialEvidence{CurrentNDVI: f64(0.20)},
		Flood:   &model.FloodEvidence{RiskLevel: "high", Zone: "AE", SFHA: true},
		Vacancy: &model.VacancyEvidence{Vacant: b(true), DPVConfirmed: b(true)},
	})

	codes := map[string]float64{}
	for _, f := range fired {
		codes[f.Code] = f.Confidence
	}
	assert.Len(t, fired, 3)
	assert.InDelta(t, 0.65, codes["vegetation_neglect"], 0.001)
	assert.InDelta(t, 1.0, codes["flood_risk"], 0.001)
	assert.InDelta(t, 0.90, codes["usps_vacancy"], 0.001)
}

func TestEvaluate_ConfidencesInRange(t *testing.T) {
	// Sweep NDVI across the full range; every confidence stays in [0, 1].
	for v := -0.9; v <= 0.95; v += 0.05 {
		fired := Evaluate(model.Evidence{
			Aerial: &model.AerialEvidence{CurrentNDVI: f64(v), HistoricalMean: f64(0.4)},
			Flood:  &model.FloodEvidence{RiskLevel: "moderate", Zone: "X"},
		})
		for _, f := range fired {
			assert.GreaterOrEqual(t, f.Confidence, 0.0, "ndvi %v flag %s", v, f.Code)
			assert.LessOrEqual(t, f.Confidence, 1.0, "ndvi %v flag %s", v, f.Code)
		}
	}
}
