package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distress-scanner/internal/model"
)

func TestDistress_WeightedSum(t *testing.T) {
	// Overgrowth at 0.6: 2.0 × 0.6 = 1.2.
	score := Distress([]model.Flag{
		{Code: "vegetation_overgrowth", Confidence: 0.6},
	})
	assert.InDelta(t, 1.2, score, 0.001)
}

func TestDistress_NeglectPlusFlood(t *testing.T) {
	// 1.5 × 0.65 + 1.5 × 1.0 = 2.475, rounded to 2.48.
	score := Distress([]model.Flag{
		{Code: "vegetation_neglect", Confidence: 0.65},
		{Code: "flood_risk", Confidence: 1.0},
	})
	assert.InDelta(t, 2.48, score, 0.001)
}

func TestDistress_Clamped(t *testing.T) {
	var flags []model.Flag
	for code := range SignalWeights {
		flags = append(flags, model.Flag{Code: code, Confidence: 1.0})
	}
	// Pile on duplicates far past the cap.
	flags = append(flags, flags...)
	flags = append(flags, flags...)

	score := Distress(flags)
	assert.Equal(t, 10.0, score)
}

func TestDistress_UnknownCodeDefaultWeight(t *testing.T) {
	score := Distress([]model.Flag{{Code: "mystery", Confidence: 0.5}})
	assert.InDelta(t, 0.5, score, 0.001)
}

func TestDistress_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Distress(nil))
}

func TestSlope_ClosedForm(t *testing.T) {
	// Perfect line: ndvi = 0.02 × year + c.
	slope := Slope([]SlopePoint{
		{Year: 2014, NDVI: 0.40},
		{Year: 2016, NDVI: 0.44},
		{Year: 2018, NDVI: 0.48},
		{Year: 2020, NDVI: 0.52},
	})
	require.NotNil(t, slope)
	assert.InDelta(t, 0.02, *slope, 1e-9)
}

func TestSlope_TwoPoints(t *testing.T) {
	slope := Slope([]SlopePoint{
		{Year: 2014, NDVI: 0.35},
		{Year: 2020, NDVI: 0.53},
	})
	require.NotNil(t, slope)
	assert.InDelta(t, 0.03, *slope, 1e-9)
}

func TestSlope_InsufficientPoints(t *testing.T) {
	assert.Nil(t, Slope(nil))
	assert.Nil(t, Slope([]SlopePoint{{Year: 2020, NDVI: 0.5}}))
}

func TestSlope_DegenerateYears(t *testing.T) {
	// All observations in one year: zero x-variance, slope pins to 0.
	slope := Slope([]SlopePoint{
		{Year: 2020, NDVI: 0.3},
		{Year: 2020, NDVI: 0.5},
	})
	require.NotNil(t, slope)
	assert.Equal(t, 0.0, *slope)
}

func TestSlope_NegativeTrend(t *testing.T) {
	slope := Slope([]SlopePoint{
		{Year: 2014, NDVI: 0.60},
		{Year: 2018, NDVI: 0.40},
		{Year: 2022, NDVI: 0.20},
	})
	require.NotNil(t, slope)
	assert.Less(t, *slope, 0.0)
}
