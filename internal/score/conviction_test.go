package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func TestConviction_BothComponents(t *testing.T) {
	// Composite 8.0, MC raw 3.5 (mc_comp 0.5), vacant + DPV (0.90):
	// base = 10 × (0.35·0.8 + 0.40·0.5) / 0.75 = 6.40
	// bonus = 2.5 × 0.90 = 2.25 → 8.65
	out := Conviction(ConvictionInput{
		DSComposite:       f64(8.0),
		MCRaw:             3.5,
		MCCount:           3,
		FlagVacancy:       true,
		VacancyConfidence: f64(0.90),
	})
	require.NotNil(t, out.Score)
	assert.InDelta(t, 6.40, *out.Base, 0.001)
	assert.InDelta(t, 2.25, out.VacancyBonus, 0.001)
	assert.InDelta(t, 8.65, *out.Score, 0.001)
	assert.Equal(t, []string{"DS", "MC", "VAC"}, out.Components)
}

func TestConviction_DSOnlyPassesThrough(t *testing.T) {
	// Composite 7.59, no MC signals, not vacant:
	// 10 × (0.35 × 0.759) / 0.35 = 7.59.
	out := Conviction(ConvictionInput{DSComposite: f64(7.59)})
	require.NotNil(t, out.Score)
	assert.InDelta(t, 7.59, *out.Score, 0.001)
	assert.Equal(t, []string{"DS"}, out.Components)
}

func TestConviction_MCOnly(t *testing.T) {
	// mc_comp = 3.5/7 = 0.5 → 10 × 0.5 = 5.0.
	out := Conviction(ConvictionInput{MCRaw: 3.5, MCCount: 2})
	require.NotNil(t, out.Score)
	assert.InDelta(t, 5.0, *out.Score, 0.001)
	assert.Equal(t, []string{"MC"}, out.Components)
}

func TestConviction_ReweightNotZeroFill(t *testing.T) {
	// The essential property: a missing MC component must not drag the
	// average down. DS-only at composite 6.0 scores 6.0, not
	// 10 × (0.35 × 0.6) / 0.75 = 2.8.
	out := Conviction(ConvictionInput{DSComposite: f64(6.0)})
	require.NotNil(t, out.Score)
	assert.InDelta(t, 6.0, *out.Score, 0.001)
}

func TestConviction_ZeroSignalsIsMissing(t *testing.T) {
	// MCCount 0 with a nonzero raw is missing coverage, not zero evidence.
	withAgg := Conviction(ConvictionInput{DSComposite: f64(5.0), MCRaw: 2.0, MCCount: 0})
	withoutAgg := Conviction(ConvictionInput{DSComposite: f64(5.0)})
	assert.Equal(t, *withoutAgg.Score, *withAgg.Score)
}

func TestConviction_NeitherPresent(t *testing.T) {
	// Base is 0; the score degenerates to the vacancy bonus.
	out := Conviction(ConvictionInput{
		FlagVacancy:       true,
		VacancyConfidence: f64(0.90),
	})
	require.NotNil(t, out.Score)
	assert.Equal(t, 0.0, *out.Base)
	assert.InDelta(t, 2.25, *out.Score, 0.001)
	assert.Equal(t, []string{"VAC"}, out.Components)
}

func TestConviction_NeitherPresentNoBonus(t *testing.T) {
	out := Conviction(ConvictionInput{})
	require.NotNil(t, out.Score)
	assert.Equal(t, 0.0, *out.Score)
	assert.Empty(t, out.Components)
}

func TestConviction_BonusRequiresCleanCheck(t *testing.T) {
	// A carrier error voids the bonus even with the flag set.
	out := Conviction(ConvictionInput{
		DSComposite:       f64(8.0),
		FlagVacancy:       true,
		VacancyConfidence: f64(0.90),
		USPSError:         "http_404",
	})
	assert.Equal(t, 0.0, out.VacancyBonus)
	assert.InDelta(t, 8.0, *out.Score, 0.001)
}

func TestConviction_DefaultVacancyConfidence(t *testing.T) {
	// Flag set but confidence NULL: 0.8 default → bonus 2.0.
	out := Conviction(ConvictionInput{FlagVacancy: true})
	assert.InDelta(t, 2.0, out.VacancyBonus, 0.001)
}

func TestConviction_MCCapped(t *testing.T) {
	// Raw past the cap clamps to mc_comp 1.0.
	out := Conviction(ConvictionInput{MCRaw: 12.0, MCCount: 5})
	require.NotNil(t, out.Score)
	assert.InDelta(t, 10.0, *out.Score, 0.001)
}

func TestConviction_ScoreClamped(t *testing.T) {
	out := Conviction(ConvictionInput{
		DSComposite:       f64(10.0),
		MCRaw:             7.0,
		MCCount:           4,
		FlagVacancy:       true,
		VacancyConfidence: f64(1.0),
	})
	assert.Equal(t, 10.0, *out.Score)
}

func TestConviction_RangeProperty(t *testing.T) {
	for ds := 0.0; ds <= 10.0; ds += 2.5 {
		for mc := 0.0; mc <= 9.0; mc += 3.0 {
			out := Conviction(ConvictionInput{
				DSComposite:       f64(ds),
				MCRaw:             mc,
				MCCount:           1,
				FlagVacancy:       true,
				VacancyConfidence: f64(0.9),
			})
			require.NotNil(t, out.Score)
			assert.GreaterOrEqual(t, *out.Score, 0.0)
			assert.LessOrEqual(t, *out.Score, 10.0)
		}
	}
}
