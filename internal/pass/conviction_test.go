package pass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distress-scanner/internal/model"
)

func f64(v float64) *float64 { return &v }

func TestComputeConvictionResults(t *testing.T) {
	rows := []model.ConvictionRow{
		{ParcelID: "ds_only", DistressComposite: f64(7.59)},
		{ParcelID: "full", DistressComposite: f64(8.0), MCRawScore: 3.5, MCSignalCount: 2,
			MCSignalCodes: "absentee_owner,tax_delinquent",
			FlagVacancy:   true, VacancyConfidence: f64(0.90)},
		{ParcelID: "nothing"},
	}

	results := ComputeConvictionResults(rows)
	require.Len(t, results, 3)

	byID := map[string]model.ConvictionResult{}
	for _, r := range results {
		byID[r.ParcelID] = r
	}

	dsOnly := byID["ds_only"]
	require.NotNil(t, dsOnly.Score)
	assert.InDelta(t, 7.59, *dsOnly.Score, 0.001)
	assert.Equal(t, "DS", dsOnly.Components)
	assert.Nil(t, dsOnly.MCScore)
	assert.Nil(t, dsOnly.MCSignals)

	full := byID["full"]
	require.NotNil(t, full.Score)
	assert.InDelta(t, 8.65, *full.Score, 0.001)
	assert.Equal(t, "DS,MC,VAC", full.Components)
	require.NotNil(t, full.MCScore)
	assert.InDelta(t, 3.5, *full.MCScore, 0.001)
	require.NotNil(t, full.MCSignals)
	assert.Equal(t, 2, *full.MCSignals)
	assert.Equal(t, "absentee_owner,tax_delinquent", full.MCCodes)

	nothing := byID["nothing"]
	require.NotNil(t, nothing.Score)
	assert.Equal(t, 0.0, *nothing.Score)
}

// Two parcels sharing a parcel_id in different counties are separate rows in
// separate county sweeps: the fusion runs per row, so their scores are
// independent by construction and the join safety lives in the compound-key
// SQL (covered in the store tests).
func TestComputeConvictionResults_SameParcelIDDifferentCounty(t *testing.T) {
	gaston := ComputeConvictionResults([]model.ConvictionRow{
		{ParcelID: "12345", DistressComposite: f64(9.0), MCRawScore: 7.0, MCSignalCount: 3},
	})
	lincoln := ComputeConvictionResults([]model.ConvictionRow{
		{ParcelID: "12345", DistressComposite: f64(2.0)},
	})

	require.Len(t, gaston, 1)
	require.Len(t, lincoln, 1)
	assert.NotEqual(t, *gaston[0].Score, *lincoln[0].Score)
	assert.InDelta(t, 2.0, *lincoln[0].Score, 0.001)
}
