package pass

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/distress-scanner/internal/scan"
	"github.com/sells-group/distress-scanner/internal/store"
	"github.com/sells-group/distress-scanner/pkg/fema"
	"github.com/sells-group/distress-scanner/pkg/naip"
)

type stubAerial struct{ ndvi float64 }

func (s *stubAerial) FastNDVI(_ context.Context, _, _ float64) naip.FastResult {
	v := s.ndvi
	return naip.FastResult{NDVI: &v, Category: naip.Categorize(&v)}
}

type stubFlood struct{ zone fema.Zone }

func (s *stubFlood) QueryZone(_ context.Context, _, _ float64) (*fema.Zone, error) {
	z := s.zone
	return &z, nil
}

func mockDialer(t *testing.T) (Dialer, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	dial := func(ctx context.Context) (*store.Store, func(), error) {
		return store.New(mock), func() {}, nil
	}
	return dial, mock
}

func TestPass1_Run(t *testing.T) {
	dial, mock := mockDialer(t)

	selection := pgxmock.NewRows([]string{
		"parcel_id", "county", "state_code", "latitude", "longitude",
		"situs_address", "property_class",
	}).
		AddRow("P1", "Gaston", "NC", 35.20, -81.10, "", "").
		AddRow("P2", "Gaston", "NC", 35.21, -81.11, "", "")

	mock.ExpectQuery(`(?s)FROM gis_parcels_core.*scan_date IS NULL`).
		WithArgs("Gaston").
		WillReturnRows(selection)

	mock.ExpectBegin()
	batch := mock.ExpectBatch()
	batch.ExpectExec(`UPDATE gis_parcels_core SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	batch.ExpectExec(`UPDATE gis_parcels_core SET`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	p := &Pass1{
		Dial: dial,
		Scanner: scan.NewScanner(
			&stubAerial{ndvi: 0.72},
			&stubFlood{zone: fema.Zone{FloodZone: "X", RiskLevel: fema.RiskLow}},
		),
		Selection:  store.SelectionFilter{County: "Gaston"},
		Workers:    1,
		FlushEvery: 100,
	}

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Scanned)
	assert.Equal(t, 2, summary.Flagged, "NDVI 0.72 fires strong-tier overgrowth")
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 2, summary.Flushed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPass1_EmptySelection(t *testing.T) {
	dial, mock := mockDialer(t)

	mock.ExpectQuery(`(?s)FROM gis_parcels_core.*scan_date IS NULL`).
		WithArgs("Gaston").
		WillReturnRows(pgxmock.NewRows([]string{
			"parcel_id", "county", "state_code", "latitude", "longitude",
			"situs_address", "property_class",
		}))

	p := &Pass1{
		Dial:      dial,
		Scanner:   scan.NewScanner(&stubAerial{ndvi: 0.4}, &stubFlood{}),
		Selection: store.SelectionFilter{County: "Gaston"},
	}
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Summary{}, summary)
	assert.NoError(t, mock.ExpectationsWereMet())
}
