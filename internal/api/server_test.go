package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

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

func testServer(t *testing.T) (*Server, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	return &Server{
		Store: store.New(mock),
		Scanner: scan.NewScanner(
			&stubAerial{ndvi: 0.72},
			&stubFlood{zone: fema.Zone{FloodZone: "AE", SFHA: true, RiskLevel: fema.RiskHigh}},
		),
		Enricher:       scan.NewEnricher(nil, nil, nil),
		MapsBrowserKey: "browser-key",
	}, mock
}

func doRequest(t *testing.T, s *Server, path string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Result().Body).Decode(&body))
	return rec.Result(), body
}

func TestHealth(t *testing.T) {
	s, _ := testServer(t)
	resp, body := doRequest(t, s, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestConfig_BrowserSafeOnly(t *testing.T) {
	s, _ := testServer(t)
	_, body := doRequest(t, s, "/config")
	assert.Equal(t, "browser-key", body["maps_browser_key"])
	assert.Equal(t, false, body["planet_enabled"])
	assert.Len(t, body, 2, "no server keys may leak here")
}

func TestScanFree(t *testing.T) {
	s, _ := testServer(t)
	resp, body := doRequest(t, s, "/scan/free?lat=35.26&lng=-81.18")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// NDVI 0.72 over an AE zone: overgrowth + flood fire.
	flags := body["flags"].([]any)
	assert.Len(t, flags, 2)
	assert.Equal(t, true, body["sentinel_worthy"])
	assert.InDelta(t, 2.7, body["distress_score"].(float64), 0.01)
}

func TestScanFree_InvalidCoordinates(t *testing.T) {
	s, _ := testServer(t)
	resp, body := doRequest(t, s, "/scan/free?lat=999&lng=0")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["error"], "lat")
}

func TestFloodLookup(t *testing.T) {
	s, _ := testServer(t)
	resp, body := doRequest(t, s, "/scan/flood-lookup?lat=35.26&lng=-81.18")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "AE", body["FloodZone"])
}

func TestParcels_Query(t *testing.T) {
	s, mock := testServer(t)

	mock.ExpectQuery(`(?s)SELECT parcel_id, county, state_code.*FROM gis_parcels_core`).
		WillReturnRows(pgxmock.NewRows([]string{"parcel_id"}))

	resp, body := doRequest(t, s, "/parcels?county=Gaston&state=NC&flag_vacancy=true&limit=10")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHighResSearch_UpgradeRequiredWithoutKey(t *testing.T) {
	s, _ := testServer(t)
	resp, body := doRequest(t, s, "/scan/high-res-search?lat=35.26&lng=-81.18")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "upgrade_required", body["status"])
}

func TestPlanetGuard(t *testing.T) {
	s, mock := testServer(t)
	s.PlanetCooldownDays = 60

	recent := time.Now().Add(-10 * 24 * time.Hour)
	mock.ExpectQuery(`SELECT planet_scan_date FROM gis_parcels_core`).
		WithArgs("P1", "Gaston").
		WillReturnRows(pgxmock.NewRows([]string{"planet_scan_date"}).AddRow(&recent))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	skip, reason := s.planetGuard(req, "P1", "Gaston", false)
	assert.True(t, skip)
	assert.Contains(t, reason, "force=true")

	// force bypasses without touching the store.
	skip, _ = s.planetGuard(req, "P1", "Gaston", true)
	assert.False(t, skip)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckVacancy_Unconfigured(t *testing.T) {
	s, _ := testServer(t)
	resp, _ := doRequest(t, s, "/scan/check-vacancy?street=123+MAIN+ST&city=GASTONIA&state=NC")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
