package landsat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const identifyBody = `{
	"value": "410 520 630 740 1850 990 870",
	"catalogItems": {"features": [
		{"attributes": {"AcquisitionDate": 1746057600000, "SensorName": "OLI_TIRS"}}
	]}
}`

func TestNDVIAtPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/identify", r.URL.Path)
		assert.Contains(t, r.URL.Query().Get("mosaicRule"), "AcquisitionDate")
		_, _ = w.Write([]byte(identifyBody))
	}))
	defer srv.Close()

	reading, err := NewClient(WithBaseURL(srv.URL)).NDVIAtPoint(context.Background(), 35.26, -81.18, "")
	require.NoError(t, err)
	require.NotNil(t, reading.NDVI)
	// Band 4 (index 3) = 740 red, band 5 (index 4) = 1850 NIR.
	assert.InDelta(t, (1850.0-740.0)/(1850.0+740.0), *reading.NDVI, 1e-4)
	assert.Equal(t, "2025-05-01", reading.AcquisitionDate)
	assert.Equal(t, "OLI_TIRS", reading.Sensor)
}

func TestNDVIAtPoint_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"value": "NoData"}`))
	}))
	defer srv.Close()

	reading, err := NewClient(WithBaseURL(srv.URL)).NDVIAtPoint(context.Background(), 35.26, -81.18, "")
	require.NoError(t, err)
	assert.Nil(t, reading.NDVI)
	assert.Equal(t, "no_data_at_point", reading.Err)
}

func TestNDVIAtPoint_TimeFilterForwarded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100,200", r.URL.Query().Get("time"))
		_, _ = w.Write([]byte(identifyBody))
	}))
	defer srv.Close()

	_, err := NewClient(WithBaseURL(srv.URL)).NDVIAtPoint(context.Background(), 35.26, -81.18, "100,200")
	require.NoError(t, err)
}

func TestMonthlyNDVI_ChronologicalWithGaps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The middle month has no scene.
		if r.URL.Query().Get("time") != "" && r.URL.Query().Get("time") == monthFilter(2026, 7) {
			_, _ = w.Write([]byte(`{"value": "NoData"}`))
			return
		}
		_, _ = w.Write([]byte(identifyBody))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL)).WithNow(func() time.Time {
		return time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	})

	out, err := client.MonthlyNDVI(context.Background(), 35.26, -81.18, 3)
	require.NoError(t, err)
	require.Len(t, out, 2, "missing month is absent, not zero")
	assert.Equal(t, "2026-06", out[0].Month)
	assert.Equal(t, "2026-08", out[1].Month)
}

func monthFilter(year int, month time.Month) string {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	return strconv.FormatInt(start.UnixMilli(), 10) + "," + strconv.FormatInt(end.UnixMilli(), 10)
}
