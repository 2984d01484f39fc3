package sentinelhub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const statsBody = `{"data": [
	{
		"interval": {"from": "2025-01-01T00:00:00Z", "to": "2025-02-01T00:00:00Z"},
		"outputs": {"ndvi": {"bands": {"B0": {"stats": {
			"min": 0.1, "max": 0.7, "mean": 0.45, "stDev": 0.08,
			"sampleCount": 2500, "noDataCount": 300
		}}}}}
	},
	{
		"interval": {"from": "2025-02-01T00:00:00Z", "to": "2025-03-01T00:00:00Z"},
		"outputs": {"ndvi": {"bands": {"B0": {"stats": {
			"mean": 0.52, "sampleCount": 2500, "noDataCount": 0
		}}}}}
	},
	{
		"interval": {"from": "2025-03-01T00:00:00Z", "to": "2025-04-01T00:00:00Z"},
		"outputs": {"ndvi": {"bands": {"B0": {"stats": {
			"mean": 0, "sampleCount": 2500, "noDataCount": 2500
		}}}}}
	}
]}`

// testClient bypasses OAuth with a plain HTTP client against the local server.
func testClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
	}, opts...)
	return NewClient("id", "secret", opts...)
}

func TestMonthlyStats(t *testing.T) {
	var captured statsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/statistics", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(statsBody))
	}))
	defer srv.Close()

	client := testClient(srv)
	out, err := client.MonthlyStats(context.Background(),
		[4]float64{-81.19, 35.25, -81.17, 35.27}, "2025-01-01", "2025-03-31")
	require.NoError(t, err)

	// The grid must be sized in pixels, not resolution — resolution sizing
	// yields all zeros on this backend.
	assert.Equal(t, statsGridSize, captured.Aggregation.Width)
	assert.Equal(t, statsGridSize, captured.Aggregation.Height)
	assert.Equal(t, "P1M", captured.Aggregation.AggregationInterval.Of)
	// The evalscript must declare dataMask on both sides.
	assert.Contains(t, captured.Aggregation.Evalscript, `"dataMask"`)
	assert.Contains(t, captured.Aggregation.Evalscript, `{id: "dataMask", bands: 1}`)
	assert.Equal(t, "sentinel-2-l2a", captured.Input.Data[0].Type)

	// The all-cloud month is dropped; two months survive.
	require.Len(t, out, 2)
	assert.Equal(t, "2025-01", out[0].Month)
	assert.InDelta(t, 0.45, *out[0].MeanNDVI, 1e-9)
	assert.Equal(t, 2200, out[0].ValidPixels)
	assert.InDelta(t, 12.0, out[0].CloudPct, 0.001)
	assert.Equal(t, "2025-02", out[1].Month)

	assert.Equal(t, int64(1), client.Requests())
}

func TestMonthlyStats_BudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(statsBody))
	}))
	defer srv.Close()

	client := testClient(srv, WithMonthlyBudget(1))

	_, err := client.MonthlyStats(context.Background(),
		[4]float64{-81.19, 35.25, -81.17, 35.27}, "2025-01-01", "2025-03-31")
	require.NoError(t, err)

	_, err = client.MonthlyStats(context.Background(),
		[4]float64{-81.19, 35.25, -81.17, 35.27}, "2025-01-01", "2025-03-31")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "budget exhausted")
}

func TestMonthlyStats_RetriesRateLimit(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(statsBody))
	}))
	defer srv.Close()

	client := testClient(srv)
	client.retry.InitialBackoff = 1

	out, err := client.MonthlyStats(context.Background(),
		[4]float64{-81.19, 35.25, -81.17, 35.27}, "2025-01-01", "2025-03-31")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, 2, attempts)
	// Only the successful request counts against the budget.
	assert.Equal(t, int64(1), client.Requests())
}

func TestMonthlyStats_EmptyData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data": []}`))
	}))
	defer srv.Close()

	out, err := testClient(srv).MonthlyStats(context.Background(),
		[4]float64{-81.19, 35.25, -81.17, 35.27}, "2025-01-01", "2025-03-31")
	require.NoError(t, err)
	assert.Empty(t, out)
}
