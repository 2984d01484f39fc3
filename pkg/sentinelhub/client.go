// Package sentinelhub provides monthly NDVI statistics from Sentinel-2 via
// the Copernicus Data Space Ecosystem Statistical API.
//
// OAuth is client-credentials. The statistical request must size the pixel
// grid explicitly (50×50) — requesting by resolution yields all zeros on
// this backend — and the evalscript must declare a dataMask band on both
// input and output.
//
// Budget: 10,000 requests/month organization-wide, 300 requests/minute.
package sentinelhub

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/sells-group/distress-scanner/internal/resilience"
)

const (
	defaultBaseURL  = "https://sh.dataspace.copernicus.eu"
	defaultTokenURL = "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token"

	statsGridSize = 50
	maxCloudCover = 0.5
)

// ndviEvalscript computes NDVI from Sentinel-2 L2A bands B04 (red) and
// B08 (NIR). The dataMask declaration on both sides is required for the
// Statistical API to report valid-pixel counts.
const ndviEvalscript = `//VERSION=3
function setup() {
  return {
    input: [{bands: ["B04", "B08", "dataMask"]}],
    output: [
      {id: "ndvi", bands: 1, sampleType: "FLOAT32"},
      {id: "dataMask", bands: 1}
    ]
  };
}
function evaluatePixel(sample) {
  if (sample.dataMask === 0) {
    return { ndvi: [0], dataMask: [0] };
  }
  let ndvi = (sample.B08 - sample.B04) / (sample.B08 + sample.B04);
  return { ndvi: [ndvi], dataMask: [1] };
}`

// MonthlyNDVI is one month of aggregated NDVI statistics.
type MonthlyNDVI struct {
	Month       string // "YYYY-MM"
	MeanNDVI    *float64
	StdNDVI     *float64
	MinNDVI     *float64
	MaxNDVI     *float64
	ValidPixels int
	CloudPct    float64
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the OAuth-wrapped HTTP client (tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithPerMinute sets the requests-per-minute rate limit.
func WithPerMinute(n int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), n/10+1)
	}
}

// WithMonthlyBudget caps the number of requests this process will issue.
func WithMonthlyBudget(n int) Option {
	return func(c *Client) { c.budget = int64(n) }
}

// Client calls the Statistical API under its own rate envelope.
type Client struct {
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
	budget   int64
	requests atomic.Int64
}

// NewClient creates a Sentinel Hub client with OAuth client-credentials.
func NewClient(clientID, clientSecret string, opts ...Option) *Client {
	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     defaultTokenURL,
	}
	c := &Client{
		baseURL: defaultBaseURL,
		http:    cc.Client(context.Background()),
		limiter: rate.NewLimiter(rate.Limit(300.0/60.0), 30),
		retry:   resilience.DefaultRetryConfig(),
		budget:  10000,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Requests reports how many statistical requests this process has issued.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// statsInputData selects the collection and cloud filter.
type statsInputData struct {
	Type       string `json:"type"`
	DataFilter struct {
		MaxCloudCoverage float64 `json:"maxCloudCoverage"`
	} `json:"dataFilter"`
}

// statsRequest is the Statistical API request body.
type statsRequest struct {
	Input struct {
		Bounds struct {
			BBox       [4]float64 `json:"bbox"`
			Properties struct {
				CRS string `json:"crs"`
			} `json:"properties"`
		} `json:"bounds"`
		Data []statsInputData `json:"data"`
	} `json:"input"`
	Aggregation struct {
		TimeRange struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"timeRange"`
		AggregationInterval struct {
			Of string `json:"of"`
		} `json:"aggregationInterval"`
		Evalscript string `json:"evalscript"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
	} `json:"aggregation"`
}

type statsResponse struct {
	Data []struct {
		Interval struct {
			From string `json:"from"`
		} `json:"interval"`
		Outputs map[string]struct {
			Bands map[string]struct {
				Stats struct {
					Min         *float64 `json:"min"`
					Max         *float64 `json:"max"`
					Mean        *float64 `json:"mean"`
					StDev       *float64 `json:"stDev"`
					SampleCount int      `json:"sampleCount"`
					NoDataCount int      `json:"noDataCount"`
				} `json:"stats"`
			} `json:"bands"`
		} `json:"outputs"`
	} `json:"data"`
}

// MonthlyStats returns per-month mean NDVI for a bbox over [from, to]
// (dates "YYYY-MM-DD"). Months with no valid pixels are dropped.
func (c *Client) MonthlyStats(ctx context.Context, bbox [4]float64, from, to string) ([]MonthlyNDVI, error) {
	if c.budget > 0 && c.requests.Load() >= c.budget {
		return nil, eris.New("sentinelhub: monthly request budget exhausted")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "sentinelhub: rate limit")
	}

	var req statsRequest
	req.Input.Bounds.BBox = bbox
	req.Input.Bounds.Properties.CRS = "http://www.opengis.net/def/crs/EPSG/0/4326"
	req.Input.Data = make([]statsInputData, 1)
	req.Input.Data[0].Type = "sentinel-2-l2a"
	req.Input.Data[0].DataFilter.MaxCloudCoverage = maxCloudCover * 100
	req.Aggregation.TimeRange.From = from + "T00:00:00Z"
	req.Aggregation.TimeRange.To = to + "T23:59:59Z"
	req.Aggregation.AggregationInterval.Of = "P1M"
	req.Aggregation.Evalscript = ndviEvalscript
	req.Aggregation.Width = statsGridSize
	req.Aggregation.Height = statsGridSize

	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "sentinelhub: marshal request")
	}

	respBody, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.baseURL+"/api/v1/statistics", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "sentinelhub: build request")
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, eris.Wrap(err, "sentinelhub: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "sentinelhub: read body")
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("sentinelhub: status %d: %s", resp.StatusCode, string(data))
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				te := resilience.NewTransientError(err, resp.StatusCode)
				if ra := resp.Header.Get("Retry-After"); ra != "" {
					if secs, parseErr := time.ParseDuration(ra + "s"); parseErr == nil {
						te.RetryAfter = secs
					}
				}
				return nil, te
			}
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "sentinelhub: monthly stats")
	}
	c.requests.Add(1)

	var stats statsResponse
	if err := json.Unmarshal(respBody, &stats); err != nil {
		return nil, eris.Wrap(err, "sentinelhub: parse response")
	}

	var out []MonthlyNDVI
	for _, interval := range stats.Data {
		month := interval.Interval.From
		if len(month) >= 7 {
			month = month[:7]
		}

		ndviOut, ok := interval.Outputs["ndvi"]
		if !ok {
			continue
		}
		band, ok := ndviOut.Bands["B0"]
		if !ok {
			continue
		}

		s := band.Stats
		valid := s.SampleCount - s.NoDataCount
		if valid <= 0 {
			continue
		}

		cloudPct := 0.0
		if s.SampleCount > 0 {
			cloudPct = math.Round(float64(s.NoDataCount)/float64(s.SampleCount)*1000) / 10
		}

		out = append(out, MonthlyNDVI{
			Month:       month,
			MeanNDVI:    s.Mean,
			StdNDVI:     s.StDev,
			MinNDVI:     s.Min,
			MaxNDVI:     s.Max,
			ValidPixels: valid,
			CloudPct:    cloudPct,
		})
	}

	zap.L().Debug("sentinelhub stats", zap.Int("months", len(out)))
	return out, nil
}
