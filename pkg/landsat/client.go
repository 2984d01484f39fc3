// Package landsat reads Landsat 8/9 NDVI from the Esri Living Atlas
// multispectral image service (free, unlimited, no auth, 30m resolution).
// Same REST shape as the naip package; used as the fallback when the
// primary satellite source returns empty for a point.
//
// Landsat bands at this service: 4=Red, 5=NIR. NDVI = (B5 − B4)/(B5 + B4).
package landsat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/resilience"
)

const defaultBaseURL = "https://landsat2.arcgis.com/arcgis/rest/services/Landsat/MS/ImageServer"

// mostRecentMosaic sorts the mosaic by acquisition date descending so the
// identify call answers from the newest scene in the time window.
const mostRecentMosaic = `{"mosaicMethod":"esriMosaicAttribute","sortField":"AcquisitionDate","sortValue":"2099-01-01","ascending":false}`

// Reading is one NDVI observation.
type Reading struct {
	NDVI            *float64
	AcquisitionDate string
	Sensor          string
	Err             string
}

// MonthlyNDVI is one month's best available NDVI.
type MonthlyNDVI struct {
	Month string // "YYYY-MM"
	NDVI  float64
	Date  string
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the image service endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client queries the Landsat image service.
type Client struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
	now     func() time.Time
}

// NewClient creates a Landsat client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithNow fixes the clock for tests.
func (c *Client) WithNow(now func() time.Time) *Client {
	c.now = now
	return c
}

type identifyResponse struct {
	Value        string `json:"value"`
	CatalogItems struct {
		Features []struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"features"`
	} `json:"catalogItems"`
}

// NDVIAtPoint computes NDVI at a point, optionally restricted to an epoch-ms
// time window "start,end".
func (c *Client) NDVIAtPoint(ctx context.Context, lat, lng float64, timeFilter string) (*Reading, error) {
	geometry := fmt.Sprintf(`{"x":%g,"y":%g,"spatialReference":{"wkid":4326}}`, lng, lat)
	params := url.Values{
		"geometry":           {geometry},
		"geometryType":       {"esriGeometryPoint"},
		"returnCatalogItems": {"true"},
		"returnGeometry":     {"false"},
		"mosaicRule":         {mostRecentMosaic},
		"f":                  {"json"},
	}
	if timeFilter != "" {
		params.Set("time", timeFilter)
	}

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/identify?"+params.Encode(), nil)
		if err != nil {
			return nil, eris.Wrap(err, "landsat: build request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "landsat: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "landsat: read body")
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("landsat: status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "landsat: identify")
	}

	var resp identifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "landsat: parse response")
	}

	return parseReading(&resp), nil
}

func parseReading(resp *identifyResponse) *Reading {
	r := &Reading{}
	if resp.Value == "" || resp.Value == "NoData" {
		r.Err = "no_data_at_point"
		return r
	}

	fields := strings.Fields(resp.Value)
	if len(fields) < 5 {
		r.Err = fmt.Sprintf("insufficient_bands: %d", len(fields))
		return r
	}

	red, err1 := strconv.ParseFloat(fields[3], 64)
	nir, err2 := strconv.ParseFloat(fields[4], 64)
	if err1 != nil || err2 != nil {
		r.Err = "band_parse_failure"
		return r
	}

	if nir+red > 0 {
		ndvi := math.Round((nir-red)/(nir+red)*1e4) / 1e4
		r.NDVI = &ndvi
	} else {
		r.Err = "zero_denominator"
	}

	for _, feat := range resp.CatalogItems.Features {
		if acq, ok := feat.Attributes["AcquisitionDate"].(float64); ok && acq > 0 {
			r.AcquisitionDate = time.UnixMilli(int64(acq)).UTC().Format("2006-01-02")
		}
		if sensor, ok := feat.Attributes["SensorName"].(string); ok {
			r.Sensor = sensor
		}
		break
	}
	return r
}

// MonthlyNDVI queries one month at a time over the lookback window and
// returns the observations chronologically. Months with no scene are
// absent, not zero.
func (c *Client) MonthlyNDVI(ctx context.Context, lat, lng float64, monthsBack int) ([]MonthlyNDVI, error) {
	var out []MonthlyNDVI
	now := c.now()

	for i := 0; i < monthsBack; i++ {
		target := now.AddDate(0, -i, 0)
		monthStart := time.Date(target.Year(), target.Month(), 1, 0, 0, 0, 0, time.UTC)
		monthEnd := monthStart.AddDate(0, 1, 0)

		timeFilter := fmt.Sprintf("%d,%d", monthStart.UnixMilli(), monthEnd.UnixMilli())
		reading, err := c.NDVIAtPoint(ctx, lat, lng, timeFilter)
		if err != nil {
			zap.L().Debug("landsat month failed",
				zap.String("month", monthStart.Format("2006-01")), zap.Error(err))
			continue
		}
		if reading.NDVI == nil {
			continue
		}

		date := reading.AcquisitionDate
		if date == "" {
			date = monthStart.Format("2006-01") + "-15"
		}
		out = append(out, MonthlyNDVI{
			Month: monthStart.Format("2006-01"),
			NDVI:  *reading.NDVI,
			Date:  date,
		})
	}

	// Reverse into chronological order (we walked backwards from now).
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	zap.L().Debug("landsat monthly", zap.Int("months", len(out)))
	return out, nil
}
