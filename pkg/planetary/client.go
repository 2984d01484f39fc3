// Package planetary reads multi-year NAIP NDVI from the Microsoft Planetary
// Computer: STAC search for vintage items at a point, then per-item band
// sampling through the data API. The USGS ImageServer only serves the most
// recent vintage per state, so all history goes through this archive.
package planetary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/distress-scanner/internal/resilience"
)

const (
	defaultSTACURL = "https://planetarycomputer.microsoft.com/api/stac/v1/search"
	defaultDataURL = "https://planetarycomputer.microsoft.com/api/data/v1"
)

// Item is one NAIP vintage available at a point.
type Item struct {
	ID   string
	Year int
	Date string
}

// Vintage is one (year, NDVI) observation.
type Vintage struct {
	Year int
	NDVI float64
	Date string
}

// Option configures the client.
type Option func(*Client)

// WithSTACURL overrides the STAC search endpoint.
func WithSTACURL(u string) Option {
	return func(c *Client) { c.stacURL = u }
}

// WithDataURL overrides the data API base URL.
func WithDataURL(u string) Option {
	return func(c *Client) { c.dataURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit sets the requests-per-second limit for archive reads.
func WithRateLimit(rps float64) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)) }
}

// Client searches the STAC catalog and samples NDVI per vintage.
type Client struct {
	stacURL string
	dataURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates a Planetary Computer client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		stacURL: defaultSTACURL,
		dataURL: defaultDataURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 10),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type stacSearchResponse struct {
	Features []struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	} `json:"features"`
}

// Search returns the NAIP vintages available at a point, newest first, one
// item per year. Points on tile boundaries yield two items per year; the
// seenYears set keeps the first (most recent) and drops the duplicate.
func (c *Client) Search(ctx context.Context, lat, lng float64) ([]Item, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "planetary: rate limit")
	}

	payload := map[string]any{
		"collections": []string{"naip"},
		"intersects": map[string]any{
			"type":        "Point",
			"coordinates": []float64{lng, lat},
		},
		"limit":  20,
		"sortby": []map[string]string{{"field": "datetime", "direction": "desc"}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "planetary: marshal search")
	}

	respBody, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.stacURL, bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "planetary: build search request")
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "planetary: stac search")
	}

	var search stacSearchResponse
	if err := json.Unmarshal(respBody, &search); err != nil {
		return nil, eris.Wrap(err, "planetary: parse search response")
	}

	var items []Item
	seenYears := make(map[int]struct{})
	for _, feat := range search.Features {
		year, ok := vintageYear(feat.Properties["naip:year"])
		if !ok {
			continue
		}
		if _, dup := seenYears[year]; dup {
			continue
		}
		seenYears[year] = struct{}{}

		date := ""
		if dt, ok := feat.Properties["datetime"].(string); ok && len(dt) >= 10 {
			date = dt[:10]
		}
		items = append(items, Item{ID: feat.ID, Year: year, Date: date})
	}

	zap.L().Debug("planetary search",
		zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Int("items", len(items)))
	return items, nil
}

// vintageYear normalizes the naip:year property, which the catalog returns
// as either a string or a number.
func vintageYear(v any) (int, bool) {
	switch y := v.(type) {
	case string:
		n, err := strconv.Atoi(y)
		return n, err == nil
	case float64:
		return int(y), true
	default:
		return 0, false
	}
}

type pointResponse struct {
	Values []float64 `json:"values"`
}

// NDVIForItem samples the item's bands at the point and computes NDVI.
// NAIP bands: 1=Red, 2=Green, 3=Blue, 4=NIR.
func (c *Client) NDVIForItem(ctx context.Context, item Item, lat, lng float64) (*float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "planetary: rate limit")
	}

	reqURL := fmt.Sprintf("%s/item/point/%g,%g?collection=naip&item=%s",
		c.dataURL, lng, lat, item.ID)

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "planetary: build point request")
		}
		return c.do(req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "planetary: point read %s", item.ID)
	}

	var point pointResponse
	if err := json.Unmarshal(body, &point); err != nil {
		return nil, eris.Wrap(err, "planetary: parse point response")
	}
	if len(point.Values) < 4 {
		return nil, eris.Errorf("planetary: insufficient bands: %d", len(point.Values))
	}

	red, nir := point.Values[0], point.Values[3]
	denom := nir + red
	ndvi := 0.0
	if denom != 0 {
		ndvi = (nir - red) / denom
	}
	return &ndvi, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "planetary: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "planetary: read body")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("planetary: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return body, nil
}
