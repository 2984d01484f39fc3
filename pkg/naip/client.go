// Package naip provides access to the USGS NAIP ArcGIS ImageServer (free,
// no API key): point-level pixel identification, bounding-box image export,
// and NDVI computed from band values.
//
// NAIP bands: 1=Red, 2=Green, 3=Blue, 4=NIR. NDVI = (NIR − Red)/(NIR + Red).
// Coverage rotates on a 2-3 year cycle per state, so the ImageServer only
// answers for the most recent vintage; multi-year history comes from the
// planetary package.
package naip

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/resilience"
)

const defaultBaseURL = "https://imagery.nationalmap.gov/arcgis/rest/services/USGSNAIPPlus/ImageServer"

// Reading is the NDVI computed at one point, with band values and the
// acquisition date extracted from catalog metadata.
type Reading struct {
	NDVI            *float64
	Bands           *Bands
	AcquisitionDate string
	Err             string
}

// Bands holds the four NAIP band values at a pixel.
type Bands struct {
	Red   float64
	Green float64
	Blue  float64
	NIR   float64
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the ImageServer endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client shared by all requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCache enables the on-disk response cache rooted at dir.
func WithCache(dir string, ttl time.Duration) Option {
	return func(c *Client) { c.cache = newDiskCache(dir, ttl) }
}

// Client queries the NAIP ImageServer. The embedded http.Client is shared
// across workers; it is safe for concurrent GETs.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *diskCache
	retry   resilience.RetryConfig
}

// NewClient creates a NAIP client.
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
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// identifyResponse is the relevant subset of the ImageServer identify payload.
type identifyResponse struct {
	Value        string `json:"value"`
	CatalogItems struct {
		Features []struct {
			Attributes map[string]any `json:"attributes"`
		} `json:"features"`
	} `json:"catalogItems"`
}

// identify returns pixel values and catalog metadata at a point. mosaicRule
// is optional JSON restricting the query to a specific vintage.
func (c *Client) identify(ctx context.Context, lat, lng float64, mosaicRule string) (*identifyResponse, error) {
	geometry := fmt.Sprintf(`{"x":%g,"y":%g,"spatialReference":{"wkid":4326}}`, lng, lat)
	params := url.Values{
		"geometry":           {geometry},
		"geometryType":       {"esriGeometryPoint"},
		"returnCatalogItems": {"true"},
		"returnGeometry":     {"false"},
		"f":                  {"json"},
	}
	if mosaicRule != "" {
		params.Set("mosaicRule", mosaicRule)
	}

	key := cacheKey("identify", map[string]string{
		"lat": formatCoord(lat), "lng": formatCoord(lng), "mosaic": mosaicRule,
	})
	if c.cache != nil {
		if cached, ok := c.cache.get(key); ok {
			var resp identifyResponse
			if err := json.Unmarshal(cached, &resp); err == nil {
				zap.L().Debug("naip cache hit", zap.Float64("lat", lat), zap.Float64("lng", lng))
				return &resp, nil
			}
		}
	}

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, c.baseURL+"/identify?"+params.Encode())
	})
	if err != nil {
		return nil, eris.Wrap(err, "naip: identify")
	}

	var resp identifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "naip: parse identify response")
	}

	if c.cache != nil {
		c.cache.set(key, body)
	}
	return &resp, nil
}

// ExportImage returns a PNG of the bounding box (minLng, minLat, maxLng,
// maxLat in EPSG:4326).
func (c *Client) ExportImage(ctx context.Context, bbox [4]float64, width, height int) ([]byte, error) {
	params := url.Values{
		"bbox":    {fmt.Sprintf("%g,%g,%g,%g", bbox[0], bbox[1], bbox[2], bbox[3])},
		"bboxSR":  {"4326"},
		"imageSR": {"4326"},
		"size":    {fmt.Sprintf("%d,%d", width, height)},
		"format":  {"png"},
		"f":       {"image"},
	}

	key := cacheKey("export", map[string]string{"q": params.Encode()})
	if c.cache != nil {
		if cached, ok := c.cache.get(key); ok {
			return cached, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/exportImage?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "naip: build export request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "naip: export image")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("naip: export returned status %d", resp.StatusCode)
	}
	if !strings.Contains(resp.Header.Get("Content-Type"), "image") {
		return nil, eris.New("naip: export did not return an image")
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "naip: read export body")
	}
	if c.cache != nil {
		c.cache.set(key, data)
	}
	return data, nil
}

// NDVIAtPoint computes NDVI at a point from the default (most recent) mosaic.
func (c *Client) NDVIAtPoint(ctx context.Context, lat, lng float64) (*Reading, error) {
	data, err := c.identify(ctx, lat, lng, "")
	if err != nil {
		return nil, err
	}
	r := parseReading(data.Value)
	r.AcquisitionDate = extractAcquisitionDate(data)
	return r, nil
}

// parseReading parses the identify pixel value string and computes NDVI.
func parseReading(value string) *Reading {
	r := &Reading{}
	if value == "" || value == "NoData" || value == "Pixel value is NoData" {
		r.Err = "no_imagery_at_location"
		return r
	}

	fieldsStr := strings.ReplaceAll(value, ",", " ")
	var vals []float64
	for _, f := range strings.Fields(fieldsStr) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			r.Err = "band_parse_failure: " + f
			return r
		}
		vals = append(vals, v)
	}

	switch {
	case len(vals) >= 4:
		r.Bands = &Bands{Red: vals[0], Green: vals[1], Blue: vals[2], NIR: vals[3]}
	case len(vals) == 3:
		r.Err = "no_nir_band"
		return r
	default:
		r.Err = fmt.Sprintf("unexpected_band_count: %d", len(vals))
		return r
	}

	denom := r.Bands.NIR + r.Bands.Red
	ndvi := 0.0
	if denom != 0 {
		ndvi = (r.Bands.NIR - r.Bands.Red) / denom
	}
	r.NDVI = &ndvi
	return r
}

// extractAcquisitionDate pulls the acquisition date from catalog items.
// Only primary-resolution tiles (Category=1) are considered; the field name
// is lowercase "acquisition_date" in epoch milliseconds.
func extractAcquisitionDate(data *identifyResponse) string {
	for _, feat := range data.CatalogItems.Features {
		if cat, ok := numAttr(feat.Attributes, "Category"); !ok || cat != 1 {
			continue
		}
		if acq, ok := numAttr(feat.Attributes, "acquisition_date"); ok && acq > 1e10 {
			return time.UnixMilli(int64(acq)).UTC().Format("2006-01-02")
		}
	}
	// Fallback: any feature with a Year attribute.
	for _, feat := range data.CatalogItems.Features {
		if year, ok := numAttr(feat.Attributes, "Year"); ok && year > 0 {
			return fmt.Sprintf("%d-01-01", int(year))
		}
	}
	return ""
}

func numAttr(attrs map[string]any, key string) (float64, bool) {
	v, ok := attrs[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "naip: build request")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "naip: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "naip: read body")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("naip: status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return body, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
