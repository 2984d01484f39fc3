// Package fema queries the National Flood Hazard Layer ArcGIS MapServer
// (free, no API key) for flood zone classification at a point.
package fema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/resilience"
)

const (
	defaultBaseURL = "https://hazards.fema.gov/arcgis/rest/services/public/NFHL/MapServer"

	// Layer 28 = S_FLD_HAZ_AR (Flood Hazard Areas).
	floodHazardLayer = 28
)

// highRiskZones are the SFHA zone designations.
var highRiskZones = map[string]struct{}{
	"A": {}, "AE": {}, "AH": {}, "AO": {}, "AR": {}, "A99": {}, "V": {}, "VE": {},
}

// Risk tiers.
const (
	RiskHigh     = "high"
	RiskModerate = "moderate"
	RiskLow      = "low"
	RiskNone     = "none"
	RiskUnknown  = "unknown"
)

// Zone is the flood classification at a point.
type Zone struct {
	FloodZone   string
	SFHA        bool
	ZoneSubtype string
	RiskLevel   string
	StaticBFE   *float64
	NoCoverage  bool
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the MapServer endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client queries the NFHL MapServer. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a flood hazard client.
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

type queryResponse struct {
	Features []struct {
		Attributes map[string]any `json:"attributes"`
	} `json:"features"`
}

// QueryZone returns the flood zone classification at a point. The layer's
// available fields are FLD_ZONE, SFHA_TF, ZONE_SUBTY, FLD_AR_ID, STATIC_BFE.
func (c *Client) QueryZone(ctx context.Context, lat, lng float64) (*Zone, error) {
	geometry := fmt.Sprintf(`{"x":%g,"y":%g,"spatialReference":{"wkid":4326}}`, lng, lat)
	params := url.Values{
		"geometry":       {geometry},
		"geometryType":   {"esriGeometryPoint"},
		"spatialRel":     {"esriSpatialRelIntersects"},
		"outFields":      {"FLD_ZONE,SFHA_TF,ZONE_SUBTY,FLD_AR_ID,STATIC_BFE"},
		"returnGeometry": {"false"},
		"f":              {"json"},
	}
	reqURL := fmt.Sprintf("%s/%d/query?%s", c.baseURL, floodHazardLayer, params.Encode())

	body, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "fema: build request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, eris.Wrap(err, "fema: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, eris.Wrap(err, "fema: read body")
		}
		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("fema: status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return nil, resilience.NewTransientError(err, resp.StatusCode)
			}
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "fema: query zone")
	}

	var qr queryResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, eris.Wrap(err, "fema: parse response")
	}

	if len(qr.Features) == 0 {
		return &Zone{RiskLevel: RiskNone, NoCoverage: true}, nil
	}

	attrs := qr.Features[0].Attributes
	z := &Zone{}
	if v, ok := attrs["FLD_ZONE"].(string); ok {
		z.FloodZone = v
	}
	if v, ok := attrs["SFHA_TF"].(string); ok {
		z.SFHA = v == "T"
	}
	if v, ok := attrs["ZONE_SUBTY"].(string); ok {
		z.ZoneSubtype = v
	}
	if v, ok := attrs["STATIC_BFE"].(float64); ok {
		z.StaticBFE = &v
	}
	z.RiskLevel = classifyRisk(z.FloodZone, z.SFHA, z.ZoneSubtype)

	zap.L().Debug("fema zone",
		zap.Float64("lat", lat), zap.Float64("lng", lng),
		zap.String("zone", z.FloodZone), zap.String("risk", z.RiskLevel))
	return z, nil
}

// classifyRisk maps a zone to its risk tier. Zone X is ambiguous and needs
// ZONE_SUBTY: "MINIMAL" is low, "500" (0.2% annual chance) is moderate.
func classifyRisk(zone string, sfha bool, subtype string) string {
	sub := strings.ToUpper(subtype)
	switch {
	case sfha:
		return RiskHigh
	case zoneIsHighRisk(zone):
		return RiskHigh
	case zone == "X" && strings.Contains(sub, "500"):
		return RiskModerate
	case zone == "B":
		return RiskModerate
	case zone == "X" && strings.Contains(sub, "MINIMAL"):
		return RiskLow
	case zone != "":
		return RiskLow
	default:
		return RiskUnknown
	}
}

func zoneIsHighRisk(zone string) bool {
	_, ok := highRiskZones[zone]
	return ok
}
