// Package planetlabs searches the PlanetScope archive (3-5m daily) for
// property-level imagery. Paid, budgeted: a trial allowance of 30K requests.
// Each search costs one request, each thumbnail one more; the temporal-pair
// refinement budgets 4 calls per parcel.
package planetlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/resilience"
)

const (
	defaultDataURL  = "https://api.planet.com/data/v1"
	defaultTilesURL = "https://tiles.planet.com/data/v1"
)

// Scene is one archive scene's summary metadata.
type Scene struct {
	ID           string
	ItemType     string
	Acquired     string
	CloudCover   float64
	PixelRes     float64
	Quality      string
	SunElevation float64
}

// SearchResult is the outcome of one quick-search.
type SearchResult struct {
	SceneCount int
	Scenes     []Scene
	Earliest   string
	Latest     string
}

// Option configures the client.
type Option func(*Client)

// WithDataURL overrides the data API endpoint.
func WithDataURL(u string) Option {
	return func(c *Client) { c.dataURL = u }
}

// WithTilesURL overrides the tiles endpoint.
func WithTilesURL(u string) Option {
	return func(c *Client) { c.tilesURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// Client calls the Planet data API. Token auth goes in the Authorization
// header as "api-key <token>".
type Client struct {
	apiKey   string
	dataURL  string
	tilesURL string
	http     *http.Client
	retry    resilience.RetryConfig
}

// NewClient creates a Planet client. An empty key yields a client whose
// Available method reports false; callers surface an upgrade-required status
// rather than erroring.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		dataURL:  defaultDataURL,
		tilesURL: defaultTilesURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
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

// Available reports whether an API key is configured.
func (c *Client) Available() bool {
	return c.apiKey != ""
}

// SearchScenes runs a quick-search for PSScene items at a point within
// [start, end] under the cloud-cover ceiling, most recent first.
func (c *Client) SearchScenes(ctx context.Context, lat, lng float64, start, end time.Time, cloudMax float64, limit int) (*SearchResult, error) {
	if !c.Available() {
		return nil, eris.New("planetlabs: api key not configured")
	}

	body := map[string]any{
		"item_types": []string{"PSScene"},
		"filter": map[string]any{
			"type": "AndFilter",
			"config": []map[string]any{
				{
					"type":       "GeometryFilter",
					"field_name": "geometry",
					"config": map[string]any{
						"type":        "Point",
						"coordinates": []float64{lng, lat},
					},
				},
				{
					"type":       "DateRangeFilter",
					"field_name": "acquired",
					"config": map[string]string{
						"gte": start.UTC().Format("2006-01-02T00:00:00Z"),
						"lte": end.UTC().Format("2006-01-02T23:59:59Z"),
					},
				},
				{
					"type":       "RangeFilter",
					"field_name": "cloud_cover",
					"config":     map[string]float64{"lte": cloudMax},
				},
			},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrap(err, "planetlabs: marshal search")
	}

	respBody, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.dataURL+"/quick-search", bytes.NewReader(payload))
		if err != nil {
			return nil, eris.Wrap(err, "planetlabs: build search request")
		}
		req.Header.Set("Authorization", "api-key "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		return c.do(req)
	})
	if err != nil {
		return nil, eris.Wrap(err, "planetlabs: quick search")
	}

	var search struct {
		Features []struct {
			ID         string `json:"id"`
			Properties struct {
				Acquired     string  `json:"acquired"`
				CloudCover   float64 `json:"cloud_cover"`
				PixelRes     float64 `json:"pixel_resolution"`
				Quality      string  `json:"quality_category"`
				SunElevation float64 `json:"sun_elevation"`
				ItemType     string  `json:"item_type"`
			} `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(respBody, &search); err != nil {
		return nil, eris.Wrap(err, "planetlabs: parse search response")
	}

	features := search.Features
	if limit > 0 && len(features) > limit {
		features = features[:limit]
	}

	result := &SearchResult{SceneCount: len(features)}
	for _, feat := range features {
		itemType := feat.Properties.ItemType
		if itemType == "" {
			itemType = "PSScene"
		}
		result.Scenes = append(result.Scenes, Scene{
			ID:           feat.ID,
			ItemType:     itemType,
			Acquired:     feat.Properties.Acquired,
			CloudCover:   feat.Properties.CloudCover,
			PixelRes:     feat.Properties.PixelRes,
			Quality:      feat.Properties.Quality,
			SunElevation: feat.Properties.SunElevation,
		})
		acquired := feat.Properties.Acquired
		if acquired != "" {
			if result.Earliest == "" || acquired < result.Earliest {
				result.Earliest = acquired
			}
			if acquired > result.Latest {
				result.Latest = acquired
			}
		}
	}

	zap.L().Debug("planetlabs search",
		zap.Float64("lat", lat), zap.Float64("lng", lng), zap.Int("scenes", result.SceneCount))
	return result, nil
}

// Thumbnail downloads a scene's 256×256 PNG preview. Costs one request.
func (c *Client) Thumbnail(ctx context.Context, itemType, itemID string) ([]byte, error) {
	if !c.Available() {
		return nil, eris.New("planetlabs: api key not configured")
	}

	reqURL := fmt.Sprintf("%s/item-types/%s/items/%s/thumb", c.tilesURL, itemType, itemID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "planetlabs: build thumbnail request")
	}
	req.Header.Set("Authorization", "api-key "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "planetlabs: thumbnail request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("planetlabs: thumbnail status %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "image") {
		return nil, eris.New("planetlabs: thumbnail did not return an image")
	}
	return io.ReadAll(resp.Body)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "planetlabs: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "planetlabs: read body")
	}
	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("planetlabs: status %d: %s", resp.StatusCode, string(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(err, resp.StatusCode)
		}
		return nil, err
	}
	return body, nil
}
