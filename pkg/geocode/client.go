// Package geocode resolves addresses through the Census Geocoder. The
// vacancy pass uses it in reverse: situs strings from county GIS data often
// lack a city and ZIP, and the address API refuses calls without one.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	oneLineURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	benchmark  = "Public_AR_Current"
)

// CityZip is a resolved city/ZIP pair for an address.
type CityZip struct {
	City    string
	Zip     string
	Matched bool
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the geocoder endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRateLimit sets the requests-per-second limit.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// Client is a rate-limited Census geocoder.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a geocode client. Default limit is 1 req/s — the pass
// runs it single-threaded during address pre-resolution.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: oneLineURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(1, 1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type oneLineResponse struct {
	Result struct {
		AddressMatches []struct {
			MatchedAddress      string `json:"matchedAddress"`
			AddressComponents   struct {
				City string `json:"city"`
				Zip  string `json:"zip"`
			} `json:"addressComponents"`
		} `json:"addressMatches"`
	} `json:"result"`
}

// ResolveCityZip geocodes "street, county, state" and extracts the matched
// city and ZIP. Unmatched is not an error.
func (c *Client) ResolveCityZip(ctx context.Context, street, county, state string) (*CityZip, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "geocode: rate limit")
	}

	oneLine := strings.Join(nonEmpty(street, county+" County", state), ", ")
	params := url.Values{
		"address":   {oneLine},
		"benchmark": {benchmark},
		"format":    {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("geocode: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: read body")
	}

	var parsed oneLineResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "geocode: parse response")
	}

	if len(parsed.Result.AddressMatches) == 0 {
		return &CityZip{}, nil
	}

	match := parsed.Result.AddressMatches[0]
	out := &CityZip{
		City:    match.AddressComponents.City,
		Zip:     match.AddressComponents.Zip,
		Matched: true,
	}

	// Some benchmarks omit structured components; fall back to parsing the
	// matched one-line form "123 MAIN ST, CHARLOTTE, NC, 28205".
	if out.City == "" || out.Zip == "" {
		city, zip := parseMatchedAddress(match.MatchedAddress)
		if out.City == "" {
			out.City = city
		}
		if out.Zip == "" {
			out.Zip = zip
		}
	}

	zap.L().Debug("geocode resolved",
		zap.String("street", street), zap.String("city", out.City), zap.String("zip", out.Zip))
	return out, nil
}

func parseMatchedAddress(matched string) (city, zip string) {
	parts := strings.Split(matched, ",")
	if len(parts) >= 4 {
		city = strings.TrimSpace(parts[1])
		zip = strings.TrimSpace(parts[3])
	}
	return city, zip
}

func nonEmpty(parts ...string) []string {
	var out []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, strings.TrimSpace(p))
		}
	}
	return out
}
