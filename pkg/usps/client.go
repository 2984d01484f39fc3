// Package usps checks carrier-confirmed vacancy through the USPS Address
// REST API v3. Mail carriers flag an address as vacant after 90+ days of no
// mail collection.
//
// Rate envelope: 60 requests/hour per consumer-key pair — token-scoped, not
// IP-scoped. Between calls the checker sleeps a uniformly random interval in
// [DelayMin, DelayMax]; the jitter is mandatory both to stay clear of
// bot-detection heuristics that flag fixed-interval clients and to spread
// requests across the gateway's shorter spike-limit windows. On 429 the
// backoff starts at 120s, doubles per consecutive 429, caps at 900s, and a
// larger server Retry-After wins.
//
// Multiple accounts are addressed by numeric suffix; each account has its
// own quota, token, and backoff state. A test-environment mirror exists with
// identical credentials and a separate quota.
package usps

import (
	"context"
	"encoding/json"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	prodTokenURL   = "https://apis.usps.com/oauth2/v3/token"
	prodAddressURL = "https://apis.usps.com/addresses/v3/address"
	testTokenURL   = "https://apis-tem.usps.com/oauth2/v3/token"
	testAddressURL = "https://apis-tem.usps.com/addresses/v3/address"

	// Default random delay range, seconds. ~80 req/hr average before quota
	// headroom; actual pacing comes from the per-account hourly budget.
	DefaultDelayMin = 30
	DefaultDelayMax = 55

	backoffStart      = 120 * time.Second
	backoffMax        = 900 * time.Second
	backoffMultiplier = 2
)

// Result is one vacancy check outcome. Vacant is nil on error or when the
// carrier reported neither Y nor N.
type Result struct {
	StreetAddress string
	City          string
	State         string
	ZipCode       string

	Vacant       *bool
	DPVConfirmed *bool
	Business     *bool
	CarrierRoute string

	USPSAddress string
	USPSCity    string
	USPSState   string
	USPSZip     string
	USPSZip4    string

	AddressMismatch bool
	RawResponse     json.RawMessage
	Err             string
}

// Option configures the checker.
type Option func(*Checker)

// WithEndpoints overrides token and address URLs (tests, or the tem mirror).
func WithEndpoints(tokenURL, addressURL string) Option {
	return func(c *Checker) {
		c.tokenURL = tokenURL
		c.addressURL = addressURL
	}
}

// WithTestEnv routes to the USPS test-environment mirror.
func WithTestEnv() Option {
	return func(c *Checker) {
		c.tokenURL = testTokenURL
		c.addressURL = testAddressURL
	}
}

// WithDelayRange sets the random inter-call delay bounds in seconds.
func WithDelayRange(minSec, maxSec int) Option {
	return func(c *Checker) {
		c.delayMin = time.Duration(minSec) * time.Second
		c.delayMax = time.Duration(maxSec) * time.Second
	}
}

// WithHTTPClient sets a custom HTTP client (tests bypass OAuth with this
// plus WithEndpoints pointing at a local server).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Checker) { c.http = hc }
}

// WithSleep replaces the sleep function (tests).
func WithSleep(sleep func(context.Context, time.Duration)) Option {
	return func(c *Checker) { c.sleep = sleep }
}

// Checker is a rate-limited vacancy client bound to one credential account.
// Safe for use from a single goroutine per account; the vacancy pass runs
// one worker per account.
type Checker struct {
	account    int
	tokenURL   string
	addressURL string
	http       *http.Client
	tokens     oauth2.TokenSource

	delayMin time.Duration
	delayMax time.Duration
	sleep    func(context.Context, time.Duration)

	mu              sync.Mutex
	lastRequest     time.Time
	requestCount    int
	consecutive429s int
}

// NewChecker creates a vacancy checker for one account's credentials.
func NewChecker(account int, clientID, clientSecret string, opts ...Option) (*Checker, error) {
	if clientID == "" || clientSecret == "" {
		return nil, eris.Errorf("usps: account %d credentials not set", account)
	}

	c := &Checker{
		account:    account,
		tokenURL:   prodTokenURL,
		addressURL: prodAddressURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
		delayMin: DefaultDelayMin * time.Second,
		delayMax: DefaultDelayMax * time.Second,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}
	for _, o := range opts {
		o(c)
	}

	cc := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     c.tokenURL,
	}
	c.tokens = cc.TokenSource(context.Background())

	return c, nil
}

// Account returns the credential account number.
func (c *Checker) Account() int {
	return c.account
}

// RequestCount returns the number of address calls issued.
func (c *Checker) RequestCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestCount
}

// randomDelay waits the remainder of a freshly drawn random interval since
// the previous request. The first request does not wait.
func (c *Checker) randomDelay(ctx context.Context) {
	c.mu.Lock()
	last := c.lastRequest
	c.mu.Unlock()
	if last.IsZero() {
		return
	}

	target := c.delayMin + time.Duration(rand.Float64()*float64(c.delayMax-c.delayMin))
	elapsed := time.Since(last)
	if elapsed < target {
		wait := target - elapsed
		zap.L().Debug("usps delay",
			zap.Int("account", c.account),
			zap.Duration("wait", wait))
		c.sleep(ctx, wait)
	}
}

// backoff429 escalates the backoff on consecutive 429s, honoring a larger
// server Retry-After with added jitter.
func (c *Checker) backoff429(ctx context.Context, retryAfter time.Duration) {
	c.mu.Lock()
	c.consecutive429s++
	consecutive := c.consecutive429s
	c.mu.Unlock()

	var wait time.Duration
	computed := backoffStart
	for i := 1; i < consecutive; i++ {
		computed *= backoffMultiplier
		if computed >= backoffMax {
			computed = backoffMax
			break
		}
	}
	if retryAfter > computed {
		wait = retryAfter + time.Duration(5+rand.Float64()*25)*time.Second
	} else {
		wait = computed + time.Duration(rand.Float64()*0.3*float64(computed))
	}

	zap.L().Warn("usps 429 backoff",
		zap.Int("account", c.account),
		zap.Duration("wait", wait),
		zap.Int("consecutive", consecutive))
	c.sleep(ctx, wait)
}

type addressResponse struct {
	Address struct {
		StreetAddress string `json:"streetAddress"`
		City          string `json:"city"`
		State         string `json:"state"`
		ZIPCode       string `json:"ZIPCode"`
		ZIPPlus4      string `json:"ZIPPlus4"`
	} `json:"address"`
	AdditionalInfo struct {
		Vacant          string `json:"vacant"`
		DPVConfirmation string `json:"DPVConfirmation"`
		Business        string `json:"business"`
		CarrierRoute    string `json:"carrierRoute"`
	} `json:"additionalInfo"`
}

// CheckAddress queries one address for the carrier vacancy flag. Must have
// either (city + state) or ZIP. Rate-limit and transport failures come back
// as Result.Err codes so the batch can classify them, never as Go errors;
// only an unusable token is a hard error (operator-actionable).
func (c *Checker) CheckAddress(ctx context.Context, street, city, state, zipCode string) (*Result, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, eris.Wrapf(err, "usps: account %d token", c.account)
	}

	c.randomDelay(ctx)

	result := &Result{StreetAddress: street, City: city, State: state, ZipCode: zipCode}

	params := url.Values{"streetAddress": {street}}
	if city != "" {
		params.Set("city", city)
	}
	if state != "" {
		params.Set("state", state)
	}
	if zipCode != "" {
		params.Set("ZIPCode", zipCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.addressURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, eris.Wrap(err, "usps: build request")
	}
	token.SetAuthHeader(req)

	resp, err := c.http.Do(req)

	c.mu.Lock()
	c.lastRequest = time.Now()
	c.requestCount++
	c.mu.Unlock()

	if err != nil {
		result.Err = err.Error()
		return result, nil
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		c.backoff429(ctx, retryAfter)
		result.Err = "rate_limited"
		return result, nil
	}

	c.mu.Lock()
	c.consecutive429s = 0
	c.mu.Unlock()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		result.Err = "read_body: " + err.Error()
		return result, nil
	}

	if resp.StatusCode != http.StatusOK {
		zap.L().Warn("usps api error",
			zap.Int("account", c.account),
			zap.Int("status", resp.StatusCode),
			zap.String("address", street))
		result.Err = "http_" + strconv.Itoa(resp.StatusCode)
		return result, nil
	}

	var data addressResponse
	if err := json.Unmarshal(body, &data); err != nil {
		result.Err = "parse: " + err.Error()
		return result, nil
	}

	result.RawResponse = body
	result.USPSAddress = data.Address.StreetAddress
	result.USPSCity = data.Address.City
	result.USPSState = data.Address.State
	result.USPSZip = data.Address.ZIPCode
	result.USPSZip4 = data.Address.ZIPPlus4
	result.CarrierRoute = data.AdditionalInfo.CarrierRoute

	result.Vacant = ynFlag(data.AdditionalInfo.Vacant, "Y", "N")
	result.DPVConfirmed = ynFlag(data.AdditionalInfo.DPVConfirmation, "Y", "N", "S", "D")
	result.Business = ynFlag(data.AdditionalInfo.Business, "Y", "N")
	result.AddressMismatch = DetectMismatch(street, data.Address.StreetAddress)

	return result, nil
}

// ynFlag maps a Y/N-style field to *bool: true only for "Y", false for the
// other known values, nil for anything else.
func ynFlag(v string, known ...string) *bool {
	for _, k := range known {
		if v == k {
			b := v == "Y"
			return &b
		}
	}
	return nil
}

func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
