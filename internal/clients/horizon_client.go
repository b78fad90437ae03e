package clients

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/stellar/go/clients/horizonclient"
	"golang.org/x/time/rate"
)

const (
	// DefaultHorizonRate stays well below the public Horizon limit of 3600 requests per hour per IP.
	DefaultHorizonRate  = 0.8
	defaultHorizonBurst = 5

	PublicHorizonURL  = "https://horizon.stellar.org"
	TestnetHorizonURL = "https://horizon-testnet.stellar.org"
)

// RateLimitedHTTP throttles outgoing Horizon requests. It implements horizonclient.HTTP.
// The wrapped client must not set a timeout: event streams are long-lived requests
// bounded by their context instead.
type RateLimitedHTTP struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRateLimitedHTTP wraps client with a limiter allowing perSecond requests.
func NewRateLimitedHTTP(client *http.Client, perSecond float64, burst int) *RateLimitedHTTP {
	if client == nil {
		client = &http.Client{}
	}
	if perSecond <= 0 {
		perSecond = DefaultHorizonRate
	}
	if burst <= 0 {
		burst = defaultHorizonBurst
	}
	return &RateLimitedHTTP{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Do waits for the limiter, honouring the request context, then sends req.
func (c *RateLimitedHTTP) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, errors.Wrap(err, "rate limiter")
	}
	return c.client.Do(req)
}

// Get sends a rate-limited GET.
func (c *RateLimitedHTTP) Get(rawURL string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build GET request")
	}
	return c.Do(req)
}

// PostForm sends a rate-limited form POST, used for transaction submission.
func (c *RateLimitedHTTP) PostForm(rawURL string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, rawURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build POST request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.Do(req)
}

// NewHorizonClient returns a Horizon client for horizonURL throttled to perSecond requests.
func NewHorizonClient(horizonURL string, perSecond float64) *horizonclient.Client {
	return &horizonclient.Client{
		HorizonURL: horizonURL,
		HTTP:       NewRateLimitedHTTP(&http.Client{}, perSecond, defaultHorizonBurst),
		AppName:    "mirrorbot",
	}
}
