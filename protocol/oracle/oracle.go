// Package oracle supplies the ICP/USD exchange rate. Sources produce
// quotes; the Tracker keeps the newest accepted quote and decides whether
// it is still usable.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"rumiprotocol/protocol/numeric"
)

// Quote is one observed exchange rate.
type Quote struct {
	Rate      numeric.UsdIcp
	Timestamp time.Time
}

// Source fetches a fresh quote.
type Source interface {
	FetchPrice(ctx context.Context) (Quote, error)
}

// Manual is a Source fed by hand, for tests and local runs.
type Manual struct {
	mu    sync.Mutex
	quote Quote
	set   bool
}

// NewManual returns an empty manual source.
func NewManual() *Manual {
	return &Manual{}
}

// SetPrice installs the quote returned by subsequent fetches.
func (m *Manual) SetPrice(rate numeric.UsdIcp, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quote = Quote{Rate: rate, Timestamp: at}
	m.set = true
}

func (m *Manual) FetchPrice(_ context.Context) (Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return Quote{}, errors.New("oracle: no manual price set")
	}
	return m.quote, nil
}

// HTTPDoer executes HTTP requests. *http.Client satisfies it.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// HTTPClient fetches quotes from an exchange-rate bridge. A shared rate
// limiter keeps refresh loops and retries inside the provider's request
// budget.
type HTTPClient struct {
	base    string
	doer    HTTPDoer
	limiter *rate.Limiter
}

// NewHTTPClient returns a client for the bridge at base. A nil limiter
// allows one request per second with a burst of one.
func NewHTTPClient(base string, doer HTTPDoer, limiter *rate.Limiter) *HTTPClient {
	if doer == nil {
		doer = http.DefaultClient
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(time.Second), 1)
	}
	return &HTTPClient{base: strings.TrimRight(base, "/"), doer: doer, limiter: limiter}
}

type rateResponse struct {
	RateE8s   uint64 `json:"rate_e8s"`
	Timestamp int64  `json:"timestamp"`
}

func (c *HTTPClient) FetchPrice(ctx context.Context) (Quote, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Quote{}, fmt.Errorf("oracle: rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/rates/icp-usd", nil)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: build request: %w", err)
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: fetch rate: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Quote{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("oracle: fetch rate: status %d", resp.StatusCode)
	}
	var out rateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Quote{}, fmt.Errorf("oracle: decode response: %w", err)
	}
	if out.RateE8s == 0 {
		return Quote{}, errors.New("oracle: zero rate")
	}
	return Quote{Rate: numeric.UsdIcp(out.RateE8s), Timestamp: time.Unix(0, out.Timestamp)}, nil
}
