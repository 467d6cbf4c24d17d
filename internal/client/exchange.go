package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/attaboy/payment-orchestrator/internal/infra"
)

// FXCache is the subset of infra.RedisClient the Exchange port needs for its
// 60s-fresh, stale-on-failure cache (§6).
type FXCache interface {
	GetCachedFXRate(ctx context.Context, base, target string) (*infra.FXRate, bool, error)
	PutCachedFXRate(ctx context.Context, base, target string, rate infra.FXRate) error
}

// FXRate is an alias for infra's cached rate shape, so callers of GetRate
// don't need to import infra directly.
type FXRate = infra.FXRate

// ExchangeClient implements the Exchange port (§6) against a Frankfurter-
// shaped public FX API, with a 60s freshness cache and stale-on-failure
// fallback.
type ExchangeClient struct {
	baseURL string
	client  *http.Client
	cache   FXCache
	logger  *slog.Logger
}

// NewExchangeClient builds a client against baseURL (e.g.
// https://api.frankfurter.app).
func NewExchangeClient(baseURL string, cache FXCache, logger *slog.Logger) *ExchangeClient {
	return &ExchangeClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   cache,
		logger:  logger,
	}
}

// GetRate returns the base→target conversion rate. A cache entry younger
// than 60s is returned immediately; otherwise a live fetch is attempted, and
// on failure a stale cached value (of any age) is returned if one exists.
func (c *ExchangeClient) GetRate(ctx context.Context, base, target string) (*FXRate, error) {
	cached, fresh, err := c.cache.GetCachedFXRate(ctx, base, target)
	if err != nil {
		c.logger.Warn("fx cache lookup failed", "base", base, "target", target, "error", err)
	}
	if fresh {
		return cached, nil
	}

	live, err := c.fetchRate(ctx, base, target)
	if err != nil {
		if cached != nil {
			c.logger.Warn("fx live fetch failed, serving stale rate", "base", base, "target", target, "error", err)
			return cached, nil
		}
		return nil, fmt.Errorf("fetch fx rate %s->%s: %w", base, target, err)
	}

	if err := c.cache.PutCachedFXRate(ctx, base, target, *live); err != nil {
		c.logger.Warn("fx cache store failed", "base", base, "target", target, "error", err)
	}
	return live, nil
}

func (c *ExchangeClient) fetchRate(ctx context.Context, base, target string) (*FXRate, error) {
	url := fmt.Sprintf("%s/latest?from=%s&to=%s", c.baseURL, base, target)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fx provider returned %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Date  string             `json:"date"`
		Rates map[string]float64 `json:"rates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode fx response: %w", err)
	}

	rate, ok := payload.Rates[target]
	if !ok {
		return nil, fmt.Errorf("fx provider response missing rate for %s", target)
	}

	return &FXRate{Rate: rate, TimestampDate: payload.Date, CachedAt: timeNow()}, nil
}

// timeNow is indirected so tests can freeze it; in production it is just
// time.Now.
var timeNow = time.Now
