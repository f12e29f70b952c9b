// Package currency provides the Converter the Payment Reconciler uses to
// express an order's total in the gateway's settlement currency.
// Currency-rate fetching itself is an external collaborator the engine
// treats as opaque; Converter is the seam between the two. Grounded on
// the original source's orders/currency_service.py CurrencyConverter, translated
// from its three-API waterfall into one HTTP fetch plus the same
// Redis-cached-with-fallback-rate shape.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Converter converts an amount from one ISO 4217 currency to another.
type Converter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error)
}

const rateCacheTTL = time.Hour

// HTTPConverter fetches rates from a single exchange-rate endpoint,
// caches the result in Redis, and falls back to a configured static
// rate if the fetch or the cache both miss. It accepts any currency
// pair; the one configured fallback rate is used for whichever pair
// failed to fetch.
type HTTPConverter struct {
	httpClient   *http.Client
	redisClient  *redis.Client
	baseURL      string
	fallbackRate decimal.Decimal
	logger       *slog.Logger
}

func NewHTTPConverter(redisClient *redis.Client, fallbackRate decimal.Decimal, logger *slog.Logger) *HTTPConverter {
	return &HTTPConverter{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		redisClient:  redisClient,
		baseURL:      "https://api.exchangerate.host/convert",
		fallbackRate: fallbackRate,
		logger:       logger,
	}
}

func rateCacheKey(from, to string) string { return fmt.Sprintf("fxrate:%s:%s", from, to) }

func (c *HTTPConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount.Round(2), nil
	}

	rate, err := c.rate(ctx, from, to)
	if err != nil {
		c.logger.Warn("currency: rate fetch failed, using fallback", "from", from, "to", to, "error", err)
		rate = c.fallbackRate
	}

	return amount.Mul(rate).RoundHalfUp(2), nil
}

func (c *HTTPConverter) rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	key := rateCacheKey(from, to)
	if cached, err := c.redisClient.Get(ctx, key).Result(); err == nil {
		if rate, parseErr := decimal.NewFromString(cached); parseErr == nil {
			return rate, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("currency: cache read failed", "error", err)
	}

	rate, err := c.fetchRate(ctx, from, to)
	if err != nil {
		return decimal.Zero, err
	}

	if err := c.redisClient.Set(ctx, key, rate.String(), rateCacheTTL).Err(); err != nil {
		c.logger.Warn("currency: cache write failed", "error", err)
	}
	return rate, nil
}

type exchangeRateResponse struct {
	Success bool `json:"success"`
	Result  struct {
		Rate decimal.Decimal `json:"rate"`
	} `json:"info"`
}

func (c *HTTPConverter) fetchRate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s?from=%s&to=%s&amount=1", c.baseURL, from, to)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rate request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch rate %s->%s: %w", from, to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("fetch rate %s->%s: status %d", from, to, resp.StatusCode)
	}

	var body exchangeRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("decode rate response: %w", err)
	}
	if !body.Success || body.Result.Rate.IsZero() {
		return decimal.Zero, fmt.Errorf("fetch rate %s->%s: upstream reported failure", from, to)
	}
	return body.Result.Rate, nil
}

// StaticConverter is a fixed-rate Converter for tests and for
// deployments that pin a single settlement currency without live rate
// fetching.
type StaticConverter struct {
	Rates map[string]decimal.Decimal // keyed "FROM:TO"
}

func (s StaticConverter) Convert(_ context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, error) {
	if from == to {
		return amount.Round(2), nil
	}
	rate, ok := s.Rates[from+":"+to]
	if !ok {
		return decimal.Zero, fmt.Errorf("no static rate configured for %s->%s", from, to)
	}
	return amount.Mul(rate).RoundHalfUp(2), nil
}

var _ Converter = (*HTTPConverter)(nil)
var _ Converter = StaticConverter{}
