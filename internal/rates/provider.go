// Package rates supplies exchange rates to the reconciliation engine.
// The engine only consumes a rate; where it comes from is this package's
// problem and nobody else's.
package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/resilience"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/port"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("rates")

// HTTPProvider fetches quotes from a rate service and caches them.
type HTTPProvider struct {
	httpClient *http.Client
	baseURL    string
	cache      port.Cache[decimal.Decimal]
	cb         *gobreaker.CircuitBreaker
	rcfg       resilience.Config
	logger     *zap.Logger
}

// NewHTTPProvider creates a caching HTTP rate provider.
func NewHTTPProvider(httpClient *http.Client, baseURL string, cache port.Cache[decimal.Decimal], cb *gobreaker.CircuitBreaker, rcfg resilience.Config, logger *zap.Logger) *HTTPProvider {
	return &HTTPProvider{
		httpClient: httpClient,
		baseURL:    baseURL,
		cache:      cache,
		cb:         cb,
		rcfg:       rcfg,
		logger:     logger,
	}
}

// Rate returns the conversion rate from one currency to another.
func (p *HTTPProvider) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	ctx, span := tracer.Start(ctx, "HTTPProvider.Rate")
	defer span.End()

	if from == to {
		return decimal.NewFromInt(1), nil
	}

	key := from + "/" + to
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	var rate decimal.Decimal
	_, err := p.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, p.rcfg, func() error {
			url := fmt.Sprintf("%s/v1/rates?from=%s&to=%s", p.baseURL, from, to)
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}

			resp, err := p.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusNotFound {
				return &domain.ErrNotFound{Resource: "exchange rate", ID: key}
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("rate service returned status %d", resp.StatusCode)
			}

			var body struct {
				Rate decimal.Decimal `json:"rate"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return err
			}
			rate = body.Rate
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, &domain.ErrExternalService{Service: "rates", Err: err}
	}
	if !rate.IsPositive() {
		return decimal.Zero, &domain.ErrValidation{Field: "rate", Message: "rate must be positive"}
	}

	p.cache.Set(key, rate)
	return rate, nil
}

// Fixed is a static rate table. Tests and single-currency deployments use
// it instead of the HTTP provider.
type Fixed struct {
	rates map[string]decimal.Decimal
}

// NewFixed creates a fixed provider from "FROM/TO" keyed rate entries.
func NewFixed(table map[string]decimal.Decimal) *Fixed {
	return &Fixed{rates: table}
}

// DefaultTable returns an MKD-centric fallback table used when no rates
// service is configured. The denar is pegged to the euro, so the EUR rate
// is stable enough to ship as a default.
func DefaultTable() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"EUR/MKD": decimal.RequireFromString("61.5"),
		"USD/MKD": decimal.RequireFromString("56.8"),
		"CHF/MKD": decimal.RequireFromString("64.2"),
		"GBP/MKD": decimal.RequireFromString("72.1"),
	}
}

// Rate looks up a static rate.
func (f *Fixed) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	rate, ok := f.rates[from+"/"+to]
	if !ok {
		return decimal.Zero, &domain.ErrNotFound{Resource: "exchange rate", ID: from + "/" + to}
	}
	return rate, nil
}
