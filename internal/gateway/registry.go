package gateway

import (
	"net/http"
	"sort"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/config"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/resilience"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/port"

	"go.uber.org/zap"
)

// Registry holds the configured bank adapters, keyed by bank code.
// Adapters share one HTTP client but get their own circuit breaker so a
// flapping bank cannot trip its siblings.
type Registry struct {
	gateways map[string]port.BankGateway
}

// NewRegistry builds adapters for every configured bank.
func NewRegistry(httpClient *http.Client, banks map[string]config.BankConfig, rcfg resilience.Config, logger *zap.Logger) *Registry {
	r := &Registry{gateways: make(map[string]port.BankGateway)}

	for code, bc := range banks {
		opts := Options{
			ClientID:     bc.ClientID,
			ClientSecret: bc.ClientSecret,
			Sandbox:      bc.Sandbox,
			RequestQuota: bc.RequestQuota,
		}
		cb := resilience.NewCircuitBreaker("bank-" + code)

		switch code {
		case BankCodeKomercijalna:
			r.gateways[code] = NewKomercijalna(httpClient, opts, cb, rcfg, logger)
		case BankCodeStopanska:
			r.gateways[code] = NewStopanska(httpClient, opts, cb, rcfg, logger)
		case BankCodeNLB:
			r.gateways[code] = NewNLB(httpClient, opts, cb, rcfg, logger)
		default:
			logger.Warn("unknown bank code in config, skipping", zap.String("bank", code))
		}
	}

	return r
}

// Register adds (or replaces) an adapter. Tests use it to install fakes.
func (r *Registry) Register(gw port.BankGateway) {
	r.gateways[gw.BankCode()] = gw
}

// Get returns the adapter for a bank code.
func (r *Registry) Get(code string) (port.BankGateway, error) {
	gw, ok := r.gateways[code]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "bank gateway", ID: code}
	}
	return gw, nil
}

// bankNames maps registry keys to display names used on account records.
var bankNames = map[string]string{
	BankCodeKomercijalna: "Komercijalna Banka AD Skopje",
	BankCodeStopanska:    "Stopanska Banka AD - Skopje",
	BankCodeNLB:          "NLB Banka AD Skopje",
}

// BankName returns the display name for a bank code, or the code itself
// when no name is registered.
func BankName(code string) string {
	if name, ok := bankNames[code]; ok {
		return name
	}
	return code
}

// Codes returns the registered bank codes, sorted.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.gateways))
	for code := range r.gateways {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
