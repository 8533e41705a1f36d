package sync

import (
	"context"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/gateway"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/observability"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/resilience"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runner fans sync runs out over every stored bank connection. Companies
// run concurrently up to the bulkhead limit; one company's failure never
// cancels its siblings.
type Runner struct {
	cfg          Config
	registry     *gateway.Registry
	tokens       port.TokenStore
	accounts     port.BankAccountStore
	transactions port.BankTransactionStore
	bulkhead     *resilience.Bulkhead
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewRunner creates a sync runner over the gateway registry.
func NewRunner(cfg Config, registry *gateway.Registry, tokens port.TokenStore, accounts port.BankAccountStore, transactions port.BankTransactionStore, maxConcurrency int, metrics *observability.Metrics, logger *zap.Logger) *Runner {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	return &Runner{
		cfg:          cfg,
		registry:     registry,
		tokens:       tokens,
		accounts:     accounts,
		transactions: transactions,
		bulkhead:     resilience.NewBulkhead(maxConcurrency),
		metrics:      metrics,
		logger:       logger,
	}
}

// SyncAll runs every stored (bank, company) connection once.
func (r *Runner) SyncAll(ctx context.Context) error {
	conns, err := r.tokens.ListConnections(ctx)
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			if err := r.bulkhead.Acquire(ctx); err != nil {
				return err
			}
			defer r.bulkhead.Release()

			r.SyncOne(ctx, conn.BankCode, conn.CompanyID)
			return nil
		})
	}
	return g.Wait()
}

// SyncOne runs a single (bank, company) sync. Failures are logged, not
// propagated: scheduled runs are independent units.
func (r *Runner) SyncOne(ctx context.Context, bankCode, companyID string) *Summary {
	gw, err := r.registry.Get(bankCode)
	if err != nil {
		r.logger.Error("no gateway for stored connection",
			zap.String("bank", bankCode),
			zap.String("company_id", companyID),
			zap.Error(err),
		)
		return nil
	}

	orch := NewOrchestrator(r.cfg, gw, gateway.BankName(bankCode), r.tokens, r.accounts, r.transactions, r.metrics, r.logger)

	runCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	summary, err := orch.Run(runCtx, companyID)
	if err != nil {
		// Already logged with context by the orchestrator.
		return summary
	}
	return summary
}
