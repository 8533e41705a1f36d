// Package sync drives end-to-end bank synchronization runs: token
// resolution, account upsert, transaction dedupe and persistence.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/observability"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("sync")

// Config holds per-run orchestrator parameters.
type Config struct {
	LookbackDays int           // cutoff = now − LookbackDays; default 30
	AccountDelay time.Duration // fixed sleep between accounts for quota pacing
}

// Summary reports what one sync run did.
type Summary struct {
	BankCode     string `json:"bank_code"`
	CompanyID    string `json:"company_id"`
	AccountsSeen int    `json:"accounts_seen"`
	Ingested     int    `json:"ingested"`
	Deduped      int    `json:"deduped"`
	SkippedOld   int    `json:"skipped_old"`
}

// Orchestrator runs one (bank, company) synchronization end to end.
// Setup failures (no connection, expired token) are fatal and abort the
// run; transactions persisted before a mid-run failure stay persisted —
// the dedupe check makes re-running safe.
type Orchestrator struct {
	cfg          Config
	gateway      port.BankGateway
	bankName     string
	tokens       port.TokenStore
	accounts     port.BankAccountStore
	transactions port.BankTransactionStore
	metrics      *observability.Metrics
	logger       *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewOrchestrator creates a sync orchestrator for one bank gateway.
func NewOrchestrator(cfg Config, gw port.BankGateway, bankName string, tokens port.TokenStore, accounts port.BankAccountStore, transactions port.BankTransactionStore, metrics *observability.Metrics, logger *zap.Logger) *Orchestrator {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 30
	}
	if cfg.AccountDelay <= 0 {
		// Matches the default 15 req/min bank quota (time.Minute / 15).
		cfg.AccountDelay = 4 * time.Second
	}
	return &Orchestrator{
		cfg:          cfg,
		gateway:      gw,
		bankName:     bankName,
		tokens:       tokens,
		accounts:     accounts,
		transactions: transactions,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// Run performs one synchronization for a company.
func (o *Orchestrator) Run(ctx context.Context, companyID string) (*Summary, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("bank.code", o.gateway.BankCode()),
		attribute.String("company.id", companyID),
	)

	start := o.now()
	summary := &Summary{BankCode: o.gateway.BankCode(), CompanyID: companyID}

	conn, err := o.resolveConnection(ctx, companyID)
	if err != nil {
		o.metrics.RecordSyncRun(summary.BankCode, "auth_failed", o.now().Sub(start))
		return nil, err
	}

	accounts, err := o.gateway.GetAccountDetails(ctx, conn.AccessToken)
	if err != nil {
		o.failRun(summary, start, "accounts", err)
		return nil, err
	}

	cutoff := o.now().AddDate(0, 0, -o.cfg.LookbackDays)

	for i, acct := range accounts {
		if i > 0 {
			o.sleep(ctx, o.cfg.AccountDelay)
		}

		stored, err := o.upsertAccount(ctx, companyID, acct)
		if err != nil {
			o.failRun(summary, start, "account upsert", err)
			return summary, err
		}
		summary.AccountsSeen++

		txs, err := o.gateway.GetTransactions(ctx, conn.AccessToken, acct.AccountNumber, cutoff, o.now())
		if err != nil {
			o.failRun(summary, start, "transactions", err)
			return summary, err
		}

		for i := range txs {
			outcome, err := o.persistTransaction(ctx, companyID, stored, &txs[i], cutoff)
			if err != nil {
				o.failRun(summary, start, "persist", err)
				return summary, err
			}
			switch outcome {
			case persisted:
				summary.Ingested++
				o.metrics.IncrIngested(summary.BankCode)
			case deduped:
				summary.Deduped++
				o.metrics.IncrDeduped(summary.BankCode)
			case tooOld:
				summary.SkippedOld++
			}
		}
	}

	o.metrics.RecordSyncRun(summary.BankCode, "ok", o.now().Sub(start))
	o.logger.Info("sync run finished",
		zap.String("bank", summary.BankCode),
		zap.String("company_id", companyID),
		zap.Int("accounts", summary.AccountsSeen),
		zap.Int("ingested", summary.Ingested),
		zap.Int("deduped", summary.Deduped),
		zap.Int("skipped_old", summary.SkippedOld),
	)
	return summary, nil
}

// resolveConnection loads the stored token for (bank, company). A missing
// connection or an expired token is fatal; there is no implicit refresh.
func (o *Orchestrator) resolveConnection(ctx context.Context, companyID string) (*domain.BankConnection, error) {
	conn, err := o.tokens.GetConnection(ctx, o.gateway.BankCode(), companyID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if errors.As(err, &notFound) {
			return nil, &domain.ErrAuth{Code: domain.CodeNoConnection, BankCode: o.gateway.BankCode()}
		}
		return nil, err
	}
	if conn.Expired(o.now()) {
		return nil, &domain.ErrAuth{Code: domain.CodeTokenExpired, BankCode: o.gateway.BankCode()}
	}
	return conn, nil
}

// upsertAccount inserts the account with full bank metadata on first sight
// and only refreshes the balance afterwards. Keyed (company, account_number);
// never duplicated.
func (o *Orchestrator) upsertAccount(ctx context.Context, companyID string, acct domain.GatewayAccount) (*domain.BankAccount, error) {
	existing, err := o.accounts.GetByNumber(ctx, companyID, acct.AccountNumber)
	if err == nil {
		if err := o.accounts.UpdateBalance(ctx, existing.ID, acct.Balance); err != nil {
			return nil, err
		}
		existing.CurrentBalance = acct.Balance
		return existing, nil
	}
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		return nil, err
	}

	account := &domain.BankAccount{
		ID:             uuid.NewString(),
		CompanyID:      companyID,
		AccountNumber:  acct.AccountNumber,
		IBAN:           acct.IBAN,
		BIC:            acct.BIC,
		Currency:       acct.Currency,
		BankCode:       o.gateway.BankCode(),
		BankName:       o.bankName,
		CurrentBalance: acct.Balance,
		CreatedAt:      o.now().UTC(),
	}
	if err := o.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

type persistOutcome int

const (
	persisted persistOutcome = iota
	deduped
	tooOld
)

// persistTransaction applies the cutoff filter and the dedupe check, then
// stores the transaction as PENDING.
func (o *Orchestrator) persistTransaction(ctx context.Context, companyID string, account *domain.BankAccount, gt *domain.GatewayTransaction, cutoff time.Time) (persistOutcome, error) {
	if gt.CreatedAt.Before(cutoff) {
		return tooOld, nil
	}

	exists, err := o.transactions.ExistsByReference(ctx, account.ID, gt.ExternalUID)
	if err != nil {
		return 0, err
	}
	if exists {
		return deduped, nil
	}

	tx := &domain.BankTransaction{
		ID:                uuid.NewString(),
		CompanyID:         companyID,
		BankAccountID:     account.ID,
		ExternalReference: gt.ExternalUID,
		Amount:            gt.Amount,
		Currency:          gt.Currency,
		BookingDate:       gt.CreatedAt,
		ValueDate:         gt.CreatedAt,
		Description:       gt.Description,
		RemittanceInfo:    gt.RemittanceInfo,
		DebtorName:        gt.DebtorName,
		CreditorName:      gt.CreditorName,
		MatchState:        domain.MatchPending,
		CreatedAt:         o.now().UTC(),
	}
	if gt.Amount.IsPositive() {
		tx.DebtorIBAN = gt.IBAN
	} else {
		tx.CreditorIBAN = gt.IBAN
	}

	if err := o.transactions.Create(ctx, tx); err != nil {
		return 0, err
	}
	return persisted, nil
}

func (o *Orchestrator) failRun(summary *Summary, start time.Time, stage string, err error) {
	o.metrics.RecordSyncRun(summary.BankCode, "failed", o.now().Sub(start))

	var rateErr *domain.ErrRateLimited
	var transportErr *domain.ErrTransport
	code := "error"
	switch {
	case errors.As(err, &rateErr):
		code = string(domain.CodeRateLimited)
	case errors.As(err, &transportErr):
		code = string(transportErr.Code)
	}
	o.metrics.IncrGatewayError(summary.BankCode, code)

	o.logger.Error("sync run aborted",
		zap.String("bank", summary.BankCode),
		zap.String("company_id", summary.CompanyID),
		zap.String("stage", stage),
		zap.Int("accounts_seen", summary.AccountsSeen),
		zap.Int("ingested", summary.Ingested),
		zap.Error(err),
	)
}
