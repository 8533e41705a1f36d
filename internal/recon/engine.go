// Package recon implements the reconciliation engine: it scans unmatched
// bank transactions, scores candidate invoices and posts payments for
// matches above the confidence/tolerance gate.
package recon

import (
	"context"
	"math"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/observability"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/port"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("recon")

// Config holds the per-instantiation matching parameters.
type Config struct {
	WindowDays      int     // matching window around the invoice due date
	AmountTolerance float64 // max relative amount deviation, 0.01 = 1%
}

// DefaultConfig returns the standard window and tolerance.
func DefaultConfig() Config {
	return Config{WindowDays: 7, AmountTolerance: 0.01}
}

// Result is the per-transaction outcome of a reconciliation pass.
// Posting failures land in Err and leave the transaction PENDING; they
// never abort the rest of the batch.
type Result struct {
	TransactionID string
	Matched       bool
	InvoiceID     string
	PaymentID     string
	Confidence    float64
	Err           error
}

// Engine matches pending bank transactions against open invoices.
type Engine struct {
	cfg          Config
	transactions port.BankTransactionStore
	invoices     port.InvoiceStore
	rates        port.RateProvider
	poster       port.MatchPoster
	metrics      *observability.Metrics
	logger       *zap.Logger

	now func() time.Time
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg Config, transactions port.BankTransactionStore, invoices port.InvoiceStore, rates port.RateProvider, poster port.MatchPoster, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.AmountTolerance <= 0 {
		cfg.AmountTolerance = 0.01
	}
	return &Engine{
		cfg:          cfg,
		transactions: transactions,
		invoices:     invoices,
		rates:        rates,
		poster:       poster,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// MatchAllTransactions runs one batch pass over every pending transaction
// of a company. The claimed set is scoped to this invocation: once a
// transaction claims an invoice, no later transaction in the same batch can
// claim it again.
func (e *Engine) MatchAllTransactions(ctx context.Context, companyID string) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Engine.MatchAllTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("company.id", companyID))

	pending, err := e.transactions.ListPending(ctx, companyID)
	if err != nil {
		return nil, err
	}

	claimed := make(map[string]bool)
	results := make([]Result, 0, len(pending))
	for i := range pending {
		results = append(results, e.matchOne(ctx, &pending[i], claimed))
	}

	matched := 0
	for _, r := range results {
		if r.Matched {
			matched++
		}
	}
	e.logger.Info("reconciliation batch finished",
		zap.String("company_id", companyID),
		zap.Int("pending", len(pending)),
		zap.Int("matched", matched),
	)
	return results, nil
}

// MatchTransaction scores and posts a single transaction ad hoc, with a
// claimed set of its own.
func (e *Engine) MatchTransaction(ctx context.Context, tx *domain.BankTransaction) Result {
	ctx, span := tracer.Start(ctx, "Engine.MatchTransaction")
	defer span.End()

	return e.matchOne(ctx, tx, make(map[string]bool))
}

// candidate pairs an invoice with its score and the converted amount used
// against it.
type candidate struct {
	invoice   domain.Invoice
	score     float64
	breakdown domain.ScoreBreakdown
	amount    decimal.Decimal  // in invoice currency
	rate      *decimal.Decimal // set when conversion occurred
}

func (e *Engine) matchOne(ctx context.Context, tx *domain.BankTransaction, claimed map[string]bool) Result {
	res := Result{TransactionID: tx.ID}

	// Debits are never auto-matched.
	if !tx.Amount.IsPositive() {
		e.metrics.RecordMatch("skipped_debit")
		return res
	}
	if tx.MatchState != domain.MatchPending {
		return res
	}

	window := time.Duration(e.cfg.WindowDays) * 24 * time.Hour
	invoices, err := e.invoices.ListOpenInWindow(ctx, tx.CompanyID, tx.BookingDate, window)
	if err != nil {
		res.Err = err
		return res
	}

	best, ok := e.pickBest(ctx, tx, invoices, claimed)
	if !ok {
		e.metrics.RecordMatch("unmatched")
		return res
	}

	payment, err := e.buildPayment(tx, &best)
	if err != nil {
		res.Err = err
		return res
	}

	tx.MatchConfidence = best.score
	tx.ScoreDetail = &best.breakdown

	if err := e.poster.PostMatch(ctx, tx, best.invoice.ID, payment); err != nil {
		// Soft failure: log, leave PENDING, continue the batch.
		e.metrics.IncrPostingError()
		e.logger.Error("payment posting failed",
			zap.String("company_id", tx.CompanyID),
			zap.String("transaction_id", tx.ID),
			zap.String("invoice_id", best.invoice.ID),
			zap.Error(err),
		)
		res.Err = err
		return res
	}

	claimed[best.invoice.ID] = true
	e.metrics.RecordMatch("matched")
	e.metrics.ObserveConfidence(best.score)

	res.Matched = true
	res.InvoiceID = best.invoice.ID
	res.PaymentID = payment.ID
	res.Confidence = best.score
	return res
}

// pickBest scores every unclaimed candidate that survives the amount gate
// and returns the highest-confidence one.
func (e *Engine) pickBest(ctx context.Context, tx *domain.BankTransaction, invoices []domain.Invoice, claimed map[string]bool) (candidate, bool) {
	counterparty := tx.CreditorName
	if counterparty == "" {
		counterparty = tx.DebtorName
	}

	var best candidate
	found := false
	for _, inv := range invoices {
		if claimed[inv.ID] {
			e.metrics.RecordMatch("claimed")
			continue
		}
		if !inv.Open() {
			continue
		}

		amount := tx.Amount
		var rate *decimal.Decimal
		if tx.Currency != inv.Currency {
			r, err := e.rates.Rate(ctx, tx.Currency, inv.Currency)
			if err != nil {
				e.logger.Warn("exchange rate unavailable",
					zap.String("from", tx.Currency),
					zap.String("to", inv.Currency),
					zap.Error(err),
				)
				continue
			}
			amount = tx.Amount.Mul(r)
			rate = &r
		}

		// Amount gate: outside the tolerance the invoice is disqualified
		// no matter how good the other signals are.
		dev, ok := relativeDeviation(amount, inv.DueAmount)
		if !ok || dev > e.cfg.AmountTolerance {
			continue
		}

		gapDays := math.Abs(tx.BookingDate.Sub(inv.DueDate).Hours() / 24)
		breakdown := domain.ScoreBreakdown{
			Amount:       scoreAmount(dev, e.cfg.AmountTolerance),
			Date:         scoreDate(gapDays),
			Reference:    scoreReference(inv.InvoiceNumber, tx.Description, tx.RemittanceInfo),
			Counterparty: scoreCounterparty(counterparty, inv.CustomerName),
		}
		breakdown.Composite = composite(breakdown)

		if !found || breakdown.Composite > best.score {
			best = candidate{
				invoice:   inv,
				score:     breakdown.Composite,
				breakdown: breakdown,
				amount:    amount,
				rate:      rate,
			}
			found = true
		}
	}
	return best, found
}

// buildPayment creates the payment record for a match. When the converted
// amount does not cover the outstanding amount the payment is partial;
// otherwise it settles the invoice in full.
func (e *Engine) buildPayment(tx *domain.BankTransaction, c *candidate) (*domain.Payment, error) {
	amount := c.amount
	if amount.GreaterThan(c.invoice.DueAmount) {
		amount = c.invoice.DueAmount
	}
	if !amount.IsPositive() {
		return nil, &domain.ErrValidation{Field: "amount", Message: "payment amount must be positive"}
	}

	payment := &domain.Payment{
		ID:            uuid.NewString(),
		CompanyID:     tx.CompanyID,
		InvoiceID:     c.invoice.ID,
		Amount:        amount,
		Currency:      c.invoice.Currency,
		PaymentMethod: domain.PaymentMethodBankTransfer,
		Reference:     tx.ExternalReference,
		PaymentDate:   tx.BookingDate,
		CreatedAt:     e.now().UTC(),
	}
	if c.rate != nil {
		payment.ExchangeRate = c.rate
		original := tx.Amount
		payment.OriginalAmount = &original
	}
	return payment, nil
}

// GetMatchingStats derives match coverage for a company. No side effects.
func (e *Engine) GetMatchingStats(ctx context.Context, companyID string) (*domain.MatchingStats, error) {
	ctx, span := tracer.Start(ctx, "Engine.GetMatchingStats")
	defer span.End()

	total, matched, err := e.transactions.CountByState(ctx, companyID)
	if err != nil {
		return nil, err
	}

	stats := &domain.MatchingStats{
		TotalTransactions:     total,
		MatchedTransactions:   matched,
		UnmatchedTransactions: total - matched,
	}
	if total > 0 {
		stats.MatchRate = math.Round(float64(matched)/float64(total)*1000) / 10
	}
	return stats, nil
}
