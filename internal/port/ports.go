// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations: bank gateways, the persistence
// collaborator, exchange-rate sources.
package port

import (
	"context"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/shopspring/decimal"
)

// ============================================================
// Bank gateways
// ============================================================

// BankGateway is the shared capability contract every bank adapter
// implements. Concrete adapters are selected by bank code via the registry.
type BankGateway interface {
	// BankCode returns the registry key ("komercijalna", "stopanska", "nlb").
	BankCode() string

	// Authenticate performs the client-credentials exchange against the
	// bank's sandbox or production token endpoint. Failures are returned
	// as a soft AuthResult, never as an error.
	Authenticate(ctx context.Context) domain.AuthResult

	// GetAccountDetails lists accounts visible under the active consent.
	GetAccountDetails(ctx context.Context, accessToken string) ([]domain.GatewayAccount, error)

	// GetTransactions pages through booked transactions for one account in
	// [dateFrom, dateTo] and normalizes them into canonical value objects.
	GetTransactions(ctx context.Context, accessToken, accountNumber string, dateFrom, dateTo time.Time) ([]domain.GatewayTransaction, error)

	// RequestConsent and InitiateSCA are PSD2 pass-through operations.
	RequestConsent(ctx context.Context, req domain.ConsentRequest) (*domain.ConsentResponse, error)
	InitiateSCA(ctx context.Context, req domain.SCARequest) (*domain.SCAResponse, error)
}

// ============================================================
// Persistence collaborator
// ============================================================

// BankAccountStore persists company-scoped bank accounts.
type BankAccountStore interface {
	GetByNumber(ctx context.Context, companyID, accountNumber string) (*domain.BankAccount, error)
	Create(ctx context.Context, account *domain.BankAccount) error
	UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error
	ListByCompany(ctx context.Context, companyID string) ([]domain.BankAccount, error)
}

// BankTransactionStore persists normalized bank transactions.
type BankTransactionStore interface {
	// ExistsByReference checks the dedupe key (account, external_reference).
	ExistsByReference(ctx context.Context, accountID, externalReference string) (bool, error)
	Create(ctx context.Context, tx *domain.BankTransaction) error
	ListPending(ctx context.Context, companyID string) ([]domain.BankTransaction, error)
	CountByState(ctx context.Context, companyID string) (total, matched int, err error)
}

// InvoiceStore reads the reconciliation-relevant invoice subset.
type InvoiceStore interface {
	// ListOpenInWindow returns SENT/PARTIALLY_PAID invoices whose due date
	// lies within ±window of ref.
	ListOpenInWindow(ctx context.Context, companyID string, ref time.Time, window time.Duration) ([]domain.Invoice, error)
}

// PaymentStore creates payments. Payment numbers are unique and sequential
// per company.
type PaymentStore interface {
	Create(ctx context.Context, payment *domain.Payment) error
	ListByInvoice(ctx context.Context, invoiceID string) ([]domain.Payment, error)
}

// MatchPoster applies one matched transaction atomically: payment insert,
// invoice due-amount/status update, transaction PENDING → MATCHED. Either
// everything commits or nothing does.
type MatchPoster interface {
	PostMatch(ctx context.Context, tx *domain.BankTransaction, invoiceID string, payment *domain.Payment) error
}

// TokenStore resolves stored bank connections per (bank, company).
type TokenStore interface {
	GetConnection(ctx context.Context, bankCode, companyID string) (*domain.BankConnection, error)
	ListConnections(ctx context.Context) ([]domain.BankConnection, error)
}

// ============================================================
// Rates & caching
// ============================================================

// RateProvider supplies an exchange rate from one currency to another.
// This engine consumes rates; it does not own how they are sourced.
type RateProvider interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
