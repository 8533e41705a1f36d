package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Bank accounts
// ============================================================

// BankAccount is a company-scoped account discovered during sync.
// Unique per (company_id, account_number); created on first sighting,
// only the balance is updated afterwards.
type BankAccount struct {
	ID             string          `json:"id"`
	CompanyID      string          `json:"company_id"`
	AccountNumber  string          `json:"account_number"`
	IBAN           string          `json:"iban"`
	BIC            string          `json:"bic"`
	Currency       string          `json:"currency"`
	BankCode       string          `json:"bank_code"`
	BankName       string          `json:"bank_name"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	IsPrimary      bool            `json:"is_primary"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ============================================================
// Bank transactions
// ============================================================

// MatchState is the reconciliation state of a bank transaction.
type MatchState string

const (
	MatchPending MatchState = "PENDING"
	MatchMatched MatchState = "MATCHED"
)

// BankTransaction is a persisted, normalized bank statement line.
// Immutable except the match fields, which transition exactly once
// (PENDING → MATCHED) and are never reversed by this engine.
type BankTransaction struct {
	ID                string          `json:"id"`
	CompanyID         string          `json:"company_id"`
	BankAccountID     string          `json:"bank_account_id"`
	ExternalReference string          `json:"external_reference"`
	Amount            decimal.Decimal `json:"amount"` // signed; negative = debit
	Currency          string          `json:"currency"`
	BookingDate       time.Time       `json:"booking_date"`
	ValueDate         time.Time       `json:"value_date"`
	Description       string          `json:"description"`
	RemittanceInfo    string          `json:"remittance_info"`
	DebtorName        string          `json:"debtor_name"`
	DebtorIBAN        string          `json:"debtor_iban"`
	CreditorName      string          `json:"creditor_name"`
	CreditorIBAN      string          `json:"creditor_iban"`

	MatchState       MatchState      `json:"match_state"`
	MatchedInvoiceID *string         `json:"matched_invoice_id,omitempty"`
	MatchedPaymentID *string         `json:"matched_payment_id,omitempty"`
	MatchedAt        *time.Time      `json:"matched_at,omitempty"`
	MatchConfidence  float64         `json:"match_confidence,omitempty"`
	ScoreDetail      *ScoreBreakdown `json:"score_detail,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ============================================================
// Canonical gateway value objects
// ============================================================

// GatewayTransaction is the bank-agnostic transaction shape produced by a
// gateway client after normalizing a bank-specific payload. Nothing outside
// the gateway package ever sees bank field names.
type GatewayTransaction struct {
	ExternalUID    string          `json:"external_uid"`
	TransactionUID string          `json:"transaction_uid"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Description    string          `json:"description"`
	CreatedAt      time.Time       `json:"created_at"`
	BookingStatus  string          `json:"booking_status"`
	DebtorName     string          `json:"debtor_name"`
	CreditorName   string          `json:"creditor_name"`
	IBAN           string          `json:"iban"`
	RemittanceInfo string          `json:"remittance_info"`
}

// GatewayAccount is the normalized account shape listed under a consent.
type GatewayAccount struct {
	AccountNumber string          `json:"account_number"`
	IBAN          string          `json:"iban"`
	Currency      string          `json:"currency"`
	BIC           string          `json:"bic"`
	Balance       decimal.Decimal `json:"balance"`
	Name          string          `json:"name"`
}

// AuthResult is the soft outcome of a client-credentials exchange.
// Gateway failures come back as values, not raised errors.
type AuthResult struct {
	Success      bool      `json:"success"`
	AccessToken  string    `json:"access_token,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	ErrorCode    ErrorCode `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// BankConnection is a stored (bank, company) token pairing resolved before
// a sync run.
type BankConnection struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	BankCode    string    `json:"bank_code"`
	AccessToken string    `json:"access_token"`
	ConsentID   string    `json:"consent_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the stored token expiry lies in the past.
func (c *BankConnection) Expired(now time.Time) bool {
	return c.ExpiresAt.Before(now)
}

// ============================================================
// PSD2 pass-through
// ============================================================

// ConsentRequest asks a bank for account access under PSD2.
type ConsentRequest struct {
	AccountAccess   []string  `json:"account_access"`
	ValidUntil      time.Time `json:"valid_until"`
	FrequencyPerDay int       `json:"frequency_per_day"`
}

// ConsentResponse carries the bank-issued consent identifier.
type ConsentResponse struct {
	ConsentID string `json:"consent_id"`
}

// SCARequest initiates a strong-customer-authentication challenge.
type SCARequest struct {
	UserID        string `json:"user_id"`
	ChallengeType string `json:"challenge_type"`
}

// SCAResponse carries the bank-issued challenge identifier.
type SCAResponse struct {
	ChallengeID string `json:"challenge_id"`
}
