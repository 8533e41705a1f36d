package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Invoices
// ============================================================

// InvoiceStatus values relevant to reconciliation. The invoice record is
// owned by the invoicing collaborator; this engine only moves due_amount
// toward zero and derives the status from it.
type InvoiceStatus string

const (
	InvoiceSent          InvoiceStatus = "SENT"
	InvoicePartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoicePaid          InvoiceStatus = "PAID"
)

// Invoice is the reconciliation-relevant subset of an invoice record.
type Invoice struct {
	ID            string          `json:"id"`
	CompanyID     string          `json:"company_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerName  string          `json:"customer_name"`
	Status        InvoiceStatus   `json:"status"`
	Total         decimal.Decimal `json:"total"`
	DueAmount     decimal.Decimal `json:"due_amount"`
	DueDate       time.Time       `json:"due_date"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Open reports whether the invoice can still receive payments.
func (i *Invoice) Open() bool {
	return i.Status == InvoiceSent || i.Status == InvoicePartiallyPaid
}

// ============================================================
// Payments
// ============================================================

// PaymentMethodBankTransfer is the only method this engine creates.
const PaymentMethodBankTransfer = "bank_transfer"

// Payment is created exactly once per successful match and never mutated
// afterwards. Amount is in the invoice currency; when conversion occurred,
// ExchangeRate and OriginalAmount record the transaction-side figures.
type Payment struct {
	ID             string           `json:"id"`
	CompanyID      string           `json:"company_id"`
	InvoiceID      string           `json:"invoice_id"`
	PaymentNumber  string           `json:"payment_number"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	PaymentMethod  string           `json:"payment_method"`
	Reference      string           `json:"reference"` // = transaction external_reference
	ExchangeRate   *decimal.Decimal `json:"exchange_rate,omitempty"`
	OriginalAmount *decimal.Decimal `json:"original_amount,omitempty"`
	PaymentDate    time.Time        `json:"payment_date"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ============================================================
// Matching results
// ============================================================

// ScoreBreakdown records the per-signal contributions behind a match
// decision. Persisted alongside the transaction for auditability.
type ScoreBreakdown struct {
	Amount       float64 `json:"amount"`
	Date         float64 `json:"date"`
	Reference    float64 `json:"reference"`
	Counterparty float64 `json:"counterparty"`
	Composite    float64 `json:"composite"`
}

// MatchingStats summarizes reconciliation coverage for a company.
// Purely derived; computing it has no side effects.
type MatchingStats struct {
	TotalTransactions     int     `json:"total_transactions"`
	MatchedTransactions   int     `json:"matched_transactions"`
	UnmatchedTransactions int     `json:"unmatched_transactions"`
	MatchRate             float64 `json:"match_rate"` // percentage, one decimal
}
