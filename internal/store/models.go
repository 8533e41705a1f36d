package store

import (
	"encoding/json"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Row types mirror the invoicing backend's tables. Conversions to and from
// the domain shapes live next to them so no gorm tag ever leaks upward.

type bankAccountRow struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	CompanyID      string          `gorm:"type:uuid;index:idx_company_account,unique"`
	AccountNumber  string          `gorm:"index:idx_company_account,unique"`
	IBAN           string
	BIC            string
	Currency       string
	BankCode       string
	BankName       string
	CurrentBalance decimal.Decimal `gorm:"type:numeric(18,2)"`
	IsPrimary      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (bankAccountRow) TableName() string { return "bank_accounts" }

func (r *bankAccountRow) toDomain() domain.BankAccount {
	return domain.BankAccount{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		AccountNumber:  r.AccountNumber,
		IBAN:           r.IBAN,
		BIC:            r.BIC,
		Currency:       r.Currency,
		BankCode:       r.BankCode,
		BankName:       r.BankName,
		CurrentBalance: r.CurrentBalance,
		IsPrimary:      r.IsPrimary,
		CreatedAt:      r.CreatedAt,
	}
}

func accountRowFrom(a *domain.BankAccount) bankAccountRow {
	return bankAccountRow{
		ID:             a.ID,
		CompanyID:      a.CompanyID,
		AccountNumber:  a.AccountNumber,
		IBAN:           a.IBAN,
		BIC:            a.BIC,
		Currency:       a.Currency,
		BankCode:       a.BankCode,
		BankName:       a.BankName,
		CurrentBalance: a.CurrentBalance,
		IsPrimary:      a.IsPrimary,
		CreatedAt:      a.CreatedAt,
	}
}

type bankTransactionRow struct {
	ID                string          `gorm:"type:uuid;primaryKey"`
	CompanyID         string          `gorm:"type:uuid;index"`
	BankAccountID     string          `gorm:"type:uuid;index:idx_account_reference,unique"`
	ExternalReference string          `gorm:"index:idx_account_reference,unique"`
	Amount            decimal.Decimal `gorm:"type:numeric(18,2)"`
	Currency          string
	BookingDate       time.Time
	ValueDate         time.Time
	Description       string
	RemittanceInfo    string
	DebtorName        string
	DebtorIBAN        string
	CreditorName      string
	CreditorIBAN      string
	MatchState        string `gorm:"index"`
	MatchedInvoiceID  *string `gorm:"type:uuid"`
	MatchedPaymentID  *string `gorm:"type:uuid"`
	MatchedAt         *time.Time
	MatchConfidence   float64
	ScoreDetail       datatypes.JSON
	CreatedAt         time.Time
}

func (bankTransactionRow) TableName() string { return "bank_transactions" }

func (r *bankTransactionRow) toDomain() domain.BankTransaction {
	tx := domain.BankTransaction{
		ID:                r.ID,
		CompanyID:         r.CompanyID,
		BankAccountID:     r.BankAccountID,
		ExternalReference: r.ExternalReference,
		Amount:            r.Amount,
		Currency:          r.Currency,
		BookingDate:       r.BookingDate,
		ValueDate:         r.ValueDate,
		Description:       r.Description,
		RemittanceInfo:    r.RemittanceInfo,
		DebtorName:        r.DebtorName,
		DebtorIBAN:        r.DebtorIBAN,
		CreditorName:      r.CreditorName,
		CreditorIBAN:      r.CreditorIBAN,
		MatchState:        domain.MatchState(r.MatchState),
		MatchedInvoiceID:  r.MatchedInvoiceID,
		MatchedPaymentID:  r.MatchedPaymentID,
		MatchedAt:         r.MatchedAt,
		MatchConfidence:   r.MatchConfidence,
		CreatedAt:         r.CreatedAt,
	}
	if len(r.ScoreDetail) > 0 {
		var detail domain.ScoreBreakdown
		if err := json.Unmarshal(r.ScoreDetail, &detail); err == nil {
			tx.ScoreDetail = &detail
		}
	}
	return tx
}

func transactionRowFrom(t *domain.BankTransaction) bankTransactionRow {
	row := bankTransactionRow{
		ID:                t.ID,
		CompanyID:         t.CompanyID,
		BankAccountID:     t.BankAccountID,
		ExternalReference: t.ExternalReference,
		Amount:            t.Amount,
		Currency:          t.Currency,
		BookingDate:       t.BookingDate,
		ValueDate:         t.ValueDate,
		Description:       t.Description,
		RemittanceInfo:    t.RemittanceInfo,
		DebtorName:        t.DebtorName,
		DebtorIBAN:        t.DebtorIBAN,
		CreditorName:      t.CreditorName,
		CreditorIBAN:      t.CreditorIBAN,
		MatchState:        string(t.MatchState),
		MatchedInvoiceID:  t.MatchedInvoiceID,
		MatchedPaymentID:  t.MatchedPaymentID,
		MatchedAt:         t.MatchedAt,
		MatchConfidence:   t.MatchConfidence,
		CreatedAt:         t.CreatedAt,
	}
	if t.ScoreDetail != nil {
		if raw, err := json.Marshal(t.ScoreDetail); err == nil {
			row.ScoreDetail = datatypes.JSON(raw)
		}
	}
	return row
}

type invoiceRow struct {
	ID            string          `gorm:"type:uuid;primaryKey"`
	CompanyID     string          `gorm:"type:uuid;index"`
	InvoiceNumber string          `gorm:"index"`
	CustomerName  string
	Status        string          `gorm:"index"`
	Total         decimal.Decimal `gorm:"type:numeric(18,2)"`
	DueAmount     decimal.Decimal `gorm:"type:numeric(18,2)"`
	DueDate       time.Time       `gorm:"index"`
	Currency      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (invoiceRow) TableName() string { return "invoices" }

func (r *invoiceRow) toDomain() domain.Invoice {
	return domain.Invoice{
		ID:            r.ID,
		CompanyID:     r.CompanyID,
		InvoiceNumber: r.InvoiceNumber,
		CustomerName:  r.CustomerName,
		Status:        domain.InvoiceStatus(r.Status),
		Total:         r.Total,
		DueAmount:     r.DueAmount,
		DueDate:       r.DueDate,
		Currency:      r.Currency,
		CreatedAt:     r.CreatedAt,
	}
}

type paymentRow struct {
	ID             string          `gorm:"type:uuid;primaryKey"`
	CompanyID      string          `gorm:"type:uuid;index"`
	InvoiceID      string          `gorm:"type:uuid;index"`
	PaymentNumber  string          `gorm:"uniqueIndex"`
	Amount         decimal.Decimal `gorm:"type:numeric(18,2)"`
	Currency       string
	PaymentMethod  string
	Reference      string
	ExchangeRate   *decimal.Decimal `gorm:"type:numeric(18,6)"`
	OriginalAmount *decimal.Decimal `gorm:"type:numeric(18,2)"`
	PaymentDate    time.Time
	CreatedAt      time.Time
}

func (paymentRow) TableName() string { return "payments" }

func (r *paymentRow) toDomain() domain.Payment {
	return domain.Payment{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		InvoiceID:      r.InvoiceID,
		PaymentNumber:  r.PaymentNumber,
		Amount:         r.Amount,
		Currency:       r.Currency,
		PaymentMethod:  r.PaymentMethod,
		Reference:      r.Reference,
		ExchangeRate:   r.ExchangeRate,
		OriginalAmount: r.OriginalAmount,
		PaymentDate:    r.PaymentDate,
		CreatedAt:      r.CreatedAt,
	}
}

func paymentRowFrom(p *domain.Payment) paymentRow {
	return paymentRow{
		ID:             p.ID,
		CompanyID:      p.CompanyID,
		InvoiceID:      p.InvoiceID,
		PaymentNumber:  p.PaymentNumber,
		Amount:         p.Amount,
		Currency:       p.Currency,
		PaymentMethod:  p.PaymentMethod,
		Reference:      p.Reference,
		ExchangeRate:   p.ExchangeRate,
		OriginalAmount: p.OriginalAmount,
		PaymentDate:    p.PaymentDate,
		CreatedAt:      p.CreatedAt,
	}
}

type bankConnectionRow struct {
	ID          string    `gorm:"type:uuid;primaryKey"`
	CompanyID   string    `gorm:"type:uuid;index:idx_bank_company,unique"`
	BankCode    string    `gorm:"index:idx_bank_company,unique"`
	AccessToken string
	ConsentID   string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

func (bankConnectionRow) TableName() string { return "bank_connections" }

func (r *bankConnectionRow) toDomain() domain.BankConnection {
	return domain.BankConnection{
		ID:          r.ID,
		CompanyID:   r.CompanyID,
		BankCode:    r.BankCode,
		AccessToken: r.AccessToken,
		ConsentID:   r.ConsentID,
		ExpiresAt:   r.ExpiresAt,
	}
}

// paymentCounterRow backs the per-company sequential payment numbers.
type paymentCounterRow struct {
	CompanyID string `gorm:"type:uuid;primaryKey"`
	NextSeq   int64
}

func (paymentCounterRow) TableName() string { return "payment_counters" }
