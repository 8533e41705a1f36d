package store

import (
	"context"
	"errors"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoiceStore implements port.InvoiceStore against the invoicing
// collaborator's table.
type InvoiceStore struct {
	db *gorm.DB
}

func (s *InvoiceStore) ListOpenInWindow(ctx context.Context, companyID string, ref time.Time, window time.Duration) ([]domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceStore.ListOpenInWindow")
	defer span.End()

	from := ref.Add(-window)
	to := ref.Add(window)

	var rows []invoiceRow
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Where("status IN ?", []string{string(domain.InvoiceSent), string(domain.InvoicePartiallyPaid)}).
		Where("due_date BETWEEN ? AND ?", from, to).
		Order("due_date asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	for i := range rows {
		invoices = append(invoices, rows[i].toDomain())
	}
	return invoices, nil
}

// GetForUpdate loads an invoice under a row lock. Only meaningful inside a
// transaction; the lock holds until that transaction ends.
func (s *InvoiceStore) GetForUpdate(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	ctx, span := tracer.Start(ctx, "InvoiceStore.GetForUpdate")
	defer span.End()

	row, err := invoiceForUpdate(s.db.WithContext(ctx), invoiceID)
	if err != nil {
		return nil, err
	}
	invoice := row.toDomain()
	return &invoice, nil
}

func invoiceForUpdate(db *gorm.DB, invoiceID string) (*invoiceRow, error) {
	var row invoiceRow
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", invoiceID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "invoice", ID: invoiceID}
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// ApplyPayment decrements the outstanding amount and derives the status:
// PAID when nothing remains, PARTIALLY_PAID otherwise.
func (s *InvoiceStore) ApplyPayment(ctx context.Context, invoiceID string, amount decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "InvoiceStore.ApplyPayment")
	defer span.End()

	row, err := invoiceForUpdate(s.db.WithContext(ctx), invoiceID)
	if err != nil {
		return err
	}
	return applyPayment(s.db.WithContext(ctx), row, amount)
}

func applyPayment(db *gorm.DB, inv *invoiceRow, amount decimal.Decimal) error {
	remaining := inv.DueAmount.Sub(amount)
	status := string(domain.InvoicePartiallyPaid)
	if remaining.IsZero() {
		status = string(domain.InvoicePaid)
	}
	return db.Model(&invoiceRow{}).
		Where("id = ?", inv.ID).
		Updates(map[string]any{
			"due_amount": remaining,
			"status":     status,
		}).Error
}
