package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentStore implements port.PaymentStore. Payment numbers are sequential
// per company ("PAY-000001"), allocated from a counter row under lock.
type PaymentStore struct {
	db *gorm.DB
}

func (s *PaymentStore) Create(ctx context.Context, payment *domain.Payment) error {
	ctx, span := tracer.Start(ctx, "PaymentStore.Create")
	defer span.End()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		number, err := nextPaymentNumber(tx, payment.CompanyID)
		if err != nil {
			return err
		}
		payment.PaymentNumber = number

		row := paymentRowFrom(payment)
		return tx.Create(&row).Error
	})
}

func (s *PaymentStore) ListByInvoice(ctx context.Context, invoiceID string) ([]domain.Payment, error) {
	ctx, span := tracer.Start(ctx, "PaymentStore.ListByInvoice")
	defer span.End()

	var rows []paymentRow
	err := s.db.WithContext(ctx).
		Where("invoice_id = ?", invoiceID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	payments := make([]domain.Payment, 0, len(rows))
	for i := range rows {
		payments = append(payments, rows[i].toDomain())
	}
	return payments, nil
}

// nextPaymentNumber allocates the next sequential number for a company.
// The counter row is locked so concurrent runs cannot hand out duplicates.
func nextPaymentNumber(tx *gorm.DB, companyID string) (string, error) {
	var counter paymentCounterRow
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("company_id = ?", companyID).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		counter = paymentCounterRow{CompanyID: companyID, NextSeq: 1}
		if err := tx.Create(&counter).Error; err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	seq := counter.NextSeq
	if err := tx.Model(&paymentCounterRow{}).
		Where("company_id = ?", companyID).
		Update("next_seq", seq+1).Error; err != nil {
		return "", err
	}

	return fmt.Sprintf("PAY-%06d", seq), nil
}
