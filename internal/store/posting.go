package store

import (
	"context"
	"fmt"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"gorm.io/gorm"
)

// PostMatch applies one matched transaction as a single database
// transaction: payment insert, invoice due-amount/status update, and the
// PENDING to MATCHED transition. Either everything commits or nothing does.
//
// The invoice row is re-read under FOR UPDATE so a concurrent run for the
// same company cannot drive due_amount below zero; if the invoice closed
// between scoring and posting, the whole post is rejected and the
// transaction stays PENDING.
func (s *Store) PostMatch(ctx context.Context, tx *domain.BankTransaction, invoiceID string, payment *domain.Payment) error {
	ctx, span := tracer.Start(ctx, "Store.PostMatch")
	defer span.End()

	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		invoices := &InvoiceStore{db: dbtx}
		payments := &PaymentStore{db: dbtx}
		transactions := &BankTransactionStore{db: dbtx}

		inv, err := invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.Open() || !inv.DueAmount.IsPositive() {
			return fmt.Errorf("invoice %s no longer open for payment", invoiceID)
		}

		// A concurrent run may have shrunk the outstanding amount since
		// scoring; never pay more than what is still due.
		if payment.Amount.GreaterThan(inv.DueAmount) {
			payment.Amount = inv.DueAmount
		}

		if err := payments.Create(ctx, payment); err != nil {
			return err
		}
		if err := invoices.ApplyPayment(ctx, invoiceID, payment.Amount); err != nil {
			return err
		}
		return transactions.MarkMatched(ctx, tx, invoiceID, payment.ID)
	})
	if err != nil {
		return &domain.ErrPersistence{Op: "post match", Err: err}
	}
	return nil
}
