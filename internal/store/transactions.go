package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"gorm.io/gorm"
)

// BankTransactionStore implements port.BankTransactionStore.
type BankTransactionStore struct {
	db *gorm.DB
}

func (s *BankTransactionStore) ExistsByReference(ctx context.Context, accountID, externalReference string) (bool, error) {
	ctx, span := tracer.Start(ctx, "BankTransactionStore.ExistsByReference")
	defer span.End()

	var count int64
	err := s.db.WithContext(ctx).
		Model(&bankTransactionRow{}).
		Where("bank_account_id = ? AND external_reference = ?", accountID, externalReference).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *BankTransactionStore) Create(ctx context.Context, tx *domain.BankTransaction) error {
	ctx, span := tracer.Start(ctx, "BankTransactionStore.Create")
	defer span.End()

	row := transactionRowFrom(tx)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *BankTransactionStore) ListPending(ctx context.Context, companyID string) ([]domain.BankTransaction, error) {
	ctx, span := tracer.Start(ctx, "BankTransactionStore.ListPending")
	defer span.End()

	var rows []bankTransactionRow
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND match_state = ?", companyID, string(domain.MatchPending)).
		Order("booking_date asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	txs := make([]domain.BankTransaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, rows[i].toDomain())
	}
	return txs, nil
}

// MarkMatched performs the single PENDING to MATCHED transition, recording
// the matched invoice, payment and score fields. The state guard in the
// WHERE clause makes a second attempt a no-op error instead of a rewrite.
func (s *BankTransactionStore) MarkMatched(ctx context.Context, tx *domain.BankTransaction, invoiceID, paymentID string) error {
	ctx, span := tracer.Start(ctx, "BankTransactionStore.MarkMatched")
	defer span.End()

	return markMatched(s.db.WithContext(ctx), tx, invoiceID, paymentID)
}

func markMatched(db *gorm.DB, tx *domain.BankTransaction, invoiceID, paymentID string) error {
	row := transactionRowFrom(tx)
	res := db.Model(&bankTransactionRow{}).
		Where("id = ? AND match_state = ?", tx.ID, string(domain.MatchPending)).
		Updates(map[string]any{
			"match_state":        string(domain.MatchMatched),
			"matched_invoice_id": invoiceID,
			"matched_payment_id": paymentID,
			"matched_at":         time.Now().UTC(),
			"match_confidence":   row.MatchConfidence,
			"score_detail":       row.ScoreDetail,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("transaction %s is not pending", tx.ID)
	}
	return nil
}

func (s *BankTransactionStore) CountByState(ctx context.Context, companyID string) (total, matched int, err error) {
	ctx, span := tracer.Start(ctx, "BankTransactionStore.CountByState")
	defer span.End()

	var totalCount, matchedCount int64
	if err = s.db.WithContext(ctx).
		Model(&bankTransactionRow{}).
		Where("company_id = ?", companyID).
		Count(&totalCount).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.WithContext(ctx).
		Model(&bankTransactionRow{}).
		Where("company_id = ? AND match_state = ?", companyID, string(domain.MatchMatched)).
		Count(&matchedCount).Error; err != nil {
		return 0, 0, err
	}
	return int(totalCount), int(matchedCount), nil
}
