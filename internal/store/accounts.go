package store

import (
	"context"
	"errors"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// BankAccountStore implements port.BankAccountStore.
type BankAccountStore struct {
	db *gorm.DB
}

func (s *BankAccountStore) GetByNumber(ctx context.Context, companyID, accountNumber string) (*domain.BankAccount, error) {
	ctx, span := tracer.Start(ctx, "BankAccountStore.GetByNumber")
	defer span.End()

	var row bankAccountRow
	err := s.db.WithContext(ctx).
		Where("company_id = ? AND account_number = ?", companyID, accountNumber).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "bank account", ID: accountNumber}
	}
	if err != nil {
		return nil, err
	}
	account := row.toDomain()
	return &account, nil
}

func (s *BankAccountStore) Create(ctx context.Context, account *domain.BankAccount) error {
	ctx, span := tracer.Start(ctx, "BankAccountStore.Create")
	defer span.End()

	row := accountRowFrom(account)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *BankAccountStore) UpdateBalance(ctx context.Context, accountID string, balance decimal.Decimal) error {
	ctx, span := tracer.Start(ctx, "BankAccountStore.UpdateBalance")
	defer span.End()

	return s.db.WithContext(ctx).
		Model(&bankAccountRow{}).
		Where("id = ?", accountID).
		Update("current_balance", balance).Error
}

func (s *BankAccountStore) ListByCompany(ctx context.Context, companyID string) ([]domain.BankAccount, error) {
	ctx, span := tracer.Start(ctx, "BankAccountStore.ListByCompany")
	defer span.End()

	var rows []bankAccountRow
	err := s.db.WithContext(ctx).
		Where("company_id = ?", companyID).
		Order("created_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.BankAccount, 0, len(rows))
	for i := range rows {
		accounts = append(accounts, rows[i].toDomain())
	}
	return accounts, nil
}
