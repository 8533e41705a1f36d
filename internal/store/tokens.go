package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"gorm.io/gorm"
)

// TokenStore implements port.TokenStore over the stored bank connections.
type TokenStore struct {
	db *gorm.DB
}

func (s *TokenStore) GetConnection(ctx context.Context, bankCode, companyID string) (*domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "TokenStore.GetConnection")
	defer span.End()

	var row bankConnectionRow
	err := s.db.WithContext(ctx).
		Where("bank_code = ? AND company_id = ?", bankCode, companyID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.ErrNotFound{Resource: "bank connection", ID: fmt.Sprintf("%s/%s", bankCode, companyID)}
	}
	if err != nil {
		return nil, err
	}
	conn := row.toDomain()
	return &conn, nil
}

func (s *TokenStore) ListConnections(ctx context.Context) ([]domain.BankConnection, error) {
	ctx, span := tracer.Start(ctx, "TokenStore.ListConnections")
	defer span.End()

	var rows []bankConnectionRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, err
	}

	conns := make([]domain.BankConnection, 0, len(rows))
	for i := range rows {
		conns = append(conns, rows[i].toDomain())
	}
	return conns, nil
}
