// Package store implements the persistence ports on PostgreSQL via gorm.
// The schema itself is owned by the invoicing backend; this package only
// reads and writes the tables described by the persistence contract.
package store

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var tracer = otel.Tracer("store")

// Store bundles the port implementations over one gorm connection.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger

	Accounts     *BankAccountStore
	Transactions *BankTransactionStore
	Invoices     *InvoiceStore
	Payments     *PaymentStore
	Tokens       *TokenStore
}

// Open connects to PostgreSQL and wires up the sub-stores.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	s.Accounts = &BankAccountStore{db: db}
	s.Transactions = &BankTransactionStore{db: db}
	s.Invoices = &InvoiceStore{db: db}
	s.Payments = &PaymentStore{db: db}
	s.Tokens = &TokenStore{db: db}
	return s, nil
}

// Ping verifies the database connection; used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
