package sync_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/observability"
	syncpkg "github.com/bloodyteeths/mkfakturi-sub000/internal/sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// --- Mocks ---

type mockGateway struct {
	code         string
	accounts     []domain.GatewayAccount
	accountsErr  error
	transactions map[string][]domain.GatewayTransaction
	txErr        error
}

func (m *mockGateway) BankCode() string { return m.code }

func (m *mockGateway) Authenticate(_ context.Context) domain.AuthResult {
	return domain.AuthResult{Success: true, AccessToken: "token"}
}

func (m *mockGateway) GetAccountDetails(_ context.Context, _ string) ([]domain.GatewayAccount, error) {
	return m.accounts, m.accountsErr
}

func (m *mockGateway) GetTransactions(_ context.Context, _, accountNumber string, _, _ time.Time) ([]domain.GatewayTransaction, error) {
	if m.txErr != nil {
		return nil, m.txErr
	}
	return m.transactions[accountNumber], nil
}

func (m *mockGateway) RequestConsent(_ context.Context, _ domain.ConsentRequest) (*domain.ConsentResponse, error) {
	return &domain.ConsentResponse{ConsentID: "consent-1"}, nil
}

func (m *mockGateway) InitiateSCA(_ context.Context, _ domain.SCARequest) (*domain.SCAResponse, error) {
	return &domain.SCAResponse{ChallengeID: "challenge-1"}, nil
}

type mockTokenStore struct {
	connections map[string]*domain.BankConnection // keyed bankCode+companyID
}

func (m *mockTokenStore) GetConnection(_ context.Context, bankCode, companyID string) (*domain.BankConnection, error) {
	conn, ok := m.connections[bankCode+"/"+companyID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "bank connection", ID: bankCode + "/" + companyID}
	}
	return conn, nil
}

func (m *mockTokenStore) ListConnections(_ context.Context) ([]domain.BankConnection, error) {
	var out []domain.BankConnection
	for _, c := range m.connections {
		out = append(out, *c)
	}
	return out, nil
}

type memAccountStore struct {
	accounts []*domain.BankAccount
	creates  int
	updates  int
}

func (m *memAccountStore) GetByNumber(_ context.Context, companyID, accountNumber string) (*domain.BankAccount, error) {
	for _, a := range m.accounts {
		if a.CompanyID == companyID && a.AccountNumber == accountNumber {
			copied := *a
			return &copied, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "bank account", ID: accountNumber}
}

func (m *memAccountStore) Create(_ context.Context, account *domain.BankAccount) error {
	m.creates++
	copied := *account
	m.accounts = append(m.accounts, &copied)
	return nil
}

func (m *memAccountStore) UpdateBalance(_ context.Context, accountID string, balance decimal.Decimal) error {
	m.updates++
	for _, a := range m.accounts {
		if a.ID == accountID {
			a.CurrentBalance = balance
			return nil
		}
	}
	return &domain.ErrNotFound{Resource: "bank account", ID: accountID}
}

func (m *memAccountStore) ListByCompany(_ context.Context, companyID string) ([]domain.BankAccount, error) {
	var out []domain.BankAccount
	for _, a := range m.accounts {
		if a.CompanyID == companyID {
			out = append(out, *a)
		}
	}
	return out, nil
}

type memTxStore struct {
	transactions []*domain.BankTransaction
}

func (m *memTxStore) ExistsByReference(_ context.Context, accountID, externalReference string) (bool, error) {
	for _, tx := range m.transactions {
		if tx.BankAccountID == accountID && tx.ExternalReference == externalReference {
			return true, nil
		}
	}
	return false, nil
}

func (m *memTxStore) Create(_ context.Context, tx *domain.BankTransaction) error {
	copied := *tx
	m.transactions = append(m.transactions, &copied)
	return nil
}

func (m *memTxStore) ListPending(_ context.Context, companyID string) ([]domain.BankTransaction, error) {
	var out []domain.BankTransaction
	for _, tx := range m.transactions {
		if tx.CompanyID == companyID && tx.MatchState == domain.MatchPending {
			out = append(out, *tx)
		}
	}
	return out, nil
}

func (m *memTxStore) CountByState(_ context.Context, companyID string) (int, int, error) {
	total, matched := 0, 0
	for _, tx := range m.transactions {
		if tx.CompanyID != companyID {
			continue
		}
		total++
		if tx.MatchState == domain.MatchMatched {
			matched++
		}
	}
	return total, matched, nil
}

// --- Helpers ---

func validConnection(bankCode string) *mockTokenStore {
	return &mockTokenStore{connections: map[string]*domain.BankConnection{
		bankCode + "/co-1": {
			ID:          "conn-1",
			CompanyID:   "co-1",
			BankCode:    bankCode,
			AccessToken: "token",
			ExpiresAt:   time.Now().Add(time.Hour),
		},
	}}
}

func gatewayTx(uid string, amount int64, createdAt time.Time) domain.GatewayTransaction {
	return domain.GatewayTransaction{
		ExternalUID:   uid,
		Amount:        decimal.NewFromInt(amount),
		Currency:      "MKD",
		Description:   "uplata " + uid,
		CreatedAt:     createdAt,
		BookingStatus: "booked",
		DebtorName:    "Granit AD Skopje",
	}
}

func newOrchestrator(gw *mockGateway, tokens *mockTokenStore, accounts *memAccountStore, txs *memTxStore) *syncpkg.Orchestrator {
	return syncpkg.NewOrchestrator(
		syncpkg.Config{LookbackDays: 30},
		gw,
		"Komercijalna Banka",
		tokens,
		accounts,
		txs,
		observability.NewMetrics(),
		zap.NewNop(),
	)
}

// --- Tests ---

func TestRun_IngestsNewTransactions(t *testing.T) {
	now := time.Now()
	gw := &mockGateway{
		code: "komercijalna",
		accounts: []domain.GatewayAccount{
			{AccountNumber: "300000001234567", IBAN: "MK07300000001234567", Currency: "MKD", Balance: decimal.NewFromInt(125000)},
		},
		transactions: map[string][]domain.GatewayTransaction{
			"300000001234567": {
				gatewayTx("KB-001", 30000, now.AddDate(0, 0, -1)),
				gatewayTx("KB-002", -1500, now.AddDate(0, 0, -2)),
			},
		},
	}

	accounts := &memAccountStore{}
	txs := &memTxStore{}
	orch := newOrchestrator(gw, validConnection("komercijalna"), accounts, txs)

	summary, err := orch.Run(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if summary.AccountsSeen != 1 {
		t.Errorf("expected 1 account, got %d", summary.AccountsSeen)
	}
	if summary.Ingested != 2 {
		t.Errorf("expected 2 ingested, got %d", summary.Ingested)
	}
	if len(txs.transactions) != 2 {
		t.Fatalf("expected 2 stored transactions, got %d", len(txs.transactions))
	}
	for _, tx := range txs.transactions {
		if tx.MatchState != domain.MatchPending {
			t.Errorf("expected PENDING state, got %s", tx.MatchState)
		}
		if tx.CompanyID != "co-1" {
			t.Errorf("expected company co-1, got %s", tx.CompanyID)
		}
	}
}

func TestRun_Idempotent(t *testing.T) {
	now := time.Now()
	gw := &mockGateway{
		code: "komercijalna",
		accounts: []domain.GatewayAccount{
			{AccountNumber: "300000001234567", Currency: "MKD", Balance: decimal.NewFromInt(125000)},
		},
		transactions: map[string][]domain.GatewayTransaction{
			"300000001234567": {
				gatewayTx("KB-001", 30000, now.AddDate(0, 0, -1)),
				gatewayTx("KB-002", 4500, now.AddDate(0, 0, -3)),
			},
		},
	}

	accounts := &memAccountStore{}
	txs := &memTxStore{}
	orch := newOrchestrator(gw, validConnection("komercijalna"), accounts, txs)

	if _, err := orch.Run(context.Background(), "co-1"); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := orch.Run(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if second.Ingested != 0 {
		t.Errorf("expected 0 ingested on re-run, got %d", second.Ingested)
	}
	if second.Deduped != 2 {
		t.Errorf("expected 2 deduped on re-run, got %d", second.Deduped)
	}
	if len(txs.transactions) != 2 {
		t.Errorf("expected no duplicate transactions, got %d", len(txs.transactions))
	}
	if accounts.creates != 1 {
		t.Errorf("expected the account created once, got %d creates", accounts.creates)
	}
	if accounts.updates != 1 {
		t.Errorf("expected one balance refresh on re-run, got %d updates", accounts.updates)
	}
}

func TestRun_NoConnectionIsFatal(t *testing.T) {
	gw := &mockGateway{code: "komercijalna"}
	orch := newOrchestrator(gw, &mockTokenStore{connections: map[string]*domain.BankConnection{}}, &memAccountStore{}, &memTxStore{})

	_, err := orch.Run(context.Background(), "co-1")

	var authErr *domain.ErrAuth
	if !errors.As(err, &authErr) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if authErr.Code != domain.CodeNoConnection {
		t.Errorf("expected NO_CONNECTION, got %s", authErr.Code)
	}
}

func TestRun_ExpiredTokenIsFatal(t *testing.T) {
	tokens := &mockTokenStore{connections: map[string]*domain.BankConnection{
		"komercijalna/co-1": {
			CompanyID:   "co-1",
			BankCode:    "komercijalna",
			AccessToken: "stale",
			ExpiresAt:   time.Now().Add(-time.Hour),
		},
	}}
	gw := &mockGateway{code: "komercijalna"}
	orch := newOrchestrator(gw, tokens, &memAccountStore{}, &memTxStore{})

	_, err := orch.Run(context.Background(), "co-1")

	var authErr *domain.ErrAuth
	if !errors.As(err, &authErr) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
	if authErr.Code != domain.CodeTokenExpired {
		t.Errorf("expected TOKEN_EXPIRED, got %s", authErr.Code)
	}
}

func TestRun_CutoffFiltersOldTransactions(t *testing.T) {
	now := time.Now()
	gw := &mockGateway{
		code: "komercijalna",
		accounts: []domain.GatewayAccount{
			{AccountNumber: "300000001234567", Currency: "MKD"},
		},
		transactions: map[string][]domain.GatewayTransaction{
			"300000001234567": {
				gatewayTx("KB-001", 30000, now.AddDate(0, 0, -5)),
				gatewayTx("KB-OLD", 9000, now.AddDate(0, 0, -45)),
			},
		},
	}

	txs := &memTxStore{}
	orch := newOrchestrator(gw, validConnection("komercijalna"), &memAccountStore{}, txs)

	summary, err := orch.Run(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if summary.Ingested != 1 {
		t.Errorf("expected 1 ingested, got %d", summary.Ingested)
	}
	if summary.SkippedOld != 1 {
		t.Errorf("expected 1 skipped as too old, got %d", summary.SkippedOld)
	}
	if len(txs.transactions) != 1 {
		t.Fatalf("expected 1 stored transaction, got %d", len(txs.transactions))
	}
	if txs.transactions[0].ExternalReference != "KB-001" {
		t.Errorf("expected KB-001 stored, got %s", txs.transactions[0].ExternalReference)
	}
}

func TestRun_GatewayFailureAbortsRun(t *testing.T) {
	gw := &mockGateway{
		code: "komercijalna",
		accounts: []domain.GatewayAccount{
			{AccountNumber: "300000001234567", Currency: "MKD"},
		},
		txErr: &domain.ErrTransport{Code: domain.CodeServiceUnavailable, BankCode: "komercijalna", Status: 503},
	}

	txs := &memTxStore{}
	orch := newOrchestrator(gw, validConnection("komercijalna"), &memAccountStore{}, txs)

	summary, err := orch.Run(context.Background(), "co-1")
	if err == nil {
		t.Fatal("expected transport error to abort the run")
	}
	if summary == nil {
		t.Fatal("expected partial summary on mid-run failure")
	}
	if summary.AccountsSeen != 1 {
		t.Errorf("expected the account upsert to have happened, got %d", summary.AccountsSeen)
	}
}

func TestRun_LargeBatch(t *testing.T) {
	now := time.Now()
	var batch []domain.GatewayTransaction
	for i := 1; i <= 25; i++ {
		batch = append(batch, gatewayTx(fmt.Sprintf("KB-%03d", i), int64(1000*i), now.AddDate(0, 0, -i%20)))
	}

	gw := &mockGateway{
		code: "komercijalna",
		accounts: []domain.GatewayAccount{
			{AccountNumber: "300000001234567", Currency: "MKD"},
		},
		transactions: map[string][]domain.GatewayTransaction{"300000001234567": batch},
	}

	txs := &memTxStore{}
	orch := newOrchestrator(gw, validConnection("komercijalna"), &memAccountStore{}, txs)

	summary, err := orch.Run(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if summary.Ingested != 25 {
		t.Errorf("expected 25 ingested, got %d", summary.Ingested)
	}

	seen := make(map[string]bool)
	for _, tx := range txs.transactions {
		if seen[tx.ExternalReference] {
			t.Errorf("duplicate reference %s", tx.ExternalReference)
		}
		seen[tx.ExternalReference] = true
	}
}

func TestRun_PacesBetweenAccounts(t *testing.T) {
	now := time.Now()
	gw := &mockGateway{
		code: "komercijalna",
		accounts: []domain.GatewayAccount{
			{AccountNumber: "300000001234567", Currency: "MKD", Balance: decimal.NewFromInt(1000)},
			{AccountNumber: "300000007654321", Currency: "MKD", Balance: decimal.NewFromInt(2000)},
			{AccountNumber: "300000009999999", Currency: "MKD", Balance: decimal.NewFromInt(3000)},
		},
		transactions: map[string][]domain.GatewayTransaction{
			"300000001234567": {gatewayTx("KB-101", 500, now.AddDate(0, 0, -1))},
		},
	}

	orch := syncpkg.NewOrchestrator(
		syncpkg.Config{LookbackDays: 30, AccountDelay: 250 * time.Millisecond},
		gw,
		"Komercijalna Banka",
		validConnection("komercijalna"),
		&memAccountStore{},
		&memTxStore{},
		observability.NewMetrics(),
		zap.NewNop(),
	)

	var delays []time.Duration
	orch.SetSleep(func(_ context.Context, d time.Duration) {
		delays = append(delays, d)
	})

	summary, err := orch.Run(context.Background(), "co-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if summary.AccountsSeen != 3 {
		t.Fatalf("expected 3 accounts, got %d", summary.AccountsSeen)
	}

	// One pause before each account after the first, never before the first.
	if len(delays) != 2 {
		t.Fatalf("expected 2 pauses, got %d", len(delays))
	}
	for _, d := range delays {
		if d != 250*time.Millisecond {
			t.Errorf("expected 250ms pause, got %v", d)
		}
	}
}

func TestNewOrchestrator_DefaultsAccountDelay(t *testing.T) {
	gw := &mockGateway{code: "komercijalna"}
	orch := newOrchestrator(gw, validConnection("komercijalna"), &memAccountStore{}, &memTxStore{})

	if orch.AccountDelay() != 4*time.Second {
		t.Errorf("expected 4s default account delay, got %v", orch.AccountDelay())
	}
}
