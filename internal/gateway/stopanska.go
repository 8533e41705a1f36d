package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BankCodeStopanska is the registry key for Stopanska Banka AD - Skopje.
const BankCodeStopanska = "stopanska"

// StopanskaRefPrefix tags external transaction UIDs from this bank.
const StopanskaRefPrefix = "STB-"

// StopanskaEndpoints is the sandbox/production pair for Stopanska's open
// banking API.
var StopanskaEndpoints = Endpoints{
	SandboxTokenURL:    "https://login-sandbox.stb.com.mk/connect/token",
	SandboxAPIURL:      "https://api-sandbox.stb.com.mk",
	ProductionTokenURL: "https://login.stb.com.mk/connect/token",
	ProductionAPIURL:   "https://api.stb.com.mk",
}

// Stopanska adapts Stopanska Banka's API. Amounts are flat signed floats,
// dates use the local dd.mm.yyyy layout, remittance lines arrive as an
// array, and transaction pages are numbered.
type Stopanska struct {
	*baseClient
}

// NewStopanska creates the Stopanska adapter.
func NewStopanska(httpClient *http.Client, opts Options, cb *gobreaker.CircuitBreaker, rcfg resilience.Config, logger *zap.Logger) *Stopanska {
	return &Stopanska{
		baseClient: newBaseClient(httpClient, BankCodeStopanska, StopanskaEndpoints, opts, cb, rcfg, logger),
	}
}

func (s *Stopanska) BankCode() string { return BankCodeStopanska }

func (s *Stopanska) Authenticate(ctx context.Context) domain.AuthResult {
	return s.authenticate(ctx)
}

func (s *Stopanska) RequestConsent(ctx context.Context, req domain.ConsentRequest) (*domain.ConsentResponse, error) {
	return s.requestConsent(ctx, req)
}

func (s *Stopanska) InitiateSCA(ctx context.Context, req domain.SCARequest) (*domain.SCAResponse, error) {
	return s.initiateSCA(ctx, req)
}

// --- wire types ---

type stbAccount struct {
	AccountNumber string  `json:"account_number"`
	IBAN          string  `json:"iban"`
	Swift         string  `json:"swift"`
	Currency      string  `json:"currency"`
	Alias         string  `json:"alias"`
	Balance       float64 `json:"balance"`
}

type stbTransaction struct {
	ID           string   `json:"id"`
	Reference    string   `json:"reference"`
	Amount       float64  `json:"amount"` // signed
	Currency     string   `json:"currency"`
	Date         string   `json:"date"` // dd.mm.yyyy
	Description  string   `json:"description"`
	Details      []string `json:"details"`
	Status       string   `json:"status"`
	Counterparty struct {
		Name string `json:"name"`
		IBAN string `json:"iban"`
	} `json:"counterparty"`
}

func (s *Stopanska) GetAccountDetails(ctx context.Context, accessToken string) ([]domain.GatewayAccount, error) {
	ctx, span := tracer.Start(ctx, "Stopanska.GetAccountDetails")
	defer span.End()

	var resp struct {
		Accounts []stbAccount `json:"accounts"`
	}
	if err := s.getJSON(ctx, accessToken, "/api/v2/accounts", &resp); err != nil {
		return nil, err
	}

	accounts := make([]domain.GatewayAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, domain.GatewayAccount{
			AccountNumber: a.AccountNumber,
			IBAN:          a.IBAN,
			Currency:      a.Currency,
			BIC:           a.Swift,
			Balance:       decimal.NewFromFloat(a.Balance),
			Name:          a.Alias,
		})
	}
	return accounts, nil
}

func (s *Stopanska) GetTransactions(ctx context.Context, accessToken, accountNumber string, dateFrom, dateTo time.Time) ([]domain.GatewayTransaction, error) {
	ctx, span := tracer.Start(ctx, "Stopanska.GetTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account", accountNumber))

	var out []domain.GatewayTransaction
	for page := 1; ; page++ {
		path := fmt.Sprintf("/api/v2/accounts/%s/transactions?from=%s&to=%s&page=%d",
			accountNumber, dateParam(dateFrom), dateParam(dateTo), page)

		var resp struct {
			Items      []stbTransaction `json:"items"`
			Page       int              `json:"page"`
			TotalPages int              `json:"total_pages"`
		}
		if err := s.getJSON(ctx, accessToken, path, &resp); err != nil {
			return nil, err
		}

		for _, t := range resp.Items {
			normalized, err := s.normalize(t)
			if err != nil {
				return nil, err
			}
			out = append(out, normalized)
		}

		if page >= resp.TotalPages {
			break
		}
		s.pace(ctx)
	}
	return out, nil
}

func (s *Stopanska) normalize(t stbTransaction) (domain.GatewayTransaction, error) {
	bookingDate, err := time.Parse("02.01.2006", t.Date)
	if err != nil {
		return domain.GatewayTransaction{}, &domain.ErrValidation{Field: "date", Message: err.Error()}
	}

	amount := decimal.NewFromFloat(t.Amount)
	remittance := strings.Join(t.Details, " ")

	// Stopanska exposes a single counterparty block; map it onto the
	// debtor/creditor split by transaction direction.
	gt := domain.GatewayTransaction{
		ExternalUID:    StopanskaRefPrefix + t.ID,
		TransactionUID: t.Reference,
		Amount:         amount,
		Currency:       t.Currency,
		Description:    t.Description,
		CreatedAt:      bookingDate,
		BookingStatus:  strings.ToLower(t.Status),
		IBAN:           t.Counterparty.IBAN,
		RemittanceInfo: remittance,
	}
	if amount.IsNegative() {
		gt.CreditorName = t.Counterparty.Name
	} else {
		gt.DebtorName = t.Counterparty.Name
	}
	return gt, nil
}
