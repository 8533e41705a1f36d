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

// BankCodeKomercijalna is the registry key for Komercijalna Banka AD Skopje.
const BankCodeKomercijalna = "komercijalna"

// KomercijalnaRefPrefix tags external transaction UIDs from this bank.
const KomercijalnaRefPrefix = "KB-"

// KomercijalnaEndpoints is the sandbox/production pair for Komercijalna's
// Berlin-Group-style XS2A interface.
var KomercijalnaEndpoints = Endpoints{
	SandboxTokenURL:    "https://sso-sandbox.kb.mk/oauth2/token",
	SandboxAPIURL:      "https://xs2a-sandbox.kb.mk",
	ProductionTokenURL: "https://sso.kb.mk/oauth2/token",
	ProductionAPIURL:   "https://xs2a.kb.mk",
}

// Komercijalna adapts Komercijalna Banka's XS2A API. Amounts arrive as
// strings inside amount/currency sub-objects; pagination follows the
// `_links.next` convention.
type Komercijalna struct {
	*baseClient
}

// NewKomercijalna creates the Komercijalna adapter.
func NewKomercijalna(httpClient *http.Client, opts Options, cb *gobreaker.CircuitBreaker, rcfg resilience.Config, logger *zap.Logger) *Komercijalna {
	return &Komercijalna{
		baseClient: newBaseClient(httpClient, BankCodeKomercijalna, KomercijalnaEndpoints, opts, cb, rcfg, logger),
	}
}

func (k *Komercijalna) BankCode() string { return BankCodeKomercijalna }

func (k *Komercijalna) Authenticate(ctx context.Context) domain.AuthResult {
	return k.authenticate(ctx)
}

func (k *Komercijalna) RequestConsent(ctx context.Context, req domain.ConsentRequest) (*domain.ConsentResponse, error) {
	return k.requestConsent(ctx, req)
}

func (k *Komercijalna) InitiateSCA(ctx context.Context, req domain.SCARequest) (*domain.SCAResponse, error) {
	return k.initiateSCA(ctx, req)
}

// --- wire types ---

type kbAmount struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type kbAccount struct {
	ResourceID string `json:"resourceId"`
	IBAN       string `json:"iban"`
	BIC        string `json:"bic"`
	Currency   string `json:"currency"`
	Name       string `json:"name"`
	Balances   []struct {
		BalanceType   string   `json:"balanceType"`
		BalanceAmount kbAmount `json:"balanceAmount"`
	} `json:"balances"`
}

type kbTransaction struct {
	TransactionID     string   `json:"transactionId"`
	EndToEndID        string   `json:"endToEndId"`
	BookingDate       string   `json:"bookingDate"`
	TransactionAmount kbAmount `json:"transactionAmount"`
	DebtorName        string   `json:"debtorName"`
	DebtorAccount     struct {
		IBAN string `json:"iban"`
	} `json:"debtorAccount"`
	CreditorName    string `json:"creditorName"`
	CreditorAccount struct {
		IBAN string `json:"iban"`
	} `json:"creditorAccount"`
	RemittanceInformationUnstructured string `json:"remittanceInformationUnstructured"`
}

func (k *Komercijalna) GetAccountDetails(ctx context.Context, accessToken string) ([]domain.GatewayAccount, error) {
	ctx, span := tracer.Start(ctx, "Komercijalna.GetAccountDetails")
	defer span.End()

	var resp struct {
		Accounts []kbAccount `json:"accounts"`
	}
	if err := k.getJSON(ctx, accessToken, "/v1/accounts?withBalance=true", &resp); err != nil {
		return nil, err
	}

	accounts := make([]domain.GatewayAccount, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		balance := decimal.Zero
		for _, b := range a.Balances {
			if b.BalanceType != "closingBooked" {
				continue
			}
			parsed, err := decimal.NewFromString(b.BalanceAmount.Amount)
			if err != nil {
				return nil, &domain.ErrValidation{Field: "balanceAmount", Message: err.Error()}
			}
			balance = parsed
		}

		accounts = append(accounts, domain.GatewayAccount{
			AccountNumber: a.ResourceID,
			IBAN:          a.IBAN,
			Currency:      a.Currency,
			BIC:           a.BIC,
			Balance:       balance,
			Name:          a.Name,
		})
	}
	return accounts, nil
}

func (k *Komercijalna) GetTransactions(ctx context.Context, accessToken, accountNumber string, dateFrom, dateTo time.Time) ([]domain.GatewayTransaction, error) {
	ctx, span := tracer.Start(ctx, "Komercijalna.GetTransactions")
	defer span.End()
	span.SetAttributes(attribute.String("account", accountNumber))

	path := fmt.Sprintf("/v1/accounts/%s/transactions?bookingStatus=booked&dateFrom=%s&dateTo=%s",
		accountNumber, dateParam(dateFrom), dateParam(dateTo))

	var out []domain.GatewayTransaction
	for path != "" {
		var resp struct {
			Transactions struct {
				Booked []kbTransaction `json:"booked"`
				Links  struct {
					Next struct {
						Href string `json:"href"`
					} `json:"next"`
				} `json:"_links"`
			} `json:"transactions"`
		}
		if err := k.getJSON(ctx, accessToken, path, &resp); err != nil {
			return nil, err
		}

		for _, t := range resp.Transactions.Booked {
			normalized, err := k.normalize(t)
			if err != nil {
				return nil, err
			}
			out = append(out, normalized)
		}

		path = resp.Transactions.Links.Next.Href
		if path != "" {
			// next hrefs are absolute on this API
			path = strings.TrimPrefix(path, k.apiURL)
			k.pace(ctx)
		}
	}
	return out, nil
}

func (k *Komercijalna) normalize(t kbTransaction) (domain.GatewayTransaction, error) {
	amount, err := decimal.NewFromString(t.TransactionAmount.Amount)
	if err != nil {
		return domain.GatewayTransaction{}, &domain.ErrValidation{Field: "transactionAmount", Message: err.Error()}
	}
	bookingDate, err := time.Parse("2006-01-02", t.BookingDate)
	if err != nil {
		return domain.GatewayTransaction{}, &domain.ErrValidation{Field: "bookingDate", Message: err.Error()}
	}

	// Counterparty IBAN: debtor side for credits, creditor side for debits.
	iban := t.DebtorAccount.IBAN
	if amount.IsNegative() {
		iban = t.CreditorAccount.IBAN
	}

	return domain.GatewayTransaction{
		ExternalUID:    KomercijalnaRefPrefix + t.TransactionID,
		TransactionUID: t.EndToEndID,
		Amount:         amount,
		Currency:       t.TransactionAmount.Currency,
		Description:    t.RemittanceInformationUnstructured,
		CreatedAt:      bookingDate,
		BookingStatus:  "booked",
		DebtorName:     t.DebtorName,
		CreditorName:   t.CreditorName,
		IBAN:           iban,
		RemittanceInfo: t.RemittanceInformationUnstructured,
	}, nil
}
