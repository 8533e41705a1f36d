package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/config"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/resilience"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{ClientID: "client-1", ClientSecret: "secret-1", Sandbox: true, RequestQuota: 15}
}

func testResilience() resilience.Config {
	return resilience.Config{MaxRetries: 0, InitialBackoff: time.Millisecond}
}

// pointAt rewires a client at an httptest server and disables pacing.
func pointAt(c *baseClient, server *httptest.Server) {
	c.tokenURL = server.URL + "/oauth2/token"
	c.apiURL = server.URL
	c.sleep = func(context.Context, time.Duration) {}
}

// --- Authentication ---

func TestAuthenticate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("bad form: %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("expected client_credentials grant, got %s", r.Form.Get("grant_type"))
		}
		if r.Form.Get("client_id") != "client-1" {
			t.Errorf("expected client-1, got %s", r.Form.Get("client_id"))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "sandbox-token",
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	defer server.Close()

	gw := NewKomercijalna(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
	pointAt(gw.baseClient, server)

	result := gw.Authenticate(context.Background())
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.AccessToken != "sandbox-token" {
		t.Errorf("expected sandbox-token, got %s", result.AccessToken)
	}
	if result.ExpiresIn != 3600 {
		t.Errorf("expected 3600s expiry, got %d", result.ExpiresIn)
	}
}

func TestAuthenticate_ErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		code   domain.ErrorCode
	}{
		{http.StatusUnauthorized, domain.CodeInvalidCredentials},
		{http.StatusRequestTimeout, domain.CodeTimeout},
		{http.StatusTooManyRequests, domain.CodeRateLimited},
		{http.StatusInternalServerError, domain.CodeServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			gw := NewStopanska(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
			pointAt(gw.baseClient, server)

			result := gw.Authenticate(context.Background())
			if result.Success {
				t.Fatal("expected failure")
			}
			if result.ErrorCode != tc.code {
				t.Errorf("expected %s, got %s", tc.code, result.ErrorCode)
			}
		})
	}
}

// --- Transport error mapping ---

func TestGetJSON_ErrorMapping(t *testing.T) {
	var status int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer server.Close()

	gw := NewNLB(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
	pointAt(gw.baseClient, server)

	status = http.StatusTooManyRequests
	_, err := gw.GetAccountDetails(context.Background(), "token")
	var rateErr *domain.ErrRateLimited
	if !errors.As(err, &rateErr) {
		t.Errorf("expected ErrRateLimited on 429, got %v", err)
	}

	status = http.StatusServiceUnavailable
	_, err = gw.GetAccountDetails(context.Background(), "token")
	var transportErr *domain.ErrTransport
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected ErrTransport on 503, got %v", err)
	}
	if transportErr.Code != domain.CodeServiceUnavailable {
		t.Errorf("expected SERVICE_UNAVAILABLE, got %s", transportErr.Code)
	}

	status = http.StatusUnauthorized
	_, err = gw.GetAccountDetails(context.Background(), "token")
	var authErr *domain.ErrAuth
	if !errors.As(err, &authErr) {
		t.Errorf("expected ErrAuth on 401, got %v", err)
	}
}

// --- Komercijalna ---

func kbTx(i int) map[string]any {
	return map[string]any{
		"transactionId": fmt.Sprintf("%08d", i),
		"endToEndId":    fmt.Sprintf("E2E-%d", i),
		"bookingDate":   "2026-03-16",
		"transactionAmount": map[string]string{
			"amount":   fmt.Sprintf("%d.50", 1000+i),
			"currency": "MKD",
		},
		"debtorName":                        "Granit AD Skopje",
		"debtorAccount":                     map[string]string{"iban": "MK07200002785123453"},
		"remittanceInformationUnstructured": fmt.Sprintf("Faktura INV-2026-%04d", i),
	}
}

func TestKomercijalna_GetTransactions_FollowsNextLinks(t *testing.T) {
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer token" {
			t.Errorf("expected bearer token, got %q", auth)
		}

		booked := make([]map[string]any, 0, 20)
		var next string
		switch r.URL.Query().Get("page") {
		case "2":
			for i := 21; i <= 25; i++ {
				booked = append(booked, kbTx(i))
			}
		default:
			for i := 1; i <= 20; i++ {
				booked = append(booked, kbTx(i))
			}
			next = server.URL + r.URL.Path + "?bookingStatus=booked&page=2"
		}

		json.NewEncoder(w).Encode(map[string]any{
			"transactions": map[string]any{
				"booked": booked,
				"_links": map[string]any{"next": map[string]string{"href": next}},
			},
		})
	}))
	defer server.Close()

	gw := NewKomercijalna(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
	pointAt(gw.baseClient, server)

	txs, err := gw.GetTransactions(context.Background(), "token", "acct-1",
		time.Date(2026, 2, 15, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(txs) != 25 {
		t.Fatalf("expected 25 transactions across pages, got %d", len(txs))
	}

	first := txs[0]
	if first.ExternalUID != "KB-00000001" {
		t.Errorf("expected KB-00000001, got %s", first.ExternalUID)
	}
	if !first.Amount.Equal(decimal.RequireFromString("1001.50")) {
		t.Errorf("expected amount 1001.50, got %s", first.Amount)
	}
	if first.Currency != "MKD" {
		t.Errorf("expected MKD, got %s", first.Currency)
	}
	if first.CreatedAt != time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC) {
		t.Errorf("unexpected booking date %s", first.CreatedAt)
	}
	if first.DebtorName != "Granit AD Skopje" {
		t.Errorf("unexpected debtor %s", first.DebtorName)
	}
	if first.RemittanceInfo != "Faktura INV-2026-0001" {
		t.Errorf("unexpected remittance %s", first.RemittanceInfo)
	}
}

func TestKomercijalna_GetAccountDetails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"accounts": []map[string]any{{
				"resourceId": "300000001234567",
				"iban":       "MK07300000001234567",
				"bic":        "KOBSMK2X",
				"currency":   "MKD",
				"name":       "Tekovna smetka",
				"balances": []map[string]any{
					{"balanceType": "expected", "balanceAmount": map[string]string{"amount": "999.99", "currency": "MKD"}},
					{"balanceType": "closingBooked", "balanceAmount": map[string]string{"amount": "125000.00", "currency": "MKD"}},
				},
			}},
		})
	}))
	defer server.Close()

	gw := NewKomercijalna(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
	pointAt(gw.baseClient, server)

	accounts, err := gw.GetAccountDetails(context.Background(), "token")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	if accounts[0].AccountNumber != "300000001234567" {
		t.Errorf("unexpected account number %s", accounts[0].AccountNumber)
	}
	if !accounts[0].Balance.Equal(decimal.RequireFromString("125000.00")) {
		t.Errorf("expected closingBooked balance 125000.00, got %s", accounts[0].Balance)
	}
}

// --- Stopanska ---

func TestStopanska_GetTransactions_PagedAndNormalized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		items := []map[string]any{}
		if page == "1" {
			items = append(items, map[string]any{
				"id":          "7001",
				"reference":   "REF-7001",
				"amount":      4500.0,
				"currency":    "MKD",
				"date":        "16.03.2026",
				"description": "priliv",
				"details":     []string{"uplata po faktura", "INV-2026-0042"},
				"status":      "BOOKED",
				"counterparty": map[string]string{
					"name": "Alkaloid AD Skopje",
					"iban": "MK07200002785123453",
				},
			})
		} else {
			items = append(items, map[string]any{
				"id":          "7002",
				"reference":   "REF-7002",
				"amount":      -1200.0,
				"currency":    "MKD",
				"date":        "15.03.2026",
				"description": "odliv",
				"details":     []string{"provizija"},
				"status":      "BOOKED",
				"counterparty": map[string]string{
					"name": "EVN Makedonija",
					"iban": "MK07300000000424742",
				},
			})
		}
		pageNum, _ := strconv.Atoi(page)
		json.NewEncoder(w).Encode(map[string]any{
			"items":       items,
			"page":        pageNum,
			"total_pages": 2,
		})
	}))
	defer server.Close()

	gw := NewStopanska(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
	pointAt(gw.baseClient, server)

	txs, err := gw.GetTransactions(context.Background(), "token", "200-0001",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}

	credit := txs[0]
	if credit.ExternalUID != "STB-7001" {
		t.Errorf("expected STB-7001, got %s", credit.ExternalUID)
	}
	if credit.CreatedAt != time.Date(2026, 3, 16, 0, 0, 0, 0, time.UTC) {
		t.Errorf("expected parsed dd.mm.yyyy date, got %s", credit.CreatedAt)
	}
	if credit.RemittanceInfo != "uplata po faktura INV-2026-0042" {
		t.Errorf("expected joined details, got %q", credit.RemittanceInfo)
	}
	if credit.DebtorName != "Alkaloid AD Skopje" {
		t.Errorf("expected counterparty on debtor side for a credit, got %q", credit.DebtorName)
	}

	debit := txs[1]
	if !debit.Amount.Equal(decimal.NewFromInt(-1200)) {
		t.Errorf("expected -1200, got %s", debit.Amount)
	}
	if debit.CreditorName != "EVN Makedonija" {
		t.Errorf("expected counterparty on creditor side for a debit, got %q", debit.CreditorName)
	}
}

// --- NLB ---

func TestNLB_GetTransactions_MinorUnitsAndOffsets(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		if offset == "0" {
			json.NewEncoder(w).Encode(map[string]any{
				"transactions": []map[string]any{{
					"uid":          "a1b2",
					"e2e_id":       "E2E-1",
					"amount_minor": 3000000,
					"currency":     "MKD",
					"booked_at":    "2026-03-16T09:30:00Z",
					"purpose":      "uplata INV-2026-0042",
					"status":       "booked",
					"payer_name":   "Granit AD Skopje",
					"payer_iban":   "MK07210301000013465",
				}},
				"has_more": true,
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"transactions": []map[string]any{{
				"uid":          "c3d4",
				"amount_minor": -52575,
				"currency":     "MKD",
				"booked_at":    "2026-03-15T14:00:00Z",
				"purpose":      "nadomest",
				"status":       "booked",
				"payee_name":   "NLB Banka",
				"payee_iban":   "MK07210000000000123",
			}},
			"has_more": false,
		})
	}))
	defer server.Close()

	gw := NewNLB(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
	pointAt(gw.baseClient, server)

	txs, err := gw.GetTransactions(context.Background(), "token", "210-3",
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}

	if txs[0].ExternalUID != "NLB-a1b2" {
		t.Errorf("expected NLB-a1b2, got %s", txs[0].ExternalUID)
	}
	if !txs[0].Amount.Equal(decimal.RequireFromString("30000.00")) {
		t.Errorf("expected 30000.00 from minor units, got %s", txs[0].Amount)
	}
	if !txs[1].Amount.Equal(decimal.RequireFromString("-525.75")) {
		t.Errorf("expected -525.75 from minor units, got %s", txs[1].Amount)
	}
	if txs[1].IBAN != "MK07210000000000123" {
		t.Errorf("expected payee IBAN on a debit, got %s", txs[1].IBAN)
	}
}

// --- Consent / SCA ---

func TestRequestConsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/consents" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"consentId": "cons-42"})
	}))
	defer server.Close()

	gw := NewKomercijalna(server.Client(), testOptions(), resilience.NewCircuitBreaker("test"), testResilience(), zap.NewNop())
	pointAt(gw.baseClient, server)

	resp, err := gw.RequestConsent(context.Background(), domain.ConsentRequest{
		AccountAccess:   []string{"accounts", "transactions"},
		ValidUntil:      time.Now().AddDate(0, 3, 0),
		FrequencyPerDay: 4,
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.ConsentID != "cons-42" {
		t.Errorf("expected cons-42, got %s", resp.ConsentID)
	}
}

// --- Registry ---

func TestRegistry(t *testing.T) {
	banks := map[string]config.BankConfig{
		"komercijalna": {ClientID: "a", ClientSecret: "b", Sandbox: true},
		"nlb":          {ClientID: "c", ClientSecret: "d", Sandbox: true},
		"unknown-bank": {ClientID: "e", ClientSecret: "f"},
	}
	r := NewRegistry(http.DefaultClient, banks, testResilience(), zap.NewNop())

	if codes := r.Codes(); len(codes) != 2 {
		t.Fatalf("expected 2 registered banks, got %v", codes)
	}

	gw, err := r.Get("komercijalna")
	if err != nil {
		t.Fatalf("expected komercijalna adapter, got %v", err)
	}
	if gw.BankCode() != "komercijalna" {
		t.Errorf("unexpected bank code %s", gw.BankCode())
	}

	_, err = r.Get("ohridska")
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound for unregistered bank, got %v", err)
	}
}

func TestBankName(t *testing.T) {
	if got := BankName("stopanska"); got != "Stopanska Banka AD - Skopje" {
		t.Errorf("unexpected display name %q", got)
	}
	if got := BankName("ohridska"); got != "ohridska" {
		t.Errorf("expected code fallback, got %q", got)
	}
}
