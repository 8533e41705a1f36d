// Package gateway contains the per-bank PSD2 client adapters.
//
// Each adapter owns OAuth authentication, paginated account/transaction
// retrieval and the translation of its bank's wire format into the
// canonical domain value objects. Nothing outside this package ever sees a
// bank-specific field name.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
	"github.com/bloodyteeths/mkfakturi-sub000/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("gateway")

// Endpoints is a sandbox/production URL pair for one bank. The sandbox
// flag in the bank config selects which half is active.
type Endpoints struct {
	SandboxTokenURL    string
	SandboxAPIURL      string
	ProductionTokenURL string
	ProductionAPIURL   string
}

// Options configures a bank adapter.
type Options struct {
	ClientID     string
	ClientSecret string
	Sandbox      bool
	RequestQuota int // requests per minute; 0 uses defaultRequestQuota

	// Endpoints overrides the bank's built-in URL pair. Integration tests
	// point this at a local stub server.
	Endpoints *Endpoints
}

const defaultRequestQuota = 15

// baseClient implements the transport shared by all bank adapters:
// client-credentials token exchange, bearer GET/POST with breaker + retry,
// and fixed inter-request pacing derived from the bank's quota.
type baseClient struct {
	httpClient *http.Client
	bankCode   string
	tokenURL   string
	apiURL     string
	clientID   string
	secret     string
	delay      time.Duration
	cb         *gobreaker.CircuitBreaker
	rcfg       resilience.Config
	logger     *zap.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration)
}

func newBaseClient(httpClient *http.Client, bankCode string, ep Endpoints, opts Options, cb *gobreaker.CircuitBreaker, rcfg resilience.Config, logger *zap.Logger) *baseClient {
	if opts.Endpoints != nil {
		ep = *opts.Endpoints
	}
	tokenURL, apiURL := ep.ProductionTokenURL, ep.ProductionAPIURL
	if opts.Sandbox {
		tokenURL, apiURL = ep.SandboxTokenURL, ep.SandboxAPIURL
	}
	quota := opts.RequestQuota
	if quota <= 0 {
		quota = defaultRequestQuota
	}

	return &baseClient{
		httpClient: httpClient,
		bankCode:   bankCode,
		tokenURL:   tokenURL,
		apiURL:     apiURL,
		clientID:   opts.ClientID,
		secret:     opts.ClientSecret,
		delay:      time.Minute / time.Duration(quota),
		cb:         cb,
		rcfg:       rcfg,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// pace enforces the fixed inter-request delay between successive paginated
// or per-account calls within one run.
func (c *baseClient) pace(ctx context.Context) {
	c.sleep(ctx, c.delay)
}

// authenticate performs the client-credentials exchange. All failure modes
// come back as a soft AuthResult so the caller can branch on the code.
func (c *baseClient) authenticate(ctx context.Context) domain.AuthResult {
	ctx, span := tracer.Start(ctx, "gateway.authenticate")
	defer span.End()
	span.SetAttributes(attribute.String("bank.code", c.bankCode))

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.secret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return domain.AuthResult{Success: false, ErrorCode: domain.CodeServiceUnavailable, ErrorMessage: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("token exchange failed",
			zap.String("bank", c.bankCode),
			zap.Error(err),
		)
		if ctx.Err() != nil || isTimeout(err) {
			return domain.AuthResult{Success: false, ErrorCode: domain.CodeTimeout, ErrorMessage: err.Error()}
		}
		return domain.AuthResult{Success: false, ErrorCode: domain.CodeServiceUnavailable, ErrorMessage: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return domain.AuthResult{Success: false, ErrorCode: domain.CodeInvalidCredentials, ErrorMessage: "credentials rejected"}
	case http.StatusRequestTimeout:
		return domain.AuthResult{Success: false, ErrorCode: domain.CodeTimeout, ErrorMessage: "token endpoint timeout"}
	case http.StatusTooManyRequests:
		return domain.AuthResult{Success: false, ErrorCode: domain.CodeRateLimited, ErrorMessage: "token endpoint rate limited"}
	default:
		return domain.AuthResult{Success: false, ErrorCode: domain.CodeServiceUnavailable,
			ErrorMessage: fmt.Sprintf("token endpoint returned status %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.AuthResult{Success: false, ErrorCode: domain.CodeServiceUnavailable, ErrorMessage: "malformed token response"}
	}

	return domain.AuthResult{Success: true, AccessToken: body.AccessToken, ExpiresIn: body.ExpiresIn}
}

// getJSON performs an authenticated GET against the bank API with retry and
// circuit breaker, decoding the response into out.
func (c *baseClient) getJSON(ctx context.Context, accessToken, path string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.rcfg, func() error {
			return c.doJSON(ctx, http.MethodGet, accessToken, path, nil, out)
		})
	})
	if err != nil {
		return err
	}
	return nil
}

// postJSON performs an authenticated POST with a JSON body. Consent and SCA
// calls are not retried: re-posting a challenge would issue a second one.
func (c *baseClient) postJSON(ctx context.Context, accessToken, path string, body io.Reader, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, c.doJSON(ctx, http.MethodPost, accessToken, path, body, out)
	})
	return err
}

func (c *baseClient) doJSON(ctx context.Context, method, accessToken, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+path, body)
	if err != nil {
		return err
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil || isTimeout(err) {
			return &domain.ErrTransport{Code: domain.CodeTimeout, BankCode: c.bankCode}
		}
		return &domain.ErrTransport{Code: domain.CodeServiceUnavailable, BankCode: c.bankCode}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return &domain.ErrAuth{Code: domain.CodeInvalidCredentials, BankCode: c.bankCode}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &domain.ErrRateLimited{BankCode: c.bankCode}
	case resp.StatusCode == http.StatusRequestTimeout:
		return &domain.ErrTransport{Code: domain.CodeTimeout, BankCode: c.bankCode, Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		return &domain.ErrTransport{Code: domain.CodeServiceUnavailable, BankCode: c.bankCode, Status: resp.StatusCode}
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return fmt.Errorf("bank %s returned status %d", c.bankCode, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
