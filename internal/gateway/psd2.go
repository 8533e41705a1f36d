package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/bloodyteeths/mkfakturi-sub000/internal/domain"
)

// PSD2 consent and SCA pass-through. The three banks share the
// Berlin-Group-style consent surface, so these live on the base client.

type consentBody struct {
	Access struct {
		Accounts []string `json:"accounts"`
	} `json:"access"`
	ValidUntil      string `json:"validUntil"`
	FrequencyPerDay int    `json:"frequencyPerDay"`
}

func (c *baseClient) requestConsent(ctx context.Context, req domain.ConsentRequest) (*domain.ConsentResponse, error) {
	ctx, span := tracer.Start(ctx, "gateway.requestConsent")
	defer span.End()

	var body consentBody
	body.Access.Accounts = req.AccountAccess
	body.ValidUntil = req.ValidUntil.Format("2006-01-02")
	body.FrequencyPerDay = req.FrequencyPerDay

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ConsentID string `json:"consentId"`
	}
	if err := c.postJSON(ctx, "", "/v1/consents", bytes.NewReader(payload), &resp); err != nil {
		return nil, err
	}
	return &domain.ConsentResponse{ConsentID: resp.ConsentID}, nil
}

func (c *baseClient) initiateSCA(ctx context.Context, req domain.SCARequest) (*domain.SCAResponse, error) {
	ctx, span := tracer.Start(ctx, "gateway.initiateSCA")
	defer span.End()

	payload, err := json.Marshal(map[string]string{
		"psuId":         req.UserID,
		"challengeType": req.ChallengeType,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		ChallengeID string `json:"challengeId"`
	}
	if err := c.postJSON(ctx, "", "/v1/sca/challenges", bytes.NewReader(payload), &resp); err != nil {
		return nil, err
	}
	return &domain.SCAResponse{ChallengeID: resp.ChallengeID}, nil
}

// dateParam formats a date the way the banks' query strings expect.
func dateParam(t time.Time) string {
	return t.Format("2006-01-02")
}
