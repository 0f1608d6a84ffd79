package telephony

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"call-platform/internal/config"

	"github.com/go-resty/resty/v2"
)

// TwilioProvider talks to the Twilio-compatible voice REST API.
//
// Error mapping:
// - 404 on a call resource -> ErrCallNotFound (permanent, implicit termination)
// - anything else non-2xx  -> transient; callers retry on the next sweep/attempt
type TwilioProvider struct {
	accountSID string
	client     *resty.Client
}

func NewTwilioProvider(cfg config.ProviderConfig) *TwilioProvider {
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetHeader("Accept", "application/json")
	return &TwilioProvider{accountSID: cfg.AccountSID, client: c}
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCallResponse struct {
	Sid      string `json:"sid"`
	Status   string `json:"status"`
	Duration string `json:"duration"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, from, to, flowRef string) (string, error) {
	var out twilioCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"From": from,
			"To":   to,
			"Url":  flowRef,
		}).
		SetResult(&out).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", p.accountSID))
	if err != nil {
		return "", fmt.Errorf("telephony: place call: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("telephony: place call: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Sid == "" {
		return "", fmt.Errorf("telephony: place call: empty sid in response")
	}
	return out.Sid, nil
}

func (p *TwilioProvider) GetCallStatus(ctx context.Context, callID string) (CallStatus, error) {
	var out twilioCallResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get(fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", p.accountSID, callID))
	if err != nil {
		return CallStatus{}, fmt.Errorf("telephony: get status: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return CallStatus{}, ErrCallNotFound
	}
	if resp.IsError() {
		return CallStatus{}, fmt.Errorf("telephony: get status: status %d: %s", resp.StatusCode(), resp.String())
	}

	// Twilio reports duration as a string of integer seconds; empty until
	// the final leg settles.
	dur := 0
	if out.Duration != "" {
		if n, err := strconv.Atoi(out.Duration); err == nil {
			dur = n
		}
	}
	return CallStatus{
		CallID:          out.Sid,
		Status:          Status(out.Status),
		DurationSeconds: dur,
	}, nil
}

func (p *TwilioProvider) TerminateCall(ctx context.Context, callID string) error {
	resp, err := p.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{"Status": "completed"}).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Calls/%s.json", p.accountSID, callID))
	if err != nil {
		return fmt.Errorf("telephony: terminate: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrCallNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("telephony: terminate: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
