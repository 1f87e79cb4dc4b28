package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"appointment-confirmer/internal/config"
)

// TwilioProvider places calls through the Twilio voice REST API.
// It intentionally avoids the provider SDK; the API surface we need is two
// endpoints spoken with form encoding and basic auth.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
}

var _ Provider = (*TwilioProvider)(nil)

func NewTwilioProvider(cfg config.TwilioConfig) *TwilioProvider {
	return &TwilioProvider{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    "https://api.twilio.com/2010-04-01",
		http:       &http.Client{Timeout: 30 * time.Second},
	}
}

// WithBaseURL overrides the API endpoint; tests point it at a local server.
func (p *TwilioProvider) WithBaseURL(u string) *TwilioProvider {
	p.baseURL = strings.TrimRight(u, "/")
	return p
}

func (p *TwilioProvider) Name() string { return "twilio" }

type twilioCallResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" {
		return PlaceCallResult{}, fmt.Errorf("telephony: to and from numbers are required")
	}

	data := url.Values{}
	data.Set("To", req.To)
	data.Set("From", req.From)
	data.Set("Url", req.ConnectURL)
	if req.StatusCallbackURL != "" {
		data.Set("StatusCallback", req.StatusCallbackURL)
		for _, ev := range []string{StatusInitiated, StatusRinging, StatusAnswered, StatusCompleted} {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if req.Record {
		data.Set("Record", "true")
		if req.RecordingCallbackURL != "" {
			data.Set("RecordingStatusCallback", req.RecordingCallbackURL)
			data.Set("RecordingStatusCallbackEvent", "completed")
		}
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", p.baseURL, p.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return PlaceCallResult{}, err
	}
	httpReq.SetBasicAuth(p.accountSID, p.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: place call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return PlaceCallResult{}, fmt.Errorf("telephony: provider rejected call (%d): %s",
			resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var call twilioCallResponse
	if err := json.NewDecoder(resp.Body).Decode(&call); err != nil {
		return PlaceCallResult{}, fmt.Errorf("telephony: decode call response: %w", err)
	}
	if call.SID == "" {
		return PlaceCallResult{}, fmt.Errorf("telephony: provider returned no call sid")
	}
	return PlaceCallResult{CallSID: call.SID, Status: call.Status}, nil
}

func (p *TwilioProvider) FetchRecording(ctx context.Context, recordingSID string) (RecordingMedia, error) {
	if strings.TrimSpace(recordingSID) == "" {
		return RecordingMedia{}, fmt.Errorf("telephony: recording sid is required")
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Recordings/%s.mp3", p.baseURL, p.accountSID, recordingSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return RecordingMedia{}, err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return RecordingMedia{}, fmt.Errorf("telephony: fetch recording: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return RecordingMedia{}, fmt.Errorf("telephony: recording fetch returned %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return RecordingMedia{ContentType: ct, Body: resp.Body}, nil
}
