package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// CallerID is the provider-owned number used as From on outbound legs.
	CallerID string
	// PublicBaseURL is where Twilio reaches this service's webhooks.
	PublicBaseURL string
	// BaseURL overrides the REST endpoint (tests).
	BaseURL string
	Timeout time.Duration
}

// TwilioProvider places PSTN legs through the Twilio REST API.
type TwilioProvider struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioProvider(cfg TwilioConfig, client *http.Client) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &TwilioProvider{cfg: cfg, client: client}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s.json", p.cfg.BaseURL, p.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health status %d", ErrProviderFailed, resp.StatusCode)
	}
	return nil
}

type twilioCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) PlaceLeg(ctx context.Context, in LegRequest) (LegResult, error) {
	if strings.TrimSpace(in.To) == "" {
		return LegResult{}, fmt.Errorf("%w: destination required", ErrProviderFailed)
	}

	from := in.From
	if from == "" || strings.HasPrefix(strings.ToLower(from), "sip:") {
		from = p.cfg.CallerID
	}
	if from == "" {
		return LegResult{}, fmt.Errorf("%w: caller id not configured", ErrProviderFailed)
	}

	form := url.Values{}
	form.Set("To", in.To)
	form.Set("From", from)
	if p.cfg.PublicBaseURL != "" && in.SessionID != "" {
		q := url.Values{"session_id": {in.SessionID}}.Encode()
		base := strings.TrimRight(p.cfg.PublicBaseURL, "/")
		form.Set("Url", base+"/webhooks/twilio/bridge?"+q)
		form.Set("StatusCallback", base+"/webhooks/twilio/status?"+q)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	} else if in.BridgeURI != "" {
		twiml, err := RenderTwiML(InboundCallResult{Action: InboundCallActionConnect, ConnectTo: in.BridgeURI})
		if err != nil {
			return LegResult{}, err
		}
		form.Set("Twiml", twiml)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", p.cfg.BaseURL, p.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return LegResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return LegResult{}, fmt.Errorf("%w: %v", ErrProviderFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return LegResult{}, fmt.Errorf("%w: read response: %v", ErrProviderFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var te twilioErrorResponse
		if json.Unmarshal(body, &te) == nil && te.Message != "" {
			return LegResult{}, fmt.Errorf("%w: twilio %d: %s", ErrProviderFailed, te.Code, te.Message)
		}
		return LegResult{}, fmt.Errorf("%w: twilio status %d", ErrProviderFailed, resp.StatusCode)
	}

	var out twilioCallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return LegResult{}, fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
	}
	return LegResult{ProviderCallID: out.Sid, Status: out.Status}, nil
}
