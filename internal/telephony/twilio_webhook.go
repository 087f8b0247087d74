package telephony

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// TwilioInboundForm captures the subset of voice webhook fields we care about.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/twiml
type TwilioInboundForm struct {
	CallSid       string
	AccountSid    string
	From          string
	To            string
	Direction     string
	CallStatus    string
	ApiVersion    string
	CallDuration  string
	CallerName    string
	FromCountry   string
	ToCountry     string
	ForwardedFrom string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:       r.PostFormValue("CallSid"),
		AccountSid:    r.PostFormValue("AccountSid"),
		From:          normalizePhone(r.PostFormValue("From")),
		To:            normalizePhone(r.PostFormValue("To")),
		Direction:     r.PostFormValue("Direction"),
		CallStatus:    r.PostFormValue("CallStatus"),
		ApiVersion:    r.PostFormValue("ApiVersion"),
		CallDuration:  r.PostFormValue("CallDuration"),
		CallerName:    r.PostFormValue("CallerName"),
		FromCountry:   r.PostFormValue("FromCountry"),
		ToCountry:     r.PostFormValue("ToCountry"),
		ForwardedFrom: normalizePhone(r.PostFormValue("ForwardedFrom")),
	}
	return f, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

func (f TwilioInboundForm) ToInboundCallRequest(occurredAt time.Time) InboundCallRequest {
	raw, _ := json.Marshal(f)
	return InboundCallRequest{
		ProviderCallID: f.CallSid,
		From:           f.From,
		To:             f.To,
		OccurredAt:     occurredAt,
		RawPayload:     string(raw),
	}
}
