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
//
// Keep it minimal and provider-adapter-only.
// Admission decisions are not made here.

type TwilioInboundForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	ApiVersion string
	CallerName string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	f := TwilioInboundForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		ApiVersion: r.PostFormValue("ApiVersion"),
		CallerName: r.PostFormValue("CallerName"),
	}
	return f, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

func (f TwilioInboundForm) ToInboundCall(occurredAt time.Time) InboundCall {
	raw, _ := json.Marshal(f)
	return InboundCall{
		CallID:     f.CallSid,
		From:       f.From,
		To:         f.To,
		OccurredAt: occurredAt,
		RawPayload: string(raw),
	}
}
