package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseTwilioInboundCall(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioInboundCall(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" {
		t.Fatalf("expected CallSid")
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}

	call := form.ToInboundCall(time.Unix(1700000000, 0).UTC())
	if call.CallID != "CA123" {
		t.Fatalf("expected provider call id")
	}
	if call.From == "" || call.To == "" {
		t.Fatalf("expected from/to")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled} {
		if !s.Terminal() {
			t.Fatalf("expected %q terminal", s)
		}
	}
	for _, s := range []Status{StatusQueued, StatusRinging, StatusInProgress} {
		if s.Terminal() {
			t.Fatalf("expected %q non-terminal", s)
		}
	}
}
