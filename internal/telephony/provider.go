package telephony

import (
	"context"
	"errors"
	"time"
)

// Provider defines the provider-agnostic carrier interface used by the
// admission controller, the lifecycle monitor and the campaign dialer.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Keep request/response types provider-agnostic; store provider raw
//   payloads in metadata if needed.
type Provider interface {
	Name() string

	// PlaceCall originates an outbound call and returns the provider's
	// call id. flowRef is the provider-side flow/TwiML the answered call
	// is connected to.
	PlaceCall(ctx context.Context, from, to, flowRef string) (string, error)

	// GetCallStatus fetches the current state of a call.
	// Returns ErrCallNotFound when the provider no longer knows the id.
	GetCallStatus(ctx context.Context, callID string) (CallStatus, error)

	// TerminateCall force-completes an in-progress call.
	TerminateCall(ctx context.Context, callID string) error
}

// ErrCallNotFound marks a permanent provider failure: the call id cannot
// be reconciled and should be treated as implicitly terminated.
var ErrCallNotFound = errors.New("telephony: call not found")

// Status values as reported by the provider.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether the provider will not transition s further.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusBusy, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// CallStatus is a point-in-time provider view of one call.
type CallStatus struct {
	CallID          string `json:"call_id"`
	Status          Status `json:"status"`
	DurationSeconds int    `json:"duration_seconds"`
	RecordingURL    string `json:"recording_url,omitempty"`
}

// InboundCall is an inbound call event received from the provider.
type InboundCall struct {
	// CallID is the provider's unique identifier for this call.
	CallID string `json:"call_id"`

	// From and To are E.164 where possible.
	From string `json:"from"`
	To   string `json:"to"`

	// OccurredAt is the provider event time.
	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is optional for debugging/audit; store as JSON string.
	RawPayload string `json:"raw_payload,omitempty"`
}

type InboundAction string

const (
	InboundActionConnect InboundAction = "connect"
	InboundActionReject  InboundAction = "reject"
)

type RejectReason string

const (
	RejectNotConfigured RejectReason = "not_configured"
	RejectExpired       RejectReason = "subscription_expired"
	RejectExhausted     RejectReason = "credits_exhausted"
	RejectLinesBusy     RejectReason = "lines_busy"
)

// InboundResult drives the synchronous webhook response.
type InboundResult struct {
	Action InboundAction `json:"action"`

	// Reason is set when Action == reject.
	Reason RejectReason `json:"reason,omitempty"`

	// Say is the spoken message played before hanging up on a rejection.
	Say string `json:"say,omitempty"`

	// ConnectTo is the dial target when Action == connect.
	ConnectTo string `json:"connect_to,omitempty"`
}

// AdmissionGate decides, within the webhook response window, whether an
// inbound call is connected or rejected.
type AdmissionGate interface {
	DecideInbound(ctx context.Context, call InboundCall) (InboundResult, error)
}
