package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// UsageSummaryRequest requests aggregated metering for one account.
// Account isolation: AccountID is required.
type UsageSummaryRequest struct {
	AccountID string    `json:"account_id"`
	Range     TimeRange `json:"range"`
}

type UsageSummary struct {
	AccountID string `json:"account_id"`

	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	CanceledCalls  int `json:"canceled_calls"`

	InboundCalls  int `json:"inbound_calls"`
	OutboundCalls int `json:"outbound_calls"`
	RecordedCalls int `json:"recorded_calls"`

	TotalMinutesBilled float64 `json:"total_minutes_billed"`
	TotalCostMinutes   float64 `json:"total_cost_minutes"`

	// BalanceMinutes is the account's current balance, not a range
	// aggregate.
	BalanceMinutes float64 `json:"balance_minutes"`
}

// CampaignProgress is the operator view of one campaign's advancement.
type CampaignProgress struct {
	CampaignID string `json:"campaign_id"`
	Name       string `json:"name"`
	Status     string `json:"status"`

	TotalContacts  int `json:"total_contacts"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	Remaining      int `json:"remaining"`

	ProgressPercent float64 `json:"progress_percent"`
}
