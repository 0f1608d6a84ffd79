package ledger

import "time"

// Role values stored on account rows. Keep in sync with internal/rbac;
// the strings are part of the persisted contract.
const (
	RoleTenantAdmin      = "tenant_admin"
	RoleSubUser          = "sub_user"
	RolePlatformOperator = "platform_operator"
)

// Account is the billing view of a tenant account.
//
// Invariant: BalanceMinutes may go negative transiently (a call in progress
// can overdraw) but no new call is admitted once balance <= 0.
//
// Sub-users bill against their parent account ("billable account") unless
// the role is billing-exempt.
type Account struct {
	ID   string `json:"id" db:"id"`
	Role string `json:"role" db:"role"`

	// ParentID routes billing for sub-users. Empty for tenant admins.
	ParentID string `json:"parent_id,omitempty" db:"parent_id"`

	// PhoneNumber is the inbound number owned by this account (E.164).
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	// ConnectTarget is where admitted inbound calls are dialed to:
	// a PSTN number or a sip: URI.
	ConnectTarget string `json:"connect_target" db:"connect_target"`

	// BalanceMinutes is the prepaid credit balance, minute-denominated
	// and fractional.
	BalanceMinutes float64 `json:"balance_minutes" db:"balance_minutes"`

	// RatePerMinute overrides the platform default when > 0.
	RatePerMinute float64 `json:"rate_per_minute" db:"rate_per_minute"`

	SubscriptionExpiresAt time.Time `json:"subscription_expires_at" db:"subscription_expires_at"`

	// LineLimit caps concurrent ActiveCall rows for the billable account.
	LineLimit int `json:"line_limit" db:"line_limit"`

	LowBalanceThreshold float64 `json:"low_balance_threshold" db:"low_balance_threshold"`

	// Alert stamps enforce per-account cooldowns in the alerting sweep.
	LastLowBalanceAlertAt *time.Time `json:"last_low_balance_alert_at,omitempty" db:"last_low_balance_alert_at"`
	LastExpiryAlertAt     *time.Time `json:"last_expiry_alert_at,omitempty" db:"last_expiry_alert_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BillingExempt reports whether usage by this account is never charged.
func (a Account) BillingExempt() bool { return a.Role == RolePlatformOperator }

// SubscriptionExpired reports whether the account's subscription lapsed at t.
func (a Account) SubscriptionExpired(t time.Time) bool {
	return !a.SubscriptionExpiresAt.IsZero() && t.After(a.SubscriptionExpiresAt)
}

// ActiveCall marks a call as currently occupying one concurrency slot.
// Created on admission or outbound dial; removed by the lifecycle monitor
// when the call is observed terminal.
type ActiveCall struct {
	CallID    string        `json:"call_id" db:"call_id"`
	AccountID string        `json:"account_id" db:"account_id"`
	Direction CallDirection `json:"direction" db:"direction"`
	StartedAt time.Time     `json:"started_at" db:"started_at"`
}

type CallDirection string

const (
	DirectionInbound  CallDirection = "inbound"
	DirectionOutbound CallDirection = "outbound"
)

// UsageRecord is an immutable metering entry.
// Invariant: at most one row per call id. Duplicate finalization attempts
// must be no-ops for both the record and the balance deduction.
type UsageRecord struct {
	ID        string `json:"id" db:"id"`
	AccountID string `json:"account_id" db:"account_id"`
	CallID    string `json:"call_id" db:"call_id"`

	MinutesBilled float64       `json:"minutes_billed" db:"minutes_billed"`
	CostMinutes   float64       `json:"cost_minutes" db:"cost_minutes"`
	Direction     CallDirection `json:"direction" db:"direction"`

	FromNumber string `json:"from_number" db:"from_number"`
	ToNumber   string `json:"to_number" db:"to_number"`

	// TerminalStatus is the provider status the call ended with.
	TerminalStatus string `json:"terminal_status" db:"terminal_status"`

	RecordingURL string `json:"recording_url,omitempty" db:"recording_url"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type NotificationType string

const (
	NotificationLowCredit     NotificationType = "low_credit"
	NotificationLowBalance    NotificationType = "low_balance"
	NotificationSubExpired    NotificationType = "subscription_expired"
	NotificationCampaignState NotificationType = "campaign_state"
)

// Notification is an append-only alert record shown to the operator.
type Notification struct {
	ID        string           `json:"id" db:"id"`
	AccountID string           `json:"account_id" db:"account_id"`
	Type      NotificationType `json:"type" db:"type"`
	Message   string           `json:"message" db:"message"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// AlertKind selects which cooldown stamp to update on the account row.
type AlertKind string

const (
	AlertLowBalance AlertKind = "low_balance"
	AlertExpiry     AlertKind = "expiry"
)

type CampaignStatus string

const (
	CampaignInProgress  CampaignStatus = "in-progress"
	CampaignPaused      CampaignStatus = "paused"
	CampaignPausedDaily CampaignStatus = "paused-daily"
	CampaignCompleted   CampaignStatus = "completed"
	CampaignFailed      CampaignStatus = "failed"
)

// Contact is one entry of a campaign's ordered contact list.
type Contact struct {
	Phone string `json:"phone"`
	Name  string `json:"name,omitempty"`
}

// CallResult is the durable per-contact projection of dial attempts.
// Keyed by phone number; last record wins, so repeated emissions during
// retry scheduling do not duplicate entries.
type CallResult struct {
	Phone           string    `json:"phone"`
	Status          string    `json:"status"`
	Attempts        int       `json:"attempts"`
	CallID          string    `json:"call_id,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	LastAttemptAt   time.Time `json:"last_attempt_at"`
}

// Campaign is the persisted campaign record. Contacts keep input order;
// CallResults is the aggregate projection the dialer updates after every
// attempt settles.
type Campaign struct {
	ID        string         `json:"id" db:"id"`
	AccountID string         `json:"account_id" db:"account_id"`
	Name      string         `json:"name" db:"name"`
	Status    CampaignStatus `json:"status" db:"status"`

	Contacts    []Contact    `json:"contacts" db:"contacts"`
	CallResults []CallResult `json:"call_results" db:"call_results"`

	TotalContacts  int `json:"total_contacts" db:"total_contacts"`
	CompletedCalls int `json:"completed_calls" db:"completed_calls"`
	FailedCalls    int `json:"failed_calls" db:"failed_calls"`

	ConcurrentLines     int `json:"concurrent_lines" db:"concurrent_lines"`
	CallIntervalSeconds int `json:"call_interval_seconds" db:"call_interval_seconds"`

	MaxRetries           int `json:"max_retries" db:"max_retries"`
	RetryIntervalMinutes int `json:"retry_interval_minutes" db:"retry_interval_minutes"`

	// Daily window, "HH:MM" 24h local time. Both empty means no window.
	DailyStart string `json:"daily_start,omitempty" db:"daily_start"`
	DailyEnd   string `json:"daily_end,omitempty" db:"daily_end"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ResultFor returns the last recorded result for a phone number.
func (c Campaign) ResultFor(phone string) (CallResult, bool) {
	for _, r := range c.CallResults {
		if r.Phone == phone {
			return r, true
		}
	}
	return CallResult{}, false
}
