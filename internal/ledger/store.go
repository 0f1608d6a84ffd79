package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("ledger: not found")
	ErrInvalidArgument = errors.New("ledger: invalid argument")
)

// Store is the durable account/usage contract every loop in the control
// plane consumes.
//
// Money invariants:
// - Balance mutations are atomic read-modify-write (row lock or equivalent);
//   the monitor, admission and dialer can race on the same account.
// - At most one UsageRecord per call id; FinalizeCall must be idempotent.
//
// Concurrency invariant:
// - AdmitActiveCall must be conditionally atomic: two racing admissions
//   against limit K admit at most K calls total.
type Store interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	FindAccountByNumber(ctx context.Context, number string) (Account, error)

	// BillableAccount resolves the account whose balance is actually
	// debited: sub-users route to their parent unless exempt.
	BillableAccount(ctx context.Context, id string) (Account, error)

	ListAccounts(ctx context.Context) ([]Account, error)

	// AdjustBalance applies delta atomically and returns the new balance.
	AdjustBalance(ctx context.Context, id string, delta float64) (float64, error)

	// StampAlert records when an alert of the given kind last fired.
	StampAlert(ctx context.Context, accountID string, kind AlertKind, at time.Time) error

	CountActiveCalls(ctx context.Context, accountID string) (int, error)

	// AdmitActiveCall inserts an ActiveCall iff the account currently holds
	// fewer than limit rows. Re-admitting an existing call id is a no-op
	// that reports admitted=true.
	AdmitActiveCall(ctx context.Context, callID, accountID string, limit int, startedAt time.Time) (bool, error)

	// InsertActiveCall registers a call without a limit check (outbound
	// dials own their budget campaign-side).
	InsertActiveCall(ctx context.Context, callID, accountID string, direction CallDirection, startedAt time.Time) error

	DeleteActiveCall(ctx context.Context, callID string) error
	ListActiveCalls(ctx context.Context) ([]ActiveCall, error)

	// FinalizeCall settles a call exactly once: insert rec if no UsageRecord
	// exists for rec.CallID, and only then deduct rec.CostMinutes from the
	// account balance. The ActiveCall row is removed either way.
	// Returns whether this call performed the billing and the resulting
	// balance (current balance when billed=false).
	FinalizeCall(ctx context.Context, rec UsageRecord) (billed bool, newBalance float64, err error)

	ListUsage(ctx context.Context, accountID string, from, to time.Time) ([]UsageRecord, error)

	AppendNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, accountID string) ([]Notification, error)

	UpsertCampaign(ctx context.Context, c Campaign) error
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	DeleteCampaign(ctx context.Context, id string) error
	ListCampaigns(ctx context.Context, accountID string) ([]Campaign, error)
}
