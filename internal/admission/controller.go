package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-platform/internal/ledger"
	"call-platform/internal/telephony"
	"call-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// Controller gates inbound calls against subscription, credit and
// concurrency state, synchronously within the webhook response window.
//
// Policy: on internal faults after the billable account is resolved,
// the controller fails OPEN — a paying customer is never blocked by an
// internal bug. The fault is logged.
//
// Rejections are policy outcomes, not errors.
type Controller struct {
	store    ledger.Store
	lines    ConcurrencyGate
	cooldown CooldownGate
	log      *slog.Logger

	// lowCreditCooldown gates repeated credits-exhausted alerts per account.
	lowCreditCooldown time.Duration

	clock func() time.Time
}

// ConcurrencyGate is the shared fast path for line limits, checked
// before the row-locked database admit. The database stays the source
// of truth; a slot taken here is handed back when the database rejects
// the call, and released by the lifecycle monitor once the call ends.
type ConcurrencyGate interface {
	AcquireLine(ctx context.Context, accountID string, limit int) (bool, error)
	ReleaseLine(ctx context.Context, accountID string) error
}

// CooldownGate reports whether the caller won the rate-limit window for key.
type CooldownGate interface {
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
}

// RedisLines implements ConcurrencyGate on a shared Redis instance.
// The counter carries a TTL so a crashed process cannot leak slots
// forever; no call is expected to outlive it.
type RedisLines struct {
	RDB *redis.Client
	TTL time.Duration
}

func (g RedisLines) AcquireLine(ctx context.Context, accountID string, limit int) (bool, error) {
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return utils.AcquireConcurrencyCap(ctx, g.RDB, lineKey(accountID), limit, ttl)
}

func (g RedisLines) ReleaseLine(ctx context.Context, accountID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.RDB, lineKey(accountID))
}

func lineKey(accountID string) string {
	return fmt.Sprintf("lines:active:%s", accountID)
}

// RedisCooldown implements CooldownGate on a shared Redis instance.
type RedisCooldown struct {
	RDB *redis.Client
}

func (g RedisCooldown) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return utils.AcquireCooldown(ctx, g.RDB, key, window)
}

func NewController(store ledger.Store, lines ConcurrencyGate, cooldown CooldownGate, lowCreditCooldown time.Duration, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		store:             store,
		lines:             lines,
		cooldown:          cooldown,
		log:               log.With("component", "admission"),
		lowCreditCooldown: lowCreditCooldown,
		clock:             time.Now,
	}
}

// Spoken rejection messages. Keep stable; callers hear these verbatim.
const (
	sayNotConfigured = "This number is not configured to receive calls."
	sayExpired       = "This account's subscription has expired."
	sayExhausted     = "This account is out of calling credits."
	sayLinesBusy     = "All lines are currently busy. Please try again later."
)

// DecideInbound implements telephony.AdmissionGate.
func (c *Controller) DecideInbound(ctx context.Context, call telephony.InboundCall) (telephony.InboundResult, error) {
	now := c.clock().UTC()

	owner, err := c.store.FindAccountByNumber(ctx, call.To)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return reject(telephony.RejectNotConfigured, sayNotConfigured), nil
		}
		// Cannot fail open without an account to connect to.
		c.log.Error("account lookup failed", "to", call.To, "err", err)
		return reject(telephony.RejectNotConfigured, sayNotConfigured), nil
	}

	billable, err := c.store.BillableAccount(ctx, owner.ID)
	if err != nil {
		c.log.Error("billable resolution failed, failing open", "account_id", owner.ID, "err", err)
		return connect(owner), nil
	}

	if billable.SubscriptionExpired(now) {
		return reject(telephony.RejectExpired, sayExpired), nil
	}

	if !billable.BillingExempt() && billable.BalanceMinutes <= 0 {
		c.raiseLowCreditAlert(ctx, billable)
		return reject(telephony.RejectExhausted, sayExhausted), nil
	}

	limit := billable.LineLimit
	if limit <= 0 {
		limit = 1
	}

	// Fast path: reserve a line slot in Redis before touching the
	// row-locked admit. An unavailable gate falls through to the
	// database check.
	reserved := false
	if c.lines != nil {
		ok, err := c.lines.AcquireLine(ctx, billable.ID, limit)
		switch {
		case err != nil:
			c.log.Warn("line reservation unavailable", "account_id", billable.ID, "err", err)
		case !ok:
			return reject(telephony.RejectLinesBusy, sayLinesBusy), nil
		default:
			reserved = true
		}
	}

	admitted, err := c.store.AdmitActiveCall(ctx, call.CallID, billable.ID, limit, now)
	if err != nil {
		c.log.Error("admission insert failed, failing open", "call_id", call.CallID, "err", err)
		// No active call row was written, so the monitor has nothing to
		// release later; hand the reservation back now.
		if reserved {
			_ = c.lines.ReleaseLine(ctx, billable.ID)
		}
		return connect(owner), nil
	}
	if !admitted {
		if reserved {
			if err := c.lines.ReleaseLine(ctx, billable.ID); err != nil {
				c.log.Warn("line reservation release failed", "account_id", billable.ID, "err", err)
			}
		}
		return reject(telephony.RejectLinesBusy, sayLinesBusy), nil
	}

	return connect(owner), nil
}

func (c *Controller) raiseLowCreditAlert(ctx context.Context, acct ledger.Account) {
	if c.cooldown == nil {
		return
	}
	key := fmt.Sprintf("cooldown:low_credit:%s", acct.ID)
	won, err := c.cooldown.Acquire(ctx, key, c.lowCreditCooldown)
	if err != nil {
		c.log.Warn("low credit cooldown check failed", "account_id", acct.ID, "err", err)
		return
	}
	if !won {
		return
	}
	n := ledger.Notification{
		AccountID: acct.ID,
		Type:      ledger.NotificationLowCredit,
		Message:   fmt.Sprintf("Inbound call rejected: balance is %.2f minutes.", acct.BalanceMinutes),
		CreatedAt: c.clock().UTC(),
	}
	if err := c.store.AppendNotification(ctx, n); err != nil {
		c.log.Warn("low credit notification failed", "account_id", acct.ID, "err", err)
	}
}

func reject(reason telephony.RejectReason, say string) telephony.InboundResult {
	return telephony.InboundResult{
		Action: telephony.InboundActionReject,
		Reason: reason,
		Say:    say,
	}
}

func connect(owner ledger.Account) telephony.InboundResult {
	target := owner.ConnectTarget
	if target == "" {
		// No forward target configured; dial back the owner's own number.
		target = owner.PhoneNumber
	}
	return telephony.InboundResult{
		Action:    telephony.InboundActionConnect,
		ConnectTo: target,
	}
}
