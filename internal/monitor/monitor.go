package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"call-platform/internal/billing"
	"call-platform/internal/ledger"
	"call-platform/internal/telephony"
)

// maxZeroDurationRechecks bounds how many sweeps a completed call may
// report a zero duration before it is finalized at zero minutes anyway.
// Providers flush the final duration within a couple of seconds; six
// sweeps at the default interval is a minute of grace.
const maxZeroDurationRechecks = 6

// LineReleaser frees an admission fast-path line reservation once its
// call has been reconciled. Optional; admission.RedisLines satisfies it.
type LineReleaser interface {
	ReleaseLine(ctx context.Context, accountID string) error
}

// Monitor reconciles active calls against the provider on a fixed
// interval and is the single writer that finalizes billing for them.
type Monitor struct {
	store    ledger.Store
	provider telephony.Provider
	lines    LineReleaser
	log      *slog.Logger

	interval      time.Duration
	defaultRate   float64
	alertCooldown time.Duration

	clock func() time.Time

	// zeroRechecks counts consecutive completed-with-zero-duration
	// observations per call id. Owned by the sweep loop, no locking.
	zeroRechecks map[string]int
}

func New(store ledger.Store, provider telephony.Provider, lines LineReleaser, interval time.Duration, defaultRate float64, alertCooldown time.Duration, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		store:         store,
		provider:      provider,
		lines:         lines,
		log:           log.With("component", "monitor"),
		interval:      interval,
		defaultRate:   defaultRate,
		alertCooldown: alertCooldown,
		clock:         time.Now,
		zeroRechecks:  make(map[string]int),
	}
}

// Run sweeps until ctx is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.log.Info("call lifecycle monitor started", "interval", m.interval.String())
	for {
		select {
		case <-ctx.Done():
			m.log.Info("call lifecycle monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep reconciles every active call once. Per-call failures are logged
// and retried on the next sweep; they never abort the pass.
func (m *Monitor) Sweep(ctx context.Context) {
	calls, err := m.store.ListActiveCalls(ctx)
	if err != nil {
		m.log.Error("list active calls failed", "err", err)
		return
	}
	for _, call := range calls {
		if ctx.Err() != nil {
			return
		}
		if err := m.reconcile(ctx, call); err != nil {
			m.log.Warn("call reconciliation failed",
				"call_id", call.CallID, "account_id", call.AccountID, "err", err)
		}
	}
}

func (m *Monitor) reconcile(ctx context.Context, call ledger.ActiveCall) error {
	st, err := m.provider.GetCallStatus(ctx, call.CallID)
	if err != nil {
		if errors.Is(err, telephony.ErrCallNotFound) {
			// The provider no longer knows the id; the call cannot be
			// reconciled. Release the slot without billing.
			m.log.Warn("active call unknown to provider, releasing",
				"call_id", call.CallID, "account_id", call.AccountID)
			delete(m.zeroRechecks, call.CallID)
			if err := m.store.DeleteActiveCall(ctx, call.CallID); err != nil {
				return err
			}
			m.releaseLine(ctx, call)
			return nil
		}
		return err
	}

	if !st.Status.Terminal() {
		return nil
	}

	if st.Status == telephony.StatusCompleted && st.DurationSeconds == 0 {
		// Completed but the provider has not flushed the final duration
		// yet. Hold the call back a bounded number of sweeps.
		m.zeroRechecks[call.CallID]++
		if m.zeroRechecks[call.CallID] < maxZeroDurationRechecks {
			return nil
		}
		m.log.Warn("completed call never reported a duration, billing zero minutes",
			"call_id", call.CallID)
	}
	delete(m.zeroRechecks, call.CallID)

	return m.finalize(ctx, call, st)
}

func (m *Monitor) finalize(ctx context.Context, call ledger.ActiveCall, st telephony.CallStatus) error {
	acct, err := m.store.BillableAccount(ctx, call.AccountID)
	if err != nil {
		return fmt.Errorf("resolve billable account: %w", err)
	}

	minutes := billing.BillableMinutes(st.DurationSeconds)
	cost := billing.Cost(minutes, billing.EffectiveRate(acct.RatePerMinute, m.defaultRate))
	if acct.BillingExempt() {
		cost = 0
	}

	direction := call.Direction
	if direction == "" {
		direction = ledger.DirectionInbound
	}
	rec := ledger.UsageRecord{
		ID:             uuid.NewString(),
		AccountID:      acct.ID,
		CallID:         call.CallID,
		MinutesBilled:  float64(minutes),
		CostMinutes:    cost,
		Direction:      direction,
		TerminalStatus: string(st.Status),
		RecordingURL:   st.RecordingURL,
		CreatedAt:      m.clock().UTC(),
	}

	billed, newBalance, err := m.store.FinalizeCall(ctx, rec)
	if err != nil {
		return fmt.Errorf("finalize call: %w", err)
	}
	m.releaseLine(ctx, call)
	if !billed {
		// Already metered by an earlier sweep; the slot release above is
		// all this pass needed to do.
		return nil
	}

	m.log.Info("call finalized",
		"call_id", call.CallID,
		"account_id", acct.ID,
		"status", string(st.Status),
		"minutes", minutes,
		"cost", cost,
		"balance", newBalance,
	)

	if !acct.BillingExempt() && acct.LowBalanceThreshold > 0 && newBalance <= acct.LowBalanceThreshold {
		m.maybeLowBalanceAlert(ctx, acct, newBalance)
	}
	return nil
}

// releaseLine frees the admission fast-path reservation held by an
// inbound call. Outbound dialer calls never reserve one.
func (m *Monitor) releaseLine(ctx context.Context, call ledger.ActiveCall) {
	if m.lines == nil || call.Direction == ledger.DirectionOutbound {
		return
	}
	if err := m.lines.ReleaseLine(ctx, call.AccountID); err != nil {
		m.log.Warn("line reservation release failed",
			"call_id", call.CallID, "account_id", call.AccountID, "err", err)
	}
}

// maybeLowBalanceAlert emits a low-balance notification unless one was
// stamped within the cooldown window. Independent of the admission
// controller's low-credit cooldown.
func (m *Monitor) maybeLowBalanceAlert(ctx context.Context, acct ledger.Account, balance float64) {
	now := m.clock().UTC()
	if acct.LastLowBalanceAlertAt != nil && now.Sub(*acct.LastLowBalanceAlertAt) < m.alertCooldown {
		return
	}
	if err := m.store.StampAlert(ctx, acct.ID, ledger.AlertLowBalance, now); err != nil {
		m.log.Warn("low balance alert stamp failed", "account_id", acct.ID, "err", err)
		return
	}
	n := ledger.Notification{
		AccountID: acct.ID,
		Type:      ledger.NotificationLowBalance,
		Message:   fmt.Sprintf("Balance is down to %.2f minutes (threshold %.2f).", balance, acct.LowBalanceThreshold),
		CreatedAt: now,
	}
	if err := m.store.AppendNotification(ctx, n); err != nil {
		m.log.Warn("low balance notification failed", "account_id", acct.ID, "err", err)
	}
}
