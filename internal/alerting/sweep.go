package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"call-platform/internal/ledger"
)

// Notifier delivers an alert outside the platform (email, SMS, chat).
// Delivery failures are logged, never retried by the sweep; the cooldown
// stamp is written regardless so a flapping transport cannot spam.
type Notifier interface {
	Notify(ctx context.Context, acct ledger.Account, n ledger.Notification) error
}

// LogNotifier writes alerts to the structured log only. The default
// when no external transport is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, acct ledger.Account, n ledger.Notification) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("account alert",
		"account_id", acct.ID,
		"type", string(n.Type),
		"message", n.Message,
	)
	return nil
}

// Sweeper periodically checks every billable account for low balance and
// lapsed subscriptions, with a per-account, per-kind cooldown stamp.
type Sweeper struct {
	store    ledger.Store
	notifier Notifier
	log      *slog.Logger

	cooldown time.Duration
	clock    func() time.Time

	cron *cron.Cron
}

func NewSweeper(store ledger.Store, notifier Notifier, cooldown time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Log: log}
	}
	if cooldown <= 0 {
		cooldown = 24 * time.Hour
	}
	return &Sweeper{
		store:    store,
		notifier: notifier,
		log:      log.With("component", "alerting"),
		cooldown: cooldown,
		clock:    time.Now,
	}
}

// Start schedules the sweep on its own cron runner.
func (s *Sweeper) Start(interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule alert sweep: %w", err)
	}
	s.cron.Start()
	s.log.Info("alert sweep started", "interval", interval.String())
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep runs one pass over all accounts. Per-account failures are
// logged and skipped.
func (s *Sweeper) Sweep(ctx context.Context) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		s.log.Error("list accounts failed", "err", err)
		return
	}
	now := s.clock().UTC()
	for _, acct := range accounts {
		if acct.BillingExempt() || acct.Role == ledger.RoleSubUser {
			// Sub-user balances live on the parent; exempt accounts are
			// never alerted.
			continue
		}
		if err := s.checkAccount(ctx, acct, now); err != nil {
			s.log.Warn("account alert check failed", "account_id", acct.ID, "err", err)
		}
	}
}

func (s *Sweeper) checkAccount(ctx context.Context, acct ledger.Account, now time.Time) error {
	if acct.LowBalanceThreshold > 0 &&
		acct.BalanceMinutes <= acct.LowBalanceThreshold &&
		stale(acct.LastLowBalanceAlertAt, now, s.cooldown) {
		n := ledger.Notification{
			AccountID: acct.ID,
			Type:      ledger.NotificationLowBalance,
			Message:   fmt.Sprintf("Balance is %.2f minutes, at or under the %.2f minute threshold.", acct.BalanceMinutes, acct.LowBalanceThreshold),
			CreatedAt: now,
		}
		if err := s.emit(ctx, acct, ledger.AlertLowBalance, n, now); err != nil {
			return err
		}
	}

	if acct.SubscriptionExpired(now) && stale(acct.LastExpiryAlertAt, now, s.cooldown) {
		n := ledger.Notification{
			AccountID: acct.ID,
			Type:      ledger.NotificationSubExpired,
			Message:   fmt.Sprintf("Subscription expired on %s.", acct.SubscriptionExpiresAt.Format("2006-01-02")),
			CreatedAt: now,
		}
		if err := s.emit(ctx, acct, ledger.AlertExpiry, n, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sweeper) emit(ctx context.Context, acct ledger.Account, kind ledger.AlertKind, n ledger.Notification, now time.Time) error {
	// The record lands before the cooldown stamp. If the append fails,
	// no stamp is written and the next sweep retries the alert instead
	// of silencing it for a whole cooldown window.
	if err := s.store.AppendNotification(ctx, n); err != nil {
		return fmt.Errorf("append notification: %w", err)
	}
	if err := s.store.StampAlert(ctx, acct.ID, kind, now); err != nil {
		return fmt.Errorf("stamp %s alert: %w", kind, err)
	}
	if err := s.notifier.Notify(ctx, acct, n); err != nil {
		s.log.Warn("external alert delivery failed", "account_id", acct.ID, "type", string(n.Type), "err", err)
	}
	s.log.Info("account alert emitted", "account_id", acct.ID, "type", string(n.Type))
	return nil
}

func stale(last *time.Time, now time.Time, cooldown time.Duration) bool {
	return last == nil || now.Sub(*last) >= cooldown
}
