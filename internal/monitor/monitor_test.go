package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"call-platform/internal/ledger"
	"call-platform/internal/telephony"
)

type fakeProvider struct {
	mu       sync.Mutex
	statuses map[string]telephony.CallStatus
	errs     map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		statuses: make(map[string]telephony.CallStatus),
		errs:     make(map[string]error),
	}
}

func (p *fakeProvider) set(callID string, status telephony.Status, duration int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[callID] = telephony.CallStatus{CallID: callID, Status: status, DurationSeconds: duration}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) PlaceCall(ctx context.Context, from, to, flowRef string) (string, error) {
	return "", errors.New("not implemented")
}

func (p *fakeProvider) GetCallStatus(ctx context.Context, callID string) (telephony.CallStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[callID]; ok {
		return telephony.CallStatus{}, err
	}
	st, ok := p.statuses[callID]
	if !ok {
		return telephony.CallStatus{}, telephony.ErrCallNotFound
	}
	return st, nil
}

func (p *fakeProvider) TerminateCall(ctx context.Context, callID string) error { return nil }

func newTestMonitor(store ledger.Store, provider telephony.Provider) *Monitor {
	return New(store, provider, nil, 10*time.Second, 1.0, 24*time.Hour, nil)
}

func seedAccount(store *ledger.MemoryStore, a ledger.Account) {
	if a.Role == "" {
		a.Role = ledger.RoleTenantAdmin
	}
	if a.SubscriptionExpiresAt.IsZero() {
		a.SubscriptionExpiresAt = time.Now().Add(24 * time.Hour)
	}
	store.PutAccount(a)
}

func TestSweep_FinalizesCompletedCall(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusCompleted, 180)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 2 {
		t.Fatalf("expected balance 2 after billing 3 minutes, got %v", a.BalanceMinutes)
	}
	if calls, _ := store.ListActiveCalls(context.Background()); len(calls) != 0 {
		t.Fatalf("expected active call released, got %d", len(calls))
	}
	recs, _ := store.ListUsage(context.Background(), "acct-1", time.Time{}, time.Now().Add(time.Hour))
	if len(recs) != 1 || recs[0].MinutesBilled != 3 || recs[0].TerminalStatus != "completed" {
		t.Fatalf("unexpected usage records: %+v", recs)
	}
}

func TestSweep_RoundsPartialMinutesUp(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 10})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusCompleted, 61)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 8 {
		t.Fatalf("expected 61s to bill 2 minutes, balance %v", a.BalanceMinutes)
	}
}

func TestSweep_SkipsNonTerminalCalls(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusInProgress, 42)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	if calls, _ := store.ListActiveCalls(context.Background()); len(calls) != 1 {
		t.Fatalf("in-progress call must stay active, got %d active", len(calls))
	}
	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 5 {
		t.Fatalf("in-progress call must not bill, balance %v", a.BalanceMinutes)
	}
}

func TestSweep_ZeroDurationCompletedHeldBackThenFinalized(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusCompleted, 0)

	m := newTestMonitor(store, provider)
	for i := 0; i < maxZeroDurationRechecks-1; i++ {
		m.Sweep(context.Background())
		if calls, _ := store.ListActiveCalls(context.Background()); len(calls) != 1 {
			t.Fatalf("sweep %d: zero-duration call finalized too early", i+1)
		}
	}

	// Bound reached: finalize at zero minutes, no charge.
	m.Sweep(context.Background())
	if calls, _ := store.ListActiveCalls(context.Background()); len(calls) != 0 {
		t.Fatalf("expected call finalized after recheck bound")
	}
	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 5 {
		t.Fatalf("zero-minute finalization must not charge, balance %v", a.BalanceMinutes)
	}
	recs, _ := store.ListUsage(context.Background(), "acct-1", time.Time{}, time.Now().Add(time.Hour))
	if len(recs) != 1 || recs[0].MinutesBilled != 0 {
		t.Fatalf("expected one zero-minute usage record, got %+v", recs)
	}
}

func TestSweep_ZeroDurationRecoversWhenProviderFlushes(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusCompleted, 0)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())
	m.Sweep(context.Background())

	provider.set("CA1", telephony.StatusCompleted, 120)
	m.Sweep(context.Background())

	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 3 {
		t.Fatalf("expected 2 minutes billed once duration flushed, balance %v", a.BalanceMinutes)
	}
}

func TestSweep_UnknownCallReleasedWithoutBilling(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA-gone", "acct-1", ledger.DirectionInbound, time.Now())

	m := newTestMonitor(store, newFakeProvider())
	m.Sweep(context.Background())

	if calls, _ := store.ListActiveCalls(context.Background()); len(calls) != 0 {
		t.Fatalf("unreconcilable call must be released")
	}
	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 5 {
		t.Fatalf("unreconcilable call must not bill, balance %v", a.BalanceMinutes)
	}
	recs, _ := store.ListUsage(context.Background(), "acct-1", time.Time{}, time.Now().Add(time.Hour))
	if len(recs) != 0 {
		t.Fatalf("expected no usage records, got %+v", recs)
	}
}

func TestSweep_DuplicateFinalizationBillsOnce(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusCompleted, 60)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	// A duplicate registration of an already-billed call id must release
	// the slot without a second deduction.
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())
	m.Sweep(context.Background())

	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 4 {
		t.Fatalf("expected a single 1-minute deduction, balance %v", a.BalanceMinutes)
	}
	if calls, _ := store.ListActiveCalls(context.Background()); len(calls) != 0 {
		t.Fatalf("duplicate registration must still be released")
	}
}

func TestSweep_ProviderErrorIsolatedPerCall(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA-bad", "acct-1", ledger.DirectionInbound, time.Now().Add(-time.Minute))
	_ = store.InsertActiveCall(context.Background(), "CA-good", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.errs["CA-bad"] = errors.New("gateway timeout")
	provider.set("CA-good", telephony.StatusCompleted, 60)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	calls, _ := store.ListActiveCalls(context.Background())
	if len(calls) != 1 || calls[0].CallID != "CA-bad" {
		t.Fatalf("expected only the failing call retained, got %+v", calls)
	}
	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 4 {
		t.Fatalf("healthy call must still bill, balance %v", a.BalanceMinutes)
	}
}

func TestSweep_BalanceMayOverdraw(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now().Add(-time.Minute))
	_ = store.InsertActiveCall(context.Background(), "CA2", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusCompleted, 180)
	provider.set("CA2", telephony.StatusCompleted, 180)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != -1 {
		t.Fatalf("expected overdraw to -1, balance %v", a.BalanceMinutes)
	}
}

func TestSweep_OperatorAccountNotCharged(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "ops", Role: ledger.RolePlatformOperator, BalanceMinutes: 1})
	_ = store.InsertActiveCall(context.Background(), "CA1", "ops", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusCompleted, 600)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	if a, _ := store.GetAccount(context.Background(), "ops"); a.BalanceMinutes != 1 {
		t.Fatalf("operator account must not be charged, balance %v", a.BalanceMinutes)
	}
	recs, _ := store.ListUsage(context.Background(), "ops", time.Time{}, time.Now().Add(time.Hour))
	if len(recs) != 1 || recs[0].CostMinutes != 0 {
		t.Fatalf("expected zero-cost usage record, got %+v", recs)
	}
}

func TestSweep_LowBalanceAlertIsCooldownGated(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5, LowBalanceThreshold: 10})
	provider := newFakeProvider()
	m := newTestMonitor(store, provider)

	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())
	provider.set("CA1", telephony.StatusCompleted, 60)
	m.Sweep(context.Background())

	ns, _ := store.ListNotifications(context.Background(), "acct-1")
	if len(ns) != 1 || ns[0].Type != ledger.NotificationLowBalance {
		t.Fatalf("expected one low_balance notification, got %+v", ns)
	}

	// A second billed call inside the cooldown window stays silent.
	_ = store.InsertActiveCall(context.Background(), "CA2", "acct-1", ledger.DirectionInbound, time.Now())
	provider.set("CA2", telephony.StatusCompleted, 60)
	m.Sweep(context.Background())

	ns, _ = store.ListNotifications(context.Background(), "acct-1")
	if len(ns) != 1 {
		t.Fatalf("expected cooldown to suppress the second alert, got %d notifications", len(ns))
	}
}

type fakeLineReleaser struct {
	mu       sync.Mutex
	released map[string]int
}

func (f *fakeLineReleaser) ReleaseLine(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released == nil {
		f.released = make(map[string]int)
	}
	f.released[accountID]++
	return nil
}

func (f *fakeLineReleaser) count(accountID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[accountID]
}

func TestSweep_ReleasesLineReservationOnFinalize(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA-in", "acct-1", ledger.DirectionInbound, time.Now().Add(-time.Minute))
	_ = store.InsertActiveCall(context.Background(), "CA-out", "acct-1", ledger.DirectionOutbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA-in", telephony.StatusCompleted, 60)
	provider.set("CA-out", telephony.StatusCompleted, 60)

	lines := &fakeLineReleaser{}
	m := New(store, provider, lines, 10*time.Second, 1.0, 24*time.Hour, nil)
	m.Sweep(context.Background())

	// Only the inbound call held a reservation; the outbound dialer
	// call is accounted campaign-side.
	if got := lines.count("acct-1"); got != 1 {
		t.Fatalf("expected exactly one line release, got %d", got)
	}
}

func TestSweep_ReleasesLineReservationOnUnknownCall(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA-gone", "acct-1", ledger.DirectionInbound, time.Now())

	lines := &fakeLineReleaser{}
	m := New(store, newFakeProvider(), lines, 10*time.Second, 1.0, 24*time.Hour, nil)
	m.Sweep(context.Background())

	if got := lines.count("acct-1"); got != 1 {
		t.Fatalf("expected the abandoned slot released, got %d releases", got)
	}
}

func TestSweep_FailedCallBillsZeroMinutes(t *testing.T) {
	store := ledger.NewMemoryStore()
	seedAccount(store, ledger.Account{ID: "acct-1", BalanceMinutes: 5})
	_ = store.InsertActiveCall(context.Background(), "CA1", "acct-1", ledger.DirectionInbound, time.Now())

	provider := newFakeProvider()
	provider.set("CA1", telephony.StatusNoAnswer, 0)

	m := newTestMonitor(store, provider)
	m.Sweep(context.Background())

	if calls, _ := store.ListActiveCalls(context.Background()); len(calls) != 0 {
		t.Fatalf("no-answer call must be finalized immediately")
	}
	if a, _ := store.GetAccount(context.Background(), "acct-1"); a.BalanceMinutes != 5 {
		t.Fatalf("no-answer must not charge, balance %v", a.BalanceMinutes)
	}
}
