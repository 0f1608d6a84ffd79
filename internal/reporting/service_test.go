package reporting

import (
	"context"
	"testing"
	"time"

	"call-platform/internal/ledger"
)

func TestUsageSummary_AccountIsolation(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	store.PutAccount(ledger.Account{ID: "a1", Role: ledger.RoleTenantAdmin, BalanceMinutes: 7})
	store.PutAccount(ledger.Account{ID: "a2", Role: ledger.RoleTenantAdmin})
	seedUsage(t, store, ledger.UsageRecord{AccountID: "a1", CallID: "c1", MinutesBilled: 2, CostMinutes: 2, TerminalStatus: "completed", CreatedAt: now})
	seedUsage(t, store, ledger.UsageRecord{AccountID: "a2", CallID: "c2", MinutesBilled: 9, CostMinutes: 9, TerminalStatus: "completed", CreatedAt: now})

	svc := NewService(store)
	out, err := svc.UsageSummary(context.Background(), UsageSummaryRequest{
		AccountID: "a1",
		Range:     TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalMinutesBilled != 2 {
		t.Fatalf("expected only a1 usage, got %+v", out)
	}
	if out.BalanceMinutes != 5 {
		t.Fatalf("expected balance 5 after the 2 minute deduction, got %v", out.BalanceMinutes)
	}
}

func TestUsageSummary_AggregatesByStatusAndDirection(t *testing.T) {
	store := ledger.NewMemoryStore()
	now := time.Unix(1700000000, 0).UTC()
	store.PutAccount(ledger.Account{ID: "a1", Role: ledger.RoleTenantAdmin})
	seedUsage(t, store, ledger.UsageRecord{AccountID: "a1", CallID: "c1", MinutesBilled: 3, CostMinutes: 3, Direction: ledger.DirectionInbound, TerminalStatus: "completed", RecordingURL: "https://r/1", CreatedAt: now})
	seedUsage(t, store, ledger.UsageRecord{AccountID: "a1", CallID: "c2", MinutesBilled: 1, CostMinutes: 1.5, Direction: ledger.DirectionOutbound, TerminalStatus: "completed", CreatedAt: now})
	seedUsage(t, store, ledger.UsageRecord{AccountID: "a1", CallID: "c3", Direction: ledger.DirectionOutbound, TerminalStatus: "no-answer", CreatedAt: now})
	seedUsage(t, store, ledger.UsageRecord{AccountID: "a1", CallID: "c4", Direction: ledger.DirectionInbound, TerminalStatus: "busy", CreatedAt: now})

	svc := NewService(store)
	out, err := svc.UsageSummary(context.Background(), UsageSummaryRequest{
		AccountID: "a1",
		Range:     TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)},
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.CompletedCalls != 2 || out.NoAnswerCalls != 1 || out.BusyCalls != 1 {
		t.Fatalf("unexpected status counts: %+v", out)
	}
	if out.InboundCalls != 2 || out.OutboundCalls != 2 || out.RecordedCalls != 1 {
		t.Fatalf("unexpected direction counts: %+v", out)
	}
	if out.TotalMinutesBilled != 4 || out.TotalCostMinutes != 4.5 {
		t.Fatalf("unexpected totals: %+v", out)
	}
}

func TestUsageSummary_RejectsBadRange(t *testing.T) {
	svc := NewService(ledger.NewMemoryStore())
	now := time.Now()
	_, err := svc.UsageSummary(context.Background(), UsageSummaryRequest{
		AccountID: "a1",
		Range:     TimeRange{From: now, To: now.Add(-time.Hour)},
	})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCampaignProgress_ScopedToOwner(t *testing.T) {
	store := ledger.NewMemoryStore()
	_ = store.UpsertCampaign(context.Background(), ledger.Campaign{
		ID: "camp-1", AccountID: "a1", Name: "spring", Status: ledger.CampaignInProgress,
		TotalContacts: 10, CompletedCalls: 4, FailedCalls: 1,
	})

	svc := NewService(store)
	p, err := svc.CampaignProgress(context.Background(), "a1", "camp-1")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if p.Remaining != 5 || p.ProgressPercent != 50 {
		t.Fatalf("unexpected progress: %+v", p)
	}

	if _, err := svc.CampaignProgress(context.Background(), "a2", "camp-1"); err != ledger.ErrNotFound {
		t.Fatalf("expected foreign campaign hidden, got %v", err)
	}
}

func seedUsage(t *testing.T, store *ledger.MemoryStore, rec ledger.UsageRecord) {
	t.Helper()
	if _, err := store.GetAccount(context.Background(), rec.AccountID); err != nil {
		store.PutAccount(ledger.Account{ID: rec.AccountID, Role: ledger.RoleTenantAdmin})
	}
	if _, _, err := store.FinalizeCall(context.Background(), rec); err != nil {
		t.Fatalf("seed usage: %v", err)
	}
}
