package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests and early development.
// Semantics match the Postgres implementation, including the conditional
// admission and the idempotent finalize.
//
// NOTE: This is not intended for production; use the Postgres store.
type MemoryStore struct {
	mu            sync.Mutex
	accounts      map[string]*Account
	activeCalls   map[string]ActiveCall
	usage         map[string]UsageRecord // keyed by call id
	notifications []Notification
	campaigns     map[string]Campaign
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*Account),
		activeCalls: make(map[string]ActiveCall),
		usage:       make(map[string]UsageRecord),
		campaigns:   make(map[string]Campaign),
	}
}

// PutAccount seeds or replaces an account row.
func (s *MemoryStore) PutAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := a
	s.accounts[a.ID] = &cp
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *a, nil
}

func (s *MemoryStore) FindAccountByNumber(ctx context.Context, number string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.PhoneNumber == number {
			return *a, nil
		}
	}
	return Account{}, ErrNotFound
}

func (s *MemoryStore) BillableAccount(ctx context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.billableLocked(id)
}

func (s *MemoryStore) billableLocked(id string) (Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	if a.BillingExempt() || a.ParentID == "" {
		return *a, nil
	}
	p, ok := s.accounts[a.ParentID]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *p, nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AdjustBalance(ctx context.Context, id string, delta float64) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return 0, ErrNotFound
	}
	a.BalanceMinutes += delta
	return a.BalanceMinutes, nil
}

func (s *MemoryStore) StampAlert(ctx context.Context, accountID string, kind AlertKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	t := at
	switch kind {
	case AlertLowBalance:
		a.LastLowBalanceAlertAt = &t
	case AlertExpiry:
		a.LastExpiryAlertAt = &t
	default:
		return ErrInvalidArgument
	}
	return nil
}

func (s *MemoryStore) CountActiveCalls(ctx context.Context, accountID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countActiveLocked(accountID), nil
}

func (s *MemoryStore) countActiveLocked(accountID string) int {
	n := 0
	for _, c := range s.activeCalls {
		if c.AccountID == accountID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) AdmitActiveCall(ctx context.Context, callID, accountID string, limit int, startedAt time.Time) (bool, error) {
	if callID == "" || accountID == "" || limit <= 0 {
		return false, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activeCalls[callID]; exists {
		// Duplicate webhook delivery; already admitted.
		return true, nil
	}
	if s.countActiveLocked(accountID) >= limit {
		return false, nil
	}
	s.activeCalls[callID] = ActiveCall{CallID: callID, AccountID: accountID, Direction: DirectionInbound, StartedAt: startedAt}
	return true, nil
}

func (s *MemoryStore) InsertActiveCall(ctx context.Context, callID, accountID string, direction CallDirection, startedAt time.Time) error {
	if callID == "" || accountID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.activeCalls[callID]; exists {
		return nil
	}
	s.activeCalls[callID] = ActiveCall{CallID: callID, AccountID: accountID, Direction: direction, StartedAt: startedAt}
	return nil
}

func (s *MemoryStore) DeleteActiveCall(ctx context.Context, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeCalls, callID)
	return nil
}

func (s *MemoryStore) ListActiveCalls(ctx context.Context) ([]ActiveCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActiveCall, 0, len(s.activeCalls))
	for _, c := range s.activeCalls {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) FinalizeCall(ctx context.Context, rec UsageRecord) (bool, float64, error) {
	if rec.CallID == "" || rec.AccountID == "" {
		return false, 0, ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Resolve the account before touching the slot; the Postgres store
	// rolls the whole transaction back on a missing account.
	a, ok := s.accounts[rec.AccountID]
	if !ok {
		return false, 0, ErrNotFound
	}

	delete(s.activeCalls, rec.CallID)
	if _, dup := s.usage[rec.CallID]; dup {
		return false, a.BalanceMinutes, nil
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	s.usage[rec.CallID] = rec
	a.BalanceMinutes -= rec.CostMinutes
	return true, a.BalanceMinutes, nil
}

func (s *MemoryStore) ListUsage(ctx context.Context, accountID string, from, to time.Time) ([]UsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []UsageRecord
	for _, r := range s.usage {
		if accountID != "" && r.AccountID != accountID {
			continue
		}
		if !from.IsZero() && r.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && r.CreatedAt.After(to) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AppendNotification(ctx context.Context, n Notification) error {
	if n.AccountID == "" || n.Type == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	s.notifications = append(s.notifications, n)
	return nil
}

func (s *MemoryStore) ListNotifications(ctx context.Context, accountID string) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Notification
	for _, n := range s.notifications {
		if accountID == "" || n.AccountID == accountID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertCampaign(ctx context.Context, c Campaign) error {
	if c.ID == "" || c.AccountID == "" {
		return ErrInvalidArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[c.ID] = c
	return nil
}

func (s *MemoryStore) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) DeleteCampaign(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.campaigns, id)
	return nil
}

func (s *MemoryStore) ListCampaigns(ctx context.Context, accountID string) ([]Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Campaign
	for _, c := range s.campaigns {
		if accountID == "" || c.AccountID == accountID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
