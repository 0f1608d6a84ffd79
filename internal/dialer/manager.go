package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"call-platform/internal/ledger"
	"call-platform/internal/telephony"
)

var (
	// ErrNotConfigured blocks campaign launch when the telephony caller
	// identity is missing. Other campaigns are unaffected.
	ErrNotConfigured = errors.New("dialer: outbound caller number not configured")

	ErrAlreadyRunning = errors.New("dialer: campaign is already running")
	ErrNotRunning     = errors.New("dialer: campaign is not running")
	ErrFinished       = errors.New("dialer: campaign already completed")
)

// Manager owns one Runner per in-progress campaign. Campaigns never
// share mutable state; each runner carries its own queue, line count and
// abort signal.
type Manager struct {
	store    ledger.Store
	provider telephony.Provider
	log      *slog.Logger
	opts     Options

	root context.Context
	stop context.CancelFunc

	mu      sync.Mutex
	runners map[string]*Runner
}

func NewManager(store ledger.Store, provider telephony.Provider, opts Options, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	root, stop := context.WithCancel(context.Background())
	return &Manager{
		store:    store,
		provider: provider,
		log:      log.With("component", "dialer"),
		opts:     opts.withDefaults(),
		root:     root,
		stop:     stop,
		runners:  make(map[string]*Runner),
	}
}

// Launch validates, persists and starts a new campaign. The returned
// record carries the assigned id and initial status.
func (m *Manager) Launch(ctx context.Context, c ledger.Campaign) (ledger.Campaign, error) {
	if m.opts.From == "" {
		return ledger.Campaign{}, ErrNotConfigured
	}
	if c.AccountID == "" {
		return ledger.Campaign{}, fmt.Errorf("%w: account id required", ledger.ErrInvalidArgument)
	}
	if len(c.Contacts) == 0 {
		return ledger.Campaign{}, fmt.Errorf("%w: contact list is empty", ledger.ErrInvalidArgument)
	}
	for _, contact := range c.Contacts {
		if contact.Phone == "" {
			return ledger.Campaign{}, fmt.Errorf("%w: contact without phone number", ledger.ErrInvalidArgument)
		}
	}
	if c.ConcurrentLines < 1 {
		c.ConcurrentLines = 1
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}

	c.ID = uuid.NewString()
	c.Status = ledger.CampaignInProgress
	c.TotalContacts = len(c.Contacts)
	c.CallResults = nil
	c.CompletedCalls = 0
	c.FailedCalls = 0

	if err := m.store.UpsertCampaign(ctx, c); err != nil {
		return ledger.Campaign{}, fmt.Errorf("persist campaign: %w", err)
	}
	if err := m.startRunner(c.ID); err != nil {
		return ledger.Campaign{}, err
	}
	m.log.Info("campaign launched", "campaign_id", c.ID, "account_id", c.AccountID,
		"contacts", c.TotalContacts, "lines", c.ConcurrentLines)
	return c, nil
}

// Pause aborts a running campaign. In-flight dial attempts are drained,
// not killed; the runner persists status "paused" when it exits. A
// campaign with no live runner but a stale running status (crash
// recovery) is stamped paused directly.
func (m *Manager) Pause(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.runners[id]
	m.mu.Unlock()
	if ok {
		r.abort()
		return nil
	}

	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return err
	}
	switch c.Status {
	case ledger.CampaignInProgress, ledger.CampaignPausedDaily:
		c.Status = ledger.CampaignPaused
		return m.store.UpsertCampaign(ctx, c)
	default:
		return ErrNotRunning
	}
}

// Resume restarts a paused or failed campaign. The remaining contact set
// is everyone whose last result is not a first-attempt success.
func (m *Manager) Resume(ctx context.Context, id string) (ledger.Campaign, error) {
	m.mu.Lock()
	_, running := m.runners[id]
	m.mu.Unlock()
	if running {
		return ledger.Campaign{}, ErrAlreadyRunning
	}

	c, err := m.store.GetCampaign(ctx, id)
	if err != nil {
		return ledger.Campaign{}, err
	}
	if c.Status == ledger.CampaignCompleted {
		return ledger.Campaign{}, ErrFinished
	}

	c.Status = ledger.CampaignInProgress
	if err := m.store.UpsertCampaign(ctx, c); err != nil {
		return ledger.Campaign{}, err
	}
	if err := m.startRunner(id); err != nil {
		return ledger.Campaign{}, err
	}
	m.log.Info("campaign resumed", "campaign_id", id)
	return c, nil
}

// Delete aborts the campaign if running, waits for the runner to drain,
// and removes the record.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	r, ok := m.runners[id]
	m.mu.Unlock()
	if ok {
		r.abort()
		r.wait()
	}
	return m.store.DeleteCampaign(ctx, id)
}

func (m *Manager) Get(ctx context.Context, id string) (ledger.Campaign, error) {
	return m.store.GetCampaign(ctx, id)
}

func (m *Manager) List(ctx context.Context, accountID string) ([]ledger.Campaign, error) {
	return m.store.ListCampaigns(ctx, accountID)
}

// Shutdown aborts every runner and blocks until all have exited.
func (m *Manager) Shutdown() {
	m.stop()
	m.mu.Lock()
	runners := make([]*Runner, 0, len(m.runners))
	for _, r := range m.runners {
		runners = append(runners, r)
	}
	m.mu.Unlock()
	for _, r := range runners {
		r.wait()
	}
}

func (m *Manager) startRunner(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runners[id]; exists {
		return ErrAlreadyRunning
	}
	r := newRunner(m.store, m.provider, id, m.opts, m.log)
	m.runners[id] = r
	r.start(m.root)
	go func() {
		r.wait()
		m.mu.Lock()
		if m.runners[id] == r {
			delete(m.runners, id)
		}
		m.mu.Unlock()
	}()
	return nil
}
