package reporting

import (
	"context"
	"errors"

	"call-platform/internal/ledger"
	"call-platform/internal/telephony"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Service serves read-only summaries over usage records and campaigns.
// Aggregation happens here, not in the store; the row counts involved
// are operator-report sized.
type Service struct {
	store ledger.Store
}

func NewService(store ledger.Store) *Service { return &Service{store: store} }

func (s *Service) UsageSummary(ctx context.Context, req UsageSummaryRequest) (UsageSummary, error) {
	if req.AccountID == "" {
		return UsageSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return UsageSummary{}, ErrInvalidRequest
	}

	acct, err := s.store.GetAccount(ctx, req.AccountID)
	if err != nil {
		return UsageSummary{}, err
	}
	rows, err := s.store.ListUsage(ctx, req.AccountID, req.Range.From, req.Range.To)
	if err != nil {
		return UsageSummary{}, err
	}

	out := UsageSummary{AccountID: req.AccountID, BalanceMinutes: acct.BalanceMinutes}
	for _, rec := range rows {
		out.TotalCalls++
		out.TotalMinutesBilled += rec.MinutesBilled
		out.TotalCostMinutes += rec.CostMinutes
		if rec.RecordingURL != "" {
			out.RecordedCalls++
		}
		switch rec.Direction {
		case ledger.DirectionOutbound:
			out.OutboundCalls++
		default:
			out.InboundCalls++
		}
		switch telephony.Status(rec.TerminalStatus) {
		case telephony.StatusCompleted:
			out.CompletedCalls++
		case telephony.StatusFailed:
			out.FailedCalls++
		case telephony.StatusNoAnswer:
			out.NoAnswerCalls++
		case telephony.StatusBusy:
			out.BusyCalls++
		case telephony.StatusCanceled:
			out.CanceledCalls++
		}
	}
	return out, nil
}

// CampaignProgress reports one campaign, scoped to the owning account.
func (s *Service) CampaignProgress(ctx context.Context, accountID, campaignID string) (CampaignProgress, error) {
	if accountID == "" || campaignID == "" {
		return CampaignProgress{}, ErrInvalidRequest
	}
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return CampaignProgress{}, err
	}
	if c.AccountID != accountID {
		return CampaignProgress{}, ledger.ErrNotFound
	}
	return progressOf(c), nil
}

// ListCampaignProgress reports every campaign owned by the account.
func (s *Service) ListCampaignProgress(ctx context.Context, accountID string) ([]CampaignProgress, error) {
	if accountID == "" {
		return nil, ErrInvalidRequest
	}
	campaigns, err := s.store.ListCampaigns(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]CampaignProgress, 0, len(campaigns))
	for _, c := range campaigns {
		out = append(out, progressOf(c))
	}
	return out, nil
}

func progressOf(c ledger.Campaign) CampaignProgress {
	settled := c.CompletedCalls + c.FailedCalls
	p := CampaignProgress{
		CampaignID:     c.ID,
		Name:           c.Name,
		Status:         string(c.Status),
		TotalContacts:  c.TotalContacts,
		CompletedCalls: c.CompletedCalls,
		FailedCalls:    c.FailedCalls,
	}
	if remaining := c.TotalContacts - settled; remaining > 0 {
		p.Remaining = remaining
	}
	if c.TotalContacts > 0 {
		p.ProgressPercent = 100 * float64(settled) / float64(c.TotalContacts)
	}
	return p
}
