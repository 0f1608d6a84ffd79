package dialer

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"call-platform/internal/ledger"
	"call-platform/internal/telephony"
)

// Per-attempt result statuses persisted into Campaign.CallResults.
const (
	ResultCompleted      = "completed"
	ResultTimeout        = "timeout"
	ResultFailed         = "failed"
	ResultRetryScheduled = "retry-scheduled"
)

// Options tune dial attempt polling and caller identity. Zero values get
// production defaults from (Options).withDefaults.
type Options struct {
	// From is the caller id presented on outbound dials. Required.
	From string

	// FlowRef is the provider-side flow the answered call is connected to.
	FlowRef string

	// PollInterval is the delay between status polls of one attempt.
	PollInterval time.Duration

	// MaxPollWait bounds how long one attempt is polled before it is
	// classified as a timeout (recorded distinctly, treated as success
	// for line-release purposes).
	MaxPollWait time.Duration

	// IdleWait is the loop's re-evaluation delay when no line is free or
	// nothing is ready to dial.
	IdleWait time.Duration
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.MaxPollWait <= 0 {
		o.MaxPollWait = 2 * time.Minute
	}
	if o.IdleWait <= 0 {
		o.IdleWait = 250 * time.Millisecond
	}
	return o
}

// pendingItem is one contact ready to dial, with the attempt number the
// next dial will be.
type pendingItem struct {
	contact ledger.Contact
	attempt int
}

// holdItem is a contact waiting out its retry delay.
type holdItem struct {
	pendingItem
	due time.Time
}

// settlement is the outcome of one finished dial attempt.
type settlement struct {
	item            pendingItem
	status          string
	callID          string
	durationSeconds int
}

// Runner drives a single campaign to completion. All campaign state is
// owned by the run loop goroutine; attempt goroutines only report back
// through the settlements channel.
type Runner struct {
	store    ledger.Store
	provider telephony.Provider
	log      *slog.Logger
	opts     Options
	clock    func() time.Time

	campaignID string

	// cancel aborts the loop. In-flight attempts are allowed to finish
	// on attemptCtx, which outlives the loop's own context.
	cancel     context.CancelFunc
	attemptCtx context.Context

	done chan struct{}
}

func newRunner(store ledger.Store, provider telephony.Provider, campaignID string, opts Options, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		store:      store,
		provider:   provider,
		log:        log.With("campaign_id", campaignID),
		opts:       opts.withDefaults(),
		clock:      time.Now,
		campaignID: campaignID,
		done:       make(chan struct{}),
	}
}

// start launches the run loop. root outlives abort so that in-flight
// dials can settle after the operator pauses the campaign.
func (r *Runner) start(root context.Context) {
	loopCtx, cancel := context.WithCancel(root)
	r.cancel = cancel
	r.attemptCtx = context.WithoutCancel(root)
	go func() {
		defer close(r.done)
		defer cancel()
		r.run(loopCtx)
	}()
}

// abort stops the loop at the next checkpoint. Idempotent.
func (r *Runner) abort() {
	if r.cancel != nil {
		r.cancel()
	}
}

// wait blocks until the run loop has exited.
func (r *Runner) wait() { <-r.done }

func (r *Runner) run(ctx context.Context) {
	c, err := r.store.GetCampaign(context.WithoutCancel(ctx), r.campaignID)
	if err != nil {
		r.log.Error("campaign load failed", "err", err)
		return
	}

	pending := remaining(c)
	var hold []holdItem
	active := 0
	// Buffered so a late settlement never blocks an attempt goroutine
	// after the loop has exited.
	settlements := make(chan settlement, lines(c))

	// nextFirstAt paces first attempts only; retries bypass it. The
	// interval is measured from the prior first attempt's settlement,
	// not its dispatch, so a call that outlasts the interval still
	// leaves a full gap before the next first dial.
	var nextFirstAt time.Time
	persistFailures := 0

	onSettle := func(s settlement) {
		active--
		if s.item.attempt == 1 && c.CallIntervalSeconds > 0 {
			nextFirstAt = r.clock().Add(time.Duration(c.CallIntervalSeconds) * time.Second)
		}
		if retry, due := r.settle(&c, s); retry {
			hold = append(hold, holdItem{
				pendingItem: pendingItem{contact: s.item.contact, attempt: s.item.attempt + 1},
				due:         due,
			})
		}
	}

	finish := func(status ledger.CampaignStatus) {
		c.Status = status
		c.UpdatedAt = r.clock().UTC()
		if err := r.store.UpsertCampaign(context.WithoutCancel(ctx), c); err != nil {
			r.log.Error("final campaign persist failed", "status", string(status), "err", err)
		}
		r.log.Info("campaign stopped", "status", string(status),
			"completed", c.CompletedCalls, "failed", c.FailedCalls)
	}

	for {
		aborted := ctx.Err() != nil
		if aborted && active == 0 {
			finish(ledger.CampaignPaused)
			return
		}

		if !aborted && active == 0 && len(pending) == 0 && len(hold) == 0 {
			finish(ledger.CampaignCompleted)
			return
		}

		now := r.clock()

		windowClosed := false
		if w, ok := windowOf(c); ok && !w.open(now) {
			// No new dials outside the window; in-flight attempts are
			// drained first, then the loop sleeps in short interruptible
			// increments until the next opening.
			windowClosed = true
			if !aborted && active == 0 {
				if c.Status != ledger.CampaignPausedDaily {
					c.Status = ledger.CampaignPausedDaily
					c.UpdatedAt = now.UTC()
					r.persist(ctx, &c, &persistFailures)
					r.log.Info("daily window closed, campaign sleeping",
						"until", w.nextOpen(now).Format(time.RFC3339))
				}
				sleepCtx(ctx, r.opts.IdleWait)
				continue
			}
		} else if c.Status == ledger.CampaignPausedDaily {
			c.Status = ledger.CampaignInProgress
			c.UpdatedAt = now.UTC()
			r.persist(ctx, &c, &persistFailures)
			r.log.Info("daily window open, campaign resumed")
		}

		// Promote due retries, ordered by due time.
		sort.Slice(hold, func(i, j int) bool { return hold[i].due.Before(hold[j].due) })
		for len(hold) > 0 && !hold[0].due.After(now) {
			pending = append(pending, hold[0].pendingItem)
			hold = hold[1:]
		}

		dispatched := false
		if !aborted && !windowClosed && active < lines(c) {
			// First attempts honor the pacing interval and input order;
			// due retries bypass pacing entirely.
			idx := -1
			for i, it := range pending {
				if it.attempt > 1 || !now.Before(nextFirstAt) {
					idx = i
					break
				}
			}
			if idx >= 0 {
				item := pending[idx]
				pending = append(pending[:idx], pending[idx+1:]...)
				active++
				if item.attempt == 1 && c.CallIntervalSeconds > 0 {
					// Pace parallel line fills too; superseded by the later
					// settlement anchor once this attempt finishes.
					nextFirstAt = now.Add(time.Duration(c.CallIntervalSeconds) * time.Second)
				}
				go func(item pendingItem) {
					settlements <- r.dial(c.AccountID, item)
				}(item)
				dispatched = true
			}
		}
		if dispatched {
			continue
		}

		if aborted {
			// Drain in-flight attempts; they poll on attemptCtx and are
			// bounded by MaxPollWait.
			s := <-settlements
			onSettle(s)
			r.persist(ctx, &c, &persistFailures)
			continue
		}

		select {
		case s := <-settlements:
			onSettle(s)
			if !r.persist(ctx, &c, &persistFailures) {
				finish(ledger.CampaignFailed)
				return
			}
		case <-ctx.Done():
			// Next iteration observes the abort and drains.
		case <-time.After(r.opts.IdleWait):
		}
	}
}

// settle folds one attempt outcome into the campaign record and reports
// whether the contact goes back on retry hold.
func (r *Runner) settle(c *ledger.Campaign, s settlement) (retry bool, due time.Time) {
	now := r.clock()
	res := ledger.CallResult{
		Phone:           s.item.contact.Phone,
		Status:          s.status,
		Attempts:        s.item.attempt,
		CallID:          s.callID,
		DurationSeconds: s.durationSeconds,
		LastAttemptAt:   now.UTC(),
	}

	switch s.status {
	case ResultCompleted, ResultTimeout:
		c.CompletedCalls++
	default:
		if s.item.attempt <= c.MaxRetries {
			res.Status = ResultRetryScheduled
			retry = true
			due = now.Add(time.Duration(c.RetryIntervalMinutes) * time.Minute)
		} else {
			res.Status = ResultFailed
			c.FailedCalls++
		}
	}

	upsertResult(c, res)
	c.UpdatedAt = now.UTC()

	r.log.Info("dial attempt settled",
		"phone", s.item.contact.Phone,
		"attempt", s.item.attempt,
		"status", res.Status,
		"call_id", s.callID,
	)
	return retry, due
}

// persist writes the campaign record, tolerating transient storage
// faults. Three consecutive failures report false, which fails the
// campaign (recorded results are preserved in memory for the final
// persist attempt).
func (r *Runner) persist(ctx context.Context, c *ledger.Campaign, failures *int) bool {
	if err := r.store.UpsertCampaign(context.WithoutCancel(ctx), *c); err != nil {
		*failures++
		r.log.Warn("campaign persist failed", "consecutive", *failures, "err", err)
		return *failures < 3
	}
	*failures = 0
	return true
}

// dial places one outbound call and polls it to a terminal state or the
// poll bound. Runs on attemptCtx so operator pauses do not kill calls
// already on the wire.
func (r *Runner) dial(accountID string, item pendingItem) settlement {
	ctx := r.attemptCtx
	s := settlement{item: item}

	callID, err := r.provider.PlaceCall(ctx, r.opts.From, item.contact.Phone, r.opts.FlowRef)
	if err != nil {
		r.log.Warn("outbound dial failed", "phone", item.contact.Phone, "err", err)
		s.status = ResultFailed
		return s
	}
	s.callID = callID

	// Register the slot so the lifecycle monitor meters this call even
	// if polling below times out.
	if err := r.store.InsertActiveCall(ctx, callID, accountID, ledger.DirectionOutbound, r.clock()); err != nil {
		r.log.Warn("active call registration failed", "call_id", callID, "err", err)
	}

	deadline := r.clock().Add(r.opts.MaxPollWait)
	for {
		if !sleepCtx(ctx, r.opts.PollInterval) {
			s.status = ResultTimeout
			return s
		}
		st, err := r.provider.GetCallStatus(ctx, callID)
		if err != nil {
			if errors.Is(err, telephony.ErrCallNotFound) {
				s.status = ResultFailed
				return s
			}
			r.log.Warn("status poll failed", "call_id", callID, "err", err)
		} else if st.Status.Terminal() {
			s.durationSeconds = st.DurationSeconds
			if st.Status == telephony.StatusCompleted {
				s.status = ResultCompleted
			} else {
				s.status = ResultFailed
			}
			return s
		}
		if r.clock().After(deadline) {
			// Never reached terminal within the bound. The line is
			// released and the monitor finishes reconciliation.
			s.status = ResultTimeout
			return s
		}
	}
}

// remaining computes the contacts a (re)started campaign still owes:
// everyone whose last known result is not a first-attempt success.
func remaining(c ledger.Campaign) []pendingItem {
	var out []pendingItem
	for _, contact := range c.Contacts {
		res, ok := c.ResultFor(contact.Phone)
		if ok && res.Status == ResultCompleted && res.Attempts == 1 {
			continue
		}
		attempt := 1
		if ok {
			attempt = res.Attempts + 1
		}
		out = append(out, pendingItem{contact: contact, attempt: attempt})
	}
	return out
}

func upsertResult(c *ledger.Campaign, res ledger.CallResult) {
	for i := range c.CallResults {
		if c.CallResults[i].Phone == res.Phone {
			c.CallResults[i] = res
			return
		}
	}
	c.CallResults = append(c.CallResults, res)
}

func lines(c ledger.Campaign) int {
	if c.ConcurrentLines < 1 {
		return 1
	}
	return c.ConcurrentLines
}

// sleepCtx sleeps for d or until ctx is canceled; reports whether the
// full duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
