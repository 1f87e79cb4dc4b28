package campaign

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"appointment-confirmer/internal/bridge"
	"appointment-confirmer/internal/config"
	"appointment-confirmer/internal/history"
	"appointment-confirmer/internal/leads"
	"appointment-confirmer/internal/telephony"
)

var ErrAlreadyRunning = errors.New("campaign: a run is already in progress")

// Endpoints are the public callback URLs handed to the telephony provider
// for every placed call.
type Endpoints struct {
	VoiceURL             string
	StatusCallbackURL    string
	RecordingCallbackURL string
}

// Stats is a point-in-time snapshot of the current or last run.
type Stats struct {
	Running       bool `json:"running"`
	TotalContacts int  `json:"totalContacts"`
	Remaining     int  `json:"remaining"`
	CallsMade     int  `json:"callsMade"`
	Skipped       int  `json:"skipped"`
	Errors        int  `json:"errors"`

	// CurrentRecordID identifies the contact being dialed right now.
	CurrentRecordID string `json:"currentRecordId,omitempty"`
	Instructions    string `json:"instructions"`
	ElapsedMinutes  int    `json:"elapsedMinutes"`

	Confirmed   int `json:"confirmed"`
	Rescheduled int `json:"rescheduled"`
	Cancelled   int `json:"cancelled"`
	NoAnswer    int `json:"noAnswer"`

	RetryQueued int `json:"retryQueued"`

	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Scheduler drives one campaign run at a time: it walks the contact list,
// normalizes numbers, places calls through the provider, and paces
// placements so the agent account is never flooded. Call outcomes flow
// back in through OnCallStatus and RecordDisposition.
type Scheduler struct {
	cfg      config.CampaignConfig
	provider telephony.Provider
	from     string
	eps      Endpoints
	pending  *bridge.PendingStore
	store    *history.Store
	retry    *RetryQueue
	guard    Guard
	log      *slog.Logger

	clock func() time.Time
	// sleep waits for d unless ctx is cancelled first. Injected by tests.
	sleep func(ctx context.Context, d time.Duration) bool

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	instructions string
	stats        Stats
	placed       map[string]leads.Contact
}

func NewScheduler(cfg config.CampaignConfig, provider telephony.Provider, from string, eps Endpoints,
	pending *bridge.PendingStore, store *history.Store, retry *RetryQueue, guard Guard, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		provider: provider,
		from:     from,
		eps:      eps,
		pending:  pending,
		store:    store,
		retry:    retry,
		guard:    guard,
		log:      log,
		clock:    time.Now,
		sleep:    sleepCtx,
		placed:   make(map[string]leads.Contact),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Start launches a run over the given contacts. The free-text instructions
// ride along to the agent on every call of the run. Only one run may be in
// progress; a second Start is rejected rather than queued.
func (s *Scheduler) Start(contacts []leads.Contact, instructions string) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.instructions = instructions
	now := s.clock()
	s.stats = Stats{
		Running:       true,
		TotalContacts: len(contacts),
		Remaining:     len(contacts),
		Instructions:  instructions,
		StartedAt:     &now,
	}
	s.placed = make(map[string]leads.Contact)
	s.mu.Unlock()

	go s.run(ctx, contacts)
	return nil
}

// Stop cancels the in-progress run. Calls already placed keep going.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Running reports whether a run is in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats snapshots the current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.RetryQueued = s.retry.Len()
	if out.StartedAt != nil {
		end := s.clock()
		if out.FinishedAt != nil {
			end = *out.FinishedAt
		}
		out.ElapsedMinutes = int(end.Sub(*out.StartedAt).Minutes())
	}
	return out
}

func (s *Scheduler) run(ctx context.Context, contacts []leads.Contact) {
	defer s.finish()

	s.log.Info("campaign run started", "contacts", len(contacts))
	for i, c := range contacts {
		if ctx.Err() != nil {
			s.log.Info("campaign run stopped", "dialed", i)
			return
		}
		s.mu.Lock()
		s.stats.CurrentRecordID = c.RecordID
		s.mu.Unlock()

		s.dialOne(ctx, c)

		s.mu.Lock()
		s.stats.Remaining--
		s.stats.CurrentRecordID = ""
		s.mu.Unlock()
	}
	s.log.Info("campaign run finished", "contacts", len(contacts))
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	s.running = false
	s.stats.Running = false
	now := s.clock()
	s.stats.FinishedAt = &now
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
}

func (s *Scheduler) dialOne(ctx context.Context, c leads.Contact) {
	number, err := NormalizePhone(c.DialNumber())
	if err != nil {
		s.log.Warn("skipping contact", "record_id", c.RecordID, "error", err)
		s.store.Append(skippedRecord(c, err.Error()))
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		s.sleep(ctx, s.cfg.SkipDelay)
		return
	}

	if !s.waitForSlot(ctx) {
		return
	}

	s.mu.Lock()
	instructions := s.instructions
	s.mu.Unlock()
	token := s.pending.Register(c, instructions)
	res, err := s.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                   number,
		From:                 s.from,
		ConnectURL:           s.connectURL(c.RecordID, token),
		StatusCallbackURL:    s.eps.StatusCallbackURL,
		Record:               true,
		RecordingCallbackURL: s.eps.RecordingCallbackURL,
	})
	if err != nil {
		s.pending.Drop(token)
		s.releaseSlot()
		s.log.Error("placing call failed", "record_id", c.RecordID, "error", err)
		s.store.Append(errorRecord(c, err.Error()))
		s.mu.Lock()
		s.stats.Errors++
		s.mu.Unlock()
		s.sleep(ctx, s.cfg.ErrorDelay)
		return
	}

	s.store.Append(initiatedRecord(c, res.CallSID))
	s.mu.Lock()
	s.stats.CallsMade++
	s.placed[res.CallSID] = c
	s.mu.Unlock()
	s.log.Info("call placed", "record_id", c.RecordID, "call_sid", res.CallSID, "to", number)

	s.sleep(ctx, s.cfg.PaceInterval)
}

func (s *Scheduler) connectURL(recordID, token string) string {
	q := url.Values{}
	q.Set("leadId", recordID)
	q.Set("tempId", token)
	return s.eps.VoiceURL + "?" + q.Encode()
}

// waitForSlot blocks until the concurrent-call cap admits another call.
func (s *Scheduler) waitForSlot(ctx context.Context) bool {
	if s.guard == nil {
		return ctx.Err() == nil
	}
	for {
		ok, err := s.guard.Acquire(ctx)
		if err != nil {
			s.log.Warn("concurrency guard acquire failed", "error", err)
			return ctx.Err() == nil
		}
		if ok {
			return true
		}
		if !s.sleep(ctx, time.Second) {
			return false
		}
	}
}

func (s *Scheduler) releaseSlot() {
	if s.guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.guard.Release(ctx); err != nil {
		s.log.Warn("concurrency guard release failed", "error", err)
	}
}

// OnCallStatus feeds provider status callbacks into the run's counters and
// the retry queue. A completed call says nothing about the appointment; it
// only means the call connected and ended, so dispositions never move here.
func (s *Scheduler) OnCallStatus(callSID, status string) {
	terminal := status == telephony.StatusCompleted || IsCanceled(status) ||
		telephony.IsTerminalNonConnecting(status)
	if !terminal {
		return
	}

	// The placed map dedupes repeated callbacks for the same call, so the
	// slot is released and the counters move exactly once per call.
	s.mu.Lock()
	contact, known := s.placed[callSID]
	if known {
		delete(s.placed, callSID)
	}
	s.mu.Unlock()
	if !known {
		return
	}

	s.releaseSlot()

	if !telephony.IsTerminalNonConnecting(status) {
		return
	}

	// A failed call never rang anyone, so it is retried but not counted
	// as a missed answer.
	if status == telephony.StatusNoAnswer || status == telephony.StatusBusy {
		s.mu.Lock()
		s.stats.NoAnswer++
		s.mu.Unlock()
	}

	if s.retry.Enqueue(contact, status) {
		s.log.Info("queued for retry", "record_id", contact.RecordID, "status", status)
	} else {
		s.log.Info("retry attempts exhausted", "record_id", contact.RecordID)
	}
}

// IsCanceled reports a provider-side cancel before the call rang.
func IsCanceled(status string) bool { return status == "canceled" }

// RecordDisposition moves the run's outcome counters when a lead's status
// is written back.
func (s *Scheduler) RecordDisposition(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch status {
	case "Confirmed":
		s.stats.Confirmed++
	case "Rescheduled":
		s.stats.Rescheduled++
	case "Cancelled":
		s.stats.Cancelled++
	}
}

func skippedRecord(c leads.Contact, reason string) history.Record {
	r := baseRecord(c)
	r.Status = "skipped"
	r.Reason = reason
	return r
}

func errorRecord(c leads.Contact, reason string) history.Record {
	r := baseRecord(c)
	r.Status = "error"
	r.Reason = reason
	return r
}

func initiatedRecord(c leads.Contact, callSID string) history.Record {
	r := baseRecord(c)
	r.Status = telephony.StatusInitiated
	r.CallSID = callSID
	return r
}

func baseRecord(c leads.Contact) history.Record {
	return history.Record{
		RecordID:        c.RecordID,
		Name:            c.FullName,
		Phone:           c.DialNumber(),
		AppointmentDate: c.AppointmentDate,
		AppointmentTime: c.AppointmentTime,
		Product:         c.Product,
	}
}
