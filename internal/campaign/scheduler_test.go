package campaign

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"appointment-confirmer/internal/bridge"
	"appointment-confirmer/internal/config"
	"appointment-confirmer/internal/history"
	"appointment-confirmer/internal/leads"
	"appointment-confirmer/internal/telephony"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []telephony.PlaceCallRequest
	fail  bool
	next  int
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) PlaceCall(_ context.Context, req telephony.PlaceCallRequest) (telephony.PlaceCallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return telephony.PlaceCallResult{}, errors.New("provider unavailable")
	}
	f.calls = append(f.calls, req)
	f.next++
	return telephony.PlaceCallResult{CallSID: "CA" + string(rune('0'+f.next)), Status: "queued"}, nil
}

func (f *fakeProvider) FetchRecording(context.Context, string) (telephony.RecordingMedia, error) {
	return telephony.RecordingMedia{}, errors.New("not implemented")
}

func (f *fakeProvider) placed() []telephony.PlaceCallRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]telephony.PlaceCallRequest(nil), f.calls...)
}

func testCampaignCfg() config.CampaignConfig {
	return config.CampaignConfig{
		PaceInterval: 30 * time.Second,
		SkipDelay:    time.Second,
		ErrorDelay:   5 * time.Second,
		MaxRetries:   2,
		RetryDelay:   5 * time.Minute,
	}
}

func newTestScheduler(provider telephony.Provider) (*Scheduler, *history.Store, *RetryQueue, *[]time.Duration) {
	store := history.NewStore()
	retry := NewRetryQueue(2, 5*time.Minute)
	pending := bridge.NewPendingStore()
	s := NewScheduler(testCampaignCfg(), provider, "+15550000000", Endpoints{
		VoiceURL:             "https://confirmer.example.com/webhooks/voice",
		StatusCallbackURL:    "https://confirmer.example.com/webhooks/status",
		RecordingCallbackURL: "https://confirmer.example.com/webhooks/recording",
	}, pending, store, retry, nil, nil)

	var sleeps []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) bool {
		sleeps = append(sleeps, d)
		return ctx.Err() == nil
	}
	return s, store, retry, &sleeps
}

func waitDone(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("run never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSchedulerPacesPlacements(t *testing.T) {
	provider := &fakeProvider{}
	s, store, _, sleeps := newTestScheduler(provider)

	contacts := []leads.Contact{
		{RecordID: "1", Phone: "5551230001"},
		{RecordID: "2", Phone: "5551230002"},
		{RecordID: "3", Phone: "5551230003"},
	}
	if err := s.Start(contacts, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if got := len(provider.placed()); got != 3 {
		t.Fatalf("expected 3 placements, got %d", got)
	}
	if len(*sleeps) != 3 {
		t.Fatalf("expected 3 pacing waits, got %d", len(*sleeps))
	}
	for _, d := range *sleeps {
		if d != 30*time.Second {
			t.Fatalf("expected 30s pacing, got %v", d)
		}
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 history records, got %d", store.Len())
	}
	if st := s.Stats(); st.CallsMade != 3 || st.Running || st.Remaining != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSchedulerSkipsShortNumbers(t *testing.T) {
	provider := &fakeProvider{}
	s, store, _, sleeps := newTestScheduler(provider)

	if err := s.Start([]leads.Contact{{RecordID: "1", Phone: "555-1234"}}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if len(provider.placed()) != 0 {
		t.Fatal("expected no placement for an undialable number")
	}
	recs := store.Recent(0)
	if len(recs) != 1 || recs[0].Status != "skipped" || recs[0].Reason == "" {
		t.Fatalf("expected skipped record with reason, got %+v", recs)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != time.Second {
		t.Fatalf("expected 1s skip delay, got %v", *sleeps)
	}
	if st := s.Stats(); st.Skipped != 1 || st.CallsMade != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestSchedulerRecordsPlacementErrors(t *testing.T) {
	provider := &fakeProvider{fail: true}
	s, store, _, sleeps := newTestScheduler(provider)

	if err := s.Start([]leads.Contact{{RecordID: "1", Phone: "5551230001"}}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	recs := store.Recent(0)
	if len(recs) != 1 || recs[0].Status != "error" {
		t.Fatalf("expected error record, got %+v", recs)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 5*time.Second {
		t.Fatalf("expected 5s error delay, got %v", *sleeps)
	}
	if s.pending.Len() != 0 {
		t.Fatal("expected pending registration dropped on failure")
	}
}

func TestSchedulerRejectsConcurrentStart(t *testing.T) {
	provider := &fakeProvider{}
	s, _, _, _ := newTestScheduler(provider)

	block := make(chan struct{})
	s.sleep = func(ctx context.Context, d time.Duration) bool {
		<-block
		return ctx.Err() == nil
	}

	if err := s.Start([]leads.Contact{{RecordID: "1", Phone: "5551230001"}}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(nil, ""); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	close(block)
	waitDone(t, s)

	if err := s.Start(nil, ""); err != nil {
		t.Fatalf("expected restart after finish to succeed, got %v", err)
	}
	waitDone(t, s)
}

func TestSchedulerConnectURLCarriesLeadAndToken(t *testing.T) {
	provider := &fakeProvider{}
	s, _, _, _ := newTestScheduler(provider)

	if err := s.Start([]leads.Contact{{RecordID: "101", Phone: "5551230001"}}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	calls := provider.placed()
	if len(calls) != 1 {
		t.Fatalf("expected 1 placement, got %d", len(calls))
	}
	u, err := url.Parse(calls[0].ConnectURL)
	if err != nil {
		t.Fatalf("parse connect url: %v", err)
	}
	if !strings.HasSuffix(u.Path, "/webhooks/voice") {
		t.Fatalf("unexpected connect path: %s", u.Path)
	}
	if u.Query().Get("leadId") != "101" {
		t.Fatalf("expected leadId param, got %q", u.Query().Get("leadId"))
	}
	token := u.Query().Get("tempId")
	if token == "" {
		t.Fatal("expected tempId param")
	}
	if _, ok := s.pending.Consume(token); !ok {
		t.Fatal("expected token registered in pending store")
	}
	if !calls[0].Record || calls[0].To != "+15551230001" {
		t.Fatalf("unexpected request: %+v", calls[0])
	}
}

func TestSchedulerInstructionsReachPendingCallAndStats(t *testing.T) {
	provider := &fakeProvider{}
	s, _, _, _ := newTestScheduler(provider)

	if err := s.Start([]leads.Contact{{RecordID: "101", Phone: "5551230001"}}, "lead with the warranty offer"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	if st := s.Stats(); st.Instructions != "lead with the warranty offer" {
		t.Fatalf("unexpected stats instructions: %q", st.Instructions)
	}

	u, err := url.Parse(provider.placed()[0].ConnectURL)
	if err != nil {
		t.Fatalf("parse connect url: %v", err)
	}
	call, ok := s.pending.Consume(u.Query().Get("tempId"))
	if !ok {
		t.Fatal("expected token registered in pending store")
	}
	if call.Instructions != "lead with the warranty offer" {
		t.Fatalf("unexpected pending instructions: %q", call.Instructions)
	}
}

func TestSchedulerFailedCallRetriesWithoutNoAnswerCount(t *testing.T) {
	provider := &fakeProvider{}
	s, _, retry, _ := newTestScheduler(provider)

	if err := s.Start([]leads.Contact{{RecordID: "101", Phone: "5551230001"}}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	s.OnCallStatus("CA1", telephony.StatusFailed)

	st := s.Stats()
	if st.NoAnswer != 0 {
		t.Fatalf("failed call counted as no-answer: %+v", st)
	}
	if st.RetryQueued != 1 {
		t.Fatalf("expected failed call queued for retry: %+v", st)
	}
	entries := retry.Entries()
	if len(entries) != 1 || entries[0].Reason != "failed" {
		t.Fatalf("unexpected retry entries: %+v", entries)
	}
}

func TestSchedulerNoAnswerFeedsRetryQueue(t *testing.T) {
	provider := &fakeProvider{}
	s, _, retry, _ := newTestScheduler(provider)

	if err := s.Start([]leads.Contact{{RecordID: "101", Phone: "5551230001"}}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	s.OnCallStatus("CA1", telephony.StatusNoAnswer)

	if st := s.Stats(); st.NoAnswer != 1 || st.RetryQueued != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	entries := retry.Entries()
	if len(entries) != 1 || entries[0].Contact.RecordID != "101" || entries[0].Reason != "no-answer" {
		t.Fatalf("unexpected retry entries: %+v", entries)
	}

	// The same terminal callback must not double-enqueue.
	s.OnCallStatus("CA1", telephony.StatusNoAnswer)
	if retry.Len() != 1 {
		t.Fatalf("expected single retry entry, got %d", retry.Len())
	}
	if st := s.Stats(); st.NoAnswer != 1 {
		t.Fatalf("duplicate callback double-counted no-answer: %+v", st)
	}
}

func TestSchedulerCompletedNeverMovesDispositions(t *testing.T) {
	provider := &fakeProvider{}
	s, _, retry, _ := newTestScheduler(provider)

	if err := s.Start([]leads.Contact{{RecordID: "101", Phone: "5551230001"}}, ""); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, s)

	s.OnCallStatus("CA1", telephony.StatusCompleted)

	st := s.Stats()
	if st.Confirmed != 0 || st.Rescheduled != 0 || st.Cancelled != 0 || st.NoAnswer != 0 {
		t.Fatalf("completed call must not move outcome counters: %+v", st)
	}
	if retry.Len() != 0 {
		t.Fatal("completed call must not feed the retry queue")
	}
}

func TestSchedulerRecordDisposition(t *testing.T) {
	provider := &fakeProvider{}
	s, _, _, _ := newTestScheduler(provider)

	s.RecordDisposition("Confirmed")
	s.RecordDisposition("Rescheduled")
	s.RecordDisposition("Cancelled")
	s.RecordDisposition("Confirmed")
	s.RecordDisposition("Left Voicemail")

	st := s.Stats()
	if st.Confirmed != 2 || st.Rescheduled != 1 || st.Cancelled != 1 {
		t.Fatalf("unexpected disposition counters: %+v", st)
	}
}
