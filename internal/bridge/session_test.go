package bridge

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"appointment-confirmer/internal/agent"
	"appointment-confirmer/internal/config"
	"appointment-confirmer/internal/history"
	"appointment-confirmer/internal/leads"
	"appointment-confirmer/internal/telephony"
)

type fakeAgentConn struct {
	mu     sync.Mutex
	init   *agent.InitMessage
	audio  []string
	pongs  []int
	closed bool
	events chan agent.Event
}

func newFakeAgentConn() *fakeAgentConn {
	return &fakeAgentConn{events: make(chan agent.Event, 16)}
}

func (f *fakeAgentConn) SendInit(msg agent.InitMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init = &msg
	return nil
}

func (f *fakeAgentConn) SendAudio(b64 string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, b64)
	return nil
}

func (f *fakeAgentConn) SendPong(eventID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongs = append(f.pongs, eventID)
	return nil
}

func (f *fakeAgentConn) Events() <-chan agent.Event { return f.events }

func (f *fakeAgentConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeAgentConn) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

type frameRecorder struct {
	mu     sync.Mutex
	frames []any
}

func (r *frameRecorder) WriteFrame(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, v)
	return nil
}

func (r *frameRecorder) snapshot() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.frames...)
}

func testCfg() config.ElevenLabsConfig {
	return config.ElevenLabsConfig{
		AgentID:      "ag1",
		AudioFormat:  "ulaw_8000",
		ReadyTimeout: time.Second,
		CompanyName:  "Expert Home Builders",
	}
}

func startFrame() *telephony.StreamStart {
	return &telephony.StreamStart{
		StreamSID:        "MZ1",
		CallSID:          "CA1",
		CustomParameters: map[string]string{"leadId": "101", "tempId": "tok"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionInitCarriesContactVariables(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)

	contact := leads.Contact{
		RecordID:        "101",
		FirstName:       "Maria",
		LastName:        "Lopez",
		Phone:           "+15551234567",
		AppointmentDate: "2026-03-09",
		AppointmentTime: "14:30:00",
		Product:         "Windows",
	}
	if err := s.HandleStart(startFrame(), PendingCall{Contact: contact}, true); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	if conn.init == nil {
		t.Fatal("expected init message")
	}
	if conn.init.Type != "conversation_initiation_client_data" {
		t.Fatalf("unexpected init type: %q", conn.init.Type)
	}
	v := conn.init.DynamicVariables
	if v["first_name"] != "Maria" || v["appointment_time"] != "2:30 PM" {
		t.Fatalf("unexpected variables: %v", v)
	}
}

func TestSessionInitCarriesCampaignInstructions(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)

	call := PendingCall{
		Contact:      leads.Contact{RecordID: "101", FirstName: "Maria"},
		Instructions: "offer the rescheduling discount",
	}
	if err := s.HandleStart(startFrame(), call, true); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	if got := conn.init.DynamicVariables["instructions"]; got != "offer the rescheduling discount" {
		t.Fatalf("unexpected instructions variable: %q", got)
	}
}

func TestSessionNoInstructionsOmitsVariable(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)

	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	if _, ok := conn.init.DynamicVariables["instructions"]; ok {
		t.Fatal("expected no instructions variable for an empty run")
	}
}

func TestSessionUnknownContactUsesDefaults(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)

	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	v := conn.init.DynamicVariables
	if v["first_name"] != "Customer" {
		t.Fatalf("expected default first_name, got %q", v["first_name"])
	}
	if v["appointment_date"] != "your scheduled date" {
		t.Fatalf("expected default appointment_date, got %q", v["appointment_date"])
	}
}

func TestSessionDropsAudioBeforeReady(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	s.HandleMedia("AAAA")
	if conn.audioCount() != 0 {
		t.Fatal("expected pre-ready audio to be dropped")
	}

	conn.events <- agent.Event{Type: agent.EventConversationInitiation}
	waitFor(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.ready
	})

	s.HandleMedia("AAAA")
	if conn.audioCount() != 1 {
		t.Fatalf("expected 1 forwarded chunk, got %d", conn.audioCount())
	}
}

func TestSessionAgentAudioGoesToStream(t *testing.T) {
	conn := newFakeAgentConn()
	rec := &frameRecorder{}
	s := NewSession(testCfg(), rec, conn, nil, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	conn.events <- agent.Event{Type: agent.EventAudio, Audio: &agent.AudioEvent{AudioBase64: "BBBB"}}
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	data, _ := json.Marshal(rec.snapshot()[0])
	var frame struct {
		Event     string `json:"event"`
		StreamSID string `json:"streamSid"`
		Media     struct {
			Payload string `json:"payload"`
		} `json:"media"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if frame.Event != "media" || frame.StreamSID != "MZ1" || frame.Media.Payload != "BBBB" {
		t.Fatalf("unexpected outbound frame: %+v", frame)
	}
}

func TestSessionTranscriptAndCorrection(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	conn.events <- agent.Event{Type: agent.EventAgentResponse,
		AgentResponse: &agent.AgentResponseEvent{AgentResponse: "Hello, is this Maria?"}}
	conn.events <- agent.Event{Type: agent.EventUserTranscript,
		UserTranscript: &agent.UserTranscriptEvent{UserTranscript: "Yes, speaking."}}
	conn.events <- agent.Event{Type: agent.EventAgentCorrection,
		Correction: &agent.AgentCorrectionEvent{CorrectedAgentResponse: "Hello, is this"}}

	waitFor(t, func() bool {
		lines := s.Transcript()
		return len(lines) == 2 && lines[0].Text == "Hello, is this"
	})

	lines := s.Transcript()
	if lines[0].Speaker != "Agent" || lines[1].Speaker != "Customer" {
		t.Fatalf("unexpected speakers: %+v", lines)
	}
}

func TestSessionCorrectionRewritesLatestAgentSegment(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	conn.events <- agent.Event{Type: agent.EventAgentResponse,
		AgentResponse: &agent.AgentResponseEvent{AgentResponse: "First sentence."}}
	conn.events <- agent.Event{Type: agent.EventAgentResponse,
		AgentResponse: &agent.AgentResponseEvent{AgentResponse: "Second sentence."}}
	conn.events <- agent.Event{Type: agent.EventAgentCorrection,
		Correction: &agent.AgentCorrectionEvent{CorrectedAgentResponse: "Second, cut short"}}

	waitFor(t, func() bool {
		lines := s.Transcript()
		return len(lines) == 2 && lines[1].Text == "Second, cut short"
	})

	lines := s.Transcript()
	if lines[0].Text != "First sentence." {
		t.Fatalf("first segment must survive correction: %+v", lines)
	}
}

func TestSessionPingPong(t *testing.T) {
	conn := newFakeAgentConn()
	s := NewSession(testCfg(), &frameRecorder{}, conn, nil, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	conn.events <- agent.Event{Type: agent.EventPing, Ping: &agent.PingEvent{EventID: 9}}
	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.pongs) == 1 && conn.pongs[0] == 9
	})
}

func TestSessionInterruptionClearsPlayback(t *testing.T) {
	conn := newFakeAgentConn()
	rec := &frameRecorder{}
	s := NewSession(testCfg(), rec, conn, nil, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	defer s.Close("test done")

	conn.events <- agent.Event{Type: agent.EventInterruption}
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	frame, ok := rec.snapshot()[0].(telephony.ClearFrame)
	if !ok || frame.Event != "clear" || frame.StreamSID != "MZ1" {
		t.Fatalf("unexpected frame: %+v", rec.snapshot()[0])
	}
}

func TestSessionCloseIsIdempotentAndFlushesTranscript(t *testing.T) {
	conn := newFakeAgentConn()
	events := make(chan history.SessionEvent, 8)
	s := NewSession(testCfg(), &frameRecorder{}, conn, events, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}
	<-events // started

	conn.events <- agent.Event{Type: agent.EventAgentResponse,
		AgentResponse: &agent.AgentResponseEvent{AgentResponse: "Hello"}}
	waitFor(t, func() bool { return len(s.Transcript()) == 1 })

	s.HandleStop()
	s.Close("again")
	if s.State() != StateClosed {
		t.Fatalf("expected closed state, got %q", s.State())
	}

	ev := <-events
	if ev.Type != history.SessionClosed {
		t.Fatalf("expected closed event, got %q", ev.Type)
	}
	if len(ev.Transcript) != 1 || ev.Transcript[0].Text != "Hello" {
		t.Fatalf("unexpected transcript: %+v", ev.Transcript)
	}

	select {
	case extra := <-events:
		t.Fatalf("expected single closed event, got extra %q", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSessionReadyTimeoutClosesSession(t *testing.T) {
	cfg := testCfg()
	cfg.ReadyTimeout = 20 * time.Millisecond

	conn := newFakeAgentConn()
	s := NewSession(cfg, &frameRecorder{}, conn, nil, nil)
	if err := s.HandleStart(startFrame(), PendingCall{}, false); err != nil {
		t.Fatalf("HandleStart: %v", err)
	}

	waitFor(t, func() bool { return s.State() == StateClosed })
}
