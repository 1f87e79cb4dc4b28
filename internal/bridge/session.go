package bridge

import (
	"log/slog"
	"sync"
	"time"

	"appointment-confirmer/internal/agent"
	"appointment-confirmer/internal/audio"
	"appointment-confirmer/internal/config"
	"appointment-confirmer/internal/history"
	"appointment-confirmer/internal/telephony"
)

// State is a session's position in its lifecycle. Transitions only move
// forward; Close from any state lands on StateClosed exactly once.
type State string

const (
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// MediaWriter sends frames back down the telephony media stream.
type MediaWriter interface {
	WriteFrame(v any) error
}

// Session relays one call between the telephony media stream and the
// conversational agent. Caller audio is dropped until the agent has
// acknowledged the initiation frame, so the greeting always reflects the
// dynamic variables rather than a half-configured conversation.
type Session struct {
	log *slog.Logger
	cfg config.ElevenLabsConfig

	tw     MediaWriter
	agent  agent.Conn
	trans  *audio.Transcoder
	events chan<- history.SessionEvent

	clock func() time.Time

	mu         sync.Mutex
	state      State
	streamSID  string
	callSID    string
	ready      bool
	transcript []history.TranscriptLine
	readyTimer *time.Timer
}

func NewSession(cfg config.ElevenLabsConfig, tw MediaWriter, conn agent.Conn, events chan<- history.SessionEvent, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		log:    log,
		cfg:    cfg,
		tw:     tw,
		agent:  conn,
		trans:  audio.NewTranscoder(cfg.AudioFormat),
		events: events,
		clock:  time.Now,
		state:  StateConnecting,
	}
}

// HandleStart activates the session for a stream. It sends the agent its
// initiation frame, arms the ready guard, and starts the agent event pump.
func (s *Session) HandleStart(st *telephony.StreamStart, call PendingCall, known bool) error {
	s.mu.Lock()
	if s.state != StateConnecting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateActive
	s.streamSID = st.StreamSID
	s.callSID = st.CallSID

	contact := call.Contact
	info := agent.ContactInfo{Phone: contact.DialNumber()}
	if known {
		info = agent.ContactInfo{
			RecordID:        contact.RecordID,
			FirstName:       contact.FirstName,
			LastName:        contact.LastName,
			Phone:           contact.DialNumber(),
			AppointmentDate: contact.AppointmentDate,
			AppointmentTime: contact.AppointmentTime,
			Product:         contact.Product,
		}
	}
	vars := agent.NewDynamicVariables(info, s.cfg.CompanyName)
	if call.Instructions != "" {
		vars["instructions"] = call.Instructions
	}

	timeout := s.cfg.ReadyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s.readyTimer = time.AfterFunc(timeout, s.readyTimeoutExpired)
	s.mu.Unlock()

	s.emit(history.SessionEvent{Type: history.SessionStarted, CallSID: st.CallSID, StreamSID: st.StreamSID})

	if err := s.agent.SendInit(agent.NewInitMessage(vars)); err != nil {
		s.Close("agent init failed")
		return err
	}

	go s.pumpAgent()
	return nil
}

// HandleMedia forwards one chunk of caller audio to the agent. Chunks that
// arrive before the agent is ready are dropped.
func (s *Session) HandleMedia(payload string) {
	s.mu.Lock()
	deliver := s.state == StateActive && s.ready
	s.mu.Unlock()
	if !deliver {
		return
	}
	if err := s.agent.SendAudio(s.trans.ToAgent(payload)); err != nil {
		s.log.Warn("forwarding caller audio failed", "call_sid", s.callSID, "error", err)
	}
}

// HandleStop closes the session for a provider stop frame.
func (s *Session) HandleStop() {
	s.Close("stream stopped")
}

// Close tears the session down exactly once, flushing the transcript.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	if s.readyTimer != nil {
		s.readyTimer.Stop()
	}
	callSID, streamSID := s.callSID, s.streamSID
	lines := append([]history.TranscriptLine(nil), s.transcript...)
	s.state = StateClosed
	s.mu.Unlock()

	_ = s.agent.Close()
	s.log.Info("closing session", "call_sid", callSID, "stream_sid", streamSID, "reason", reason)
	s.emit(history.SessionEvent{
		Type:       history.SessionClosed,
		CallSID:    callSID,
		StreamSID:  streamSID,
		Transcript: lines,
	})
}

// State reports the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the lines captured so far.
func (s *Session) Transcript() []history.TranscriptLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]history.TranscriptLine(nil), s.transcript...)
}

func (s *Session) readyTimeoutExpired() {
	s.mu.Lock()
	expired := s.state == StateActive && !s.ready
	s.mu.Unlock()
	if expired {
		s.log.Warn("agent never acknowledged initiation", "call_sid", s.callSID)
		s.Close("agent ready timeout")
	}
}

// pumpAgent applies agent events until the agent socket closes.
func (s *Session) pumpAgent() {
	for ev := range s.agent.Events() {
		s.handleAgentEvent(ev)
	}
	s.Close("agent socket closed")
}

func (s *Session) handleAgentEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventConversationInitiation:
		s.mu.Lock()
		s.ready = true
		if s.readyTimer != nil {
			s.readyTimer.Stop()
		}
		callSID, streamSID := s.callSID, s.streamSID
		s.mu.Unlock()
		s.emit(history.SessionEvent{Type: history.SessionReady, CallSID: callSID, StreamSID: streamSID})

	case agent.EventAudio:
		s.mu.Lock()
		streamSID := s.streamSID
		active := s.state == StateActive
		s.mu.Unlock()
		if !active {
			return
		}
		frame := telephony.NewOutboundMedia(streamSID, s.trans.ToTelephony(ev.Audio.AudioBase64))
		if err := s.tw.WriteFrame(frame); err != nil {
			s.log.Warn("writing agent audio failed", "call_sid", s.callSID, "error", err)
		}

	case agent.EventAgentResponse:
		s.appendLine("Agent", ev.AgentResponse.AgentResponse)

	case agent.EventAgentCorrection:
		s.reviseAgentLine(ev.Correction.CorrectedAgentResponse)

	case agent.EventUserTranscript:
		s.appendLine("Customer", ev.UserTranscript.UserTranscript)

	case agent.EventPing:
		if err := s.agent.SendPong(ev.Ping.EventID); err != nil {
			s.log.Warn("pong failed", "call_sid", s.callSID, "error", err)
		}

	case agent.EventInterruption:
		s.mu.Lock()
		streamSID := s.streamSID
		s.mu.Unlock()
		if err := s.tw.WriteFrame(telephony.NewClearFrame(streamSID)); err != nil {
			s.log.Warn("clearing playback buffer failed", "call_sid", s.callSID, "error", err)
		}

	case agent.EventVoicemailDetected:
		s.log.Info("voicemail detected", "call_sid", s.callSID)
	}
}

func (s *Session) appendLine(speaker, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.transcript = append(s.transcript, history.TranscriptLine{
		Speaker:   speaker,
		Text:      text,
		Timestamp: s.clock().UTC(),
	})
	s.mu.Unlock()
}

// reviseAgentLine replaces the most recent agent utterance. Corrections
// arrive when the caller interrupts and the agent truncates what it
// actually said, so the transcript should hold the corrected text rather
// than both versions.
func (s *Session) reviseAgentLine(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transcript) - 1; i >= 0; i-- {
		if s.transcript[i].Speaker == "Agent" {
			s.transcript[i].Text = text
			return
		}
	}
	s.transcript = append(s.transcript, history.TranscriptLine{
		Speaker:   "Agent",
		Text:      text,
		Timestamp: s.clock().UTC(),
	})
}

func (s *Session) emit(ev history.SessionEvent) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Warn("session event dropped", "type", string(ev.Type), "call_sid", ev.CallSID)
	}
}
