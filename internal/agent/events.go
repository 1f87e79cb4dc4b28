package agent

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType identifies a message from the conversational agent.
type EventType string

const (
	EventConversationInitiation EventType = "conversation_initiation_metadata"
	EventAudio                  EventType = "audio"
	EventAgentResponse          EventType = "agent_response"
	EventAgentCorrection        EventType = "agent_response_correction"
	EventUserTranscript         EventType = "user_transcript"
	EventVoicemailDetected      EventType = "voicemail_detected"
	EventInterruption           EventType = "interruption"
	EventPing                   EventType = "ping"
)

var ErrUnknownEvent = errors.New("agent: unknown event type")

// Event is one decoded agent message. Exactly one payload field is set,
// matching Type; events without a payload (voicemail, interruption, the
// initiation acknowledgment) carry only Type.
type Event struct {
	Type EventType

	Audio          *AudioEvent
	AgentResponse  *AgentResponseEvent
	Correction     *AgentCorrectionEvent
	UserTranscript *UserTranscriptEvent
	Ping           *PingEvent
}

// AudioEvent carries one base64 chunk of agent speech.
type AudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
}

type AgentResponseEvent struct {
	AgentResponse string `json:"agent_response"`
}

type AgentCorrectionEvent struct {
	CorrectedAgentResponse string `json:"corrected_agent_response"`
}

type UserTranscriptEvent struct {
	UserTranscript string `json:"user_transcript"`
}

type PingEvent struct {
	EventID int `json:"event_id"`
}

// envelope mirrors the agent's wire framing: a type discriminator plus a
// nested payload object named after the type.
type envelope struct {
	Type           EventType             `json:"type"`
	Audio          *AudioEvent           `json:"audio_event,omitempty"`
	AgentResponse  *AgentResponseEvent   `json:"agent_response_event,omitempty"`
	Correction     *AgentCorrectionEvent `json:"agent_response_correction_event,omitempty"`
	UserTranscript *UserTranscriptEvent  `json:"user_transcription_event,omitempty"`
	Ping           *PingEvent            `json:"ping_event,omitempty"`
}

// ParseEvent decodes a raw agent frame.
func ParseEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode agent event: %w", err)
	}

	ev := Event{Type: env.Type}
	switch env.Type {
	case EventConversationInitiation, EventVoicemailDetected, EventInterruption:
		// No payload needed.
	case EventAudio:
		if env.Audio == nil {
			return Event{}, fmt.Errorf("audio event missing payload")
		}
		ev.Audio = env.Audio
	case EventAgentResponse:
		if env.AgentResponse == nil {
			return Event{}, fmt.Errorf("agent_response event missing payload")
		}
		ev.AgentResponse = env.AgentResponse
	case EventAgentCorrection:
		if env.Correction == nil {
			return Event{}, fmt.Errorf("agent_response_correction event missing payload")
		}
		ev.Correction = env.Correction
	case EventUserTranscript:
		if env.UserTranscript == nil {
			return Event{}, fmt.Errorf("user_transcript event missing payload")
		}
		ev.UserTranscript = env.UserTranscript
	case EventPing:
		if env.Ping == nil {
			return Event{}, fmt.Errorf("ping event missing payload")
		}
		ev.Ping = env.Ping
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Type)
	}
	return ev, nil
}
