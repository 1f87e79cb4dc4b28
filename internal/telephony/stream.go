package telephony

import (
	"encoding/json"
	"fmt"
)

// Media-stream frames exchanged over the provider's WebSocket connection.
// Inbound frames are tagged variants on the "event" field and validated at
// this boundary; unknown events are surfaced as ErrUnknownStreamEvent so the
// caller can skip them without dropping the connection.

type StreamEventType string

const (
	StreamEventStart StreamEventType = "start"
	StreamEventMedia StreamEventType = "media"
	StreamEventMark  StreamEventType = "mark"
	StreamEventStop  StreamEventType = "stop"
)

var ErrUnknownStreamEvent = fmt.Errorf("telephony: unknown stream event")

// StreamEvent is one decoded inbound frame. Exactly one payload pointer is
// non-nil, matching Type.
type StreamEvent struct {
	Type  StreamEventType
	Start *StreamStart
	Media *StreamMedia
	Mark  *StreamMark
	Stop  *StreamStop
}

// StreamStart announces a new media stream and carries the custom parameters
// set in the connect TwiML.
type StreamStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// StreamMedia carries one base64 audio frame.
type StreamMedia struct {
	Payload string `json:"payload"`
}

// StreamMark echoes a previously sent mark label.
type StreamMark struct {
	Name string `json:"name"`
}

// StreamStop ends the stream.
type StreamStop struct {
	CallSID string `json:"callSid"`
}

type rawStreamEvent struct {
	Event string          `json:"event"`
	Start json.RawMessage `json:"start"`
	Media json.RawMessage `json:"media"`
	Mark  json.RawMessage `json:"mark"`
	Stop  json.RawMessage `json:"stop"`
}

// ParseStreamEvent decodes one inbound media-stream frame.
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	var raw rawStreamEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return StreamEvent{}, fmt.Errorf("telephony: decode stream frame: %w", err)
	}

	switch StreamEventType(raw.Event) {
	case StreamEventStart:
		var s StreamStart
		if err := json.Unmarshal(raw.Start, &s); err != nil {
			return StreamEvent{}, fmt.Errorf("telephony: decode start event: %w", err)
		}
		return StreamEvent{Type: StreamEventStart, Start: &s}, nil
	case StreamEventMedia:
		var m StreamMedia
		if err := json.Unmarshal(raw.Media, &m); err != nil {
			return StreamEvent{}, fmt.Errorf("telephony: decode media event: %w", err)
		}
		return StreamEvent{Type: StreamEventMedia, Media: &m}, nil
	case StreamEventMark:
		var m StreamMark
		if len(raw.Mark) > 0 {
			if err := json.Unmarshal(raw.Mark, &m); err != nil {
				return StreamEvent{}, fmt.Errorf("telephony: decode mark event: %w", err)
			}
		}
		return StreamEvent{Type: StreamEventMark, Mark: &m}, nil
	case StreamEventStop:
		var s StreamStop
		if len(raw.Stop) > 0 {
			if err := json.Unmarshal(raw.Stop, &s); err != nil {
				return StreamEvent{}, fmt.Errorf("telephony: decode stop event: %w", err)
			}
		}
		return StreamEvent{Type: StreamEventStop, Stop: &s}, nil
	default:
		return StreamEvent{}, fmt.Errorf("%w: %q", ErrUnknownStreamEvent, raw.Event)
	}
}

// OutboundMedia is the frame shape for audio sent back to the provider,
// tagged with the stream it belongs to.
type OutboundMedia struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// NewOutboundMedia builds a media frame for one base64 payload.
func NewOutboundMedia(streamSID, payload string) OutboundMedia {
	m := OutboundMedia{Event: "media", StreamSID: streamSID}
	m.Media.Payload = payload
	return m
}

// ClearFrame tells the provider to drop any audio it has buffered for
// playback. Sent when the caller interrupts the agent mid-sentence.
type ClearFrame struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

func NewClearFrame(streamSID string) ClearFrame {
	return ClearFrame{Event: "clear", StreamSID: streamSID}
}
