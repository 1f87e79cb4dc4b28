package telephony

import (
	"context"
	"io"
)

// Provider defines the provider-agnostic interface used by business logic.
//
// Rules:
// - No provider REST calls outside telephony adapters.
// - Keep request/response types provider-agnostic; callers never see raw
//   provider payloads.
type Provider interface {
	Name() string

	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)

	// FetchRecording streams a finished call's recording so it can be
	// re-served without exposing provider credentials to clients.
	FetchRecording(ctx context.Context, recordingSID string) (RecordingMedia, error)
}

// PlaceCallRequest carries everything needed to start one outbound call.
type PlaceCallRequest struct {
	// To and From are E.164 numbers.
	To   string
	From string

	// ConnectURL is invoked by the provider when the call is answered; its
	// response tells the provider to open the media stream. It carries the
	// lead id and pending-call token as query parameters.
	ConnectURL string

	// StatusCallbackURL receives lifecycle status updates.
	StatusCallbackURL string

	// Record enables call recording; RecordingCallbackURL is notified when
	// the recording is ready.
	Record               bool
	RecordingCallbackURL string
}

// PlaceCallResult is returned as soon as the provider accepts the request.
type PlaceCallResult struct {
	// CallSID is the provider's unique identifier for this call.
	CallSID string
	// Status is the provider's initial status (normally "queued").
	Status string
}

// RecordingMedia is a streamed media artifact; the caller must Close it.
type RecordingMedia struct {
	ContentType string
	Body        io.ReadCloser
}

// Call status values pushed to the status webhook.
const (
	StatusInitiated = "initiated"
	StatusRinging   = "ringing"
	StatusAnswered  = "answered"
	StatusCompleted = "completed"
	StatusNoAnswer  = "no-answer"
	StatusBusy      = "busy"
	StatusFailed    = "failed"
)

// IsTerminalNonConnecting reports whether a status means the call ended
// without the customer ever answering. Only these feed the retry queue.
func IsTerminalNonConnecting(status string) bool {
	switch status {
	case StatusNoAnswer, StatusBusy, StatusFailed:
		return true
	default:
		return false
	}
}
