package history

import "time"

// Record is one call attempt's ledger entry.
//
// Records are append-only: fields are filled in place as status, recording,
// and transcript events arrive for the matching provider call id, but a
// record is never removed. Status is a free-form lifecycle string: the
// provider's call states plus the locally produced "skipped" and "error".
type Record struct {
	ID string `json:"id"`

	// RecordID references the contact this attempt was for.
	RecordID string `json:"recordId,omitempty"`
	Name     string `json:"name,omitempty"`
	Phone    string `json:"phone,omitempty"`

	AppointmentDate string `json:"appointmentDate,omitempty"`
	AppointmentTime string `json:"appointmentTime,omitempty"`
	Product         string `json:"product,omitempty"`

	Status string `json:"status"`
	// Reason explains skipped/error statuses.
	Reason string `json:"reason,omitempty"`

	// CallSID is the provider call id; empty for calls never placed.
	CallSID         string `json:"callSid,omitempty"`
	DurationSeconds int    `json:"duration,omitempty"`

	RecordingURL      string `json:"recordingUrl,omitempty"`
	RecordingSID      string `json:"recordingSid,omitempty"`
	RecordingDuration int    `json:"recordingDuration,omitempty"`

	Transcript []TranscriptLine `json:"transcript,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// TranscriptLine is one finalized utterance of the conversation.
type TranscriptLine struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary aggregates the ledger for status reporting.
type Summary struct {
	TotalCalls     int `json:"total_calls"`
	CompletedCalls int `json:"completed_calls"`
	FailedCalls    int `json:"failed_calls"`
	NoAnswerCalls  int `json:"no_answer_calls"`
	BusyCalls      int `json:"busy_calls"`
	SkippedCalls   int `json:"skipped_calls"`
	ErrorCalls     int `json:"error_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	RecordedCalls    int `json:"recorded_calls"`
	TranscribedCalls int `json:"transcribed_calls"`
}
