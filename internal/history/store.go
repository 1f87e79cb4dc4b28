package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the in-memory call ledger shared by the scheduler, webhook
// handlers, and sessions. All access is mutex-guarded; provider callbacks
// and session events may arrive in any order relative to the placement
// append, so lookups by call id upsert a stub when the record does not
// exist yet and Append merges into such a stub.
type Store struct {
	mu       sync.Mutex
	records  []*Record
	byCallID map[string]*Record

	clock func() time.Time
}

func NewStore() *Store {
	return &Store{
		byCallID: make(map[string]*Record),
		clock:    time.Now,
	}
}

// Append records a new call attempt. If a status callback raced ahead and
// already created a stub for the same call id, the appended fields merge
// into the stub instead of creating a duplicate row.
func (s *Store) Append(r Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = s.clock().UTC()
	}

	if r.CallSID != "" {
		if existing, ok := s.byCallID[r.CallSID]; ok {
			existing.RecordID = r.RecordID
			existing.Name = r.Name
			existing.Phone = r.Phone
			existing.AppointmentDate = r.AppointmentDate
			existing.AppointmentTime = r.AppointmentTime
			existing.Product = r.Product
			if existing.Status == "" {
				existing.Status = r.Status
			}
			if existing.Timestamp.IsZero() {
				existing.Timestamp = r.Timestamp
			}
			return *existing
		}
	}

	rec := r
	s.records = append(s.records, &rec)
	if rec.CallSID != "" {
		s.byCallID[rec.CallSID] = &rec
	}
	return rec
}

// UpdateStatus applies a provider status callback.
func (s *Store) UpdateStatus(callSID, status string, durationSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookupOrStub(callSID)
	rec.Status = status
	if durationSeconds > 0 {
		rec.DurationSeconds = durationSeconds
	}
}

// AttachRecording stores the (proxied) recording reference.
func (s *Store) AttachRecording(callSID, recordingURL, recordingSID string, durationSeconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookupOrStub(callSID)
	rec.RecordingURL = recordingURL
	rec.RecordingSID = recordingSID
	rec.RecordingDuration = durationSeconds
}

// AttachTranscript stores the flushed session transcript.
func (s *Store) AttachTranscript(callSID string, lines []TranscriptLine) {
	if len(lines) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.lookupOrStub(callSID)
	rec.Transcript = append([]TranscriptLine(nil), lines...)
}

// lookupOrStub must be called with the mutex held.
func (s *Store) lookupOrStub(callSID string) *Record {
	if rec, ok := s.byCallID[callSID]; ok {
		return rec
	}
	rec := &Record{
		ID:        uuid.NewString(),
		CallSID:   callSID,
		Timestamp: s.clock().UTC(),
	}
	s.records = append(s.records, rec)
	s.byCallID[callSID] = rec
	return rec
}

// FindByCallSID returns a copy of the record for a provider call id.
func (s *Store) FindByCallSID(callSID string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byCallID[callSID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Recent returns up to n records, newest first. This is the read window for
// status and history APIs; the underlying ledger is never truncated.
func (s *Store) Recent(n int) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || n > len(s.records) {
		n = len(s.records)
	}
	out := make([]Record, 0, n)
	for i := len(s.records) - 1; i >= len(s.records)-n; i-- {
		out = append(out, *s.records[i])
	}
	return out
}

// Len returns the total number of ledger entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Summarize aggregates the full ledger.
func (s *Store) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out Summary
	for _, r := range s.records {
		out.TotalCalls++
		out.TotalDurationSeconds += r.DurationSeconds
		if r.RecordingURL != "" {
			out.RecordedCalls++
		}
		if len(r.Transcript) > 0 {
			out.TranscribedCalls++
		}
		switch r.Status {
		case "completed":
			out.CompletedCalls++
		case "failed":
			out.FailedCalls++
		case "no-answer":
			out.NoAnswerCalls++
		case "busy":
			out.BusyCalls++
		case "skipped":
			out.SkippedCalls++
		case "error":
			out.ErrorCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
	}
	return out
}
