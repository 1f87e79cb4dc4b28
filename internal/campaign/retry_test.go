package campaign

import (
	"testing"
	"time"

	"appointment-confirmer/internal/leads"
)

func TestRetryQueueCapsAttempts(t *testing.T) {
	q := NewRetryQueue(2, 5*time.Minute)
	c := leads.Contact{RecordID: "101"}

	if !q.Enqueue(c, "no-answer") {
		t.Fatal("expected first enqueue to succeed")
	}
	if !q.Enqueue(c, "no-answer") {
		t.Fatal("expected second enqueue to succeed")
	}
	if q.Enqueue(c, "no-answer") {
		t.Fatal("expected third enqueue to be rejected")
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", q.Len())
	}
}

func TestRetryQueueDelaysEntries(t *testing.T) {
	q := NewRetryQueue(2, 5*time.Minute)
	now := time.Now()
	q.clock = func() time.Time { return now }

	q.Enqueue(leads.Contact{RecordID: "101"}, "no-answer")

	if due := q.Drain(); len(due) != 0 {
		t.Fatalf("expected nothing due yet, got %d", len(due))
	}

	q.clock = func() time.Time { return now.Add(5 * time.Minute) }
	due := q.Drain()
	if len(due) != 1 || due[0].RecordID != "101" {
		t.Fatalf("expected entry due after delay, got %+v", due)
	}
	if q.Len() != 0 {
		t.Fatalf("expected drained queue, got %d entries", q.Len())
	}
}

func TestRetryQueueEntriesSnapshot(t *testing.T) {
	q := NewRetryQueue(2, time.Minute)
	q.Enqueue(leads.Contact{RecordID: "1"}, "busy")
	q.Enqueue(leads.Contact{RecordID: "2"}, "no-answer")

	entries := q.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Attempts != 1 || entries[1].Attempts != 1 {
		t.Fatalf("unexpected attempt counts: %+v", entries)
	}
	if entries[0].Reason != "busy" || entries[1].Reason != "no-answer" {
		t.Fatalf("unexpected reasons: %+v", entries)
	}
}
