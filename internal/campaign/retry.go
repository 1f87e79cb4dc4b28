package campaign

import (
	"sync"
	"time"

	"appointment-confirmer/internal/leads"
)

// RetryEntry is one unanswered call waiting for another attempt.
type RetryEntry struct {
	Contact leads.Contact `json:"contact"`
	// Reason is the terminal status that put the entry here.
	Reason   string `json:"reason"`
	Attempts int    `json:"attempts"`
	// NotBefore is the earliest time the entry may be dialed again.
	NotBefore time.Time `json:"notBefore"`
}

// RetryQueue collects contacts whose calls ended without connecting.
// Entries respect a per-contact attempt cap; re-dialing happens when an
// operator starts a follow-up run from the queue, never automatically
// inside a running campaign.
type RetryQueue struct {
	maxRetries int
	delay      time.Duration
	clock      func() time.Time

	mu       sync.Mutex
	entries  []RetryEntry
	attempts map[string]int
}

func NewRetryQueue(maxRetries int, delay time.Duration) *RetryQueue {
	return &RetryQueue{
		maxRetries: maxRetries,
		delay:      delay,
		clock:      time.Now,
		attempts:   make(map[string]int),
	}
}

// Enqueue adds a contact for another attempt. It reports false when the
// contact has exhausted its attempts.
func (q *RetryQueue) Enqueue(c leads.Contact, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.attempts[c.RecordID]
	if n >= q.maxRetries {
		return false
	}
	q.attempts[c.RecordID] = n + 1
	q.entries = append(q.entries, RetryEntry{
		Contact:   c,
		Reason:    reason,
		Attempts:  n + 1,
		NotBefore: q.clock().Add(q.delay),
	})
	return true
}

// Drain removes and returns every entry whose delay has elapsed.
func (q *RetryQueue) Drain() []leads.Contact {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock()
	var due []leads.Contact
	var remaining []RetryEntry
	for _, e := range q.entries {
		if !e.NotBefore.After(now) {
			due = append(due, e.Contact)
		} else {
			remaining = append(remaining, e)
		}
	}
	q.entries = remaining
	return due
}

// Entries returns a snapshot of the queue.
func (q *RetryQueue) Entries() []RetryEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]RetryEntry(nil), q.entries...)
}

// Len reports the number of queued entries.
func (q *RetryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
