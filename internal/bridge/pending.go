package bridge

import (
	"sync"

	"github.com/google/uuid"

	"appointment-confirmer/internal/leads"
)

// PendingCall is the context registered when a call is placed and consumed
// when its media stream connects: the contact snapshot plus the free-text
// agent instructions of the run that placed the call.
type PendingCall struct {
	Contact      leads.Contact
	Instructions string
}

// PendingStore holds pending-call contexts between call placement and the
// media stream connecting. The scheduler registers a contact under a
// one-time token, passes the token through the stream's custom parameters,
// and the session consumes it when the stream starts. Tokens are
// single-use so a replayed or duplicated start frame cannot resurrect a
// contact.
type PendingStore struct {
	mu      sync.Mutex
	pending map[string]PendingCall
}

func NewPendingStore() *PendingStore {
	return &PendingStore{pending: make(map[string]PendingCall)}
}

// Register stores the call context and returns its token.
func (p *PendingStore) Register(c leads.Contact, instructions string) string {
	token := uuid.NewString()
	p.mu.Lock()
	p.pending[token] = PendingCall{Contact: c, Instructions: instructions}
	p.mu.Unlock()
	return token
}

// Consume removes and returns the call context for a token. The second
// return is false when the token is unknown or was already consumed.
func (p *PendingStore) Consume(token string) (PendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.pending[token]
	if ok {
		delete(p.pending, token)
	}
	return call, ok
}

// Drop discards a registration, for calls that fail before any stream
// connects.
func (p *PendingStore) Drop(token string) {
	p.mu.Lock()
	delete(p.pending, token)
	p.mu.Unlock()
}

// Len reports the number of outstanding registrations.
func (p *PendingStore) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
