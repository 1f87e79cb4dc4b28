package history

import (
	"context"
	"log/slog"
)

// Sessions do not mutate the ledger directly; they emit lifecycle events
// onto a channel owned by a Collector goroutine. This keeps the relay path
// free of ledger locking and decouples persistence from relay logic.

type SessionEventType string

const (
	SessionStarted SessionEventType = "started"
	SessionReady   SessionEventType = "ready"
	SessionClosed  SessionEventType = "closed"
)

// SessionEvent is one lifecycle notification from a call session.
type SessionEvent struct {
	Type      SessionEventType
	CallSID   string
	StreamSID string

	// Transcript accompanies SessionClosed; empty transcripts are ignored.
	Transcript []TranscriptLine
}

// Collector consumes session events and applies them to the store.
type Collector struct {
	store *Store
	log   *slog.Logger
	ch    chan SessionEvent
}

func NewCollector(store *Store, log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{
		store: store,
		log:   log,
		// Buffered so a slow consumer never stalls a session teardown.
		ch: make(chan SessionEvent, 64),
	}
}

// C is the send side handed to sessions.
func (c *Collector) C() chan<- SessionEvent { return c.ch }

// Run applies events until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.ch:
			c.apply(ev)
		}
	}
}

func (c *Collector) apply(ev SessionEvent) {
	switch ev.Type {
	case SessionStarted:
		c.log.Info("call session started", "call_sid", ev.CallSID, "stream_sid", ev.StreamSID)
	case SessionReady:
		c.log.Info("call session ready", "call_sid", ev.CallSID, "stream_sid", ev.StreamSID)
	case SessionClosed:
		if len(ev.Transcript) > 0 && ev.CallSID != "" {
			c.store.AttachTranscript(ev.CallSID, ev.Transcript)
		}
		c.log.Info("call session closed",
			"call_sid", ev.CallSID,
			"stream_sid", ev.StreamSID,
			"transcript_lines", len(ev.Transcript))
	default:
		c.log.Warn("unknown session event", "type", string(ev.Type))
	}
}
