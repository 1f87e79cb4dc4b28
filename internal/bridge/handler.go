package bridge

import (
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"appointment-confirmer/internal/agent"
	"appointment-confirmer/internal/config"
	"appointment-confirmer/internal/history"
	"appointment-confirmer/internal/telephony"
	"appointment-confirmer/pkg/logger"
)

// Handler terminates the provider's media-stream websocket and bridges it
// to an agent conversation per call.
type Handler struct {
	cfg      config.ElevenLabsConfig
	dialer   *agent.Dialer
	pending  *PendingStore
	events   chan<- history.SessionEvent
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(cfg config.ElevenLabsConfig, dialer *agent.Dialer, pending *PendingStore, events chan<- history.SessionEvent, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		cfg:     cfg,
		dialer:  dialer,
		pending: pending,
		events:  events,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Frames come from the telephony provider, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// MediaStream handles GET /media-stream.
func (h *Handler) MediaStream(c *gin.Context) {
	log := logger.FromGin(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("media stream upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	writer := &wsWriter{ws: ws}
	var session *Session
	started := false

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("media stream closed unexpectedly", "error", err)
			}
			break
		}

		ev, err := telephony.ParseStreamEvent(data)
		if err != nil {
			log.Warn("skipping undecodable stream frame", "error", err)
			continue
		}

		switch ev.Type {
		case telephony.StreamEventStart:
			if started {
				log.Warn("duplicate start frame", "stream_sid", ev.Start.StreamSID)
				continue
			}
			started = true
			// A nil session means the agent leg could not be set up. The
			// telephony leg stays connected, just silent, so we keep
			// reading and discarding frames until the provider hangs up.
			session = h.startSession(c, writer, ev.Start, log)

		case telephony.StreamEventMedia:
			if session != nil {
				session.HandleMedia(ev.Media.Payload)
			}

		case telephony.StreamEventStop:
			if session != nil {
				session.HandleStop()
			}
			return

		case telephony.StreamEventMark:
			// Playback marks are not used.
		}
	}

	if session != nil {
		session.Close("media stream disconnected")
	}
}

func (h *Handler) startSession(c *gin.Context, writer MediaWriter, st *telephony.StreamStart, log *slog.Logger) *Session {
	var call PendingCall
	known := false
	if token := st.CustomParameters["tempId"]; token != "" {
		call, known = h.pending.Consume(token)
		if !known {
			log.Warn("unknown or reused stream token",
				"call_sid", st.CallSID, "lead_id", st.CustomParameters["leadId"])
		}
	}

	conn, err := h.dialer.Dial(c.Request.Context())
	if err != nil {
		log.Error("dialing agent failed", "call_sid", st.CallSID, "error", err)
		return nil
	}

	session := NewSession(h.cfg, writer, conn, h.events, log)
	if err := session.HandleStart(st, call, known); err != nil {
		log.Error("starting session failed", "call_sid", st.CallSID, "error", err)
		return nil
	}
	log.Info("media stream bridged",
		"call_sid", st.CallSID, "stream_sid", st.StreamSID, "known_contact", known)
	return session
}

// wsWriter serializes frame writes onto a websocket connection. The stream
// read loop and the agent event pump both write frames.
type wsWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *wsWriter) WriteFrame(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ws.WriteJSON(v)
}
