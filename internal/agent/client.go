package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"appointment-confirmer/internal/config"
)

const defaultEndpoint = "wss://api.elevenlabs.io/v1/convai/conversation"

// Conn is one live conversation with the agent. Implementations are safe
// for one writer goroutine per method and a single Events consumer.
type Conn interface {
	// SendInit sends the initiation frame carrying dynamic variables. It
	// must be the first frame on the socket.
	SendInit(msg InitMessage) error
	// SendAudio forwards one base64 chunk of caller audio.
	SendAudio(b64 string) error
	// SendPong answers a ping event.
	SendPong(eventID int) error
	// Events delivers decoded agent events. The channel closes when the
	// socket closes.
	Events() <-chan Event
	Close() error
}

// Dialer opens conversations against the agent service.
type Dialer struct {
	endpoint string
	agentID  string
	apiKey   string
	log      *slog.Logger
	dial     *websocket.Dialer
}

func NewDialer(cfg config.ElevenLabsConfig, log *slog.Logger) *Dialer {
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{
		endpoint: defaultEndpoint,
		agentID:  cfg.AgentID,
		apiKey:   cfg.APIKey,
		log:      log,
		dial:     websocket.DefaultDialer,
	}
}

// WithEndpoint overrides the conversation endpoint. Used by tests.
func (d *Dialer) WithEndpoint(endpoint string) *Dialer {
	d.endpoint = endpoint
	return d
}

// Dial opens a conversation socket and starts the read pump.
func (d *Dialer) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, fmt.Errorf("agent endpoint: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", d.agentID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	if d.apiKey != "" {
		header.Set("xi-api-key", d.apiKey)
	}

	ws, resp, err := d.dial.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial agent: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	c := &conn{
		ws:     ws,
		log:    d.log,
		events: make(chan Event, 32),
	}
	go c.readPump()
	return c, nil
}

type conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex
	events  chan Event

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) SendInit(msg InitMessage) error {
	return c.writeJSON(msg)
}

func (c *conn) SendAudio(b64 string) error {
	return c.writeJSON(map[string]string{"user_audio_chunk": b64})
}

func (c *conn) SendPong(eventID int) error {
	return c.writeJSON(map[string]any{"type": "pong", "event_id": eventID})
}

func (c *conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) Events() <-chan Event { return c.events }

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// readPump decodes frames until the socket closes. Frames that fail to
// decode are logged and skipped rather than tearing the conversation down.
func (c *conn) readPump() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("agent socket closed unexpectedly", "error", err)
			}
			return
		}
		ev, err := ParseEvent(data)
		if err != nil {
			c.log.Warn("skipping undecodable agent frame", "error", err)
			continue
		}
		c.events <- ev
	}
}
