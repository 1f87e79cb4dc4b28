package telephony

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"appointment-confirmer/internal/history"
	"appointment-confirmer/pkg/logger"
)

// StatusSink receives terminal call outcomes, decoupling webhook handling
// from the campaign run that placed the call.
type StatusSink interface {
	OnCallStatus(callSID, status string)
}

// WebhookHandler terminates provider callbacks: the answer webhook that
// opens the media stream, lifecycle status updates, and recording
// notifications. It also proxies recording media so clients never need
// provider credentials.
type WebhookHandler struct {
	provider  Provider
	store     *history.Store
	sink      StatusSink
	streamURL string
	publicURL string
	log       *slog.Logger
}

func NewWebhookHandler(provider Provider, store *history.Store, sink StatusSink, streamURL, publicURL string, log *slog.Logger) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		provider:  provider,
		store:     store,
		sink:      sink,
		streamURL: streamURL,
		publicURL: publicURL,
		log:       log,
	}
}

// Voice answers the provider's connect callback with stream instructions.
// The lead id and pending-call token ride along as stream parameters so
// the media stream can recover the contact.
func (h *WebhookHandler) Voice(c *gin.Context) {
	params := map[string]string{}
	if v := c.Query("leadId"); v != "" {
		params["leadId"] = v
	}
	if v := c.Query("tempId"); v != "" {
		params["tempId"] = v
	}

	xml, err := RenderStreamTwiML(h.streamURL, params)
	if err != nil {
		// Answer with a hangup document so the caller is not left on a
		// dead line while the provider waits for instructions.
		logger.FromGin(c).Error("rendering stream instructions failed", "error", err)
		hangup, herr := RenderHangupTwiML()
		if herr != nil {
			c.String(http.StatusInternalServerError, "instruction rendering failed")
			return
		}
		c.Data(http.StatusOK, "application/xml", []byte(hangup))
		return
	}
	c.Data(http.StatusOK, "application/xml", []byte(xml))
}

// Status applies a call lifecycle callback.
func (h *WebhookHandler) Status(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")
	if callSID == "" || status == "" {
		c.String(http.StatusBadRequest, "CallSid and CallStatus are required")
		return
	}
	duration, _ := strconv.Atoi(c.PostForm("CallDuration"))

	log := logger.WithCall(c, callSID)
	h.store.UpdateStatus(callSID, status, duration)
	if h.sink != nil {
		h.sink.OnCallStatus(callSID, status)
	}
	log.Info("call status update", "status", status, "duration", duration)
	c.Status(http.StatusNoContent)
}

// Recording stores the recording reference when the provider finishes
// writing it. The ledger holds the proxied URL, not the provider's.
func (h *WebhookHandler) Recording(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	recordingSID := c.PostForm("RecordingSid")
	if callSID == "" || recordingSID == "" {
		c.String(http.StatusBadRequest, "CallSid and RecordingSid are required")
		return
	}
	duration, _ := strconv.Atoi(c.PostForm("RecordingDuration"))

	h.store.AttachRecording(callSID, h.publicURL+"/v1/recordings/"+recordingSID, recordingSID, duration)
	logger.WithCall(c, callSID).Info("recording ready",
		"recording_sid", recordingSID, "duration", duration)
	c.Status(http.StatusNoContent)
}

// ServeRecording streams a recording through the provider adapter.
func (h *WebhookHandler) ServeRecording(c *gin.Context) {
	sid := c.Param("sid")
	if sid == "" {
		c.String(http.StatusBadRequest, "recording id is required")
		return
	}

	media, err := h.provider.FetchRecording(c.Request.Context(), sid)
	if err != nil {
		logger.FromGin(c).Error("fetching recording failed", "recording_sid", sid, "error", err)
		c.String(http.StatusBadGateway, "recording unavailable")
		return
	}
	defer media.Body.Close()

	c.DataFromReader(http.StatusOK, -1, media.ContentType, media.Body, nil)
}
