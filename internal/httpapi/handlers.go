package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"appointment-confirmer/internal/auth"
	"appointment-confirmer/internal/campaign"
	"appointment-confirmer/internal/history"
	"appointment-confirmer/internal/leads"
	"appointment-confirmer/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth        *auth.Manager
	OperatorKey string

	Leads     leads.Store
	Scheduler *campaign.Scheduler
	Retry     *campaign.RetryQueue
	History   *history.Store
}

// --- Auth ---

type loginRequest struct {
	OperatorID string `json:"operator_id"`
	Key        string `json:"key"`
}

// Login issues a JWT token pair for an operator holding the shared key.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.OperatorID == "" || req.Key == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "operator_id and key required"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Key), []byte(h.OperatorKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.OperatorID, "operator")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh exchanges a refresh token for a new pair.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), claims.OperatorID, "operator")
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Leads ---

// ListLeads returns contacts for a date, optionally narrowed by
// disposition and appointment time window.
func (h Handlers) ListLeads(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date required"})
		return
	}
	contacts, err := h.Leads.ListByDate(c.Request.Context(), date, splitCSV(c.Query("dispositions")))
	if err != nil {
		logger.FromGin(c).Error("listing leads failed", "date", date, "error", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "lead source unavailable"})
		return
	}
	contacts = leads.FilterByTimeWindow(contacts, c.Query("timeFrom"), c.Query("timeTo"))
	c.JSON(http.StatusOK, gin.H{"date": date, "count": len(contacts), "leads": contacts})
}

// ListStatuses returns the dispositions a lead may be moved to.
func (h Handlers) ListStatuses(c *gin.Context) {
	statuses, err := h.Leads.ListDispositions(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("listing statuses failed", "error", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "lead source unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"statuses": statuses})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateLeadStatus writes a disposition back to the lead source and moves
// the campaign's outcome counters.
func (h Handlers) UpdateLeadStatus(c *gin.Context) {
	recordID := c.Param("recordId")
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status required"})
		return
	}
	if err := h.Leads.UpdateStatus(c.Request.Context(), recordID, req.Status); err != nil {
		logger.FromGin(c).Error("updating lead status failed",
			"record_id", recordID, "status", req.Status, "error", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "lead source unavailable"})
		return
	}
	if h.Scheduler != nil {
		h.Scheduler.RecordDisposition(req.Status)
	}
	c.JSON(http.StatusOK, gin.H{"record_id": recordID, "status": req.Status})
}

// --- Campaign ---

type startCampaignRequest struct {
	Date         string   `json:"date"`
	Dispositions []string `json:"dispositions,omitempty"`
	TimeFrom     string   `json:"timeFrom,omitempty"`
	TimeTo       string   `json:"timeTo,omitempty"`

	// Instructions is free text handed to the agent on every call of
	// the run.
	Instructions string `json:"instructions,omitempty"`

	// FromRetryQueue starts a follow-up run over due retry entries
	// instead of fetching leads.
	FromRetryQueue bool `json:"fromRetryQueue,omitempty"`
}

// StartCampaign launches a calling run.
func (h Handlers) StartCampaign(c *gin.Context) {
	var req startCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var contacts []leads.Contact
	if req.FromRetryQueue {
		contacts = h.Retry.Drain()
		if len(contacts) == 0 {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "no retry entries due"})
			return
		}
	} else {
		if req.Date == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "date required"})
			return
		}
		var err error
		contacts, err = h.Leads.ListByDate(c.Request.Context(), req.Date, req.Dispositions)
		if err != nil {
			logger.FromGin(c).Error("fetching campaign leads failed", "date", req.Date, "error", err)
			c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "lead source unavailable"})
			return
		}
		contacts = leads.FilterByTimeWindow(contacts, req.TimeFrom, req.TimeTo)
	}

	if err := h.Scheduler.Start(contacts, req.Instructions); err != nil {
		if errors.Is(err, campaign.ErrAlreadyRunning) {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "campaign already running"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "campaign start failed"})
		return
	}
	logger.FromGin(c).Info("campaign started", "contacts", len(contacts), "from_retry", req.FromRetryQueue)
	c.JSON(http.StatusAccepted, gin.H{"contacts": len(contacts)})
}

// StopCampaign cancels the in-progress run.
func (h Handlers) StopCampaign(c *gin.Context) {
	h.Scheduler.Stop()
	c.JSON(http.StatusOK, gin.H{"stopped": true})
}

// recentCallsWindow bounds the status payload; the full ledger stays
// available through the history endpoint.
const recentCallsWindow = 20

// CampaignStatus reports run counters, the call summary, recent calls, and
// the retry queue.
func (h Handlers) CampaignStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"campaign":    h.Scheduler.Stats(),
		"summary":     h.History.Summarize(),
		"recentCalls": h.History.Recent(recentCallsWindow),
		"retry":       h.Retry.Entries(),
	})
}

// --- Call history ---

// CallHistory returns recent call records, newest first.
func (h Handlers) CallHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	records := h.History.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"count": len(records), "calls": records})
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
