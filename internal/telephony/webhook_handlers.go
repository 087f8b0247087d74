package telephony

import (
	"net/http"
	"time"

	"commhub/pkg/logger"

	"github.com/gin-gonic/gin"
)

// WebhookHandler converts Twilio webhooks into internal calls and writes TwiML.
// No business logic here.
type WebhookHandler struct {
	Sessions SessionBridge
	Router   InboundRouter
	Now      func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

func writeTwiML(c *gin.Context, res InboundCallResult) {
	twiml, err := RenderTwiML(res)
	if err != nil {
		logger.FromGin(c).Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}

// HandleBridge answers an outbound PSTN leg by dialing the session's SIP identity.
func (h WebhookHandler) HandleBridge(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session bridge not configured"})
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}

	target, err := h.Sessions.BridgeTarget(c.Request.Context(), sessionID)
	if err != nil {
		log.Warn("bridge target lookup failed", "session_id", sessionID, "err", err)
		writeTwiML(c, InboundCallResult{Action: InboundCallActionHangup})
		return
	}
	writeTwiML(c, InboundCallResult{Action: InboundCallActionConnect, ConnectTo: target})
}

// HandleStatus applies a Twilio status callback to the session.
func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Sessions == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session bridge not configured"})
		return
	}
	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session_id required"})
		return
	}

	if err := h.Sessions.ApplyProviderStatus(c.Request.Context(), sessionID, form.CallSid, form.CallStatus); err != nil {
		// Twilio retries on non-2xx; a stale session is not worth a retry.
		log.Warn("provider status not applied", "session_id", sessionID, "call_status", form.CallStatus, "err", err)
	}
	c.Status(http.StatusNoContent)
}

// HandleInboundCall routes a call arriving on a provider number.
func (h WebhookHandler) HandleInboundCall(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Router == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "inbound router not configured"})
		return
	}

	form, err := ParseTwilioInboundCall(c.Request)
	if err != nil {
		log.Warn("twilio webhook parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	res, err := h.Router.RouteInboundCall(c.Request.Context(), form.ToInboundCallRequest(h.now()))
	if err != nil {
		log.Error("inbound call routing failed", "to", form.To, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "routing failed"})
		return
	}
	log.Info("inbound call routed", "to", form.To, "action", res.Action, "reason", res.Reason)
	writeTwiML(c, res)
}
