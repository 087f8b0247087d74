package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"commhub/internal/routing"

	"github.com/gin-gonic/gin"
)

// --- Admin ---
// RBAC is applied by the route group.

func (h Handlers) AdminListExtensions(c *gin.Context) {
	list, err := h.Extensions.ListAllExtensions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"extensions": list, "count": len(list)})
}

func (h Handlers) AdminListSchedules(c *gin.Context) {
	list, err := h.Schedules.ListAllSchedules(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recurring_calls": list, "count": len(list)})
}

// AdminRunSchedules fires due schedules immediately instead of waiting for the runner.
func (h Handlers) AdminRunSchedules(c *gin.Context) {
	rep := h.Schedules.Tick(c.Request.Context(), h.now())
	c.JSON(http.StatusOK, rep)
}

// RegistrarStatus always answers 200; an unreachable registrar shows up in the body.
func (h Handlers) RegistrarStatus(c *gin.Context) {
	st, _ := h.Registrar.Status(c.Request.Context())
	c.JSON(http.StatusOK, st)
}

func (h Handlers) RegistrarCalls(c *gin.Context) {
	dialogs, err := h.Registrar.ActiveCalls(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": dialogs, "count": len(dialogs)})
}

func (h Handlers) RegistrarStart(c *gin.Context) {
	if !h.Registrar.Start(c.Request.Context()) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "registrar failed to start"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h Handlers) RegistrarStop(c *gin.Context) {
	if !h.Registrar.Stop(c.Request.Context()) {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "registrar failed to stop"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

type overrideRequest struct {
	Number     string `json:"number"`
	ConnectTo  string `json:"connect_to"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (h Handlers) ListOverrides(c *gin.Context) {
	list, err := h.Overrides.Active(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"overrides": list})
}

func (h Handlers) SetOverride(c *gin.Context) {
	var req overrideRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.TTLSeconds <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ttl_seconds must be positive"})
		return
	}
	o, err := h.Overrides.Set(c.Request.Context(), routing.Override{
		Number:    req.Number,
		ConnectTo: req.ConnectTo,
		ExpiresAt: h.now().Add(time.Duration(req.TTLSeconds) * time.Second),
		CreatedBy: callerOf(c).UserID,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h Handlers) DeleteOverride(c *gin.Context) {
	_ = h.Overrides.Remove(c.Request.Context(), c.Param("number"))
	c.Status(http.StatusNoContent)
}

// AuditTrail returns recent audit events for ?owner_id= (default: caller).
func (h Handlers) AuditTrail(c *gin.Context) {
	if h.AuditLog == nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "audit log not readable"})
		return
	}
	owner := c.Query("owner_id")
	if owner == "" {
		owner = callerOf(c).UserID
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	events, err := h.AuditLog.Recent(c.Request.Context(), owner, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
