package httpapi

import (
	"errors"
	"net/http"
	"time"

	"commhub/internal/audit"
	"commhub/internal/auth"
	"commhub/internal/calls"
	"commhub/internal/extensions"
	"commhub/internal/rbac"
	"commhub/internal/reporting"
	"commhub/internal/routing"
	"commhub/internal/schedule"
	"commhub/internal/sip"
	"commhub/internal/telephony"
	"commhub/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth       *auth.Manager
	Calls      *calls.Orchestrator
	Extensions *extensions.Manager
	Schedules  *schedule.Scheduler
	Registrar  sip.Gateway
	Overrides  *routing.MemoryOverrideStore
	AuditLog   audit.Reader
	Reports    *reporting.Service

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}
	return h.Now()
}

// writeError maps service errors onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, calls.ErrSessionNotFound),
		errors.Is(err, extensions.ErrExtensionNotFound),
		errors.Is(err, schedule.ErrScheduleNotFound):
		status = http.StatusNotFound
	case errors.Is(err, calls.ErrInvalidRequest),
		errors.Is(err, extensions.ErrInvalidArgument),
		errors.Is(err, schedule.ErrInvalidArgument),
		errors.Is(err, schedule.ErrInvalidRule),
		errors.Is(err, routing.ErrInvalidOverride),
		errors.Is(err, reporting.ErrInvalidRequest):
		status = http.StatusBadRequest
	case errors.Is(err, extensions.ErrDuplicateNumber),
		errors.Is(err, calls.ErrSessionEnded),
		errors.Is(err, calls.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, sip.ErrRegistrationFailed),
		errors.Is(err, sip.ErrRegistrarUnavailable),
		errors.Is(err, telephony.ErrProviderFailed):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		logger.FromGin(c).Error("request failed", "err", err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	return true
}

type identity auth.Identity

func callerOf(c *gin.Context) identity {
	id, _ := auth.IdentityFrom(c.Request.Context())
	return identity(id)
}

// owns reports whether the caller may act on a resource owned by ownerID.
// Resources of other users are reported as missing.
func (id identity) owns(ownerID string) bool {
	return id.UserID == ownerID || rbac.IsPrivileged(id.Role)
}

// --- Auth ---

type tokenRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IssueToken issues a JWT token pair.
//
// NOTE: development-only; routes only mount it outside production.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	if !rbac.IsKnown(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) RefreshToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(h.now(), req.RefreshToken)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

func (h Handlers) Me(c *gin.Context) {
	id := callerOf(c)
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role})
}
