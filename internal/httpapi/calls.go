package httpapi

import (
	"net/http"

	"commhub/internal/calls"
	"commhub/internal/rbac"

	"github.com/gin-gonic/gin"
)

type initiateCallRequest struct {
	From                string `json:"from"`
	To                  string `json:"to"`
	UseExternalProvider bool   `json:"use_external_provider"`
}

// InitiateCall starts a session for the caller. A registrar failure still
// answers 201 with the session in status failed.
func (h Handlers) InitiateCall(c *gin.Context) {
	var req initiateCallRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.Calls.InitiateCall(c.Request.Context(), calls.InitiateRequest{
		OwnerID:             callerOf(c).UserID,
		From:                req.From,
		To:                  req.To,
		UseExternalProvider: req.UseExternalProvider,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) ownedSession(c *gin.Context) (calls.Session, bool) {
	s, err := h.Calls.GetSession(c.Request.Context(), c.Param("id"))
	if err == nil && !callerOf(c).owns(s.OwnerID) {
		err = calls.ErrSessionNotFound
	}
	if err != nil {
		writeError(c, err)
		return calls.Session{}, false
	}
	return s, true
}

func (h Handlers) GetCall(c *gin.Context) {
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) EndCall(c *gin.Context) {
	s, ok := h.ownedSession(c)
	if !ok {
		return
	}
	out, err := h.Calls.EndCall(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": out, "duration": out.DurationSeconds()})
}

// ListActiveCalls shows privileged callers every live session and everyone
// else their own.
func (h Handlers) ListActiveCalls(c *gin.Context) {
	list, err := h.Calls.ListActiveSessions(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	caller := callerOf(c)
	if !rbac.IsPrivileged(caller.Role) {
		mine := list[:0]
		for _, s := range list {
			if s.OwnerID == caller.UserID {
				mine = append(mine, s)
			}
		}
		list = mine
	}
	c.JSON(http.StatusOK, gin.H{"calls": list, "count": len(list)})
}

func (h Handlers) CallHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.Calls.HealthCheck(c.Request.Context()))
}
