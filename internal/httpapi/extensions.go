package httpapi

import (
	"net/http"

	"commhub/internal/extensions"
	"commhub/internal/rbac"
	"commhub/internal/schedule"

	"github.com/gin-gonic/gin"
)

type createExtensionRequest struct {
	Number      string `json:"extension_number"`
	DisplayName string `json:"display_name"`
}

func (h Handlers) CreateExtension(c *gin.Context) {
	var req createExtensionRequest
	if !bindJSON(c, &req) {
		return
	}
	ext, err := h.Extensions.CreateExtension(c.Request.Context(), callerOf(c).UserID, req.Number, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ext)
}

func (h Handlers) ListExtensions(c *gin.Context) {
	list, err := h.Extensions.ListExtensionsForOwner(c.Request.Context(), callerOf(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"extensions": list})
}

// ownedExtension loads :id and hides extensions the caller does not own.
func (h Handlers) ownedExtension(c *gin.Context) (extensions.Extension, bool) {
	ext, err := h.Extensions.GetExtension(c.Request.Context(), c.Param("id"))
	if err == nil && !callerOf(c).owns(ext.OwnerID) {
		err = extensions.ErrExtensionNotFound
	}
	if err != nil {
		writeError(c, err)
		return extensions.Extension{}, false
	}
	return ext, true
}

func (h Handlers) GetExtension(c *gin.Context) {
	ext, ok := h.ownedExtension(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ext)
}

func (h Handlers) UpdateExtension(c *gin.Context) {
	ext, ok := h.ownedExtension(c)
	if !ok {
		return
	}
	var req extensions.Update
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.Extensions.UpdateExtension(c.Request.Context(), ext.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DeleteExtension(c *gin.Context) {
	ext, ok := h.ownedExtension(c)
	if !ok {
		return
	}
	if err := h.Extensions.DeleteExtension(c.Request.Context(), ext.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type placeCallRequest struct {
	To                  string `json:"to"`
	UseExternalProvider bool   `json:"use_external_provider"`
}

func (h Handlers) PlaceExtensionCall(c *gin.Context) {
	ext, ok := h.ownedExtension(c)
	if !ok {
		return
	}
	var req placeCallRequest
	if !bindJSON(c, &req) {
		return
	}
	s, err := h.Extensions.PlaceCallFromExtension(c.Request.Context(), ext.ID, req.To, req.UseExternalProvider)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

type createScheduleRequest struct {
	DestinationNumber   string        `json:"destination_number"`
	Rule                schedule.Rule `json:"schedule"`
	UseExternalProvider bool          `json:"use_external_provider"`
}

func (h Handlers) CreateSchedule(c *gin.Context) {
	ext, ok := h.ownedExtension(c)
	if !ok {
		return
	}
	var req createScheduleRequest
	if !bindJSON(c, &req) {
		return
	}
	sc, err := h.Schedules.CreateSchedule(c.Request.Context(), schedule.CreateRequest{
		ExtensionID:         ext.ID,
		DestinationNumber:   req.DestinationNumber,
		Rule:                req.Rule,
		UseExternalProvider: req.UseExternalProvider,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sc)
}

func (h Handlers) ListSchedules(c *gin.Context) {
	ext, ok := h.ownedExtension(c)
	if !ok {
		return
	}
	list, err := h.Schedules.ListSchedulesForExtension(c.Request.Context(), ext.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recurring_calls": list})
}

// ownedSchedule loads :id and checks the caller owns its extension. Schedules
// of deleted extensions are only visible to privileged callers.
func (h Handlers) ownedSchedule(c *gin.Context) (schedule.Schedule, bool) {
	ctx := c.Request.Context()
	sc, err := h.Schedules.GetSchedule(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return schedule.Schedule{}, false
	}
	caller := callerOf(c)
	ext, err := h.Extensions.GetExtension(ctx, sc.ExtensionID)
	allowed := rbac.IsPrivileged(caller.Role) || (err == nil && ext.OwnerID == caller.UserID)
	if !allowed {
		writeError(c, schedule.ErrScheduleNotFound)
		return schedule.Schedule{}, false
	}
	return sc, true
}

func (h Handlers) UpdateSchedule(c *gin.Context) {
	sc, ok := h.ownedSchedule(c)
	if !ok {
		return
	}
	var req schedule.Update
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.Schedules.UpdateSchedule(c.Request.Context(), sc.ID, req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) DeleteSchedule(c *gin.Context) {
	sc, ok := h.ownedSchedule(c)
	if !ok {
		return
	}
	if err := h.Schedules.DeleteSchedule(c.Request.Context(), sc.ID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
