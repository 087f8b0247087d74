package httpapi

import (
	"net/http"
	"time"

	"commhub/internal/reporting"

	"github.com/gin-gonic/gin"
)

const defaultReportWindow = 24 * time.Hour

// CallReport summarizes the caller's calls over ?from=&to= (RFC 3339, default
// the last 24h). Privileged callers may pass ?owner_id=.
func (h Handlers) CallReport(c *gin.Context) {
	caller := callerOf(c)
	owner := caller.UserID
	if q := c.Query("owner_id"); q != "" && caller.owns(q) {
		owner = q
	}

	to := h.now().UTC()
	from := to.Add(-defaultReportWindow)
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		to = t
		if c.Query("from") == "" {
			from = to.Add(-defaultReportWindow)
		}
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		from = t
	}

	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		OwnerID: owner,
		Range:   reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
