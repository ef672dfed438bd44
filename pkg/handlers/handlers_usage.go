package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// MyStats returns the caller's daily assignment stats for the last 30 days
func (h *Handler) MyStats(c *gin.Context) {
	op := currentOperator(c)

	usage, err := h.Stats.Recent(c.Request.Context(), op.ID)
	if err != nil {
		h.internalError(c, "fetch stats", err)
		return
	}

	// Calculate totals
	var auto, self, noCandidate, already int64
	for _, u := range usage {
		auto += int64(u.AutoAssigned)
		self += int64(u.SelfAssigned)
		noCandidate += int64(u.NoCandidate)
		already += int64(u.AlreadyAssigned)
	}

	c.JSON(http.StatusOK, gin.H{
		"operator":      op.Username,
		"usage_history": usage,
		"totals": gin.H{
			"auto_assigned":    auto,
			"self_assigned":    self,
			"no_candidate":     noCandidate,
			"already_assigned": already,
		},
	})
}

// ResponderLoad lists eligible responders with their live load and a fairness score
func (h *Handler) ResponderLoad(c *gin.Context) {
	report, err := h.Coordinator.Load(c.Request.Context())
	if err != nil {
		h.internalError(c, "responder load", err)
		return
	}
	c.JSON(http.StatusOK, report)
}
