package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/arnavshah/relief-dispatch-go/pkg/assignment"
	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// CreateRequest submits a new relief request in PENDING state
func (h *Handler) CreateRequest(c *gin.Context) {
	var input models.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rt, err := models.ParseRequestType(input.RequestType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op := currentOperator(c)
	loc := models.Coordinates{Lat: input.Latitude, Lon: input.Longitude}
	req, err := h.Requests.Create(c.Request.Context(), op.ID, rt, strings.TrimSpace(input.Description), loc)
	if err != nil {
		h.internalError(c, "create request", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": req.View()})
}

// MyRequests lists the caller's own requests, newest first
func (h *Handler) MyRequests(c *gin.Context) {
	rows, err := h.Requests.ListByRequester(c.Request.Context(), currentOperator(c).ID)
	if err != nil {
		h.internalError(c, "list own requests", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views(rows)})
}

// ListRequests is the operator queue. ?status=PENDING,ASSIGNED narrows it;
// without a filter completed requests are hidden.
func (h *Handler) ListRequests(c *gin.Context) {
	var filter database.RequestFilter
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st, err := models.ParseStatus(part)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			filter.Statuses = append(filter.Statuses, st)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = n
	}

	rows, err := h.Requests.List(c.Request.Context(), filter)
	if err != nil {
		h.internalError(c, "list requests", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": views(rows)})
}

// GetRequest returns one request
func (h *Handler) GetRequest(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	req, err := h.Requests.Get(c.Request.Context(), id)
	if errors.Is(err, database.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}
	if err != nil {
		h.internalError(c, "get request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req.View()})
}

// Candidates previews the ranking an auto-assign would use
func (h *Handler) Candidates(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	maxTasks, ok := h.maxActiveTasks(c)
	if !ok {
		return
	}

	preview, err := h.Coordinator.Preview(c.Request.Context(), id, maxTasks)
	if errors.Is(err, assignment.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Request not found"})
		return
	}
	if err != nil {
		h.internalError(c, "preview candidates", err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

// AutoAssign assigns the best available responder to a pending request
func (h *Handler) AutoAssign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	maxTasks, ok := h.maxActiveTasks(c)
	if !ok {
		return
	}

	out, err := h.Coordinator.AutoAssign(c.Request.Context(), currentOperator(c), id, maxTasks)
	h.writeOutcome(c, out, err)
}

// SelfAssign assigns a pending request to the caller
func (h *Handler) SelfAssign(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	out, err := h.Coordinator.SelfAssign(c.Request.Context(), currentOperator(c), id)
	h.writeOutcome(c, out, err)
}

// UpdateStatus is the manual status editor
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var input models.StatusInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	to, err := models.ParseStatus(input.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.Coordinator.UpdateStatus(c.Request.Context(), currentOperator(c), id, to)
	h.writeOutcome(c, out, err)
}

// maxActiveTasks reads max_active_tasks from the query or a JSON body.
func (h *Handler) maxActiveTasks(c *gin.Context) (int, bool) {
	var input struct {
		MaxActiveTasks *int `json:"max_active_tasks" form:"max_active_tasks"`
	}
	if err := c.ShouldBindQuery(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid max_active_tasks"})
		return 0, false
	}
	if input.MaxActiveTasks == nil && hasJSONBody(c) {
		// an empty chunked body decodes to io.EOF
		if err := c.ShouldBindJSON(&input); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return 0, false
		}
	}
	if input.MaxActiveTasks == nil {
		return h.MaxActiveTasks, true
	}
	if *input.MaxActiveTasks < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_active_tasks must be at least 1"})
		return 0, false
	}
	return *input.MaxActiveTasks, true
}

// hasJSONBody reports whether the request may carry a JSON body, including
// chunked bodies whose length is unknown.
func hasJSONBody(c *gin.Context) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return false
	}
	return c.Request.ContentLength > 0 || c.ContentType() == binding.MIMEJSON
}

var outcomeHTTP = map[assignment.Kind]int{
	assignment.KindAssigned:          http.StatusOK,
	assignment.KindUpdated:           http.StatusOK,
	assignment.KindUnchanged:         http.StatusOK,
	assignment.KindAlreadyAssigned:   http.StatusConflict,
	assignment.KindNoCandidate:       http.StatusConflict,
	assignment.KindNotFound:          http.StatusNotFound,
	assignment.KindUnauthorized:      http.StatusForbidden,
	assignment.KindInvalidTransition: http.StatusUnprocessableEntity,
}

func (h *Handler) writeOutcome(c *gin.Context, out assignment.Outcome, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		h.Log.Warnf("assignment on request %s gave up waiting: %v", c.Param("id"), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Request is busy, try again", "retryable": true})
		return
	}
	if err != nil {
		h.internalError(c, "assignment", err)
		return
	}
	code, ok := outcomeHTTP[out.Kind]
	if !ok {
		code = http.StatusInternalServerError
	}

	body := gin.H{
		"outcome":    out.Kind,
		"request_id": out.RequestID,
	}
	if out.Status != "" {
		body["status"] = out.Status
	}
	if out.ResponderID != 0 {
		body["responder_id"] = out.ResponderID
	}
	if out.OverCapacity {
		body["over_capacity"] = true
	}
	if e := out.Err(); e != nil {
		body["error"] = e.Error()
	}
	if out.Kind == assignment.KindNoCandidate {
		body["retryable"] = true
	}
	c.JSON(code, body)
}

func views(rows []database.ReliefRequest) []models.ReliefRequestView {
	out := make([]models.ReliefRequestView, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.View())
	}
	return out
}
