package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/alerts"
	"github.com/arnavshah/relief-dispatch-go/pkg/assignment"
	"github.com/arnavshah/relief-dispatch-go/pkg/auth"
	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

// Handler contains dependencies for the route handlers
type Handler struct {
	DB          *gorm.DB
	Accounts    *database.AccountStore
	Requests    *database.RequestStore
	Stats       *database.StatsStore
	Alerts      alerts.Store
	Coordinator *assignment.Coordinator
	Tokens      *auth.TokenIssuer
	// MaxActiveTasks is the capacity threshold when a call does not name one.
	MaxActiveTasks int
	Log            logger.Logger
}

// New wires a handler over db with SQL-backed stores.
func New(db *gorm.DB, coord *assignment.Coordinator, tokens *auth.TokenIssuer, alertStore alerts.Store, maxActiveTasks int, log logger.Logger) *Handler {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Handler{
		DB:             db,
		Accounts:       &database.AccountStore{DB: db},
		Requests:       &database.RequestStore{DB: db},
		Stats:          &database.StatsStore{DB: db},
		Alerts:         alertStore,
		Coordinator:    coord,
		Tokens:         tokens,
		MaxActiveTasks: maxActiveTasks,
		Log:            log,
	}
}

// Index is the service banner
func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "relief-dispatch", "status": "ok"})
}

// Health pings the database
func (h *Handler) Health(c *gin.Context) {
	sqlDB, err := h.DB.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		h.Log.Errorf("health check failed: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Signup registers a requester or a volunteer
func (h *Handler) Signup(c *gin.Context) {
	var input models.SignupInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		h.internalError(c, "hash password", err)
		return
	}

	acc, err := h.Accounts.Register(c.Request.Context(), input, hash)
	if errors.Is(err, database.ErrUsernameTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "register account", err)
		return
	}

	message := "Account created"
	if input.Role == models.RoleVolunteer {
		message = "Volunteer account created and pending approval"
	}
	c.JSON(http.StatusCreated, gin.H{"account": acc, "message": message})
}

// Login exchanges credentials for a bearer token
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	acc, err := auth.Authenticate(c.Request.Context(), h.Accounts, req.Username, req.Password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		return
	}
	if err != nil {
		h.internalError(c, "authenticate", err)
		return
	}

	token, err := h.Tokens.CreateToken(acc.Operator())
	if err != nil {
		h.internalError(c, "create token", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "bearer", "user": acc.Operator()})
}

// UpdateLocation records the calling responder's position
func (h *Handler) UpdateLocation(c *gin.Context) {
	var input models.LocationInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op := currentOperator(c)
	loc := models.Coordinates{Lat: *input.Latitude, Lon: *input.Longitude}
	if err := h.Accounts.SetLocation(c.Request.Context(), op.ID, loc); err != nil {
		if errors.Is(err, database.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		h.internalError(c, "set location", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"location": loc})
}

// ApproveResponder activates a pending volunteer
func (h *Handler) ApproveResponder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	acc, err := h.Accounts.Approve(c.Request.Context(), id)
	switch {
	case errors.Is(err, database.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
	case errors.Is(err, database.ErrNotResponder):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		h.internalError(c, "approve responder", err)
	default:
		h.Log.Infow("responder approved", map[string]any{"responder_id": acc.ID, "by": currentOperator(c).Username})
		c.JSON(http.StatusOK, gin.H{"account": acc})
	}
}

// PostAlert publishes a dashboard alert
func (h *Handler) PostAlert(c *gin.Context) {
	var input models.PostAlertInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alert, err := h.Alerts.Post(c.Request.Context(), input, currentOperator(c).Username)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"alert": alert})
}

// ListAlerts returns active alerts, newest first
func (h *Handler) ListAlerts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.Alerts.Active(c.Request.Context(), limit)
	if err != nil {
		h.internalError(c, "list alerts", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": list})
}

// CriticalAlert returns the newest active critical alert, or null
func (h *Handler) CriticalAlert(c *gin.Context) {
	alert, err := h.Alerts.LatestCritical(c.Request.Context())
	if err != nil {
		h.internalError(c, "latest critical alert", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"alert": alert})
}

func (h *Handler) internalError(c *gin.Context, what string, err error) {
	h.Log.Errorf("%s (request %s): %v", what, c.GetString(requestIDKey), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}
