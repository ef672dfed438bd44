package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/models"
)

const (
	// RequestIDHeader carries the correlation id of a call.
	RequestIDHeader = "X-Request-ID"

	requestIDKey = "request_id"
	operatorKey  = "operator"
)

// RequestID tags every call with a correlation id, reusing the caller's if sent
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestLogger logs one line per call
func RequestLogger(log logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.NopLogger{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := map[string]any{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"request_id": c.GetString(requestIDKey),
		}
		if op, ok := c.Get(operatorKey); ok {
			fields["operator_id"] = op.(models.Operator).ID
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}
		log.Infow("http request", fields)
	}
}

// AuthMiddleware verifies the bearer token and loads the calling account
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		token = strings.TrimPrefix(token, "Bearer ")

		claims, err := h.Tokens.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		// privileges come from the row, so approvals and removals apply at once
		acc, err := h.Accounts.Get(c.Request.Context(), claims.UserID)
		if errors.Is(err, database.ErrRecordNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unknown account"})
			return
		}
		if err != nil {
			h.internalError(c, "load account", err)
			c.Abort()
			return
		}

		c.Set(operatorKey, acc.Operator())
		c.Next()
	}
}

// StaffOnly admits active staff accounts
func StaffOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentOperator(c).CanAssign() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Staff access required"})
			return
		}
		c.Next()
	}
}

// SuperuserOnly admits active superusers
func SuperuserOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		op := currentOperator(c)
		if !op.IsActive || !op.IsSuperuser {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Administrator access required"})
			return
		}
		c.Next()
	}
}

func currentOperator(c *gin.Context) models.Operator {
	if v, ok := c.Get(operatorKey); ok {
		if op, ok := v.(models.Operator); ok {
			return op
		}
	}
	return models.Operator{}
}
