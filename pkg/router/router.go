// Package router assembles the HTTP surface shared by the server binary and
// the serverless entry point.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/relief-dispatch-go/pkg/handlers"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
)

// Options controls optional routes and middleware.
type Options struct {
	Logger logger.Logger
	// Metrics is mounted on MetricsPath, or /metrics, when set.
	Metrics     http.Handler
	MetricsPath string
}

// New registers every route on a fresh engine.
func New(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestID(), handlers.RequestLogger(opts.Logger))

	r.GET("/", h.Index)
	r.GET("/healthz", h.Health)
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(opts.Metrics))
	}

	api := r.Group("/api")
	api.GET("/alerts/critical", h.CriticalAlert)
	api.POST("/signup", h.Signup)
	api.POST("/login", h.Login)

	// Authenticated endpoints
	authed := api.Group("")
	authed.Use(h.AuthMiddleware())
	{
		authed.GET("/me/requests", h.MyRequests)
		authed.POST("/requests", h.CreateRequest)
		authed.GET("/alerts", h.ListAlerts)

		// the coordinator answers Unauthorized itself
		authed.POST("/requests/:id/auto-assign", h.AutoAssign)
		authed.POST("/requests/:id/assign", h.SelfAssign)
		authed.PUT("/requests/:id/status", h.UpdateStatus)
	}

	// Staff endpoints
	staff := authed.Group("")
	staff.Use(handlers.StaffOnly())
	{
		staff.PUT("/me/location", h.UpdateLocation)
		staff.GET("/requests", h.ListRequests)
		staff.GET("/requests/:id", h.GetRequest)
		staff.GET("/requests/:id/candidates", h.Candidates)
		staff.GET("/responders/load", h.ResponderLoad)
		staff.GET("/stats", h.MyStats)
	}

	// Admin endpoints
	admin := r.Group("/admin")
	admin.Use(h.AuthMiddleware(), handlers.SuperuserOnly())
	{
		admin.POST("/alerts", h.PostAlert)
		admin.PUT("/responders/:id/approve", h.ApproveResponder)
	}

	return r
}
