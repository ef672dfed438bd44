package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arnavshah/relief-dispatch-go/pkg/config"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/router"
)

var r http.Handler

func init() {
	// Load .env if it exists (for local testing with vercel dev)
	config.LoadDotEnv()

	log := logger.New("vercel")
	cfg, err := config.Load("")
	if err != nil {
		log.Errorf("load config: %v", err)
		r = unavailable()
		return
	}

	app, err := router.Build(context.Background(), cfg, log)
	if err != nil {
		log.Errorf("build app: %v", err)
		r = unavailable()
		return
	}
	r = app.Engine
}

func unavailable() http.Handler {
	e := gin.New()
	e.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service not configured"})
	})
	return e
}

// Handler is the entry point for Vercel Go Runtime
func Handler(w http.ResponseWriter, req *http.Request) {
	r.ServeHTTP(w, req)
}
