package router

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/arnavshah/relief-dispatch-go/pkg/alerts"
	"github.com/arnavshah/relief-dispatch-go/pkg/assignment"
	"github.com/arnavshah/relief-dispatch-go/pkg/auth"
	"github.com/arnavshah/relief-dispatch-go/pkg/config"
	"github.com/arnavshah/relief-dispatch-go/pkg/database"
	"github.com/arnavshah/relief-dispatch-go/pkg/events"
	"github.com/arnavshah/relief-dispatch-go/pkg/handlers"
	"github.com/arnavshah/relief-dispatch-go/pkg/logger"
	"github.com/arnavshah/relief-dispatch-go/pkg/metrics"
)

// App is a fully wired service.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Accounts    *database.AccountStore
	Coordinator *assignment.Coordinator
	Tokens      *auth.TokenIssuer
	Engine      *gin.Engine

	closers []func(context.Context) error
}

// Build opens the stores, connects optional collaborators and registers routes.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if log == nil {
		log = logger.New("app")
	}
	gin.SetMode(cfg.Server.GinMode)

	db, err := database.Open(cfg.Database, logger.New("database"))
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, DB: db, Accounts: &database.AccountStore{DB: db}}
	app.closers = append(app.closers, func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := auth.EnsureAdminExists(ctx, db, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword, log); err != nil {
		_ = app.Close(ctx)
		return nil, err
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.MQTT.Enabled() {
		p, err := events.NewMQTTPublisher(cfg.MQTT, logger.New("mqtt"))
		if err != nil {
			// events are best effort; dispatch keeps working without a broker
			log.Errorf("assignment events disabled: %v", err)
		} else {
			publisher = p
			app.closers = append(app.closers, func(context.Context) error { p.Close(); return nil })
		}
	}

	var recorder metrics.Recorder = metrics.NopRecorder{}
	var metricsHandler http.Handler
	if !cfg.Metrics.Disabled {
		rec, err := metrics.NewPromRecorder()
		if err != nil {
			_ = app.Close(ctx)
			return nil, err
		}
		recorder = rec
		metricsHandler = metrics.Handler()
	}

	alertStore, closeAlerts, err := alerts.Open(ctx, cfg.Alerts, db)
	if err != nil {
		_ = app.Close(ctx)
		return nil, err
	}
	app.closers = append(app.closers, closeAlerts)

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = uuid.NewString() + uuid.NewString()
		log.Warnf("auth.jwt_secret is not set; tokens will not survive a restart")
	}
	app.Tokens = auth.NewTokenIssuer(secret, cfg.Auth.TokenTTL())

	app.Coordinator = assignment.NewCoordinator(db, database.CandidateRepository{}, assignment.Options{
		Events:      publisher,
		Metrics:     recorder,
		Stats:       &database.StatsStore{DB: db},
		Logger:      logger.New("assignment"),
		LockTimeout: cfg.Assignment.LockTimeout(),
	})

	h := handlers.New(db, app.Coordinator, app.Tokens, alertStore, cfg.Assignment.MaxActiveTasks, logger.New("http"))
	app.Engine = New(h, Options{Logger: logger.New("http"), Metrics: metricsHandler, MetricsPath: cfg.Metrics.Path})
	return app, nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
