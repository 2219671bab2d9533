package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/config"
	"github.com/storyloom/core/internal/database"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/modules/pipeline"
	pkgcron "github.com/storyloom/core/internal/pkg/cron"
	pkgredis "github.com/storyloom/core/internal/pkg/redis"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	rc     *pkgredis.Client
	mongo  *mongo.Client
	logger *zap.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	sched    *pkgcron.Scheduler
	speaker  *pipeline.Speaker
	pipeline *pipeline.Service
}

// New initializes the application: config → DB → Redis → storage → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	applyRuntimeSettings(cfg, logger)

	db, err := database.Connect(cfg, cfg.IsDev())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))

	ctx, cancel := context.WithCancel(context.Background())
	app := &App{
		cfg:    cfg,
		router: router,
		db:     db,
		rc:     rc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		sched:  pkgcron.New(logger.Named("cron")),
	}
	if err := app.registerRoutes(); err != nil {
		app.Shutdown()
		return nil, err
	}
	app.sched.Start(ctx)
	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background workers and closes connections.
func (a *App) Shutdown() {
	a.cancel()
	a.sched.Wait()
	if a.speaker != nil {
		a.speaker.Wait()
	}
	if a.pipeline != nil {
		a.pipeline.Wait()
	}
	if a.mongo != nil {
		if err := a.mongo.Disconnect(context.Background()); err != nil {
			a.logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	if err := a.rc.Close(); err != nil {
		a.logger.Warn("redis close failed", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
