package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/storyloom/core/internal/middleware"
	"github.com/storyloom/core/internal/modules/cascade"
	"github.com/storyloom/core/internal/modules/pipeline"
	"github.com/storyloom/core/internal/modules/processing/ai"
	"github.com/storyloom/core/internal/modules/story"
	"github.com/storyloom/core/internal/pkg/response"
	"github.com/storyloom/core/internal/pkg/taskqueue"
	"github.com/storyloom/core/internal/store"
	"go.uber.org/zap"
)

const (
	uploadRateLimit  = 30
	uploadRateWindow = time.Minute
)

func (a *App) registerRoutes() error {
	r := a.router
	cfg := a.cfg
	authMW := middleware.Auth()

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})

	appInfo := gin.H{
		"name":    "storyloom-core",
		"version": "1.0.0",
	}
	r.GET("/", func(c *gin.Context) { response.OK(c, appInfo) })
	r.GET("/health", a.health)

	r.Use(middleware.Idempotence(a.rc.Raw()))

	rows := store.NewSQL(a.db)
	blobs, local, err := OpenBlobs(cfg)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if local != nil {
		r.GET("/blobs/:bucket/*key", serveBlob(local))
	}

	model, err := ai.NewClient(cfg.AI)
	if err != nil {
		return fmt.Errorf("ai: %w", err)
	}

	// Interview pipeline
	a.speaker = pipeline.NewSpeaker(rows, blobs, cfg.Storage.TTSBucket, model, a.logger.Named("speech"))
	a.speaker.Start(a.ctx, cfg.Interview.SpeechWorkers)
	a.pipeline = pipeline.NewService(rows, blobs,
		pipeline.Buckets{Audio: cfg.Storage.AudioBucket, TTS: cfg.Storage.TTSBucket},
		model, taskqueue.NewService(a.rc), a.speaker, cfg.Interview.MaxTurns, a.logger.Named("pipeline"))

	// Stories and their derived indexes
	sqlIndex := story.NewSQLIndex(rows)
	var extra []story.Index
	if cfg.Mongo.Enabled() {
		a.mongo, err = connectMongo(a.ctx, cfg.Mongo)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		mongoIndex := story.NewMongoIndex(a.mongo.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := mongoIndex.EnsureIndexes(a.ctx); err != nil {
			return fmt.Errorf("mongo indexes: %w", err)
		}
		extra = append(extra, mongoIndex)
	}
	indexer := story.NewIndexer(model, sqlIndex, a.logger.Named("index"), extra...)
	stories := story.NewService(rows, blobs, cfg.Storage.ImageBucket, model, a.logger.Named("story"),
		story.WithIndexer(indexer), story.WithURLTTL(cfg.Storage.SignedURLTTL))

	// Deep deletes
	cascadeOpts := []cascade.Option{cascade.WithLocker(a.rc, cfg.Cascade.LockTTL)}
	for _, idx := range indexer.Indexes() {
		cascadeOpts = append(cascadeOpts, cascade.WithDerivedIndex(idx))
	}
	deletes := cascade.NewService(rows, blobs,
		cascade.Buckets{Audio: cfg.Storage.AudioBucket, Images: cfg.Storage.ImageBucket, TTS: cfg.Storage.TTSBucket},
		a.logger.Named("cascade"), cascadeOpts...)

	root := r.Group("")
	uploadMW := middleware.RateLimit(a.rc.Raw(), "upload", uploadRateLimit, uploadRateWindow)
	pipeline.NewHandler(a.pipeline).RegisterRoutes(root, authMW, uploadMW)
	cacheMW := middleware.HTTPCache(a.rc.Raw(), middleware.HTTPCacheOptions{TTL: cfg.CacheTTL})
	cascade.NewHandler(deletes).RegisterRoutes(root, authMW, cacheMW)
	story.NewHandler(stories).RegisterRoutes(root, authMW, cacheMW)

	registerJobs(a.sched, a.speaker, indexer)
	return nil
}

// GET /health
func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var errs []error
	if sqlDB, err := a.db.DB(); err != nil {
		errs = append(errs, err)
	} else if err := sqlDB.PingContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	if err := a.rc.Raw().Ping(ctx).Err(); err != nil {
		errs = append(errs, fmt.Errorf("redis: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("health check failed", zap.Error(err))
		response.ServiceUnavailable(c, err)
		return
	}
	response.OK(c, gin.H{"status": "ok", "jobs": a.sched.Snapshots()})
}
