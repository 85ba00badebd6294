// Command server runs the forensic video-analysis pipeline
// orchestrator: the chunked-upload HTTP API, the admission scheduler,
// and the job executor, wired together the way the teacher's main.go
// wires its own HTTP service.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"forensic-pipeline/internal/admission"
	"forensic-pipeline/internal/artifacts"
	"forensic-pipeline/internal/blobstore"
	"forensic-pipeline/internal/chunkupload"
	"forensic-pipeline/internal/config"
	"forensic-pipeline/internal/executor"
	"forensic-pipeline/internal/httpapi"
	"forensic-pipeline/internal/jobstore"
	"forensic-pipeline/internal/metrics"
	"forensic-pipeline/internal/stageregistry"
	"forensic-pipeline/internal/webhook"
	"forensic-pipeline/internal/workers"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := config.LoadConfig()

	jobs, err := jobstore.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot open job store")
	}
	defer jobs.Close()
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := jobs.Ping(pingCtx); err != nil {
		logger.WithError(err).Warn("job store ping failed at startup, continuing")
	}
	pingCancel()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisHost + ":" + strconv.Itoa(cfg.RedisPort)})
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		logger.WithError(err).Warn("redis ping failed at startup, continuing with filesystem fallback")
	}

	blobs, err := blobstore.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot open blob store")
	}
	if err := blobs.EnsureBucket(context.Background()); err != nil {
		logger.WithError(err).Warn("remote bucket check failed, continuing without remote mirror guarantee")
	}

	uploads, err := chunkupload.New(blobs.JobsStagingDir()+"_uploads", cfg.ChunkSize, cfg.MaxFileSize, rdb, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot open upload manager")
	}

	registry := stageregistry.New(
		workers.MetadataExtraction,
		workers.PRNU,
		workers.FFT,
		workers.Classification,
		workers.Cleaning,
	)

	mutable := config.NewMutable(cfg)
	config.WatchFile(cfg, mutable, logger)

	dispatcher := webhook.New(cfg.WebhookTimeoutSeconds, cfg.WebhookRetryAttempts, logger).WithMutable(mutable)
	publisher := artifacts.New(blobs, jobs, logger)
	exec := executor.New(jobs, registry, publisher, dispatcher, cfg.StorageRoot, cfg.ExternalEncoderPath, logger)

	scheduler := admission.New(jobs, exec.Run, cfg.WorkerPoolSize, logger)
	if err := scheduler.Bootstrap(context.Background()); err != nil {
		logger.WithError(err).Warn("bootstrap re-admission scan failed")
	}

	metrics.Init()

	handlers := httpapi.NewHandlers(jobs, blobs, uploads, scheduler, publisher, dispatcher, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.Register(router)

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service": "forensic-pipeline",
			"routes": []string{
				"/health", "/upload/init", "/upload/chunk/:upload_id", "/upload/complete/:upload_id",
				"/upload/analyze", "/upload/status/:upload_id", "/analysis/:id", "/analysis",
				"/files/:id/:kind", "/analysis/:id/reprocess", "/metrics",
			},
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.ServerPort).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	scheduler.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server forced to shut down")
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		logger.WithFields(logrus.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    path,
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		}).Info("request")
	}
}
