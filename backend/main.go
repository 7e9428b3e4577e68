package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vikramadityasinghs/legal-AI-backend/backend/config"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/handler"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/middleware"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/pkg/logger"
	"github.com/vikramadityasinghs/legal-AI-backend/backend/service"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Initialize services
	archive, err := service.NewArchiveService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize document archive", "error", err)
		os.Exit(1)
	}
	if err := archive.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure archive bucket", "error", err)
		os.Exit(1)
	}

	cache, err := service.NewCaseCache(cfg.Storage.CacheDir)
	if err != nil {
		slog.Error("failed to initialize case cache", "error", err)
		os.Exit(1)
	}
	slog.Info("case cache ready", "dir", cache.Dir(), "cases", cache.Stats().TotalCases)

	summaries, err := service.NewSummaryStore(cfg.Storage.SummaryDir)
	if err != nil {
		slog.Error("failed to initialize summary store", "error", err)
		os.Exit(1)
	}

	analyzer, err := service.NewLLMAnalyzer(&cfg.LLM)
	if err != nil {
		slog.Error("failed to initialize analyzer", "error", err)
		os.Exit(1)
	}

	bus := service.NewEventBus()
	store := service.NewMemoryJobStore(&cfg.Store, bus)
	extractor := service.NewExtractionClient(&cfg.Extractor, archive, cfg.Analysis.MaxFileWorkers)
	exporter := service.NewExportService(&cfg.Storage)
	orch := service.NewOrchestrator(cfg, store, cache, summaries, extractor, analyzer, exporter, archive)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	jobHandler := handler.NewJobHandler(orch, bus)
	exportHandler := handler.NewExportHandler(orch, exporter)
	cacheHandler := handler.NewCacheHandler(cache, exporter)
	summaryHandler := handler.NewSummaryHandler(summaries)
	callbackHandler := handler.NewCallbackHandler(extractor)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/extract/callback", callbackHandler.HandleCallback)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)

		protected.POST("/upload", jobHandler.Upload)
		protected.POST("/analyze/:job_id", jobHandler.Analyze)
		protected.GET("/status/:job_id", jobHandler.Status)
		protected.GET("/results/:job_id", jobHandler.Results)
		protected.GET("/jobs", jobHandler.List)
		protected.DELETE("/jobs/:job_id", jobHandler.Delete)
		protected.POST("/retry/:job_id", jobHandler.Retry)
		protected.GET("/jobs/:job_id/events", jobHandler.Events)

		protected.GET("/export/:job_id", exportHandler.Export)
		protected.GET("/download/excel/:job_id", exportHandler.DownloadExcel)
		protected.GET("/download/json/:job_id", exportHandler.DownloadJSON)

		protected.GET("/cache/list", cacheHandler.List)
		protected.GET("/cache/search", cacheHandler.Search)
		protected.GET("/cache/stats", cacheHandler.Stats)
		protected.GET("/cache/case/:case_id", cacheHandler.GetCase)
		protected.DELETE("/cache/case/:case_id", cacheHandler.DeleteCase)
		protected.DELETE("/cache/clear", cacheHandler.Clear)

		protected.GET("/summaries/list", summaryHandler.List)
		protected.GET("/summaries/:case_id", summaryHandler.Get)
		protected.POST("/summaries/:case_id", summaryHandler.Save)
		protected.DELETE("/summaries/:case_id", summaryHandler.Delete)
	}

	// Create server. No write timeout: the status event stream keeps the
	// response open for the life of a job.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Let in-flight analyses land in the store and cache before exiting.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	if err := orch.Wait(drainCtx); err != nil {
		slog.Warn("analyses still running at shutdown", "error", err)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
