package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/helixcare/imaging-gateway/internal/archive"
	"github.com/helixcare/imaging-gateway/internal/cache"
	"github.com/helixcare/imaging-gateway/internal/config"
	"github.com/helixcare/imaging-gateway/internal/database"
	"github.com/helixcare/imaging-gateway/internal/handlers"
	"github.com/helixcare/imaging-gateway/internal/middleware"
	"github.com/helixcare/imaging-gateway/internal/repository"
	"github.com/helixcare/imaging-gateway/internal/services"
	"github.com/helixcare/imaging-gateway/internal/uploader"
	"github.com/helixcare/imaging-gateway/internal/viewer"
	"github.com/helixcare/imaging-gateway/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// Initialize logger
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Starting Imaging Gateway")

	// Connect to database
	dbConfig := database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		LogLevel: cfg.Database.LogLevel,
	}

	if err := database.Connect(dbConfig); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	// Initialize cache
	var cacheImpl cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.Type == "redis" {
			addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			cacheImpl, err = cache.NewRedisCache(addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to connect to Redis")
			}
			log.Info().Msg("Redis cache initialized")
		} else {
			cacheImpl = cache.NewMemoryCache()
			log.Info().Msg("Memory cache initialized")
		}
	} else {
		cacheImpl = cache.NewMemoryCache() // Fallback
		log.Info().Msg("Cache disabled, using memory cache as fallback")
	}

	// Initialize archive client
	archiveClient := archive.NewClient(archive.Config{
		BaseURL:  cfg.Archive.BaseURL,
		Username: cfg.Archive.Username,
		Password: cfg.Archive.Password,
	})

	// Initialize repositories
	patientRepo := repository.NewPatientRepository()
	orderRepo := repository.NewOrderRepository()
	logRepo := repository.NewUploadLogRepository()
	instanceRepo := repository.NewStudyInstanceRepository()

	// Initialize batch store
	batchStore := uploader.NewBatchStore()
	defer batchStore.Close()

	// Initialize services
	imagingService := services.NewImagingService(patientRepo, orderRepo, logRepo, instanceRepo, archiveClient, batchStore, cacheImpl)
	viewerResolver := viewer.NewResolver(cfg.Viewer.BaseURL, archiveClient, cacheImpl)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(archiveClient)
	imagingHandler := handlers.NewImagingHandler(imagingService, cfg.Upload.MaxFileSizeMB, cfg.Upload.MaxBatchFiles)
	viewerHandler := handlers.NewViewerHandler(viewerResolver, patientRepo, orderRepo)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   cfg.CORS.AllowedMethods,
		AllowedHeaders:   cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints (no authentication required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Imaging API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.Auth.JWTSecret))

		// Tag operations
		r.Post("/imaging/tags/read", imagingHandler.ReadTags)
		r.Post("/imaging/tags/read-all", imagingHandler.ReadAllTags)
		r.Post("/imaging/tags/modify", imagingHandler.ModifyTags)
		r.Post("/imaging/validate", imagingHandler.ValidateFile)
		r.Post("/imaging/preview", imagingHandler.FileInfo)

		// Patient matching
		r.Post("/imaging/match", imagingHandler.MatchPreview)

		// Upload batches
		r.Post("/imaging/upload", imagingHandler.Upload)
		r.Post("/imaging/upload-zip", imagingHandler.UploadZip)
		r.Get("/imaging/batches/{id}", imagingHandler.GetBatch)
		r.Post("/imaging/batches/{id}/cancel", imagingHandler.CancelBatch)

		// Study queries
		r.Get("/imaging/statistics", imagingHandler.GetStatistics)
		r.Get("/studies/{studyUID}", imagingHandler.GetStudy)
		r.Get("/studies/accession/{accession}", imagingHandler.GetStudyByAccession)
		r.Get("/patients/{id}/studies", imagingHandler.GetPatientStudies)
		r.Get("/patients/{id}/upload-logs", imagingHandler.GetUploadLogs)
		r.Get("/orders/{id}/study", imagingHandler.GetOrderStudy)
		r.Get("/studies/{studyUID}/thumbnail", imagingHandler.GetThumbnail)

		// Upload logs
		r.Get("/upload-logs", imagingHandler.ListUploadLogs)
		r.Get("/upload-logs/{id}", imagingHandler.GetUploadLog)
		r.Delete("/upload-logs/{id}", imagingHandler.DeleteStudy)

		// Viewer links
		r.Get("/viewer/studies/{studyUID}/link", viewerHandler.GetStudyLink)
		r.Get("/viewer/comparison", viewerHandler.GetComparisonLink)
		r.Get("/viewer/patients/{id}/link", viewerHandler.GetPatientLink)
		r.Get("/viewer/orders/{id}/link", viewerHandler.GetOrderLink)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}
