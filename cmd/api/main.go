package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/newshub/resolver"
	"github.com/newshub/resolver/api"
	"github.com/newshub/resolver/db"
	"github.com/newshub/resolver/metrics"
	"github.com/newshub/resolver/storage"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("resolver service initializing", "version", "1.0.0")

	// Default values
	defaultPort := getEnv("PORT", "8080")
	defaultStoragePath := getEnv("STORAGE_BASE_PATH", "")
	defaultWorkers := getEnv("RESOLVE_WORKERS", "1")

	workers, err := strconv.Atoi(defaultWorkers)
	if err != nil || workers < 1 {
		logger.Warn("invalid RESOLVE_WORKERS value, using default",
			"provided", defaultWorkers,
			"default", 1,
		)
		workers = 1
	}

	// Command-line flags (override environment variables)
	port := flag.String("port", defaultPort, "Server port")
	storagePath := flag.String("storage-path", defaultStoragePath, "Base path for mirrored profile images (empty disables mirroring)")
	workersFlag := flag.Int("workers", workers, "Concurrent resolutions per batch (1 = sequential)")
	occupationHint := flag.String("occupation-hint", "", "Occupation appended to the fallback people search query")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	// PostgreSQL is optional; without DB_HOST the service runs stateless.
	var dbConfig db.Config
	dbHost := getEnv("DB_HOST", "")
	if dbHost != "" {
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "resolver")
		dbPassword := getEnv("DB_PASSWORD", "resolver_dev_pass")
		dbName := getEnv("DB_NAME", "resolver")

		dbConfig = db.Config{
			DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbHost, dbPort, dbUser, dbPassword, dbName),
		}
		logger.Info("using PostgreSQL database", "host", dbHost, "port", dbPort, "database", dbName)
	} else {
		logger.Info("DB_HOST not set, running without persistence")
	}

	// S3-compatible object storage is preferred over the local mirror
	// when a bucket is configured.
	var s3Config storage.S3Config
	if bucket := getEnv("S3_BUCKET", ""); bucket != "" {
		s3Config = storage.S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Bucket:          bucket,
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnv("S3_USE_PATH_STYLE", "") == "true",
		}
		logger.Info("using S3 image storage", "bucket", bucket, "region", s3Config.Region)
	}

	resolverConfig := resolver.DefaultConfig()
	if *occupationHint != "" {
		resolverConfig.OccupationHint = *occupationHint
	}

	config := api.Config{
		Addr:           ":" + *port,
		DBConfig:       dbConfig,
		StorageConfig:  storage.Config{BasePath: *storagePath},
		S3Config:       s3Config,
		ResolverConfig: resolverConfig,
		CORSEnabled:    !*disableCORS,
		Workers:        *workersFlag,
	}

	// Create server
	server, err := api.NewServer(config)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Initialize database metrics
	if server.DB() != nil {
		dbMetrics := metrics.NewDatabaseMetrics("resolver")
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for range ticker.C {
				dbMetrics.UpdateDBStats(server.DB().DB())
			}
		}()
		logger.Info("database metrics initialized")
	}

	// Start server in a goroutine
	go func() {
		logger.Info("resolver service starting",
			"port", *port,
			"storage_path", *storagePath,
			"workers", *workersFlag,
			"persistence", dbHost != "",
		)

		if err := server.Start(); err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
