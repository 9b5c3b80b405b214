package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"

	"github.com/qupath-go/regionstore/internal/config"
	"github.com/qupath-go/regionstore/internal/demoserver"
	"github.com/qupath-go/regionstore/internal/httpapi"
	"github.com/qupath-go/regionstore/internal/logger"
	"github.com/qupath-go/regionstore/internal/regionstore"
	"github.com/qupath-go/regionstore/internal/regionstore/tilegeom"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	downsamples := []float64{1, 4, 16, 64}
	server := demoserver.New("demo-slide", cfg.DemoImageWidth, cfg.DemoImageHeight, downsamples, cfg.DemoZSlices, log)

	store := regionstore.New(regionstore.Options[[]byte]{
		CacheSizeBytes:    cfg.CacheSizeBytes,
		SizeEstimator:     demoserver.EstimateTileSize,
		TileGeometry:      tilegeom.GetTilesToRequest[[]byte],
		MaxThumbnailSize:  cfg.MaxThumbnailSize,
		MinThumbnailSize:  cfg.MinThumbnailSize,
		MaxZSeparation:    cfg.MaxZSeparation,
		NThreads:          cfg.NThreads,
		RemotePoolSize:    cfg.RemotePoolSize,
		LocalPoolSize:     cfg.LocalPoolSize,
		Logger:            log,
	})
	defer store.Close()

	log.Info("Starting region store demo server",
		zap.Int("port", cfg.Port),
		zap.String("server_path", server.Path()),
		zap.Int("width", server.Width()),
		zap.Int("height", server.Height()),
		zap.Int("z_slices", server.NZSlices()),
	)

	handlers := httpapi.New(log, store)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/debug/stats", handlers.HandleDebugStats)
	mux.HandleFunc("/", handlers.HandleNotFound)

	handler := handlers.RequestLoggingMiddleware(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	log.Info("server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
