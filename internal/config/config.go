// Package config loads the demo region-store server's tunables from the
// environment.
package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port int

	LogLevel string

	// CacheSizeBytes bounds the tile cache's aggregate byte weight.
	CacheSizeBytes int64

	// MaxThumbnailSize / MinThumbnailSize bound the computed thumbnail
	// downsample.
	MaxThumbnailSize int
	MinThumbnailSize int

	// NThreads is the prefetch scheduler's concurrent-worker budget.
	NThreads int

	// MaxZSeparation bounds how far the prefetch scheduler will expand
	// along the Z axis.
	MaxZSeparation int

	// RemotePoolSize / LocalPoolSize override the executor pools' sizes;
	// zero means "use the runtime.NumCPU()-derived default".
	RemotePoolSize int
	LocalPoolSize  int

	// VipsConcurrency / VipsMaxCacheMB configure libvips.
	VipsConcurrency int
	VipsMaxCacheMB  int

	// DemoImageWidth / DemoImageHeight / DemoZSlices size the synthetic
	// GeneratingImageServer the demo wires up.
	DemoImageWidth  int
	DemoImageHeight int
	DemoZSlices     int
}

func Load() *Config {
	return &Config{
		Port:             getEnvInt("PORT", 8080),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		CacheSizeBytes:   getEnvInt64("CACHE_SIZE_BYTES", 512*1024*1024),
		MaxThumbnailSize: getEnvInt("MAX_THUMBNAIL_SIZE", 1024),
		MinThumbnailSize: getEnvInt("MIN_THUMBNAIL_SIZE", 16),
		NThreads:         getEnvInt("PREFETCH_THREADS", 10),
		MaxZSeparation:   getEnvInt("MAX_Z_SEPARATION", 10),
		RemotePoolSize:   getEnvInt("REMOTE_POOL_SIZE", 0),
		LocalPoolSize:    getEnvInt("LOCAL_POOL_SIZE", 0),
		VipsConcurrency:  getEnvInt("VIPS_CONCURRENCY", 1),
		VipsMaxCacheMB:   getEnvInt("VIPS_MAX_CACHE_MB", 256),
		DemoImageWidth:   getEnvInt("DEMO_IMAGE_WIDTH", 16384),
		DemoImageHeight:  getEnvInt("DEMO_IMAGE_HEIGHT", 16384),
		DemoZSlices:      getEnvInt("DEMO_Z_SLICES", 5),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
