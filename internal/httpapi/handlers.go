// Package httpapi exposes the demo server's debug HTTP surface: health
// checks and a point-in-time occupancy snapshot of the region store.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qupath-go/regionstore/internal/regionstore"
)

// StatsProvider is anything that can report a point-in-time occupancy
// snapshot; *regionstore.Store[T] satisfies it for any T.
type StatsProvider interface {
	Stats() regionstore.Stats
}

type Handlers struct {
	logger *zap.Logger
	store  StatsProvider
}

func New(logger *zap.Logger, store StatsProvider) *Handlers {
	return &Handlers{logger: logger, store: store}
}

// RequestLoggingMiddleware logs one structured line per request.
func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleDebugStats reports the store's current cache/waiting-map/busy-
// thread occupancy as JSON.
func (h *Handlers) HandleDebugStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := h.store.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (h *Handlers) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	http.NotFound(w, r)
}

// extractIP returns the client IP from X-Real-Ip if a proxy set it,
// falling back to the connection's remote address.
func extractIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return strings.Split(ip, ":")[0]
	}
	if addr := r.RemoteAddr; addr != "" {
		return strings.Split(addr, ":")[0]
	}
	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
