package routes

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/mlhmz/dockermc-dashboard/internal/api/handlers"
	"github.com/mlhmz/dockermc-dashboard/internal/auth"
	"github.com/mlhmz/dockermc-dashboard/internal/metrics"
)

// Dependencies are the services the router dispatches to
type Dependencies struct {
	Servers     handlers.ServerManager
	Proxies     handlers.ProxyManager
	Files       handlers.FileManager
	Verifier    auth.Verifier
	CORSOrigins []string
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Dependencies, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthCheckHandler)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/openapi.yaml", handlers.ServeOpenAPISpec)
	mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/api/openapi.yaml"),
	))

	serverHandler := handlers.NewServerHandler(deps.Servers, logger)
	logsHandler := handlers.NewLogsHandler(deps.Servers, deps.CORSOrigins, logger)
	proxyHandler := handlers.NewProxyHandler(deps.Proxies, logger)
	fileHandler := handlers.NewFileHandler(deps.Files, logger)

	api := http.NewServeMux()

	// Server management endpoints
	api.HandleFunc("POST /api/v1/servers", serverHandler.CreateServer)
	api.HandleFunc("GET /api/v1/servers", serverHandler.ListServers)
	api.HandleFunc("GET /api/v1/servers/{id}", serverHandler.GetServer)
	api.HandleFunc("PATCH /api/v1/servers/{id}", serverHandler.UpdateServer)
	api.HandleFunc("DELETE /api/v1/servers/{id}", serverHandler.DeleteServer)
	api.HandleFunc("POST /api/v1/servers/{id}/{action}", serverHandler.ServerAction)
	api.HandleFunc("GET /api/v1/servers/{id}/logs", serverHandler.GetLogs)
	api.HandleFunc("POST /api/v1/servers/{id}/exec", serverHandler.ExecCommand)
	api.HandleFunc("GET /api/v1/servers/{id}/resources", serverHandler.GetResources)
	api.HandleFunc("POST /api/v1/servers/{id}/redeploy", serverHandler.RedeployServer)

	// WebSocket endpoints
	api.HandleFunc("GET /api/v1/servers/{id}/console", logsHandler.StreamLogs)

	// Proxy endpoints
	api.HandleFunc("POST /api/v1/servers/{id}/proxy", proxyHandler.AttachToProxy)
	api.HandleFunc("DELETE /api/v1/servers/{id}/proxy", proxyHandler.DetachFromProxy)
	api.HandleFunc("GET /api/v1/proxies", proxyHandler.ListProxies)
	api.HandleFunc("POST /api/v1/proxies/{id}/ensure", proxyHandler.EnsureProxy)
	api.HandleFunc("POST /api/v1/proxies/{id}/regenerate", proxyHandler.RegenerateConfig)

	// File endpoints
	api.HandleFunc("GET /api/v1/servers/{id}/files", fileHandler.ReadFile)
	api.HandleFunc("PUT /api/v1/servers/{id}/files", fileHandler.WriteFile)
	api.HandleFunc("DELETE /api/v1/servers/{id}/files", fileHandler.DeleteFile)
	api.HandleFunc("GET /api/v1/servers/{id}/files/list", fileHandler.ListFiles)

	mux.Handle("/api/v1/", auth.Middleware(deps.Verifier, logger)(api))

	return loggingMiddleware(logger, corsHandler(deps.CORSOrigins).Handler(mux))
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
}

// healthCheckHandler returns the health status of the API
func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		if !strings.HasPrefix(r.URL.Path, "/metrics") {
			metrics.ObserveRequest(r.Method, wrapped.statusCode, duration)
		}

		logger.InfoContext(r.Context(),
			"HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", duration.Milliseconds(),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker interface for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}
