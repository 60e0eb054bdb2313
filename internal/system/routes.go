package system

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/tunegate/internal/api"
)

// RegisterRoutes wires system and health routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(getHealth()))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(getReady(service)))
	router.Method(http.MethodGet, "/v1/system/info", api.Handler(getSystemInfo(service)))
}

// getHealth handles GET /v1/health
func getHealth() api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"service":   "tunegate",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// getReady handles GET /v1/health/ready
func getReady(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		info := service.GetSystemInfo()
		if !info.Ready() {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status":           "not_ready",
				"sqlite_connected": info.SQLiteConnected,
				"audit_healthy":    info.AuditHealthy,
			})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}
}

// getSystemInfo handles GET /v1/system/info
func getSystemInfo(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteResource(w, http.StatusOK, formatSystemInfo(service.GetSystemInfo()))
	}
}

// formatSystemInfo formats SystemInfo for JSON response.
func formatSystemInfo(info *SystemInfo) map[string]any {
	return map[string]any{
		"object":             "system_info",
		"version":            info.Version,
		"uptime_seconds":     info.Uptime,
		"memory_mb":          info.MemoryUsageMB,
		"goroutines":         info.Goroutines,
		"sqlite_connected":   info.SQLiteConnected,
		"audit_healthy":      info.AuditHealthy,
		"audit_dropped":      info.AuditDropped,
		"media_executable":   info.MediaExecutable,
		"media_split_errors": info.MediaSplitErrors,
	}
}
