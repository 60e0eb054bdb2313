package audit

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/strefethen/tunegate/internal/api"
	"github.com/strefethen/tunegate/internal/apperrors"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// ==========================================================================
// Route Registration
// ==========================================================================

// RegisterRoutes wires audit routes to the router.
func RegisterRoutes(router chi.Router, service *Service) {
	router.Method(http.MethodGet, "/v1/audit/logs", api.Handler(queryLogs(service)))
	router.Method(http.MethodGet, "/v1/audit/logs/{log_id}", api.Handler(getLog(service)))
	router.HandleFunc("/v1/audit/stream", streamLogs(service.Hub()))
}

// ==========================================================================
// Handlers
// ==========================================================================

// queryLogs retrieves audit logs with optional filters.
// GET /v1/audit/logs
func queryLogs(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		filters, err := parseQueryFilters(r)
		if err != nil {
			return err
		}

		logs, _, hasMore, err := service.QueryLogs(filters)
		if err != nil {
			return apperrors.NewInternalError("Failed to query audit logs")
		}

		formatted := make([]map[string]any, 0, len(logs))
		for i := range logs {
			formatted = append(formatted, formatLog(&logs[i]))
		}
		return api.WriteList(w, "/v1/audit/logs", formatted, hasMore)
	}
}

// getLog retrieves a single audit log by ID.
// GET /v1/audit/logs/{log_id}
func getLog(service *Service) api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		logID := chi.URLParam(r, "log_id")

		stored, err := service.GetLog(logID)
		if err != nil {
			var notFoundErr *LogNotFoundError
			if errors.As(err, &notFoundErr) {
				return apperrors.NewNotFoundError(apperrors.ErrorCodeAuditLogNotFound, "Audit log not found", map[string]any{
					"log_id": logID,
				})
			}
			return apperrors.NewInternalError("Failed to get audit log")
		}

		return api.WriteResource(w, http.StatusOK, formatLog(stored))
	}
}

// streamLogs upgrades to a websocket and pushes each new log as JSON.
// GET /v1/audit/stream
func streamLogs(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade failed - error already written to response
			return
		}
		defer conn.Close()

		logs, cancel := hub.Subscribe()
		defer cancel()

		// The reader only exists to notice the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case entry, ok := <-logs:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				if err := conn.WriteJSON(formatLog(&entry)); err != nil {
					log.Printf("Audit stream write failed: %v", err)
					return
				}
			case <-ticker.C:
				deadline := time.Now().Add(streamWriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}
}

// ==========================================================================
// Helper Functions
// ==========================================================================

// parseQueryFilters extracts and validates query parameters for log filtering.
func parseQueryFilters(r *http.Request) (LogQueryFilters, error) {
	filters := LogQueryFilters{
		Limit:  DefaultQueryLimit,
		Offset: 0,
	}

	query := r.URL.Query()

	// Parse 'from' (inclusive start datetime)
	if from := query.Get("from"); from != "" {
		if _, err := time.Parse(time.RFC3339, from); err != nil {
			return filters, apperrors.NewValidationError("invalid 'from' datetime format, expected ISO 8601", map[string]any{"from": from})
		}
		filters.StartDate = &from
	}

	// Parse 'to' (inclusive end datetime)
	if to := query.Get("to"); to != "" {
		if _, err := time.Parse(time.RFC3339, to); err != nil {
			return filters, apperrors.NewValidationError("invalid 'to' datetime format, expected ISO 8601", map[string]any{"to": to})
		}
		filters.EndDate = &to
	}

	if origin := query.Get("origin"); origin != "" {
		filters.Origin = &origin
	}
	if subject := query.Get("subject"); subject != "" {
		filters.Subject = &subject
	}
	if contains := query.Get("q"); contains != "" {
		filters.Contains = &contains
	}

	// Parse 'limit' (1-1000, default 100)
	if limitStr := query.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 || limit > MaxQueryLimit {
			return filters, apperrors.NewValidationError("invalid limit, must be between 1 and 1000", map[string]any{
				"limit": limitStr,
			})
		}
		filters.Limit = limit
	}

	// Parse 'offset' (>= 0, default 0)
	if offsetStr := query.Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filters, apperrors.NewValidationError("invalid offset, must be >= 0", map[string]any{
				"offset": offsetStr,
			})
		}
		filters.Offset = offset
	}

	return filters, nil
}

// formatLog formats a Log for JSON response.
func formatLog(entry *Log) map[string]any {
	result := map[string]any{
		"object":    "audit_log",
		"id":        entry.LogID,
		"timestamp": api.RFC3339Millis(entry.Timestamp),
		"origin":    entry.Origin,
		"message":   entry.Message,
	}
	if entry.RequestID != nil {
		result["request_id"] = *entry.RequestID
	}
	if entry.Subject != nil {
		result["subject"] = *entry.Subject
	}
	return result
}
