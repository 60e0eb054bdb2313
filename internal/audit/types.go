package audit

import "time"

// LogEntry is a record of a user action handed to a Sink. It is immutable
// once created; the zero Timestamp is replaced with the time of Write.
type LogEntry struct {
	Origin    string    // Client "ip:port"
	Message   string    // e.g. "Downloaded 'abc123'"
	RequestID string    // Optional correlation ID
	Subject   string    // Optional paired device, "name (id)"
	Timestamp time.Time // Optional; set on Write when zero
}

// Sink receives audit entries. Write must never block the caller or
// report failure; implementations drop entries rather than stall a request.
type Sink interface {
	Write(entry LogEntry)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(entry LogEntry)

// Write implements Sink.
func (f SinkFunc) Write(entry LogEntry) { f(entry) }

// Discard is a Sink that drops everything.
var Discard Sink = SinkFunc(func(LogEntry) {})

// Log is a persisted audit entry.
type Log struct {
	LogID     string    `json:"log_id"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin"`
	Message   string    `json:"message"`
	RequestID *string   `json:"request_id,omitempty"`
	Subject   *string   `json:"subject,omitempty"`
}

// LogQueryFilters contains optional filters for querying logs.
type LogQueryFilters struct {
	Origin    *string `json:"origin,omitempty"`
	Subject   *string `json:"subject,omitempty"`
	Contains  *string `json:"contains,omitempty"`
	StartDate *string `json:"start_date,omitempty"` // ISO 8601 format
	EndDate   *string `json:"end_date,omitempty"`   // ISO 8601 format
	Limit     int     `json:"limit,omitempty"`
	Offset    int     `json:"offset,omitempty"`
}
