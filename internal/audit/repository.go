package audit

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// timestampLayout is fixed-width so that lexical order in SQLite matches
// chronological order.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Repository handles database operations for audit logs.
// Uses separate reader/writer connections for optimal SQLite concurrency.
type Repository struct {
	reader *sql.DB // For SELECT queries
	writer *sql.DB // For INSERT/DELETE
}

// NewRepository creates a new audit Repository.
func NewRepository(dbPair DBPair) *Repository {
	return &Repository{reader: dbPair.Reader(), writer: dbPair.Writer()}
}

// InsertLog persists an entry and returns the stored row.
func (r *Repository) InsertLog(entry LogEntry) (*Log, error) {
	timestamp := entry.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	log := &Log{
		LogID:     uuid.NewString(),
		Timestamp: timestamp.UTC().Truncate(time.Microsecond),
		Origin:    entry.Origin,
		Message:   entry.Message,
		RequestID: optionalString(entry.RequestID),
		Subject:   optionalString(entry.Subject),
	}

	_, err := r.writer.Exec(`
		INSERT INTO audit_logs (log_id, timestamp, origin, message, request_id, subject)
		VALUES (?, ?, ?, ?, ?, ?)
	`, log.LogID, formatTimestamp(log.Timestamp), log.Origin, log.Message, log.RequestID, log.Subject)
	if err != nil {
		return nil, err
	}

	return log, nil
}

// GetLog retrieves a single log by ID.
// Returns nil, nil if not found.
func (r *Repository) GetLog(logID string) (*Log, error) {
	row := r.reader.QueryRow(`
		SELECT log_id, timestamp, origin, message, request_id, subject
		FROM audit_logs
		WHERE log_id = ?
	`, logID)

	log, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return log, err
}

// QueryLogs retrieves logs matching filters, newest first.
// Returns logs, total count, and error.
func (r *Repository) QueryLogs(filters LogQueryFilters) ([]Log, int, error) {
	whereClause, args, err := buildWhereClause(filters)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.reader.QueryRow("SELECT COUNT(*) FROM audit_logs "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := `
		SELECT log_id, timestamp, origin, message, request_id, subject
		FROM audit_logs
		` + whereClause + `
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ? OFFSET ?
	`
	rows, err := r.reader.Query(query, append(args, limit, filters.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := []Log{}
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, 0, err
		}
		logs = append(logs, *log)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// PruneBefore deletes logs older than cutoff.
// Returns number of rows deleted.
func (r *Repository) PruneBefore(cutoff time.Time) (int64, error) {
	result, err := r.writer.Exec(`
		DELETE FROM audit_logs
		WHERE timestamp < ?
	`, formatTimestamp(cutoff))
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// buildWhereClause builds a dynamic WHERE clause based on provided filters.
func buildWhereClause(filters LogQueryFilters) (string, []any, error) {
	conditions := []string{}
	args := []any{}

	if filters.Origin != nil {
		conditions = append(conditions, "origin = ?")
		args = append(args, *filters.Origin)
	}
	if filters.Subject != nil {
		conditions = append(conditions, "subject = ?")
		args = append(args, *filters.Subject)
	}
	if filters.Contains != nil {
		conditions = append(conditions, "instr(message, ?) > 0")
		args = append(args, *filters.Contains)
	}
	if filters.StartDate != nil {
		start, err := time.Parse(time.RFC3339, *filters.StartDate)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, formatTimestamp(start))
	}
	if filters.EndDate != nil {
		end, err := time.Parse(time.RFC3339, *filters.EndDate)
		if err != nil {
			return "", nil, err
		}
		conditions = append(conditions, "timestamp <= ?")
		args = append(args, formatTimestamp(end))
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLog(row rowScanner) (*Log, error) {
	var log Log
	var timestamp string
	var requestID sql.NullString
	var subject sql.NullString

	if err := row.Scan(&log.LogID, &timestamp, &log.Origin, &log.Message, &requestID, &subject); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(timestampLayout, timestamp)
	if err != nil {
		parsed, _ = time.Parse(time.RFC3339, timestamp)
	}
	log.Timestamp = parsed

	if requestID.Valid {
		log.RequestID = &requestID.String
	}
	if subject.Valid {
		log.Subject = &subject.String
	}

	return &log, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
