package system

import (
	"database/sql"
	"log"
	"runtime"
	"time"

	"github.com/strefethen/tunegate/internal/config"
)

// Version is the service version, set at build time or defaulted.
var Version = "1.0.0"

// AuditStatus reports the audit sink's state.
type AuditStatus interface {
	IsHealthy() bool
	Dropped() uint64
}

// DBPair interface for dependency injection (matches db.DBPair).
type DBPair interface {
	Reader() *sql.DB
	Writer() *sql.DB
}

// Service provides runtime information about the process.
// Uses reader connection only as this service only pings the database.
type Service struct {
	cfg         config.Config
	logger      *log.Logger
	reader      *sql.DB
	auditStatus AuditStatus
	startTime   time.Time
}

// NewService creates a new system service.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger, auditStatus AuditStatus) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		cfg:         cfg,
		logger:      logger,
		reader:      dbPair.Reader(),
		auditStatus: auditStatus,
		startTime:   time.Now(),
	}
}

// SystemInfo holds system information.
type SystemInfo struct {
	Version          string  `json:"version"`
	Uptime           int64   `json:"uptime_seconds"`
	MemoryUsageMB    float64 `json:"memory_mb"`
	Goroutines       int     `json:"goroutines"`
	SQLiteConnected  bool    `json:"sqlite_connected"`
	AuditHealthy     bool    `json:"audit_healthy"`
	AuditDropped     uint64  `json:"audit_dropped"`
	MediaExecutable  string  `json:"media_executable"`
	MediaSplitErrors bool    `json:"media_split_errors"`
}

// Ready reports whether the service can accept traffic.
func (info *SystemInfo) Ready() bool {
	return info.SQLiteConnected && info.AuditHealthy
}

// GetSystemInfo returns current system information.
func (s *Service) GetSystemInfo() *SystemInfo {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	sqliteConnected := true
	if err := s.reader.Ping(); err != nil {
		s.logger.Printf("SQLite ping failed: %v", err)
		sqliteConnected = false
	}

	auditHealthy := true
	var auditDropped uint64
	if s.auditStatus != nil {
		auditHealthy = s.auditStatus.IsHealthy()
		auditDropped = s.auditStatus.Dropped()
	}

	executable := s.cfg.YtdlpPath
	if executable == "" {
		executable = "yt-dlp"
	}

	return &SystemInfo{
		Version:          Version,
		Uptime:           int64(time.Since(s.startTime).Seconds()),
		MemoryUsageMB:    float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:       runtime.NumGoroutine(),
		SQLiteConnected:  sqliteConnected,
		AuditHealthy:     auditHealthy,
		AuditDropped:     auditDropped,
		MediaExecutable:  executable,
		MediaSplitErrors: s.cfg.MediaSplitErrors,
	}
}
