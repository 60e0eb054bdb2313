package audit

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/strefethen/tunegate/internal/config"
)

// Default configuration values
const (
	DefaultRetentionDays   = 90
	DefaultPruneSchedule   = "0 3 * * *"
	DefaultQueueSize       = 256
	DefaultQueryLimit      = 100
	MaxQueryLimit          = 1000
	MaxConsecutiveFailures = 3
)

// Service is the asynchronous audit sink. Write enqueues entries on a
// bounded queue drained by a single goroutine into SQLite; a full queue
// drops the entry instead of blocking the request path.
type Service struct {
	cfg           config.Config
	logger        *log.Logger
	repo          *Repository
	hub           *Hub
	retentionDays int
	pruneSchedule string
	scheduler     *cron.Cron

	mu      sync.RWMutex // guards closed and sends on queue
	closed  bool
	queue   chan LogEntry
	wg      sync.WaitGroup
	started atomic.Bool

	dropped atomic.Uint64
	onDrop  func()

	healthy             bool
	healthMu            sync.RWMutex
	consecutiveFailures int
}

// NewService creates a new audit service.
// Accepts a DBPair for optimal SQLite concurrency with separate reader/writer pools.
func NewService(cfg config.Config, dbPair DBPair, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	queueSize := cfg.AuditQueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	retention := cfg.AuditRetentionDays
	if retention <= 0 {
		retention = DefaultRetentionDays
	}
	schedule := cfg.AuditPruneSchedule
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	return &Service{
		cfg:           cfg,
		logger:        logger,
		repo:          NewRepository(dbPair),
		hub:           NewHub(),
		retentionDays: retention,
		pruneSchedule: schedule,
		queue:         make(chan LogEntry, queueSize),
		healthy:       true,
	}
}

// Hub returns the broadcaster that receives every persisted log.
func (s *Service) Hub() *Hub {
	return s.hub
}

// OnDrop registers a callback invoked whenever an entry is dropped.
// Must be called before Start.
func (s *Service) OnDrop(fn func()) {
	s.onDrop = fn
}

// Write implements Sink. It never blocks.
func (s *Service) Write(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		s.drop(entry, "sink closed")
		return
	}

	select {
	case s.queue <- entry:
	default:
		s.drop(entry, "queue full")
	}
}

func (s *Service) drop(entry LogEntry, reason string) {
	s.dropped.Add(1)
	s.logger.Printf("Dropping audit entry (%s): origin=%s message=%q", reason, entry.Origin, entry.Message)
	if s.onDrop != nil {
		s.onDrop()
	}
}

// Dropped returns the number of entries discarded since start.
func (s *Service) Dropped() uint64 {
	return s.dropped.Load()
}

// Start launches the queue writer. Calling Start twice is a no-op.
func (s *Service) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.drain()
}

// Stop closes the queue and waits until every accepted entry is persisted.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	if !s.started.Load() {
		// Nothing is draining; persist what was queued before Start.
		for entry := range s.queue {
			_, _ = s.Record(entry)
		}
		return
	}
	s.wg.Wait()
}

func (s *Service) drain() {
	defer s.wg.Done()
	for entry := range s.queue {
		if _, err := s.Record(entry); err != nil {
			s.logger.Printf("Error writing audit entry: %v", err)
		}
	}
}

// Record persists an entry synchronously and broadcasts it.
func (s *Service) Record(entry LogEntry) (*Log, error) {
	s.logger.Printf("[DEBUG] Recording audit entry: origin=%s message=%s", entry.Origin, entry.Message)

	stored, err := s.repo.InsertLog(entry)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to record audit entry: %w", err)
	}

	s.recordSuccess()
	s.hub.Publish(*stored)
	return stored, nil
}

// QueryLogs retrieves logs with filters and pagination.
// Returns: logs, total count, hasMore flag, error.
func (s *Service) QueryLogs(filters LogQueryFilters) ([]Log, int, bool, error) {
	if filters.Limit == 0 {
		filters.Limit = DefaultQueryLimit
	}
	if filters.Limit > MaxQueryLimit {
		filters.Limit = MaxQueryLimit
	}

	logs, total, err := s.repo.QueryLogs(filters)
	if err != nil {
		s.recordFailure()
		return nil, 0, false, fmt.Errorf("failed to query audit logs: %w", err)
	}

	s.recordSuccess()
	hasMore := filters.Offset+len(logs) < total
	return logs, total, hasMore, nil
}

// GetLog retrieves a single log by ID.
func (s *Service) GetLog(logID string) (*Log, error) {
	stored, err := s.repo.GetLog(logID)
	if err != nil {
		s.recordFailure()
		return nil, fmt.Errorf("failed to get audit log: %w", err)
	}
	s.recordSuccess()

	if stored == nil {
		return nil, &LogNotFoundError{LogID: logID}
	}
	return stored, nil
}

// StartPruneJob prunes once immediately, then on the configured cron schedule.
func (s *Service) StartPruneJob() error {
	s.logger.Printf("Starting audit prune job (schedule: %q, retention: %d days)",
		s.pruneSchedule, s.retentionDays)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(s.pruneSchedule, s.runPrune); err != nil {
		return fmt.Errorf("invalid prune schedule: %w", err)
	}

	s.runPrune()
	scheduler.Start()
	s.scheduler = scheduler
	return nil
}

// StopPruneJob stops the prune scheduler and waits for a running prune.
func (s *Service) StopPruneJob() {
	if s.scheduler == nil {
		return
	}
	s.logger.Printf("Stopping audit prune job")
	<-s.scheduler.Stop().Done()
	s.scheduler = nil
	s.logger.Printf("Audit prune job stopped")
}

func (s *Service) runPrune() {
	if count, err := s.Prune(); err != nil {
		s.logger.Printf("Error pruning audit logs: %v", err)
	} else if count > 0 {
		s.logger.Printf("Pruned %d audit logs", count)
	}
}

// Prune deletes logs past the retention window, returns count deleted.
func (s *Service) Prune() (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	count, err := s.repo.PruneBefore(cutoff)
	if err != nil {
		s.recordFailure()
		return 0, fmt.Errorf("failed to prune audit logs: %w", err)
	}

	s.recordSuccess()
	return count, nil
}

// IsHealthy returns current health status.
func (s *Service) IsHealthy() bool {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()
	return s.healthy
}

func (s *Service) recordSuccess() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures = 0
	s.healthy = true
}

// recordFailure marks the service unhealthy after MaxConsecutiveFailures.
func (s *Service) recordFailure() {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	s.consecutiveFailures++
	if s.consecutiveFailures >= MaxConsecutiveFailures {
		s.healthy = false
	}
}

// LogNotFoundError is returned when an audit log is not found.
type LogNotFoundError struct {
	LogID string
}

func (e *LogNotFoundError) Error() string {
	return fmt.Sprintf("audit log not found: %s", e.LogID)
}
