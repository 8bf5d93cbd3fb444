package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/upb/decision-audit/backend/models"
	"github.com/upb/decision-audit/backend/repositories"
	"go.uber.org/zap"
)

// Recorder accepts activity entries without blocking the caller
type Recorder interface {
	Record(log *models.ActivityLog)
}

// NopRecorder discards every entry
type NopRecorder struct{}

func (NopRecorder) Record(*models.ActivityLog) {}

// Sink persists or forwards one activity entry
type Sink interface {
	Name() string
	Write(ctx context.Context, log *models.ActivityLog) error
}

// RepositorySink writes entries to the activity_logs table
type RepositorySink struct {
	repo repositories.ActivityLogRepository
}

// NewRepositorySink creates a sink backed by the activity log repository
func NewRepositorySink(repo repositories.ActivityLogRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Name() string { return "postgres" }

func (s *RepositorySink) Write(ctx context.Context, log *models.ActivityLog) error {
	if err := s.repo.Insert(ctx, log); err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// ActivityEvent wraps an entry queued for the workers
type ActivityEvent struct {
	Log *models.ActivityLog
}

// ActivityService fans activity entries out to its sinks from a bounded
// worker pool. A full buffer drops the entry.
type ActivityService struct {
	sinks        []Sink
	logger       *zap.Logger
	eventChan    chan *ActivityEvent
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	started      bool
	stopped      bool
	mu           sync.Mutex
}

// Config holds configuration for the ActivityService
type Config struct {
	BufferSize   int           // Size of the event buffer channel
	WorkerCount  int           // Number of concurrent workers
	WriteTimeout time.Duration // Per-sink write timeout
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  2,
		WriteTimeout: 5 * time.Second,
	}
}

// NewActivityService creates a new ActivityService instance
func NewActivityService(logger *zap.Logger, config Config, sinks ...Sink) *ActivityService {
	ctx, cancel := context.WithCancel(context.Background())

	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &ActivityService{
		sinks:        sinks,
		logger:       logger,
		eventChan:    make(chan *ActivityEvent, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		writeTimeout: config.WriteTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the background workers
func (s *ActivityService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("activity service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started activity service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Int("sinks", len(s.sinks)))

	return nil
}

// Stop gracefully stops the service
// Waits for all pending events to be processed
func (s *ActivityService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("activity service not running")
	}
	s.stopped = true
	// Close under the lock so a concurrent LogEvent never sends on a closed channel
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping activity service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("activity service stopped gracefully")
		s.cancel()
		return nil
	case <-time.After(timeout):
		s.cancel()
		return fmt.Errorf("activity service stop timeout after %v", timeout)
	}
}

// LogEvent queues an event (non-blocking)
func (s *ActivityService) LogEvent(event *ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped {
		return fmt.Errorf("activity service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.logger.Warn("activity event channel full, dropping event",
			zap.String("action", string(event.Log.Action)),
			zap.String("tenant", event.Log.Tenant),
			zap.String("resource_id", event.Log.ResourceID))
		return fmt.Errorf("activity event buffer full")
	}
}

// Record implements Recorder. Failures are logged, never returned.
func (s *ActivityService) Record(log *models.ActivityLog) {
	if log == nil {
		return
	}
	if err := s.LogEvent(&ActivityEvent{Log: log}); err != nil {
		s.logger.Debug("activity entry not queued", zap.Error(err))
	}
}

// worker processes events from the channel
func (s *ActivityService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("activity worker started", zap.Int("worker_id", id))

	for event := range s.eventChan {
		s.processEvent(id, event)
	}

	s.logger.Debug("activity worker stopped", zap.Int("worker_id", id))
}

// processEvent writes one event to every sink. One sink failing does not
// keep the entry from the others.
func (s *ActivityService) processEvent(workerID int, event *ActivityEvent) {
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(s.ctx, s.writeTimeout)
		err := sink.Write(ctx, event.Log)
		cancel()
		if err != nil {
			s.logger.Error("failed to write activity event",
				zap.Int("worker_id", workerID),
				zap.String("sink", sink.Name()),
				zap.Error(err),
				zap.String("action", string(event.Log.Action)),
				zap.String("tenant", event.Log.Tenant))
		}
	}
}

// GetStats returns statistics about the service
func (s *ActivityService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
	}
}

// Stats represents activity service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}
