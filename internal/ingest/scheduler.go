// File: internal/ingest/scheduler.go
package ingest

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apipulse/ingest-service/internal/metrics"
	"github.com/apipulse/ingest-service/pkg/utils"
)

// Task is a deferred unit of work. Errors are logged by the worker, never
// propagated to the submitter.
type Task func(ctx context.Context) error

// Scheduler runs deferred tasks on a small worker pool behind a buffered
// queue. Dispatch is non-blocking: when the queue is full the task is
// dropped and logged rather than stalling the submitter.
type Scheduler struct {
	workers        int
	logger         *logrus.Logger
	metricsManager *metrics.Manager

	mu      sync.RWMutex
	running bool
	tasks   chan Task
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler with the given queue size and worker count.
func NewScheduler(queueSize, workers int, metricsManager *metrics.Manager) *Scheduler {
	if queueSize <= 0 {
		queueSize = 256
	}
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{
		workers:        workers,
		logger:         utils.GetLogger(),
		metricsManager: metricsManager,
		tasks:          make(chan Task, queueSize),
	}
}

// Start launches the worker pool
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return utils.NewAppError(utils.ErrCodeProcessing, "Scheduler already running", "")
	}
	s.running = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.logger.WithField("workers", s.workers).Info("Deferred task scheduler started")
	return nil
}

// Stop closes the queue and waits for in-flight tasks to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.tasks)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Deferred task scheduler stopped")
	return nil
}

// IsRunning reports whether the scheduler is accepting tasks
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// QueueDepth returns the number of tasks waiting to run
func (s *Scheduler) QueueDepth() int {
	return len(s.tasks)
}

// Submit enqueues a task without blocking. Returns false when the scheduler
// is stopped or the queue is full; the task is dropped in both cases.
func (s *Scheduler) Submit(task Task) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		s.logger.Warn("Deferred task submitted while scheduler stopped, dropping")
		return false
	}

	select {
	case s.tasks <- task:
		s.updateQueueDepth()
		return true
	default:
		s.logger.Warn("Deferred task queue full, dropping task")
		if s.metricsManager != nil {
			s.metricsManager.GetPrometheusMetrics().RecordDeferredTaskDropped()
		}
		return false
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-s.tasks:
			if !ok {
				return
			}
			s.runTask(ctx, task)
			s.updateQueueDepth()
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Deferred task panicked")
		}
	}()

	if err := task(ctx); err != nil {
		s.logger.WithField("error", err.Error()).Error("Deferred task failed")
	}
}

func (s *Scheduler) updateQueueDepth() {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().UpdateDeferredQueueDepth(len(s.tasks))
	}
}
