package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nightdose/nightdose/internal/biz/usecase"
)

// SyncScheduler persists queued sync tasks and delivers due ones
type SyncScheduler struct {
	queue *usecase.RetryQueue

	interval  time.Duration
	retention time.Duration
	batchSize int
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(queue *usecase.RetryQueue, interval time.Duration) *SyncScheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SyncScheduler{
		queue:     queue,
		interval:  interval,
		retention: 7 * 24 * time.Hour,
		batchSize: 50,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the scheduler
func (s *SyncScheduler) Start() {
	s.wg.Add(1)
	go s.run()
	fmt.Printf("[Sync] Scheduler started with interval %v\n", s.interval)
}

// Stop stops the scheduler and persists anything still in the intake
func (s *SyncScheduler) Stop() {
	s.cancel()
	s.wg.Wait()

	if n, err := s.queue.DrainIntake(context.Background()); err != nil {
		fmt.Printf("[Sync] Error draining intake on stop: %v\n", err)
	} else if n > 0 {
		fmt.Printf("[Sync] Persisted %d queued task(s) on stop\n", n)
	}
	fmt.Println("[Sync] Scheduler stopped")
}

func (s *SyncScheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	s.process()

	for {
		select {
		case <-s.ctx.Done():
			return
		case task := <-s.queue.Intake():
			if err := s.queue.Persist(s.ctx, task); err != nil {
				fmt.Printf("[Sync] Error persisting task %s: %v\n", task.IdempotencyKey, err)
			}
		case <-ticker.C:
			s.process()
		case <-cleanup.C:
			if n, err := s.queue.Cleanup(s.ctx, s.retention); err != nil {
				fmt.Printf("[Sync] Error cleaning up delivered tasks: %v\n", err)
			} else if n > 0 {
				fmt.Printf("[Sync] Cleaned up %d delivered task(s)\n", n)
			}
		}
	}
}

func (s *SyncScheduler) process() {
	if _, err := s.queue.DrainIntake(s.ctx); err != nil {
		fmt.Printf("[Sync] Error draining intake: %v\n", err)
	}

	result, err := s.queue.ProcessDue(s.ctx, s.batchSize)
	if err != nil {
		if s.ctx.Err() == nil {
			fmt.Printf("[Sync] Error processing due tasks: %v\n", err)
		}
		return
	}
	if result.Delivered+result.Retrying+result.Failed > 0 {
		fmt.Printf("[Sync] Delivered=%d retrying=%d failed=%d\n", result.Delivered, result.Retrying, result.Failed)
	}
}
