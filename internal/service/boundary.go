package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nightdose/nightdose/internal/biz/usecase"
)

// BoundaryEvaluator closes sessions whose cutoff has passed
type BoundaryEvaluator interface {
	EvaluateSessionBoundaries(ctx context.Context, reason usecase.TriggerReason) (*usecase.BoundaryResult, error)
}

type boundaryRequest struct {
	ctx    context.Context
	reason usecase.TriggerReason
	reply  chan boundaryReply // nil for fire-and-forget triggers
}

type boundaryReply struct {
	result *usecase.BoundaryResult
	err    error
}

// BoundaryRunner funnels every boundary trigger (ticker, resume, notification,
// HTTP) into one goroutine that calls the idempotent evaluation.
type BoundaryRunner struct {
	evaluator BoundaryEvaluator

	pollInterval time.Duration
	requests     chan boundaryRequest
	running      bool
	mu           sync.Mutex
	stopCh       chan struct{}
	wg           sync.WaitGroup
}

// NewBoundaryRunner creates a new boundary runner
func NewBoundaryRunner(evaluator BoundaryEvaluator, pollInterval time.Duration) *BoundaryRunner {
	if pollInterval <= 0 {
		pollInterval = 60 * time.Second
	}
	return &BoundaryRunner{
		evaluator:    evaluator,
		pollInterval: pollInterval,
		requests:     make(chan boundaryRequest, 16),
		stopCh:       make(chan struct{}),
	}
}

// Start starts the boundary runner
func (r *BoundaryRunner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.wg.Add(1)
	go r.loop()
	fmt.Printf("[Boundary] Started with poll interval %v\n", r.pollInterval)
}

// Stop stops the boundary runner
func (r *BoundaryRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	fmt.Println("[Boundary] Stopped")
}

// Trigger queues an evaluation without waiting.
// Triggers arriving while the queue is full are coalesced into the pending ones.
func (r *BoundaryRunner) Trigger(reason usecase.TriggerReason) {
	select {
	case r.requests <- boundaryRequest{ctx: context.Background(), reason: reason}:
	default:
	}
}

// Evaluate queues an evaluation and waits for its result
func (r *BoundaryRunner) Evaluate(ctx context.Context, reason usecase.TriggerReason) (*usecase.BoundaryResult, error) {
	req := boundaryRequest{ctx: ctx, reason: reason, reply: make(chan boundaryReply, 1)}
	select {
	case r.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.stopCh:
		return nil, fmt.Errorf("boundary runner stopped")
	}

	select {
	case reply := <-req.reply:
		return reply.result, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.stopCh:
		return nil, fmt.Errorf("boundary runner stopped")
	}
}

func (r *BoundaryRunner) loop() {
	defer r.wg.Done()

	// Initial run catches sessions that expired while the process was down
	r.evaluate(boundaryRequest{ctx: context.Background(), reason: usecase.ReasonAppResume})

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evaluate(boundaryRequest{ctx: context.Background(), reason: usecase.ReasonTimerTick})
		case req := <-r.requests:
			r.evaluate(req)
		case <-r.stopCh:
			return
		}
	}
}

func (r *BoundaryRunner) evaluate(req boundaryRequest) {
	result, err := r.evaluator.EvaluateSessionBoundaries(req.ctx, req.reason)
	if err != nil {
		fmt.Printf("[Boundary] Error evaluating boundaries (%s): %v\n", req.reason, err)
	} else if result != nil && result.Closed {
		fmt.Printf("[Boundary] Session %s closed as %s (%s)\n", result.SessionID, result.State, req.reason)
	}
	if req.reply != nil {
		req.reply <- boundaryReply{result: result, err: err}
	}
}
