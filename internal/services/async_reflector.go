package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/akmatori/ticketbot/internal/observability"
)

// FormReflector performs a synchronous form refresh.
type FormReflector interface {
	Reflect(ctx context.Context, ticketID uint) error
}

// AsyncReflector runs form refreshes on a fixed pool of workers so slow
// gateway calls never hold up event intake. When the queue is full the job
// is dropped; the next change to the ticket reflects it again.
type AsyncReflector struct {
	target  FormReflector
	jobs    chan uint
	timeout time.Duration
	metrics *observability.Metrics
	logger  *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncReflector starts workers goroutines draining a queue of queueSize.
// Each job runs under its own context bounded by jobTimeout.
func NewAsyncReflector(target FormReflector, workers, queueSize int, jobTimeout time.Duration, metrics *observability.Metrics, logger *zap.Logger) *AsyncReflector {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	a := &AsyncReflector{
		target:  target,
		jobs:    make(chan uint, queueSize),
		timeout: jobTimeout,
		metrics: metrics,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.worker()
	}
	return a
}

// Reflect enqueues a refresh without blocking. The caller's context is not
// carried over: the job outlives the event that triggered it.
func (a *AsyncReflector) Reflect(_ context.Context, ticketID uint) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		a.logger.Warn("Reflector closed, dropping form refresh", zap.Uint("ticket_id", ticketID))
		return
	}
	select {
	case a.jobs <- ticketID:
	default:
		a.metrics.ReflectDropped()
		a.logger.Warn("Form refresh queue full, dropping job", zap.Uint("ticket_id", ticketID))
	}
}

func (a *AsyncReflector) worker() {
	defer a.wg.Done()
	for ticketID := range a.jobs {
		a.run(ticketID)
	}
}

func (a *AsyncReflector) run(ticketID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	if err := a.target.Reflect(ctx, ticketID); err != nil {
		a.logger.Warn("Form refresh failed", zap.Uint("ticket_id", ticketID), zap.Error(err))
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (a *AsyncReflector) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
