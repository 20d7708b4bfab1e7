package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"telemon/internal/logger"
	"telemon/internal/metrics"
)

// ErrPoolStopped is returned by Submit once Stop has been called.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of background work.
type Task func(ctx context.Context) error

// Pool runs tasks in the background so that callers can return before the
// work completes. Each task gets its own goroutine; MaxInFlight caps how many
// of them run at the same time.
type Pool struct {
	sem         chan struct{}
	maxInFlight int
	taskTimeout time.Duration

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc

	// Metrics
	processed atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// Config holds worker pool configuration
type Config struct {
	// MaxInFlight bounds concurrently running tasks. 0 means unbounded.
	MaxInFlight int
	// TaskTimeout bounds a single task. 0 means no timeout.
	TaskTimeout time.Duration
}

// NewPool creates a new worker pool
func NewPool(cfg Config) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		maxInFlight: cfg.MaxInFlight,
		taskTimeout: cfg.TaskTimeout,
		ctx:         ctx,
		cancel:      cancel,
	}
	if cfg.MaxInFlight > 0 {
		p.sem = make(chan struct{}, cfg.MaxInFlight)
	}
	return p
}

// Start logs the pool configuration. Tasks may be submitted before Start.
func (p *Pool) Start() {
	logger.WithComponent("worker_pool").Info().
		Int("max_in_flight", p.maxInFlight).
		Dur("task_timeout", p.taskTimeout).
		Msg("starting worker pool")
}

// Submit schedules fn and returns immediately. Errors and panics raised by
// fn are logged and counted, never returned to the submitter.
func (p *Pool) Submit(name string, fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	p.wg.Add(1)
	go p.run(name, fn)
	return nil
}

// Stop rejects new submissions and waits for every submitted task to
// finish, including tasks still waiting for a slot. Task contexts are
// cancelled only after the pool has drained.
func (p *Pool) Stop() {
	log := logger.WithComponent("worker_pool")
	log.Info().Int64("in_flight", p.inFlight.Load()).Msg("stopping worker pool")

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	log.Info().Msg("worker pool stopped")
}

func (p *Pool) run(name string, fn Task) {
	defer p.wg.Done()

	if p.sem != nil {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
	}

	p.inFlight.Add(1)
	metrics.WorkerInFlight.Inc()
	defer func() {
		p.inFlight.Add(-1)
		metrics.WorkerInFlight.Dec()
	}()

	log := logger.WithComponent("worker").With().Str("task", name).Logger()

	// Panic recovery
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			log.Error().
				Interface("panic", r).
				Bytes("stack", stack).
				Msg("worker panic recovered")
			metrics.PanicsRecovered.WithLabelValues("worker").Inc()
			metrics.WorkerTasksTotal.WithLabelValues(name, "panic").Inc()
			p.failed.Add(1)
		}
	}()

	ctx := p.ctx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		log.Error().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("task failed")
		p.failed.Add(1)
		metrics.WorkerTasksTotal.WithLabelValues(name, "failed").Inc()
		return
	}

	p.processed.Add(1)
	metrics.WorkerTasksTotal.WithLabelValues(name, "success").Inc()
}

// Stats returns worker pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		Processed: p.processed.Load(),
		Failed:    p.failed.Load(),
		InFlight:  p.inFlight.Load(),
	}
}

// Stats holds worker pool metrics
type Stats struct {
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
	InFlight  int64  `json:"in_flight"`
}

func (s Stats) String() string {
	return fmt.Sprintf("processed=%d failed=%d in_flight=%d", s.Processed, s.Failed, s.InFlight)
}
