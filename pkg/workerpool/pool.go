// Package workerpool provides a bounded goroutine pool with non-blocking
// admission. A pool holds Workers goroutines and at most QueueSize tasks
// waiting for one of them; a submission that finds no free slot fails
// immediately with ErrPoolFull instead of blocking the submitter.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

const logPrefix = "workerpool:pool"

const (
	defaultWorkers   = 100
	defaultQueueSize = 1000
	defaultName      = "rpc-async"
)

var (
	// ErrPoolFull is returned by Submit when every worker is busy and the
	// waiting queue is full.
	ErrPoolFull = errors.New("worker pool is at capacity")
	// ErrPoolClosed is returned by Submit after Shutdown has been called.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Config holds pool sizing.
type Config struct {
	Name      string
	Workers   int // zero selects the default of 100
	QueueSize int // zero means no waiting room beyond the workers
}

// DefaultConfig returns the sizing used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Name:      defaultName,
		Workers:   defaultWorkers,
		QueueSize: defaultQueueSize,
	}
}

// Validate checks the sizing values.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("%s - workers must not be negative, got %d", logPrefix, c.Workers)
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("%s - queue size must not be negative, got %d", logPrefix, c.QueueSize)
	}
	return nil
}

// Task is a unit of work executed by a pool worker.
type Task func()

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Name      string `json:"name"`
	Workers   int    `json:"workers"`
	QueueSize int    `json:"queueSize"`
	Active    int64  `json:"active"`
	Queued    int64  `json:"queued"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
	Panics    uint64 `json:"panics"`
	Closed    bool   `json:"closed"`
}

// Pool is a fixed set of workers consuming a bounded task queue.
type Pool struct {
	cfg Config

	// slots bounds admitted-but-unfinished tasks to Workers + QueueSize.
	slots chan struct{}
	tasks chan Task

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	active    atomic.Int64
	queued    atomic.Int64
	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
	panics    atomic.Uint64
}

// New starts a pool with the given sizing.
func New(cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.Name == "" {
		cfg.Name = defaultName
	}

	capacity := cfg.Workers + cfg.QueueSize
	p := &Pool{
		cfg:   cfg,
		slots: make(chan struct{}, capacity),
		tasks: make(chan Task, capacity),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}

	slog.Debug(fmt.Sprintf("%s - Started pool %q with %d workers, queue size %d", logPrefix, cfg.Name, cfg.Workers, cfg.QueueSize))
	return p, nil
}

// Config returns the effective sizing of the pool.
func (p *Pool) Config() Config {
	return p.cfg
}

// Submit admits task for execution without blocking. It returns ErrPoolFull
// when no slot is free and ErrPoolClosed after Shutdown.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return fmt.Errorf("%s - task must not be nil", logPrefix)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.rejected.Add(1)
		return ErrPoolClosed
	}

	select {
	case p.slots <- struct{}{}:
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}

	p.submitted.Add(1)
	p.queued.Add(1)
	// Never blocks: tasks has the same capacity as slots.
	p.tasks <- task
	return nil
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.queued.Add(-1)
		p.active.Add(1)
		p.run(task)
		p.active.Add(-1)
		p.completed.Add(1)
		<-p.slots
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			slog.Error(fmt.Sprintf("%s - Task panicked in pool %q: %v", logPrefix, p.cfg.Name, r))
		}
	}()
	task()
}

// Shutdown stops admission and waits until queued and running tasks finish
// or ctx is done. Calling it more than once is safe.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug(fmt.Sprintf("%s - Pool %q drained", logPrefix, p.cfg.Name))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s - shutdown of pool %q interrupted with %d tasks outstanding: %w",
			logPrefix, p.cfg.Name, p.active.Load()+p.queued.Load(), ctx.Err())
	}
}

// Stats returns current counters.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()

	return Stats{
		Name:      p.cfg.Name,
		Workers:   p.cfg.Workers,
		QueueSize: p.cfg.QueueSize,
		Active:    p.active.Load(),
		Queued:    p.queued.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
		Closed:    closed,
	}
}
