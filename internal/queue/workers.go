package queue

import (
	"sync"

	"github.com/ehrlich-b/go-httpd/internal/interfaces"
)

// Pool runs a fixed set of workers consuming a task queue. Tasks are opaque
// nullary closures; the caller guarantees whatever state they capture
// outlives the task.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger interfaces.Logger
}

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Workers int
	Backlog int
	Logger  interfaces.Logger
}

// NewPool starts cfg.Workers workers sharing a task queue of cfg.Backlog.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 1
	}
	p := &Pool{
		tasks:  make(chan func(), cfg.Backlog),
		logger: cfg.Logger,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.run(i)
	}
	return p
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	if p.logger != nil {
		p.logger.Debugf("worker %d started", id)
	}
	for task := range p.tasks {
		task()
	}
	if p.logger != nil {
		p.logger.Debugf("worker %d stopped", id)
	}
}

// Submit enqueues a task, blocking while the queue is full.
// Returns false once the pool is closed.
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// Close stops accepting tasks, drains the queue, and joins the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
